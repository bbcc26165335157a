package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"foursight.local/orchestrator/internal/model"
)

const defaultWorkerMaxTokens = 4096

// ModelClient runs a framework worker in-process on a generative model.
type ModelClient struct {
	provider     model.Provider
	modelName    string
	catalog      *Catalog
	knowledgeDir string
	maxTokens    int
	logger       *log.Logger

	mu        sync.Mutex
	knowledge map[string]string
}

type ModelClientOption func(*ModelClient)

// WithKnowledgeDir loads <dir>/<worker_id>.md into each worker's prompt.
func WithKnowledgeDir(dir string) ModelClientOption {
	return func(c *ModelClient) {
		c.knowledgeDir = strings.TrimSpace(dir)
	}
}

func WithMaxTokens(n int) ModelClientOption {
	return func(c *ModelClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func NewModelClient(logger *log.Logger, provider model.Provider, modelName string, catalog *Catalog, opts ...ModelClientOption) *ModelClient {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &ModelClient{
		provider:  provider,
		modelName: modelName,
		catalog:   catalog,
		maxTokens: defaultWorkerMaxTokens,
		logger:    logger,
		knowledge: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ Client = (*ModelClient)(nil)

func (c *ModelClient) Call(ctx context.Context, workerID string, payload Payload) (Result, error) {
	framework, ok := c.catalog.Get(workerID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}

	userMessage, err := renderWorkerInput(payload)
	if err != nil {
		return Result{}, err
	}
	resp, err := c.provider.Complete(ctx, model.CompletionRequest{
		Model:        c.modelName,
		SystemPrompt: renderWorkerPrompt(framework, c.knowledgeFor(framework.ID)),
		Messages:     []model.Message{{Role: model.RoleUser, Content: userMessage}},
		MaxTokens:    c.maxTokens,
		JSONOutput:   true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: worker %s: %v", ErrTimeout, framework.ID, err)
		}
		if model.IsRateLimited(err) {
			c.logger.Printf("model rate limited worker=%s model=%s", framework.ID, c.modelName)
		}
		return Result{}, fmt.Errorf("%w: worker %s: %v", ErrUnreachable, framework.ID, err)
	}

	result, err := ParseResult(payload.Mode, []byte(resp.Content))
	if err != nil {
		return Result{}, fmt.Errorf("worker %s: %w", framework.ID, err)
	}
	return result, nil
}

func (c *ModelClient) knowledgeFor(id string) string {
	if c.knowledgeDir == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if kb, ok := c.knowledge[id]; ok {
		return kb
	}
	path := filepath.Join(c.knowledgeDir, id+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Printf("knowledge base missing worker=%s path=%s err=%v", id, path, err)
		data = nil
	} else {
		c.logger.Printf("knowledge base loaded worker=%s chars=%d", id, len(data))
	}
	c.knowledge[id] = string(data)
	return c.knowledge[id]
}

func renderWorkerPrompt(f Framework, knowledge string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert analyst specializing in the %s framework.\n", f.Name)
	if f.Mission != "" {
		fmt.Fprintf(&b, "Your mission is to %s.\n", f.Mission)
	}
	if strings.TrimSpace(knowledge) != "" {
		b.WriteString("Follow the methodology in the knowledge base below.\n<knowledge_base>\n")
		b.WriteString(strings.TrimSpace(knowledge))
		b.WriteString("\n</knowledge_base>\n")
	}
	b.WriteString(`
You work in two passes and always answer with a single JSON object.

Pass 1 (mode "sufficiency"): decide whether you have enough information for a complete analysis.
- If yes, return {"status": "READY", "questions": []}
- If no, return {"status": "NEED_INFO", "questions": ["..."]} with at most 3 critical questions.

Pass 2 (mode "final"): perform the full analysis using the query and every answer in qa_context.
- Do not ask questions and do not include a "questions" field.
- If critical information is still missing, explain the gap and its impact in "caveat"; otherwise set "caveat" to null.
`)
	if f.OutputSchema != "" {
		fmt.Fprintf(&b, "- Use this shape: %s\n", f.OutputSchema)
	}
	return b.String()
}

func renderWorkerInput(payload Payload) (string, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal worker input: %w", err)
	}
	return string(body), nil
}
