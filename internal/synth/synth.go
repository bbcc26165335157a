package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"foursight.local/orchestrator/internal/model"
	"foursight.local/orchestrator/internal/session"
)

var ErrSynthesisFailure = errors.New("synthesis failed")

// NamedReport is one worker's final report as handed to the synthesizer.
type NamedReport struct {
	WorkerID string
	Report   session.Report
}

type Input struct {
	Query   string
	Reports []NamedReport
}

// Result is the combined recommendation. Confidence is nil when the model
// did not provide a usable value.
type Result struct {
	Text       string
	Confidence *float64
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in Input) (Result, error)
}

// Func adapts a function to Synthesizer.
type Func func(ctx context.Context, in Input) (Result, error)

func (f Func) Synthesize(ctx context.Context, in Input) (Result, error) {
	return f(ctx, in)
}

// ReportsFrom lists reports in selection order. Reports for workers missing
// from order follow, sorted by id.
func ReportsFrom(order []string, reports map[string]session.Report) []NamedReport {
	out := make([]NamedReport, 0, len(reports))
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if r, ok := reports[id]; ok {
			out = append(out, NamedReport{WorkerID: id, Report: r})
			seen[id] = struct{}{}
		}
	}
	var rest []string
	for id := range reports {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, NamedReport{WorkerID: id, Report: reports[id]})
	}
	return out
}

// ModelSynthesizer combines worker reports with a generative model.
type ModelSynthesizer struct {
	provider  model.Provider
	modelName string
	maxTokens int
}

type Option func(*ModelSynthesizer)

func WithMaxTokens(n int) Option {
	return func(s *ModelSynthesizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func NewModelSynthesizer(provider model.Provider, modelName string, opts ...Option) *ModelSynthesizer {
	s := &ModelSynthesizer{provider: provider, modelName: modelName, maxTokens: 4096}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ Synthesizer = (*ModelSynthesizer)(nil)

const systemPrompt = `You are a decision advisor. Several analysis frameworks have each studied the same decision.
Combine their findings into one clear recommendation: state what to do, the main reasons, the key risks, and any open uncertainties.
Where frameworks disagree, say so and explain which view you weight more heavily.
Ignore frameworks whose analysis is missing, but mention that they could not contribute.
Answer with one JSON object: {"recommendation": "<markdown text>", "confidence": <number between 0 and 1>}.`

func (s *ModelSynthesizer) Synthesize(ctx context.Context, in Input) (Result, error) {
	prompt, err := renderInput(in)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSynthesisFailure, err)
	}
	resp, err := s.provider.Complete(ctx, model.CompletionRequest{
		Model:        s.modelName,
		SystemPrompt: systemPrompt,
		Messages:     []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:    s.maxTokens,
		JSONOutput:   true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSynthesisFailure, err)
	}
	return parseOutput(resp.Content)
}

func renderInput(in Input) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision:\n%s\n", strings.TrimSpace(in.Query))
	for _, nr := range in.Reports {
		fmt.Fprintf(&b, "\n## %s\n", nr.WorkerID)
		if nr.Report.Failed() {
			b.WriteString("(analysis unavailable")
			if nr.Report.Caveat != nil {
				b.WriteString(": " + *nr.Report.Caveat)
			}
			b.WriteString(")\n")
			continue
		}
		raw, err := json.MarshalIndent(nr.Report.Fields, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal %s report: %w", nr.WorkerID, err)
		}
		b.Write(raw)
		b.WriteByte('\n')
		if nr.Report.Caveat != nil && strings.TrimSpace(*nr.Report.Caveat) != "" {
			fmt.Fprintf(&b, "Caveat: %s\n", *nr.Report.Caveat)
		}
	}
	return b.String(), nil
}

// parseOutput reads {"recommendation","confidence"}. Plain prose is accepted
// as the recommendation with no confidence.
func parseOutput(content string) (Result, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty model output", ErrSynthesisFailure)
	}

	raw, err := model.ExtractJSONObject(text)
	if err != nil {
		return Result{Text: text}, nil
	}
	var parsed struct {
		Recommendation json.RawMessage `json:"recommendation"`
		Confidence     *float64        `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Recommendation) == 0 {
		return Result{Text: text}, nil
	}

	var rec string
	if err := json.Unmarshal(parsed.Recommendation, &rec); err != nil {
		// Structured recommendation; keep it as JSON text.
		rec = string(parsed.Recommendation)
	}
	rec = strings.TrimSpace(rec)
	if rec == "" || rec == "null" {
		return Result{}, fmt.Errorf("%w: empty recommendation", ErrSynthesisFailure)
	}

	out := Result{Text: rec}
	if parsed.Confidence != nil && *parsed.Confidence >= 0 && *parsed.Confidence <= 1 {
		c := *parsed.Confidence
		out.Confidence = &c
	}
	return out, nil
}
