package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"foursight.local/orchestrator/internal/model"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/worker"
)

// ModelRanker scores the catalog with a generative model.
type ModelRanker struct {
	provider  model.Provider
	modelName string
	catalog   *worker.Catalog
}

func NewModelRanker(provider model.Provider, modelName string, catalog *worker.Catalog) *ModelRanker {
	return &ModelRanker{provider: provider, modelName: modelName, catalog: catalog}
}

var _ Ranker = (*ModelRanker)(nil)

const rankSystemPrompt = `You match decision problems to analysis frameworks.
Score how useful each listed framework is for the user's problem, from 0.0 (irrelevant) to 1.0 (ideal).
Consider problem type, the information available, and the kind of output that would help.
Answer with one JSON object: {"scores": {"<framework id>": <score>, ...}} covering every framework.`

func (r *ModelRanker) Rank(ctx context.Context, query string) ([]session.RankedFramework, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem:\n%s\n\nFrameworks:\n", strings.TrimSpace(query))
	for _, f := range r.catalog.All() {
		fmt.Fprintf(&b, "- %s: %s\n", f.ID, f.Description)
	}

	resp, err := r.provider.Complete(ctx, model.CompletionRequest{
		Model:        r.modelName,
		SystemPrompt: rankSystemPrompt,
		Messages:     []model.Message{{Role: model.RoleUser, Content: b.String()}},
		MaxTokens:    1024,
		JSONOutput:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	raw, err := model.ExtractJSONObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode scores: %v", ErrUnavailable, err)
	}

	// Walk the catalog so ties keep catalog order.
	ranked := make([]session.RankedFramework, 0, len(parsed.Scores))
	for _, f := range r.catalog.All() {
		for id, score := range parsed.Scores {
			if worker.NormalizeID(id) == f.ID {
				ranked = append(ranked, session.RankedFramework{WorkerID: f.ID, Score: clamp(score)})
				break
			}
		}
	}
	ranked = Normalize(ranked, r.catalog)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: model scored no known frameworks", ErrUnavailable)
	}
	return ranked, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
