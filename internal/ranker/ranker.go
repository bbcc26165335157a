package ranker

import (
	"context"
	"errors"
	"sort"

	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/worker"
)

var ErrUnavailable = errors.New("ranking unavailable")

// Ranker orders the framework catalog by relevance to a query.
type Ranker interface {
	Rank(ctx context.Context, query string) ([]session.RankedFramework, error)
}

// Unconfigured always reports ErrUnavailable, sending the caller down the
// default-selection path.
type Unconfigured struct{}

func (Unconfigured) Rank(context.Context, string) ([]session.RankedFramework, error) {
	return nil, ErrUnavailable
}

// Normalize drops ids the catalog does not know, removes duplicates, fills
// missing descriptions and sorts by descending score. Ties keep input order.
func Normalize(in []session.RankedFramework, catalog *worker.Catalog) []session.RankedFramework {
	out := make([]session.RankedFramework, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, rf := range in {
		id := worker.NormalizeID(rf.WorkerID)
		f, ok := catalog.Get(id)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rf.WorkerID = id
		if rf.Description == "" {
			rf.Description = f.Description
		}
		out = append(out, rf)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// TopK returns the ids of the first k ranked frameworks.
func TopK(ranked []session.RankedFramework, k int) []string {
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, 0, k)
	for _, rf := range ranked[:k] {
		out = append(out, rf.WorkerID)
	}
	return out
}

// Fallback builds a ranking from a fixed selection, listing the rest of the
// catalog after it with zero score.
func Fallback(selection []string, catalog *worker.Catalog) []session.RankedFramework {
	out := make([]session.RankedFramework, 0, len(catalog.IDs()))
	seen := make(map[string]struct{})
	for _, id := range selection {
		id = worker.NormalizeID(id)
		f, ok := catalog.Get(id)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, session.RankedFramework{WorkerID: id, Score: 0, Description: f.Description})
	}
	for _, f := range catalog.All() {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		out = append(out, session.RankedFramework{WorkerID: f.ID, Score: 0, Description: f.Description})
	}
	return out
}
