package retrieval

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

// Hybrid fusion weights. The hypothetical-document pathway gets more
// weight because its vector lives closer to stored answers than the raw
// query vector does.
const (
	queryWeight = 0.4
	hydeWeight  = 0.6
)

// Search method tags reported on hybrid results.
const (
	MethodQuery    = "query"
	MethodHyde     = "hyde"
	MethodCombined = "combined"
)

// VectorStore is the slice of the store the engine needs.
type VectorStore interface {
	VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error)
}

// Result is a scored retrieval hit. QueryScore and HydeScore hold the
// per-pathway cosine similarities; zero means the pathway did not return
// the memory. CombinedScore is the fused ranking score.
type Result struct {
	Memory        *store.Memory
	QueryScore    float64
	HydeScore     float64
	CombinedScore float64
	Method        string
}

// Engine runs similarity search over memory embeddings.
type Engine struct {
	store VectorStore
	model string
}

func NewEngine(store VectorStore, model string) *Engine {
	return &Engine{
		store: store,
		model: model,
	}
}

// SearchSimilar returns the user's memories whose embedding similarity to
// vector is at least threshold, most similar first, at most limit results.
// A threshold of zero disables filtering.
func (e *Engine) SearchSimilar(ctx context.Context, userID int32, vector []float32, limit int, threshold float64) ([]*store.MemoryWithScore, error) {
	if len(vector) == 0 {
		return nil, errors.New("search vector is empty")
	}
	if limit <= 0 {
		return nil, errors.Errorf("invalid limit %d, must be positive", limit)
	}
	if threshold < 0 || threshold > 1 {
		return nil, errors.Errorf("invalid threshold %.2f, must be in [0, 1]", threshold)
	}

	results, err := e.store.VectorSearch(ctx, &store.VectorSearchOptions{
		UserID: userID,
		Vector: vector,
		Model:  e.model,
		Limit:  limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}

	// The store orders by distance; the threshold cut happens here so
	// drivers stay threshold-agnostic. Zero means no filtering: cosine
	// similarity can be negative, and those results must survive.
	filtered := []*store.MemoryWithScore{}
	for _, result := range results {
		if threshold > 0 && result.Score < threshold {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered, nil
}

// HybridSearch runs the raw-query and hypothetical-document pathways
// concurrently and fuses their rankings. A memory found by both pathways
// scores max(0.4*query + 0.6*hyde, max(query, hyde)), so fusion never
// ranks a memory below its best single pathway.
func (e *Engine) HybridSearch(ctx context.Context, userID int32, queryVector, hydeVector []float32, limit int, threshold float64) ([]*Result, error) {
	var queryHits, hydeHits []*store.MemoryWithScore

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.SearchSimilar(gctx, userID, queryVector, limit, threshold)
		if err != nil {
			return errors.Wrap(err, "query pathway")
		}
		queryHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.SearchSimilar(gctx, userID, hydeVector, limit, threshold)
		if err != nil {
			return errors.Wrap(err, "hyde pathway")
		}
		hydeHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[int32]*Result{}
	order := []int32{}
	for _, hit := range queryHits {
		merged[hit.Memory.ID] = &Result{
			Memory:     hit.Memory,
			QueryScore: hit.Score,
			Method:     MethodQuery,
		}
		order = append(order, hit.Memory.ID)
	}
	for _, hit := range hydeHits {
		if result, ok := merged[hit.Memory.ID]; ok {
			result.HydeScore = hit.Score
			result.Method = MethodCombined
			continue
		}
		merged[hit.Memory.ID] = &Result{
			Memory:    hit.Memory,
			HydeScore: hit.Score,
			Method:    MethodHyde,
		}
		order = append(order, hit.Memory.ID)
	}

	results := make([]*Result, 0, len(order))
	for _, id := range order {
		result := merged[id]
		result.CombinedScore = fuseScores(result.QueryScore, result.HydeScore)
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func fuseScores(queryScore, hydeScore float64) float64 {
	weighted := queryWeight*queryScore + hydeWeight*hydeScore
	best := queryScore
	if hydeScore > best {
		best = hydeScore
	}
	if weighted > best {
		return weighted
	}
	return best
}
