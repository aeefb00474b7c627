package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

// Embedder produces one embedding per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Runner backfills embeddings for memories that lack one for the
// configured model, e.g. after the model changed or an embed call failed
// at create time.
type Runner struct {
	store     *store.Store
	embedder  Embedder
	interval  time.Duration
	batchSize int
	model     string
}

func NewRunner(st *store.Store, embedder Embedder, model string) *Runner {
	return &Runner{
		store:     st,
		embedder:  embedder,
		interval:  2 * time.Minute,
		batchSize: 8,
		model:     model,
	}
}

// Run starts the background task and blocks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup.
	r.processPendingMemories(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processPendingMemories(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce processes pending memories once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	r.processPendingMemories(ctx)
}

func (r *Runner) processPendingMemories(ctx context.Context) {
	memories, err := r.store.FindMemoriesMissingEmbedding(ctx, &store.FindMemoriesWithoutEmbedding{
		Model: r.model,
		Limit: r.batchSize * 20,
	})
	if err != nil {
		slog.Error("failed to find memories without embedding", "error", err)
		return
	}
	if len(memories) == 0 {
		return
	}

	slog.Info("processing memories for embedding", "count", len(memories))

	for i := 0; i < len(memories); i += r.batchSize {
		select {
		case <-ctx.Done():
			slog.Info("embedding processing cancelled", "processed", i, "total", len(memories))
			return
		default:
		}

		end := i + r.batchSize
		if end > len(memories) {
			end = len(memories)
		}
		batch := memories[i:end]

		if err := r.processBatch(ctx, batch); err != nil {
			slog.Error("failed to process batch", "error", err)
			continue
		}
		slog.Info("batch processed", "count", len(batch), "progress", fmt.Sprintf("%d/%d", end, len(memories)))
	}
}

func (r *Runner) processBatch(ctx context.Context, memories []*store.Memory) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.Content
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(memories) {
		return fmt.Errorf("embedding count mismatch: %d memories, %d vectors", len(memories), len(vectors))
	}

	for i, m := range memories {
		_, err := r.store.UpsertMemoryEmbedding(ctx, &store.MemoryEmbedding{
			MemoryID:  m.ID,
			Embedding: vectors[i],
			Model:     r.model,
		})
		if err != nil {
			slog.Error("failed to upsert embedding", "memoryID", m.ID, "error", err)
		}
	}

	return nil
}
