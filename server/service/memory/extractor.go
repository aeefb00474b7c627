package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/christoph-codes/RecallAI-sub000/plugin/ai"
	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

const (
	// minConfidence drops candidates the model itself is unsure about.
	minConfidence = 0.5
	// duplicateThreshold treats a near-exact embedding match as already known.
	duplicateThreshold = 0.98
	// titleMaxRunes bounds derived titles.
	titleMaxRunes = 80
)

const evaluationSystemPrompt = `You analyze a user's message and decide what is worth remembering long-term.
Extract stable facts, preferences, and commitments. Ignore small talk and one-off questions.
Respond with JSON only, no prose, in this exact shape:
{"memories":[{"summary":"...","source_text":"...","should_save":true,"confidence":0.9}],"analysis":"one short paragraph about the user's intent"}
Omit source_text, should_save, or confidence when you have nothing meaningful for them.`

// candidate is one extracted memory proposal from the evaluation model.
type candidate struct {
	Summary    string   `json:"summary"`
	SourceText string   `json:"source_text,omitempty"`
	ShouldSave *bool    `json:"should_save,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// evaluation is the full model output.
type evaluation struct {
	Memories []candidate `json:"memories"`
	Analysis string      `json:"analysis,omitempty"`
}

// Completer issues one non-streaming chat completion.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (string, error)
}

// Embedder produces one embedding per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilaritySearcher finds a user's memories close to a vector.
type SimilaritySearcher interface {
	SearchSimilar(ctx context.Context, userID int32, vector []float32, limit int, threshold float64) ([]*store.MemoryWithScore, error)
}

// MemoryStore is the slice of the store the extractor persists through.
type MemoryStore interface {
	CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error)
	UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error)
}

// Extractor turns memory-evaluation model output into persisted memories.
// Every failure inside the extractor is logged and contained; it never
// aborts the completion pipeline that invoked it.
type Extractor struct {
	llm      Completer
	embedder Embedder
	searcher SimilaritySearcher
	store    MemoryStore
	model    string
	logger   *slog.Logger
}

func NewExtractor(llm Completer, embedder Embedder, searcher SimilaritySearcher, st MemoryStore, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		llm:      llm,
		embedder: embedder,
		searcher: searcher,
		store:    st,
		model:    model,
		logger:   logger,
	}
}

// EvaluationOutcome reports what one evaluation pass produced.
type EvaluationOutcome struct {
	// Analysis is the model's short read of the user's intent, used by the
	// completion pipeline when assembling context. Empty when evaluation
	// failed or produced none.
	Analysis string
	// Saved lists the memories persisted by this pass.
	Saved []*store.Memory
}

// Evaluate asks the model what in input is worth remembering, then parses,
// filters, deduplicates, and persists the survivors.
func (x *Extractor) Evaluate(ctx context.Context, userID int32, input string) *EvaluationOutcome {
	raw, err := x.llm.Complete(ctx, []ai.Message{
		ai.SystemPrompt(evaluationSystemPrompt),
		ai.UserMessage(input),
	}, ai.CompletionOptions{})
	if err != nil {
		x.logger.Warn("memory evaluation call failed", "error", err)
		return &EvaluationOutcome{}
	}

	saved, analysis, err := x.Extract(ctx, userID, raw)
	if err != nil {
		x.logger.Warn("memory evaluation output rejected", "error", err)
		return &EvaluationOutcome{}
	}
	return &EvaluationOutcome{
		Analysis: analysis,
		Saved:    saved,
	}
}

// Extract parses raw evaluation output and persists the surviving
// candidates. Malformed output returns a MalformedInput error and persists
// nothing; individual candidate failures skip that candidate only.
func (x *Extractor) Extract(ctx context.Context, userID int32, raw string) ([]*store.Memory, string, error) {
	var parsed evaluation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, "", apierrors.MalformedInput("memory evaluation output is not valid JSON", err)
	}

	candidates := filterCandidates(parsed.Memories)
	if len(candidates) == 0 {
		return nil, parsed.Analysis, nil
	}

	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.content
	}
	embeddings, err := x.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		x.logger.Warn("memory extraction embedding failed, batch dropped", "error", err, "candidates", len(candidates))
		return nil, parsed.Analysis, nil
	}
	if len(embeddings) != len(candidates) {
		x.logger.Warn("memory extraction embedding count mismatch, batch dropped",
			"candidates", len(candidates), "embeddings", len(embeddings))
		return nil, parsed.Analysis, nil
	}

	saved := []*store.Memory{}
	for i, c := range candidates {
		memory, err := x.persist(ctx, userID, c, embeddings[i])
		if err != nil {
			x.logger.Warn("failed to persist extracted memory", "error", err, "title", c.title)
			continue
		}
		if memory != nil {
			saved = append(saved, memory)
		}
	}
	return saved, parsed.Analysis, nil
}

// accepted is a candidate that passed all filters, with derived fields.
type accepted struct {
	title      string
	content    string
	sourceText string
	confidence *float64
}

func filterCandidates(candidates []candidate) []accepted {
	kept := []accepted{}
	seen := map[string]bool{}
	for _, c := range candidates {
		if c.ShouldSave != nil && !*c.ShouldSave {
			continue
		}
		summary := strings.TrimSpace(c.Summary)
		if summary == "" {
			continue
		}
		if c.Confidence != nil && *c.Confidence < minConfidence {
			continue
		}

		content := summary
		source := strings.TrimSpace(c.SourceText)
		if source != "" && !strings.EqualFold(source, summary) {
			content = summary + "\n\nSource: " + source
		}
		if seen[content] {
			continue
		}
		seen[content] = true

		kept = append(kept, accepted{
			title:      deriveTitle(summary),
			content:    content,
			sourceText: source,
			confidence: c.Confidence,
		})
	}
	return kept
}

// persist saves one candidate unless an existing memory is a near-duplicate.
// Returns nil without error when the candidate was skipped as a duplicate.
func (x *Extractor) persist(ctx context.Context, userID int32, c accepted, embedding []float32) (*store.Memory, error) {
	matches, err := x.searcher.SearchSimilar(ctx, userID, embedding, 1, duplicateThreshold)
	if err != nil {
		// Deduplication is best-effort; persist anyway rather than lose
		// the memory.
		x.logger.Warn("near-duplicate check failed", "error", err)
	} else if len(matches) > 0 {
		x.logger.Debug("skipping near-duplicate memory",
			"existing_id", matches[0].Memory.ID, "score", matches[0].Score)
		return nil, nil
	}

	metadata := map[string]any{
		"origin":   "memory_evaluation",
		"pipeline": "completion",
	}
	if c.sourceText != "" {
		metadata["source_text"] = c.sourceText
	}
	if c.confidence != nil {
		metadata["confidence"] = roundConfidence(*c.confidence)
	}

	memory, err := x.store.CreateMemory(ctx, &store.Memory{
		CreatorID: userID,
		Title:     c.title,
		Content:   c.content,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}

	if _, err := x.store.UpsertMemoryEmbedding(ctx, &store.MemoryEmbedding{
		MemoryID:  memory.ID,
		Embedding: embedding,
		Model:     x.model,
	}); err != nil {
		return nil, err
	}
	return memory, nil
}

func deriveTitle(summary string) string {
	runes := []rune(summary)
	if len(runes) <= titleMaxRunes {
		return summary
	}
	return string(runes[:titleMaxRunes-3]) + "..."
}

func roundConfidence(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return math.Round(v*1000) / 1000
}
