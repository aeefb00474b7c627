package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/christoph-codes/RecallAI-sub000/plugin/ai"
	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
	"github.com/christoph-codes/RecallAI-sub000/server/service/memory"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

// frameBuffer bounds how far the producer can run ahead of the SSE writer.
const frameBuffer = 16

const completionSystemPrompt = `You are a personal assistant with access to the user's saved memories.
Use the provided memories when they are relevant; never invent memories the user did not save.
Answer directly and concisely.`

// FrameType tags one frame of the outbound token stream.
type FrameType string

const (
	FrameData  FrameType = "data"
	FrameDone  FrameType = "done"
	FrameError FrameType = "error"
)

// Frame is one unit of the stream relayed to the caller.
type Frame struct {
	Type FrameType
	Data string
}

// Outcome is the tagged result of an optional pipeline stage. A skipped
// stage carries the reason it was skipped instead of a value, so stage
// fallthrough is data, not control flow.
type Outcome[T any] struct {
	Value   T
	Skipped bool
	Reason  string
}

func Ok[T any](value T) Outcome[T] {
	return Outcome[T]{Value: value}
}

func Skipped[T any](reason string) Outcome[T] {
	return Outcome[T]{Skipped: true, Reason: reason}
}

// StreamCompleter issues streaming chat completions.
type StreamCompleter interface {
	CompleteStream(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (<-chan string, <-chan error)
}

// HydeGenerator expands a query into a hypothetical document.
type HydeGenerator interface {
	Generate(ctx context.Context, query string) (string, error)
}

// Embedder produces one embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds a user's memories close to a vector.
type Searcher interface {
	SearchSimilar(ctx context.Context, userID int32, vector []float32, limit int, threshold float64) ([]*store.MemoryWithScore, error)
}

// Evaluator extracts and persists memories from the user's message.
type Evaluator interface {
	Evaluate(ctx context.Context, userID int32, input string) *memory.EvaluationOutcome
}

// Config holds the pipeline defaults. Per-request options override the
// generation parameters; the gates are server-side only.
type Config struct {
	EnableEvaluation   bool
	EnableMemorySearch bool
	MaxMemoryResults   int
	MemoryThreshold    float64
	Model              string
	Temperature        float32
	MaxTokens          int
}

// Request is one completion invocation.
type Request struct {
	UserID  int32
	Message string
	Options *RequestOptions
}

// RequestOptions are per-request generation overrides. Nil fields fall
// back to the pipeline config.
type RequestOptions struct {
	EnableMemorySearch *bool
	MaxMemoryResults   *int
	MemoryThreshold    *float64
	Model              string
	Temperature        *float32
	MaxTokens          *int
}

// Pipeline sequences evaluation, retrieval, and streaming generation for
// one completion request. Every stage before generation degrades
// gracefully; only the generation stream is user-visible on failure, and
// even then as an inline error frame rather than a dropped connection.
type Pipeline struct {
	llm       StreamCompleter
	hyde      HydeGenerator
	embedder  Embedder
	searcher  Searcher
	evaluator Evaluator
	config    Config
	logger    *slog.Logger
}

func NewPipeline(llm StreamCompleter, hyde HydeGenerator, embedder Embedder, searcher Searcher, evaluator Evaluator, config Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxMemoryResults <= 0 {
		config.MaxMemoryResults = 5
	}
	// MemoryThreshold is taken as-is: zero is a valid "no filtering"
	// setting, and the profile loader already defaults it to 0.7.
	return &Pipeline{
		llm:       llm,
		hyde:      hyde,
		embedder:  embedder,
		searcher:  searcher,
		evaluator: evaluator,
		config:    config,
		logger:    logger,
	}
}

// stages records each optional stage's outcome for one request.
type stages struct {
	Evaluation Outcome[*memory.EvaluationOutcome]
	SearchText Outcome[string]
	Vector     Outcome[[]float32]
	Memories   Outcome[[]*store.MemoryWithScore]
}

// Run executes the pipeline and returns the frame stream. The channel is
// closed after the terminal done or error frame, or when ctx is canceled.
func (p *Pipeline) Run(ctx context.Context, req *Request) <-chan Frame {
	frames := make(chan Frame, frameBuffer)
	go func() {
		defer close(frames)
		p.run(ctx, req, frames)
	}()
	return frames
}

func (p *Pipeline) run(ctx context.Context, req *Request, frames chan<- Frame) {
	st := p.prepare(ctx, req)
	prompt := p.assemblePrompt(st, req.Message)

	opts := p.completionOptions(req.Options)
	contentCh, errCh := p.llm.CompleteStream(ctx, []ai.Message{
		ai.SystemPrompt(completionSystemPrompt),
		ai.UserMessage(prompt),
	}, opts)

	for {
		select {
		case <-ctx.Done():
			return
		case token, ok := <-contentCh:
			if !ok {
				if err := <-errCh; err != nil {
					p.logger.Error("completion stream failed", "error", err)
					p.emit(ctx, frames, Frame{Type: FrameError, Data: streamErrorMessage(err)})
					return
				}
				p.emit(ctx, frames, Frame{Type: FrameDone})
				return
			}
			if !p.emit(ctx, frames, Frame{Type: FrameData, Data: token}) {
				return
			}
		}
	}
}

// prepare runs every stage ahead of generation. Each failure downgrades
// to a skip; nothing here can abort the request.
func (p *Pipeline) prepare(ctx context.Context, req *Request) *stages {
	st := &stages{}

	if p.config.EnableEvaluation && p.evaluator != nil {
		st.Evaluation = Ok(p.evaluator.Evaluate(ctx, req.UserID, req.Message))
	} else {
		st.Evaluation = Skipped[*memory.EvaluationOutcome]("memory evaluation disabled")
	}

	if !p.memorySearchEnabled(req.Options) {
		st.SearchText = Skipped[string]("memory search disabled")
		st.Vector = Skipped[[]float32]("memory search disabled")
		st.Memories = Skipped[[]*store.MemoryWithScore]("memory search disabled")
		return st
	}

	st.SearchText = p.resolveSearchText(ctx, req.Message)

	vector, err := p.embedder.Embed(ctx, st.SearchText.Value)
	if err != nil {
		p.logger.Warn("search text embedding failed, skipping vector search", "error", err)
		st.Vector = Skipped[[]float32]("embedding unavailable")
		st.Memories = Skipped[[]*store.MemoryWithScore]("embedding unavailable")
		return st
	}
	st.Vector = Ok(vector)

	limit, threshold := p.searchBounds(req.Options)
	memories, err := p.searcher.SearchSimilar(ctx, req.UserID, vector, limit, threshold)
	if err != nil {
		p.logger.Warn("vector search failed, continuing without context", "error", err)
		st.Memories = Skipped[[]*store.MemoryWithScore]("vector search unavailable")
		return st
	}
	st.Memories = Ok(memories)
	return st
}

// resolveSearchText prefers the hypothetical document, falling back to
// the trimmed raw query when HyDE is disabled, fails, or is absent.
func (p *Pipeline) resolveSearchText(ctx context.Context, query string) Outcome[string] {
	fallback := strings.TrimSpace(query)
	if p.hyde == nil {
		return Outcome[string]{Value: fallback, Skipped: true, Reason: "hyde not configured"}
	}

	doc, err := p.hyde.Generate(ctx, query)
	if err != nil {
		if apierrors.IsCode(err, apierrors.ErrCodeDisabled) {
			return Outcome[string]{Value: fallback, Skipped: true, Reason: "hyde disabled"}
		}
		p.logger.Warn("hyde generation failed, using raw query", "error", err)
		return Outcome[string]{Value: fallback, Skipped: true, Reason: "hyde failed"}
	}
	return Ok(doc)
}

// assemblePrompt builds the generation prompt: memory context first, then
// the evaluation analysis, and always the literal user query last.
func (p *Pipeline) assemblePrompt(st *stages, query string) string {
	var b strings.Builder

	if !st.Memories.Skipped && len(st.Memories.Value) > 0 {
		b.WriteString("Here is what you remember about the user:\n\n")
		for i, result := range st.Memories.Value {
			if i > 0 {
				b.WriteString("\n---\n\n")
			}
			title := result.Memory.Title
			if title == "" {
				title = "Memory"
			}
			fmt.Fprintf(&b, "**%s** (Relevance: %.0f%%)\n%s", title, result.Score*100, result.Memory.Content)
		}
		b.WriteString("\n\n")
	}

	if !st.Evaluation.Skipped && st.Evaluation.Value != nil && st.Evaluation.Value.Analysis != "" {
		b.WriteString("Analysis of the user's message:\n")
		b.WriteString(st.Evaluation.Value.Analysis)
		b.WriteString("\n\n")
	}

	b.WriteString(query)
	return b.String()
}

func (p *Pipeline) completionOptions(opts *RequestOptions) ai.CompletionOptions {
	out := ai.CompletionOptions{
		Model:       p.config.Model,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	}
	if opts == nil {
		return out
	}
	if opts.Model != "" {
		out.Model = opts.Model
	}
	if opts.Temperature != nil {
		out.Temperature = *opts.Temperature
		if out.Temperature == 0 {
			// An explicit 0 would read as "unset" downstream, where the
			// openai client also omits zero values from the wire request.
			out.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if opts.MaxTokens != nil {
		out.MaxTokens = *opts.MaxTokens
	}
	return out
}

func (p *Pipeline) memorySearchEnabled(opts *RequestOptions) bool {
	if opts != nil && opts.EnableMemorySearch != nil {
		return *opts.EnableMemorySearch && p.config.EnableMemorySearch
	}
	return p.config.EnableMemorySearch
}

func (p *Pipeline) searchBounds(opts *RequestOptions) (int, float64) {
	limit := p.config.MaxMemoryResults
	threshold := p.config.MemoryThreshold
	if opts != nil {
		if opts.MaxMemoryResults != nil && *opts.MaxMemoryResults > 0 {
			limit = *opts.MaxMemoryResults
		}
		if opts.MemoryThreshold != nil && *opts.MemoryThreshold >= 0 && *opts.MemoryThreshold <= 1 {
			threshold = *opts.MemoryThreshold
		}
	}
	return limit, threshold
}

func (p *Pipeline) emit(ctx context.Context, frames chan<- Frame, frame Frame) bool {
	select {
	case frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func streamErrorMessage(err error) string {
	var perr *apierrors.PipelineError
	if errors.As(err, &perr) {
		return "The response was interrupted: " + perr.Message
	}
	return "The response was interrupted by a provider error."
}
