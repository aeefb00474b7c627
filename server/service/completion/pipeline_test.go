package completion

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/christoph-codes/RecallAI-sub000/plugin/ai"
	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
	"github.com/christoph-codes/RecallAI-sub000/server/service/memory"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

// fakeStreamer replays a fixed token sequence, optionally ending in an error.
type fakeStreamer struct {
	tokens []string
	err    error
	opts   ai.CompletionOptions
	prompt string
}

func (f *fakeStreamer) CompleteStream(_ context.Context, messages []ai.Message, opts ai.CompletionOptions) (<-chan string, <-chan error) {
	f.opts = opts
	if len(messages) > 0 {
		f.prompt = messages[len(messages)-1].Content
	}
	contentCh := make(chan string, len(f.tokens))
	errCh := make(chan error, 1)
	for _, token := range f.tokens {
		contentCh <- token
	}
	if f.err != nil {
		errCh <- f.err
	}
	close(contentCh)
	close(errCh)
	return contentCh, errCh
}

type MockHyde struct {
	mock.Mock
}

func (m *MockHyde) Generate(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SearchSimilar(ctx context.Context, userID int32, vector []float32, limit int, threshold float64) ([]*store.MemoryWithScore, error) {
	args := m.Called(ctx, userID, vector, limit, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.MemoryWithScore), args.Error(1)
}

type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, userID int32, input string) *memory.EvaluationOutcome {
	args := m.Called(ctx, userID, input)
	return args.Get(0).(*memory.EvaluationOutcome)
}

func defaultConfig() Config {
	return Config{
		EnableMemorySearch: true,
		MaxMemoryResults:   5,
		MemoryThreshold:    0.7,
		Model:              "gpt-4o-mini",
		Temperature:        0.7,
		MaxTokens:          2048,
	}
}

func collect(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	out := []Frame{}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		case <-timeout:
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestRunRelaysTokensThenDone(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"Hello", " there"}}
	hyde := new(MockHyde)
	hyde.On("Generate", mock.Anything, mock.Anything).Return("hypothetical doc", nil)
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, "hypothetical doc").Return([]float32{0.1}, nil)
	searcher := new(MockSearcher)
	searcher.On("SearchSimilar", mock.Anything, int32(1), []float32{0.1}, 5, 0.7).
		Return([]*store.MemoryWithScore{}, nil)

	p := NewPipeline(streamer, hyde, embedder, searcher, nil, defaultConfig(), nil)
	frames := collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "hi"}))

	require.Len(t, frames, 3)
	assert.Equal(t, Frame{Type: FrameData, Data: "Hello"}, frames[0])
	assert.Equal(t, Frame{Type: FrameData, Data: " there"}, frames[1])
	assert.Equal(t, FrameDone, frames[2].Type)
}

func TestRunZeroThresholdConfigIsNotCoerced(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	hyde := new(MockHyde)
	hyde.On("Generate", mock.Anything, mock.Anything).Return("doc", nil)
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, "doc").Return([]float32{0.1}, nil)
	searcher := new(MockSearcher)
	searcher.On("SearchSimilar", mock.Anything, int32(1), []float32{0.1}, 5, 0.0).
		Return([]*store.MemoryWithScore{}, nil)

	cfg := defaultConfig()
	cfg.MemoryThreshold = 0

	p := NewPipeline(streamer, hyde, embedder, searcher, nil, cfg, nil)
	collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "hi"}))
	searcher.AssertExpectations(t)
}

func TestRunStreamErrorYieldsTokensThenOneErrorFrame(t *testing.T) {
	streamer := &fakeStreamer{
		tokens: []string{"partial"},
		err:    apierrors.StreamTransportFailure("stream broken", errors.New("connection reset")),
	}
	cfg := defaultConfig()
	cfg.EnableMemorySearch = false

	p := NewPipeline(streamer, nil, nil, nil, nil, cfg, nil)
	frames := collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "hi"}))

	require.Len(t, frames, 2)
	assert.Equal(t, FrameData, frames[0].Type)
	assert.Equal(t, "partial", frames[0].Data)
	assert.Equal(t, FrameError, frames[1].Type)
	assert.Contains(t, frames[1].Data, "interrupted")
}

func TestPrepareMemorySearchDisabledSkipsEverything(t *testing.T) {
	cfg := defaultConfig()
	cfg.EnableMemorySearch = false
	streamer := &fakeStreamer{tokens: []string{"ok"}}

	p := NewPipeline(streamer, nil, nil, nil, nil, cfg, nil)
	frames := collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "What IDE do I use?"}))
	require.NotEmpty(t, frames)

	// The prompt is exactly the user query, no memory header.
	assert.Equal(t, "What IDE do I use?", streamer.prompt)
}

func TestPromptContainsMemoriesAndQueryLast(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	hyde := new(MockHyde)
	hyde.On("Generate", mock.Anything, mock.Anything).Return("doc", nil)
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, "doc").Return([]float32{0.1}, nil)
	searcher := new(MockSearcher)
	searcher.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*store.MemoryWithScore{
			{Memory: &store.Memory{Title: "IDE preference", Content: "Uses GoLand daily"}, Score: 0.81},
		}, nil)

	p := NewPipeline(streamer, hyde, embedder, searcher, nil, defaultConfig(), nil)
	collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "What IDE do I use?"}))

	assert.Contains(t, streamer.prompt, "**IDE preference** (Relevance: 81%)")
	assert.Contains(t, streamer.prompt, "Uses GoLand daily")
	assert.True(t, strings.HasSuffix(streamer.prompt, "What IDE do I use?"))
}

func TestHydeDisabledFallsBackToTrimmedQuery(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	hyde := new(MockHyde)
	hyde.On("Generate", mock.Anything, mock.Anything).
		Return("", apierrors.Disabled("HyDE generation"))
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, "What IDE do I use?").Return([]float32{0.1}, nil)
	searcher := new(MockSearcher)
	searcher.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*store.MemoryWithScore{}, nil)

	p := NewPipeline(streamer, hyde, embedder, searcher, nil, defaultConfig(), nil)
	collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "  What IDE do I use?\n"}))

	embedder.AssertExpectations(t)
}

func TestEmbeddingFailureSkipsSearch(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	hyde := new(MockHyde)
	hyde.On("Generate", mock.Anything, mock.Anything).Return("doc", nil)
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).
		Return(nil, apierrors.ProviderUnavailable("embedding down", nil))
	searcher := new(MockSearcher)

	p := NewPipeline(streamer, hyde, embedder, searcher, nil, defaultConfig(), nil)
	frames := collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "hi"}))

	searcher.AssertNotCalled(t, "SearchSimilar")
	assert.Equal(t, FrameDone, frames[len(frames)-1].Type)
	assert.Equal(t, "hi", streamer.prompt)
}

func TestSearchFailureContinuesWithEmptyContext(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	hyde := new(MockHyde)
	hyde.On("Generate", mock.Anything, mock.Anything).Return("doc", nil)
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
	searcher := new(MockSearcher)
	searcher.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("database unavailable"))

	p := NewPipeline(streamer, hyde, embedder, searcher, nil, defaultConfig(), nil)
	frames := collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "hi"}))

	assert.Equal(t, FrameDone, frames[len(frames)-1].Type)
	assert.Equal(t, "hi", streamer.prompt)
}

func TestEvaluationAnalysisAppearsInPrompt(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	evaluator := new(MockEvaluator)
	evaluator.On("Evaluate", mock.Anything, int32(1), "I moved to Lisbon").
		Return(&memory.EvaluationOutcome{Analysis: "user shared a relocation"})

	cfg := defaultConfig()
	cfg.EnableEvaluation = true
	cfg.EnableMemorySearch = false

	p := NewPipeline(streamer, nil, nil, nil, evaluator, cfg, nil)
	collect(t, p.Run(context.Background(), &Request{UserID: 1, Message: "I moved to Lisbon"}))

	assert.Contains(t, streamer.prompt, "user shared a relocation")
	assert.True(t, strings.HasSuffix(streamer.prompt, "I moved to Lisbon"))
}

func TestPerRequestOverridesApplied(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	cfg := defaultConfig()
	cfg.EnableMemorySearch = false

	temp := float32(0.2)
	maxTokens := 64
	p := NewPipeline(streamer, nil, nil, nil, nil, cfg, nil)
	collect(t, p.Run(context.Background(), &Request{
		UserID:  1,
		Message: "hi",
		Options: &RequestOptions{
			Model:       "gpt-4o",
			Temperature: &temp,
			MaxTokens:   &maxTokens,
		},
	}))

	assert.Equal(t, "gpt-4o", streamer.opts.Model)
	assert.Equal(t, float32(0.2), streamer.opts.Temperature)
	assert.Equal(t, 64, streamer.opts.MaxTokens)
}

func TestExplicitZeroTemperatureSurvivesOverride(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"ok"}}
	cfg := defaultConfig()
	cfg.EnableMemorySearch = false

	temp := float32(0)
	p := NewPipeline(streamer, nil, nil, nil, nil, cfg, nil)
	collect(t, p.Run(context.Background(), &Request{
		UserID:  1,
		Message: "hi",
		Options: &RequestOptions{Temperature: &temp},
	}))

	// Must not fall back to the config default of 0.7.
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), streamer.opts.Temperature)
}

func TestRunStopsOnCancellation(t *testing.T) {
	// A streamer that never closes its channels; cancellation must still
	// end the frame stream.
	contentCh := make(chan string)
	errCh := make(chan error)
	streamer := streamFunc(func(context.Context, []ai.Message, ai.CompletionOptions) (<-chan string, <-chan error) {
		return contentCh, errCh
	})

	cfg := defaultConfig()
	cfg.EnableMemorySearch = false
	p := NewPipeline(streamer, nil, nil, nil, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	frames := p.Run(ctx, &Request{UserID: 1, Message: "hi"})
	cancel()

	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel not closed after cancellation")
	}
}

type streamFunc func(context.Context, []ai.Message, ai.CompletionOptions) (<-chan string, <-chan error)

func (f streamFunc) CompleteStream(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (<-chan string, <-chan error) {
	return f(ctx, messages, opts)
}
