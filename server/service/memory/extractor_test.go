package memory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/christoph-codes/RecallAI-sub000/plugin/ai"
	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
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

type MockStore struct {
	mock.Mock
}

// CreateMemory echoes the create back with an ID when the expectation
// returns (nil, nil), mirroring the real store.
func (m *MockStore) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	args := m.Called(ctx, create)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	if args.Get(0) == nil {
		create.ID = 1
		return create, nil
	}
	return args.Get(0).(*store.Memory), nil
}

func (m *MockStore) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	args := m.Called(ctx, embedding)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.MemoryEmbedding), args.Error(1)
}

func newTestExtractor(llm Completer, embedder Embedder, searcher SimilaritySearcher, st MemoryStore) *Extractor {
	return NewExtractor(llm, embedder, searcher, st, "text-embedding-3-small", slog.Default())
}

func TestExtractMalformedOutputPersistsNothing(t *testing.T) {
	x := newTestExtractor(nil, new(MockEmbedder), new(MockSearcher), new(MockStore))

	saved, _, err := x.Extract(context.Background(), 1, "I could not find any memories, sorry!")
	require.Error(t, err)
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodeMalformedInput))
	assert.Empty(t, saved)
}

func TestExtractFiltersCandidates(t *testing.T) {
	embedder := new(MockEmbedder)
	searcher := new(MockSearcher)
	st := new(MockStore)

	// Only "likes rye bread" survives: the rest are opted out, empty, low
	// confidence, or an in-batch duplicate.
	raw := `{"memories":[
		{"summary":"likes rye bread","confidence":0.9},
		{"summary":"asked about the weather","should_save":false},
		{"summary":"   "},
		{"summary":"maybe owns a cat","confidence":0.4},
		{"summary":"likes rye bread","confidence":0.8}
	]}`

	embedder.On("EmbedBatch", mock.Anything, []string{"likes rye bread"}).
		Return([][]float32{{0.1, 0.2}}, nil)
	searcher.On("SearchSimilar", mock.Anything, int32(1), []float32{0.1, 0.2}, 1, 0.98).
		Return([]*store.MemoryWithScore{}, nil)
	st.On("CreateMemory", mock.Anything, mock.Anything).Return(nil, nil)
	st.On("UpsertMemoryEmbedding", mock.Anything, mock.Anything).
		Return(&store.MemoryEmbedding{}, nil)

	x := newTestExtractor(nil, embedder, searcher, st)
	saved, _, err := x.Extract(context.Background(), 1, raw)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "likes rye bread", saved[0].Content)
	st.AssertNumberOfCalls(t, "CreateMemory", 1)
}

func TestExtractContentIncludesDistinctSource(t *testing.T) {
	embedder := new(MockEmbedder)
	searcher := new(MockSearcher)
	st := new(MockStore)

	raw := `{"memories":[
		{"summary":"prefers window seats","source_text":"I always book the window seat when I fly"},
		{"summary":"Drinks oat milk","source_text":"drinks oat milk"}
	]}`

	wantFirst := "prefers window seats\n\nSource: I always book the window seat when I fly"
	embedder.On("EmbedBatch", mock.Anything, []string{wantFirst, "Drinks oat milk"}).
		Return([][]float32{{0.1}, {0.2}}, nil)
	searcher.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*store.MemoryWithScore{}, nil)
	st.On("CreateMemory", mock.Anything, mock.Anything).Return(nil, nil)
	st.On("UpsertMemoryEmbedding", mock.Anything, mock.Anything).
		Return(&store.MemoryEmbedding{}, nil)

	x := newTestExtractor(nil, embedder, searcher, st)
	saved, _, err := x.Extract(context.Background(), 1, raw)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, wantFirst, saved[0].Content)
	// Case-insensitive match between summary and source keeps content bare.
	assert.Equal(t, "Drinks oat milk", saved[1].Content)
}

func TestExtractMetadataAndTitle(t *testing.T) {
	embedder := new(MockEmbedder)
	searcher := new(MockSearcher)
	st := new(MockStore)

	longSummary := ""
	for i := 0; i < 100; i++ {
		longSummary += "x"
	}

	raw := `{"memories":[{"summary":"` + longSummary + `","source_text":"the original words","confidence":1.23456}]}`

	embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return([][]float32{{0.1}}, nil)
	searcher.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*store.MemoryWithScore{}, nil)
	st.On("CreateMemory", mock.Anything, mock.Anything).Return(nil, nil)
	st.On("UpsertMemoryEmbedding", mock.Anything, mock.Anything).
		Return(&store.MemoryEmbedding{}, nil)

	x := newTestExtractor(nil, embedder, searcher, st)
	saved, _, err := x.Extract(context.Background(), 1, raw)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	assert.Len(t, []rune(saved[0].Title), 80)
	assert.Equal(t, "...", saved[0].Title[77:])
	assert.Equal(t, "memory_evaluation", saved[0].Metadata["origin"])
	assert.Equal(t, "completion", saved[0].Metadata["pipeline"])
	assert.Equal(t, "the original words", saved[0].Metadata["source_text"])
	// Confidence above 1 is clamped.
	assert.Equal(t, 1.0, saved[0].Metadata["confidence"])
}

func TestExtractEmbeddingMismatchDropsBatch(t *testing.T) {
	embedder := new(MockEmbedder)
	st := new(MockStore)

	raw := `{"memories":[{"summary":"a"},{"summary":"b"}]}`
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return([][]float32{{0.1}}, nil)

	x := newTestExtractor(nil, embedder, new(MockSearcher), st)
	saved, _, err := x.Extract(context.Background(), 1, raw)
	require.NoError(t, err)
	assert.Empty(t, saved)
	st.AssertNotCalled(t, "CreateMemory")
}

func TestExtractSkipsNearDuplicates(t *testing.T) {
	embedder := new(MockEmbedder)
	searcher := new(MockSearcher)
	st := new(MockStore)

	raw := `{"memories":[{"summary":"likes rye bread"}]}`
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return([][]float32{{0.1}}, nil)
	searcher.On("SearchSimilar", mock.Anything, int32(1), []float32{0.1}, 1, 0.98).
		Return([]*store.MemoryWithScore{
			{Memory: &store.Memory{ID: 9, Content: "likes rye bread"}, Score: 0.99},
		}, nil)

	x := newTestExtractor(nil, embedder, searcher, st)
	saved, _, err := x.Extract(context.Background(), 1, raw)
	require.NoError(t, err)
	assert.Empty(t, saved)
	st.AssertNotCalled(t, "CreateMemory")
}

func TestExtractCandidateFailureDoesNotAffectOthers(t *testing.T) {
	embedder := new(MockEmbedder)
	searcher := new(MockSearcher)
	st := new(MockStore)

	raw := `{"memories":[{"summary":"first"},{"summary":"second"}]}`
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return([][]float32{{0.1}, {0.2}}, nil)
	searcher.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*store.MemoryWithScore{}, nil)
	st.On("CreateMemory", mock.Anything, mock.MatchedBy(func(m *store.Memory) bool {
		return m.Content == "first"
	})).Return(nil, errors.New("insert failed"))
	st.On("CreateMemory", mock.Anything, mock.MatchedBy(func(m *store.Memory) bool {
		return m.Content == "second"
	})).Return(nil, nil)
	st.On("UpsertMemoryEmbedding", mock.Anything, mock.Anything).
		Return(&store.MemoryEmbedding{}, nil)

	x := newTestExtractor(nil, embedder, searcher, st)
	saved, _, err := x.Extract(context.Background(), 1, raw)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "second", saved[0].Content)
}

func TestEvaluateSwallowsProviderError(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("provider down"))

	x := newTestExtractor(llm, new(MockEmbedder), new(MockSearcher), new(MockStore))
	outcome := x.Evaluate(context.Background(), 1, "I moved to Lisbon last month")
	require.NotNil(t, outcome)
	assert.Empty(t, outcome.Saved)
	assert.Empty(t, outcome.Analysis)
}

func TestEvaluateReturnsAnalysis(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"memories":[],"analysis":"the user shared a life update"}`, nil)

	x := newTestExtractor(llm, new(MockEmbedder), new(MockSearcher), new(MockStore))
	outcome := x.Evaluate(context.Background(), 1, "I moved to Lisbon last month")
	assert.Equal(t, "the user shared a life update", outcome.Analysis)
	assert.Empty(t, outcome.Saved)
}
