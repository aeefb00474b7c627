package v1

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

// fakeMemoryDriver records the find condition the handlers build.
type fakeMemoryDriver struct {
	lastFind *store.FindMemory
	memories []*store.Memory
}

func (f *fakeMemoryDriver) GetDB() *sql.DB                { return nil }
func (f *fakeMemoryDriver) Close() error                  { return nil }
func (f *fakeMemoryDriver) Migrate(context.Context) error { return nil }

func (f *fakeMemoryDriver) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	create.ID = 1
	return create, nil
}

func (f *fakeMemoryDriver) ListMemories(_ context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	f.lastFind = find
	return f.memories, nil
}

func (f *fakeMemoryDriver) UpdateMemory(_ context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	return nil, nil
}

func (f *fakeMemoryDriver) DeleteMemory(context.Context, *store.DeleteMemory) error { return nil }

func (f *fakeMemoryDriver) UpsertMemoryEmbedding(_ context.Context, e *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	return e, nil
}

func (f *fakeMemoryDriver) DeleteMemoryEmbedding(context.Context, int32) error { return nil }

func (f *fakeMemoryDriver) VectorSearch(context.Context, *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	return nil, nil
}

func (f *fakeMemoryDriver) FindMemoriesWithoutEmbedding(context.Context, *store.FindMemoriesWithoutEmbedding) ([]*store.Memory, error) {
	return nil, nil
}

func getList(t *testing.T, s *APIV1Service, query string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return rec, s.ListMemories(e.NewContext(req, rec))
}

func TestListMemoriesOffsetWithoutLimit(t *testing.T) {
	driver := &fakeMemoryDriver{}
	s := &APIV1Service{Profile: testProfile(), Store: store.New(driver, nil)}

	_, err := getList(t, s, "offset=10")
	require.NoError(t, err)
	require.NotNil(t, driver.lastFind)
	require.NotNil(t, driver.lastFind.Offset)
	assert.Equal(t, 10, *driver.lastFind.Offset)
	assert.Nil(t, driver.lastFind.Limit)
}

func TestListMemoriesLimitAndOffset(t *testing.T) {
	driver := &fakeMemoryDriver{}
	s := &APIV1Service{Profile: testProfile(), Store: store.New(driver, nil)}

	_, err := getList(t, s, "limit=5&offset=10")
	require.NoError(t, err)
	require.NotNil(t, driver.lastFind.Limit)
	require.NotNil(t, driver.lastFind.Offset)
	assert.Equal(t, 5, *driver.lastFind.Limit)
	assert.Equal(t, 10, *driver.lastFind.Offset)
}

func TestListMemoriesValidatesPagination(t *testing.T) {
	driver := &fakeMemoryDriver{}
	s := &APIV1Service{Profile: testProfile(), Store: store.New(driver, nil)}

	_, err := getList(t, s, "limit=0")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, err.(*echo.HTTPError).Code)

	_, err = getList(t, s, "offset=-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, err.(*echo.HTTPError).Code)
}
