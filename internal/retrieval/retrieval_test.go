package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/models"
)

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, f.err
}

type searchCall struct {
	limit     int
	filters   models.SearchFilters
	threshold float64
	query     string
}

type fakeSearcher struct {
	semantic, lexical []models.RetrievalResult
	semErr            error
	semCall, lexCall  searchCall
}

func (f *fakeSearcher) SemanticSearch(_ context.Context, _ []float32, limit int, filters models.SearchFilters, threshold float64) ([]models.RetrievalResult, error) {
	f.semCall = searchCall{limit: limit, filters: filters, threshold: threshold}
	return f.semantic, f.semErr
}

func (f *fakeSearcher) LexicalSearch(_ context.Context, query string, limit int, filters models.SearchFilters) ([]models.RetrievalResult, error) {
	f.lexCall = searchCall{limit: limit, filters: filters, query: query}
	return f.lexical, nil
}

func TestRetrieve_CandidateLimitsAndFilters(t *testing.T) {
	store := &fakeSearcher{semantic: results("A", "B", "C"), lexical: results("B", "C", "D")}
	r := NewHybridRetriever(fakeEmbedder{}, store)

	got, err := r.Retrieve(context.Background(), Query{
		Text: "how to deploy", TopK: 3, SemanticWeight: 0.7,
		Repository: "acme/widgets", FileType: "markdown",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, ids(got))

	assert.Equal(t, 6, store.semCall.limit)
	assert.Equal(t, 0.5, store.semCall.threshold)
	assert.Equal(t, 3, store.lexCall.limit)
	assert.Equal(t, "how to deploy", store.lexCall.query)
	want := models.SearchFilters{Repository: "acme/widgets", FileType: "markdown"}
	assert.Equal(t, want, store.semCall.filters)
	assert.Equal(t, want, store.lexCall.filters)
}

func TestRetrieve_Options(t *testing.T) {
	store := &fakeSearcher{semantic: results("A"), lexical: results("B")}
	r := NewHybridRetriever(fakeEmbedder{}, store, WithRRFConstant(1), WithSimilarityThreshold(0.8))

	got, err := r.Retrieve(context.Background(), Query{Text: "q", TopK: 5, SemanticWeight: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.25, got[0].CombinedScore, 1e-12)
	assert.Equal(t, 0.8, store.semCall.threshold)
}

func TestRetrieve_RejectsBadArguments(t *testing.T) {
	r := NewHybridRetriever(fakeEmbedder{}, &fakeSearcher{})
	for _, q := range []Query{
		{Text: "q", TopK: 0, SemanticWeight: 0.5},
		{Text: "q", TopK: 5, SemanticWeight: -0.1},
		{Text: "q", TopK: 5, SemanticWeight: 1.1},
	} {
		_, err := r.Retrieve(context.Background(), q)
		assert.ErrorIs(t, err, models.ErrInvalidQuery)
	}
}

func TestRetrieve_PropagatesErrors(t *testing.T) {
	embedErr := models.NewError(models.ErrEmbedding, "embed query", errors.New("down"))
	_, err := NewHybridRetriever(fakeEmbedder{err: embedErr}, &fakeSearcher{}).
		Retrieve(context.Background(), Query{Text: "q", TopK: 5, SemanticWeight: 0.5})
	assert.ErrorIs(t, err, models.ErrEmbedding)

	storeErr := models.NewError(models.ErrStorage, "semantic search", errors.New("gone"))
	_, err = NewHybridRetriever(fakeEmbedder{}, &fakeSearcher{semErr: storeErr}).
		Retrieve(context.Background(), Query{Text: "q", TopK: 5, SemanticWeight: 0.5})
	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestRetrieveByFile_ExactPathInOrdinalOrder(t *testing.T) {
	chunk := func(path string, idx int) models.RetrievalResult {
		return models.RetrievalResult{Chunk: models.Chunk{ChunkID: path + string(rune('a'+idx)), FilePath: path, ChunkIndex: idx}}
	}
	store := &fakeSearcher{lexical: []models.RetrievalResult{
		chunk("docs/install.md", 2),
		chunk("docs/install.md.bak", 0),
		chunk("docs/install.md", 0),
		chunk("other/docs/install.md", 0),
		chunk("docs/install.md", 1),
	}}
	r := NewHybridRetriever(fakeEmbedder{}, store)

	got, err := r.RetrieveByFile(context.Background(), "docs/install.md", "acme/widgets")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, g := range got {
		assert.Equal(t, "docs/install.md", g.FilePath)
		assert.Equal(t, i, g.ChunkIndex)
	}
	assert.Equal(t, 100, store.lexCall.limit)
	assert.Equal(t, "acme/widgets", store.lexCall.filters.Repository)
}
