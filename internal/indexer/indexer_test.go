package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/chromemdb"
	"repo-rag/internal/helper"
	"repo-rag/internal/models"
	"repo-rag/internal/observability"
	"repo-rag/internal/vcs"
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	files   map[string][]string
	failFor string
}

func (f *fakeSyncer) Sync(_ context.Context, repo string) (vcs.SyncResult, error) {
	if repo == f.failFor {
		return vcs.SyncResult{}, models.NewError(models.ErrSync, "clone "+repo, errors.New("repository not found"))
	}
	return vcs.SyncResult{Path: "/clones/" + repo, Branch: "develop", Changed: true}, nil
}

func (f *fakeSyncer) ListFiles(root string) ([]string, error) {
	return f.files[strings.TrimPrefix(root, "/clones/")], nil
}

func (f *fakeSyncer) FileProvenance(_ context.Context, _, _, rel string) models.Provenance {
	if rel == "README.md" {
		return models.Provenance{CommitHash: "abc123", CommitDate: "2026-04-01T00:00:00Z", Author: "Dana <dana@example.com>"}
	}
	return models.UnknownProvenance(fixedNow)
}

// pipeChunker splits on "|" so tests control chunk boundaries.
type pipeChunker struct{}

func (pipeChunker) Chunk(text string) []string { return strings.Split(text, "|") }

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)) + 1, 1, 0}
	}
	return out, nil
}

type fakeWriter struct {
	mu     sync.Mutex
	chunks []models.Chunk
}

func (f *fakeWriter) Upsert(_ context.Context, chunks []models.Chunk) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return len(chunks), nil
}

func fakeParse(contents map[string]string) ParseFunc {
	return func(path string) (string, error) {
		for suffix, text := range contents {
			if strings.HasSuffix(path, suffix) {
				if text == "!" {
					return "", models.NewError(models.ErrParse, "parse "+path, errors.New("corrupt"))
				}
				return text, nil
			}
		}
		return "", nil
	}
}

func TestIndexRepo(t *testing.T) {
	syncer := &fakeSyncer{files: map[string][]string{
		"acme/widgets": {"README.md", "broken.md", "empty.md", "src/app.py", "tool.exe"},
	}}
	writer := &fakeWriter{}
	collector := observability.NewCollector(10)
	ix := New(syncer, pipeChunker{}, &fakeEmbedder{}, writer,
		WithParser(fakeParse(map[string]string{
			"README.md":  "intro|usage",
			"broken.md":  "!",
			"src/app.py": "# entry point",
		})),
		WithMetrics(collector),
		WithClock(func() time.Time { return fixedNow }),
	)

	m, err := ix.IndexRepo(context.Background(), "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, 2, m.FilesProcessed)
	assert.Equal(t, 3, m.FilesSkipped)
	assert.Equal(t, 3, m.ChunksCreated)
	require.Len(t, m.Errors, 1)
	assert.Contains(t, m.Errors[0], "corrupt")

	require.Len(t, writer.chunks, 3)
	readme := writer.chunks[1]
	assert.Equal(t, helper.ChunkID("acme/widgets", "README.md", 1), readme.ChunkID)
	assert.Equal(t, "usage", readme.Text)
	assert.Equal(t, 1, readme.ChunkIndex)
	assert.Equal(t, "markdown", readme.FileType)
	assert.Equal(t, "abc123", readme.CommitHash)
	assert.Equal(t, "https://github.com/acme/widgets/blob/develop/README.md", readme.SourceURL)
	assert.NotEmpty(t, readme.Embedding)

	app := writer.chunks[2]
	assert.Equal(t, "python", app.FileType)
	assert.Equal(t, models.UnknownCommitHash, app.CommitHash)
	assert.Equal(t, models.UnknownAuthor, app.Author)

	assert.Equal(t, 1, collector.Summary().TotalSyncs)
}

func TestIndexRepo_EmbeddingFailureWritesNothing(t *testing.T) {
	syncer := &fakeSyncer{files: map[string][]string{"acme/widgets": {"README.md"}}}
	writer := &fakeWriter{}
	embedErr := models.NewError(models.ErrEmbedding, "embed batch", errors.New("quota exceeded"))
	collector := observability.NewCollector(10)

	ix := New(syncer, pipeChunker{}, &fakeEmbedder{err: embedErr}, writer,
		WithParser(fakeParse(map[string]string{"README.md": "intro"})),
		WithMetrics(collector))

	m, err := ix.IndexRepo(context.Background(), "acme/widgets")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.Empty(t, writer.chunks)
	assert.Zero(t, m.ChunksCreated)

	syncs := collector.Syncs()
	require.Len(t, syncs, 1)
	assert.NotEmpty(t, syncs[0].Errors)
}

func TestIndexRepo_NothingToIndex(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix := New(&fakeSyncer{}, pipeChunker{}, embedder, &fakeWriter{})

	m, err := ix.IndexRepo(context.Background(), "acme/empty")
	require.NoError(t, err)
	assert.Zero(t, m.FilesProcessed)
	assert.Zero(t, embedder.calls)
}

func TestIndexAll_SyncFailureIsolated(t *testing.T) {
	syncer := &fakeSyncer{
		files:   map[string][]string{"acme/widgets": {"README.md"}},
		failFor: "acme/private",
	}
	writer := &fakeWriter{}
	ix := New(syncer, pipeChunker{}, &fakeEmbedder{}, writer,
		WithParser(fakeParse(map[string]string{"README.md": "intro"})),
		WithWorkers(2))

	results, err := ix.IndexAll(context.Background(), []string{"acme/private", "acme/widgets"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSync)
	assert.Contains(t, err.Error(), "acme/private")

	require.Len(t, results, 2)
	assert.Equal(t, "acme/private", results[0].Repo)
	assert.Equal(t, 1, results[1].ChunksCreated)
	assert.Len(t, writer.chunks, 1)
}

func TestIndexRepo_ReindexOverwritesRows(t *testing.T) {
	store, err := chromemdb.NewStore("documents", "", "")
	require.NoError(t, err)
	syncer := &fakeSyncer{files: map[string][]string{"acme/widgets": {"README.md"}}}
	ctx := context.Background()

	first := New(syncer, pipeChunker{}, &fakeEmbedder{}, store,
		WithParser(fakeParse(map[string]string{"README.md": "old intro|old usage"})))
	_, err = first.IndexRepo(ctx, "acme/widgets")
	require.NoError(t, err)

	second := New(syncer, pipeChunker{}, &fakeEmbedder{}, store,
		WithParser(fakeParse(map[string]string{"README.md": "new intro|new usage"})))
	_, err = second.IndexRepo(ctx, "acme/widgets")
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)

	res, err := store.LexicalSearch(ctx, "README.md", 10, models.SearchFilters{Repository: "acme/widgets"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.True(t, strings.HasPrefix(r.Text, "new "), r.Text)
	}
}
