// Package indexer turns configured repositories into stored, embedded chunks.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"repo-rag/internal/helper"
	"repo-rag/internal/models"
	"repo-rag/internal/observability"
	"repo-rag/internal/parser"
	"repo-rag/internal/vcs"
)

const maxRecordedErrors = 5

type Syncer interface {
	Sync(ctx context.Context, repo string) (vcs.SyncResult, error)
	ListFiles(root string) ([]string, error)
	FileProvenance(ctx context.Context, repo, root, rel string) models.Provenance
}

type Chunker interface {
	Chunk(text string) []string
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Writer interface {
	Upsert(ctx context.Context, chunks []models.Chunk) (int, error)
}

// ParseFunc extracts text from the file at an absolute path.
type ParseFunc func(path string) (string, error)

type Indexer struct {
	syncer   Syncer
	chunker  Chunker
	embedder Embedder
	store    Writer
	parse    ParseFunc
	metrics  *observability.Collector
	workers  int
	now      func() time.Time
}

type Option func(*Indexer)

// WithParser replaces parser.ParseFile.
func WithParser(p ParseFunc) Option {
	return func(ix *Indexer) { ix.parse = p }
}

// WithWorkers bounds how many repositories are indexed at once.
func WithWorkers(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

func WithMetrics(c *observability.Collector) Option {
	return func(ix *Indexer) { ix.metrics = c }
}

func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) { ix.now = now }
}

func New(syncer Syncer, chunker Chunker, embedder Embedder, store Writer, opts ...Option) *Indexer {
	ix := &Indexer{
		syncer:   syncer,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		parse:    parser.ParseFile,
		workers:  1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexRepo syncs repo and re-indexes every eligible file. Files that fail to parse
// are skipped. Embeddings for the whole repository are computed before a single
// storage write, so an embedding or storage failure leaves stored data untouched.
func (ix *Indexer) IndexRepo(ctx context.Context, repo string) (m observability.SyncMetrics, err error) {
	m = observability.SyncMetrics{Repo: repo, StartTime: ix.now()}
	op := observability.StartOperation("index_repo", map[string]any{"repo": repo})
	defer func() {
		m.EndTime = ix.now()
		if err != nil {
			m.Errors = appendCapped(m.Errors, err.Error())
		}
		if ix.metrics != nil {
			ix.metrics.RecordSync(m)
		}
		op.End(err)
	}()

	synced, err := ix.syncer.Sync(ctx, repo)
	if err != nil {
		return m, err
	}
	files, err := ix.syncer.ListFiles(synced.Path)
	if err != nil {
		return m, err
	}

	var chunks []models.Chunk
	for _, rel := range files {
		fileType := parser.FileType(rel)
		if fileType == "" {
			m.FilesSkipped++
			continue
		}

		text, perr := ix.parse(filepath.Join(synced.Path, filepath.FromSlash(rel)))
		if perr != nil {
			log.Warn().Err(perr).Str("repo", repo).Str("file", rel).Msg("Skipping unparseable file")
			m.FilesSkipped++
			m.Errors = appendCapped(m.Errors, perr.Error())
			continue
		}
		if text == "" {
			m.FilesSkipped++
			continue
		}

		prov := ix.syncer.FileProvenance(ctx, repo, synced.Path, rel)
		ref := helper.FileRef{
			Repository: repo,
			FilePath:   rel,
			FileType:   fileType,
			SourceURL:  helper.SourceURL(repo, synced.Branch, rel),
		}
		chunks = append(chunks, helper.BuildChunks(ref, ix.chunker.Chunk(text), prov, ix.now())...)
		m.FilesProcessed++
	}

	if len(chunks) == 0 {
		log.Info().Str("repo", repo).Msg("No content to index")
		return m, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return m, fmt.Errorf("embed %s: %w", repo, err)
	}
	if len(vectors) != len(chunks) {
		return m, models.NewError(models.ErrEmbedding, "embed "+repo,
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	n, err := ix.store.Upsert(ctx, chunks)
	if err != nil {
		return m, fmt.Errorf("store %s: %w", repo, err)
	}
	m.ChunksCreated = n

	log.Info().
		Str("repo", repo).
		Int("files_processed", m.FilesProcessed).
		Int("files_skipped", m.FilesSkipped).
		Int("chunks", n).
		Msg("Repository indexed")
	return m, nil
}

// IndexAll indexes repos concurrently. A failing repository does not stop the
// others; every failure is returned joined.
func (ix *Indexer) IndexAll(ctx context.Context, repos []string) ([]observability.SyncMetrics, error) {
	results := make([]observability.SyncMetrics, len(repos))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, repo := range repos {
		g.Go(func() error {
			m, err := ix.IndexRepo(gctx, repo)
			results[i] = m
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", repo, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func appendCapped(list []string, s string) []string {
	if len(list) >= maxRecordedErrors {
		return list
	}
	return append(list, s)
}
