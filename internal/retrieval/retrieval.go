// Package retrieval ranks stored chunks for a question by fusing a semantic and a
// lexical search with Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"repo-rag/internal/models"
)

const (
	DefaultRRFConstant         = 60.0
	DefaultSimilarityThreshold = 0.5
	// fileLookupLimit bounds the lexical candidates scanned by RetrieveByFile.
	fileLookupLimit = 100
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of a storage gateway.
type Searcher interface {
	SemanticSearch(ctx context.Context, vec []float32, limit int, filters models.SearchFilters, threshold float64) ([]models.RetrievalResult, error)
	LexicalSearch(ctx context.Context, query string, limit int, filters models.SearchFilters) ([]models.RetrievalResult, error)
}

type Query struct {
	Text           string
	TopK           int
	SemanticWeight float64
	Repository     string
	FileType       string
}

type HybridRetriever struct {
	embedder  QueryEmbedder
	store     Searcher
	k         float64
	threshold float64
}

type Option func(*HybridRetriever)

// WithRRFConstant sets the damping constant K.
func WithRRFConstant(k float64) Option {
	return func(r *HybridRetriever) {
		if k > 0 {
			r.k = k
		}
	}
}

// WithSimilarityThreshold sets the minimum cosine similarity for semantic candidates.
func WithSimilarityThreshold(t float64) Option {
	return func(r *HybridRetriever) { r.threshold = t }
}

func NewHybridRetriever(embedder QueryEmbedder, store Searcher, opts ...Option) *HybridRetriever {
	r := &HybridRetriever{
		embedder:  embedder,
		store:     store,
		k:         DefaultRRFConstant,
		threshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most q.TopK chunks ordered by fused score. The semantic path
// asks for 2*TopK candidates above the similarity threshold, the lexical path for TopK.
func (r *HybridRetriever) Retrieve(ctx context.Context, q Query) ([]models.RetrievalResult, error) {
	if q.TopK <= 0 {
		return nil, models.NewError(models.ErrInvalidQuery, "retrieve", fmt.Errorf("top_k must be positive, got %d", q.TopK))
	}
	if q.SemanticWeight < 0 || q.SemanticWeight > 1 {
		return nil, models.NewError(models.ErrInvalidQuery, "retrieve", fmt.Errorf("semantic_weight %v outside [0, 1]", q.SemanticWeight))
	}

	vec, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filters := models.SearchFilters{Repository: q.Repository, FileType: q.FileType}
	var semantic, lexical []models.RetrievalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.store.SemanticSearch(gctx, vec, 2*q.TopK, filters, r.threshold)
		if err != nil {
			return fmt.Errorf("semantic search: %w", err)
		}
		semantic = res
		return nil
	})
	g.Go(func() error {
		res, err := r.store.LexicalSearch(gctx, q.Text, q.TopK, filters)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(semantic, lexical, q.SemanticWeight, r.k, q.TopK)
	log.Debug().
		Int("semantic", len(semantic)).
		Int("lexical", len(lexical)).
		Int("fused", len(fused)).
		Msg("Hybrid retrieval")
	return fused, nil
}

// RetrieveByFile returns the chunks of one file in ordinal order. It is an exact
// path filter over lexical matches, not a ranking.
func (r *HybridRetriever) RetrieveByFile(ctx context.Context, filePath, repository string) ([]models.RetrievalResult, error) {
	candidates, err := r.store.LexicalSearch(ctx, filePath, fileLookupLimit, models.SearchFilters{Repository: repository})
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	var out []models.RetrievalResult
	for _, c := range candidates {
		if c.FilePath == filePath {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}
