package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"repo-rag/internal/config"
	"repo-rag/internal/models"
)

// Client turns ordered texts into ordered vectors. Batches run one after another
// through a shared limiter, so concurrent callers never exceed the configured pace.
type Client struct {
	provider  embeddings.Embedder
	batchSize int
	dimension int
	limiter   *rate.Limiter
	cache     *lru.Cache[string, []float32]
	retry     RetryConfig
}

type Option func(*Client)

// WithBatchSize caps the number of texts sent in one upstream call.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithBatchDelay spaces consecutive upstream calls by at least d.
func WithBatchDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithDimension makes the client reject vectors of any other length.
func WithDimension(dim int) Option {
	return func(c *Client) { c.dimension = dim }
}

// WithQueryCache keeps the vectors of the last n distinct queries.
func WithQueryCache(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.cache = nil
			return
		}
		cache, err := lru.New[string, []float32](n)
		if err == nil {
			c.cache = cache
		}
	}
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func New(provider embeddings.Embedder, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		batchSize: 100,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds the provider named in cfg and wraps it in a Client.
func NewFromConfig(cfg config.EmbeddingConfig) (*Client, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	return New(provider,
		WithBatchSize(cfg.BatchSize),
		WithBatchDelay(cfg.BatchDelay),
		WithDimension(cfg.Dimension),
		WithQueryCache(cfg.CacheSize),
		WithRetry(retry),
	), nil
}

// NewProvider creates the langchaingo embedder for the configured backend.
func NewProvider(cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "init openai embedder", err)
		}
		client = llm
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "init ollama embedder", err)
		}
		client = llm
	default:
		return nil, models.NewError(models.ErrConfiguration, "init embedder", fmt.Errorf("unknown provider %q", cfg.Provider))
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, models.NewError(models.ErrConfiguration, "create embedder", err)
	}
	return embedder, nil
}

// Embed returns one vector per text in input order. Any failed batch fails the whole
// call and vectors from earlier batches are discarded.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, models.NewError(models.ErrEmbedding, "embed batch", err)
		}

		batch := texts[start:end]
		vectors, err := retryWithBackoff(ctx, c.retry, func() ([][]float32, error) {
			v, err := c.provider.EmbedDocuments(ctx, batch)
			if err != nil {
				return nil, classify("embed batch", err)
			}
			return v, nil
		})
		if err != nil {
			log.Error().Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("Embedding batch failed")
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, models.NewError(models.ErrEmbedding, "embed batch",
				fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch)))
		}
		if err := c.checkDimension(vectors); err != nil {
			return nil, err
		}
		out = append(out, vectors...)

		log.Debug().Int("embedded", len(out)).Int("total", len(texts)).Msg("Embedding batch done")
	}
	return out, nil
}

// EmbedQuery embeds a single search query, serving repeats from the cache.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(text); ok {
			return v, nil
		}
	}

	v, err := retryWithBackoff(ctx, c.retry, func() ([]float32, error) {
		v, err := c.provider.EmbedQuery(ctx, text)
		if err != nil {
			return nil, classify("embed query", err)
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkDimension([][]float32{v}); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Add(text, v)
	}
	return v, nil
}

func (c *Client) checkDimension(vectors [][]float32) error {
	if c.dimension <= 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != c.dimension {
			return models.NewError(models.ErrEmbedding, "check dimension",
				fmt.Errorf("got vector of length %d, want %d", len(v), c.dimension))
		}
	}
	return nil
}

var transientMarkers = []string{
	"429", "rate limit", "too many requests",
	"500", "502", "503", "504",
	"timeout", "connection reset", "connection refused", "eof",
}

// classify marks network and throttling failures as retryable.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.ErrEmbedding, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.NewRetryableError(models.ErrEmbedding, op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return models.NewRetryableError(models.ErrEmbedding, op, err)
		}
	}
	return models.NewError(models.ErrEmbedding, op, err)
}
