package embedding

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"repo-rag/internal/models"
)

// RetryConfig controls exponential backoff around upstream embedding calls.
// MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// retryWithBackoff re-runs fn while it fails with a retryable error.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	backoff := cfg.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || !models.IsRetryable(err) || attempt == attempts {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying embedding call")
		select {
		case <-ctx.Done():
			return zero, models.NewError(models.ErrEmbedding, "retry", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*cfg.Multiplier), cfg.MaxDelay)
	}
	return zero, lastErr
}
