package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"repo-rag/internal/config"
	"repo-rag/internal/helper"
)

// SetupLogger points the global logger at the console and, when cfg.File is set,
// also at a JSON log file. The returned closer releases the file.
func SetupLogger(cfg config.LogConfig) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if cfg.File == "" {
		log.Logger = log.Output(console).With().Caller().Logger()
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Caller().Logger()
	return f, nil
}

// Operation times one named unit of work and logs its start and outcome.
type Operation struct {
	name   string
	id     string
	start  time.Time
	logger zerolog.Logger
}

// StartOperation logs "Starting <name>" with the given fields attached to every
// subsequent line of the operation.
func StartOperation(name string, fields map[string]any) *Operation {
	id, err := helper.GenerateUUID()
	if err != nil {
		id = fmt.Sprintf("%s_%d", name, time.Now().UnixMilli())
	}
	op := &Operation{
		name:  name,
		id:    id,
		start: time.Now(),
		logger: log.With().
			Str("operation", name).
			Str("operation_id", id).
			Fields(fields).
			Logger(),
	}
	op.logger.Info().Msgf("Starting %s", name)
	return op
}

func (o *Operation) ID() string { return o.id }

// End logs completion, or failure when err is non-nil, with the elapsed time.
func (o *Operation) End(err error) {
	elapsed := time.Since(o.start)
	if err != nil {
		o.logger.Error().Err(err).Dur("duration", elapsed).Str("status", "error").Msgf("Failed %s", o.name)
		return
	}
	o.logger.Info().Dur("duration", elapsed).Str("status", "success").Msgf("Completed %s", o.name)
}
