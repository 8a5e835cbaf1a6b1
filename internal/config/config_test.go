package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GITHUB_TOKEN", "GITHUB_REPOS", "OPENAI_API_KEY", "DATABASE_URL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 100, cfg.EmbedLLM.BatchSize)
	assert.Equal(t, 0.7, cfg.Retrieval.SemanticWeight)
	assert.Equal(t, 0.5, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 180, cfg.Guardrails.MaxStalenessDays)
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PG_HOST", "db.internal")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
github:
  repos: [acme/widgets, acme/gadgets]
embedding:
  batch_size: 10
  batch_delay: 250ms
database:
  url: postgres://rag@${PG_HOST}:5432/rag
retrieval:
  top_k: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"acme/widgets", "acme/gadgets"}, cfg.GitHub.Repos)
	assert.Equal(t, 10, cfg.EmbedLLM.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.EmbedLLM.BatchDelay)
	assert.Equal(t, "postgres://rag@db.internal:5432/rag", cfg.Database.URL)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
	assert.Equal(t, "sk-test", cfg.InferLLM.Key)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_ReposFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_REPOS", " acme/one, ,acme/two ")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/one", "acme/two"}, cfg.GitHub.Repos)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github: [unterminated"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestValidate_ListsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	assert.Contains(t, err.Error(), "no repositories configured")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY not set")
	assert.Contains(t, err.Error(), "DATABASE_URL not set")
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestValidate_ChromemNeedsNoDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.GitHub.Repos = []string{"acme/widgets"}
	cfg.EmbedLLM.Provider = ProviderOllama
	cfg.InferLLM.Provider = ProviderOllama
	cfg.Database.Backend = BackendChromem

	assert.NoError(t, cfg.Validate())
}
