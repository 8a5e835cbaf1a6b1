package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"repo-rag/internal/models"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendPostgres = "postgres"
	BackendChromem  = "chromem"

	DriverPgdriver = "pgdriver"
	DriverPQ       = "pq"
)

type Config struct {
	GitHub     GitHubConfig     `yaml:"github"`
	EmbedLLM   EmbeddingConfig  `yaml:"embedding"`
	InferLLM   LLMConfig        `yaml:"llm"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Database   DatabaseConfig   `yaml:"database"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GitHubConfig struct {
	Token            string   `yaml:"token"`
	Repos            []string `yaml:"repos"`
	CloneDir         string   `yaml:"clone_dir"`
	ExcludedPatterns []string `yaml:"excluded_patterns"`
	Extensions       []string `yaml:"extensions"`
	MaxFileSizeMB    int      `yaml:"max_file_size_mb"`
	Workers          int      `yaml:"workers"`
	// APIBaseURL overrides the GitHub REST endpoint (GitHub Enterprise).
	APIBaseURL string `yaml:"api_base_url"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	Key        string        `yaml:"key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	CacheSize  int           `yaml:"cache_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type LLMConfig struct {
	Provider      string  `yaml:"provider"`
	BaseURL       string  `yaml:"base_url"`
	Key           string  `yaml:"key"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxToolRounds int     `yaml:"max_tool_rounds"`
}

type ChunkingConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Encoding     string `yaml:"encoding"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Driver  string `yaml:"driver"`
	Debug   bool   `yaml:"debug"`

	ChromemCollection    string `yaml:"chromem_collection"`
	ChromemExportPath    string `yaml:"chromem_export_path"`
	ChromemEncryptionKey string `yaml:"chromem_encryption_key"`
}

type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	SemanticWeight      float64 `yaml:"semantic_weight"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RRFConstant         float64 `yaml:"rrf_k"`
}

type GuardrailsConfig struct {
	MinQueryLength   int `yaml:"min_query_length"`
	MaxQueryLength   int `yaml:"max_query_length"`
	MaxStalenessDays int `yaml:"max_staleness_days"`
	MinResponseChars int `yaml:"min_response_chars"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the configuration used when a setting is absent from the file.
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			CloneDir: "./data/repos",
			ExcludedPatterns: []string{
				"node_modules/", "vendor/", ".git/", "*.min.js",
				"package-lock.json", "*.lock",
			},
			Extensions:    []string{".md", ".py", ".js", ".java", ".go", ".ts", ".txt", ".pdf", ".docx", ".xlsx", ".ods"},
			MaxFileSizeMB: 1,
			Workers:       2,
		},
		EmbedLLM: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			BatchSize:  100,
			BatchDelay: 100 * time.Millisecond,
			CacheSize:  256,
			MaxRetries: 1,
		},
		InferLLM: LLMConfig{
			Provider:      ProviderOpenAI,
			Model:         "gpt-4o",
			Temperature:   0.1,
			MaxTokens:     1500,
			MaxToolRounds: 2,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
			Encoding:     "cl100k_base",
		},
		Database: DatabaseConfig{
			Backend:           BackendPostgres,
			Driver:            DriverPgdriver,
			ChromemCollection: "documents",
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			SemanticWeight:      0.7,
			SimilarityThreshold: 0.5,
			RRFConstant:         60,
		},
		Guardrails: GuardrailsConfig{
			MinQueryLength:   3,
			MaxQueryLength:   500,
			MaxStalenessDays: 180,
			MinResponseChars: 20,
		},
		Log: LogConfig{
			Level: "info",
			File:  "./logs/app.log",
		},
		Metrics: MetricsConfig{
			Capacity: 1000,
		},
	}
}

// LoadConfig reads the YAML file at path on top of Default. A missing file is not an
// error; settings then come from defaults and the environment. ${VAR} references in the
// file are expanded, and a .env file in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, models.NewError(models.ErrConfiguration, "parse config", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, models.NewError(models.ErrConfiguration, "read config", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_REPOS"); v != "" {
		cfg.GitHub.Repos = splitList(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = v
		}
		if cfg.InferLLM.Key == "" {
			cfg.InferLLM.Key = v
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every missing or inconsistent setting in a single ConfigurationError.
func (c *Config) Validate() error {
	var problems []string

	if len(c.GitHub.Repos) == 0 {
		problems = append(problems, "no repositories configured")
	}
	if c.EmbedLLM.Provider == ProviderOpenAI && c.EmbedLLM.Key == "" {
		problems = append(problems, "OPENAI_API_KEY not set")
	}
	if c.InferLLM.Provider == ProviderOpenAI && c.InferLLM.Key == "" && c.EmbedLLM.Key == "" {
		problems = append(problems, "LLM key not set")
	}
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL not set")
		}
	case BackendChromem:
	default:
		problems = append(problems, fmt.Sprintf("unknown database backend %q", c.Database.Backend))
	}
	if c.Chunking.ChunkSize <= 0 {
		problems = append(problems, "chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		problems = append(problems, "chunk_overlap must be in [0, chunk_size)")
	}
	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.SemanticWeight > 1 {
		problems = append(problems, "semantic_weight must be in [0, 1]")
	}
	if c.EmbedLLM.BatchSize <= 0 {
		problems = append(problems, "embedding batch_size must be positive")
	}

	if len(problems) > 0 {
		return models.NewError(models.ErrConfiguration, "validate config", errors.New(strings.Join(problems, ", ")))
	}
	return nil
}
