package llmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"repo-rag/internal/config"
	"repo-rag/internal/models"
)

const SearchCodebase = "search_codebase"

// FileTypeAny disables the file type filter of a tool search.
const FileTypeAny = "any"

// SearchCodebaseTool lets the model ask for more context mid-answer.
var SearchCodebaseTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        SearchCodebase,
		Description: "Search for specific code patterns, function names, or technical terms in the codebase",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query (e.g., 'Redis configuration', 'authentication function')",
				},
				"file_type": map[string]any{
					"type":        "string",
					"enum":        []string{"markdown", "python", "javascript", FileTypeAny},
					"description": "Type of files to search",
				},
			},
			"required": []string{"query"},
		},
	},
}

type SearchArgs struct {
	Query    string `json:"query"`
	FileType string `json:"file_type"`
}

// ParseSearchArgs decodes tool call arguments. A missing query falls back to
// fallbackQuery and "any" clears the file type.
func ParseSearchArgs(raw, fallbackQuery string) (SearchArgs, error) {
	var args SearchArgs
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return SearchArgs{}, fmt.Errorf("decode %s arguments: %w", SearchCodebase, err)
		}
	}
	if strings.TrimSpace(args.Query) == "" {
		args.Query = fallbackQuery
	}
	if args.FileType == FileTypeAny {
		args.FileType = ""
	}
	return args, nil
}

// NewModel creates the chat model for the configured provider.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("Creating LLM client")

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "init openai llm", err)
		}
		return llm, nil
	case config.ProviderOllama:
		llm, err := ollama.New(ollama.WithServerURL(cfg.BaseURL), ollama.WithModel(cfg.Model))
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "init ollama llm", err)
		}
		return llm, nil
	default:
		return nil, models.NewError(models.ErrConfiguration, "init llm", fmt.Errorf("unknown provider %q", cfg.Provider))
	}
}

// call llm
func GenerateContent(ctx context.Context, model llms.Model, cfg config.LLMConfig, tools []llms.Tool, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	opts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
	}

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate content: empty response")
	}
	return resp, nil
}

// TotalTokens reads the token count a provider reports for a choice.
func TotalTokens(choice *llms.ContentChoice) int {
	if choice == nil {
		return 0
	}
	switch v := choice.GenerationInfo["TotalTokens"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
