package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"repo-rag/internal/config"
	"repo-rag/internal/guardrails"
	"repo-rag/internal/llmservice"
	"repo-rag/internal/models"
	"repo-rag/internal/observability"
	"repo-rag/internal/retrieval"
)

const (
	toolTopK = 3

	// Blended price per 1k tokens, split 60/40 between prompt and completion.
	inputCostPer1K  = 0.0025
	outputCostPer1K = 0.01
	inputShare      = 0.6

	noToolResults = "No results found."
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]models.RetrievalResult, error)
}

type Request struct {
	Question   string
	Repository string
	FileType   string
	TopK       int
}

// Answer is the outcome of one question. Invalid questions are reported through
// Validation rather than as an error.
type Answer struct {
	Response   string                      `json:"response"`
	Citations  []string                    `json:"citations"`
	Validation models.ValidationOutcome    `json:"validation"`
	Metrics    *observability.QueryMetrics `json:"metrics,omitempty"`
	Context    []models.RetrievalResult    `json:"-"`
}

type Engine struct {
	model     llms.Model
	retriever Retriever
	input     *guardrails.InputValidator
	validator *guardrails.ResponseValidator
	metrics   *observability.Collector
	llmCfg    config.LLMConfig
	retrieval config.RetrievalConfig
	now       func() time.Time
}

type Option func(*Engine)

func WithMetrics(c *observability.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

func WithInputValidator(v *guardrails.InputValidator) Option {
	return func(e *Engine) { e.input = v }
}

func WithResponseValidator(v *guardrails.ResponseValidator) Option {
	return func(e *Engine) { e.validator = v }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(model llms.Model, retriever Retriever, llmCfg config.LLMConfig, retrievalCfg config.RetrievalConfig, opts ...Option) *Engine {
	e := &Engine{
		model:     model,
		retriever: retriever,
		input:     guardrails.NewInputValidator(guardrails.DefaultMinQueryLength, guardrails.DefaultMaxQueryLength),
		validator: guardrails.NewResponseValidator(),
		llmCfg:    llmCfg,
		retrieval: retrievalCfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query answers one question against the indexed repositories.
func (e *Engine) Query(ctx context.Context, req Request) (*Answer, error) {
	if ok, reason := e.input.Validate(req.Question); !ok {
		return &Answer{
			Response:  "Invalid query: " + reason,
			Citations: []string{},
			Validation: models.ValidationOutcome{
				IsValid:  false,
				Errors:   []string{reason},
				Warnings: []string{},
			},
		}, nil
	}

	op := observability.StartOperation("llm_query", map[string]any{"query": truncate(req.Question, 100)})
	answer, err := e.answer(ctx, req)
	op.End(err)
	return answer, err
}

func (e *Engine) answer(ctx context.Context, req Request) (*Answer, error) {
	start := e.now()

	topK := req.TopK
	if topK <= 0 {
		topK = e.retrieval.TopK
	}
	retrieved, err := e.retriever.Retrieve(ctx, retrieval.Query{
		Text:           req.Question,
		TopK:           topK,
		SemanticWeight: e.retrieval.SemanticWeight,
		Repository:     req.Repository,
		FileType:       req.FileType,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	if len(retrieved) == 0 {
		log.Warn().Str("query", req.Question).Msg("No relevant context retrieved")
		answer := &Answer{
			Response:  models.NoContextAnswer,
			Citations: []string{},
			Validation: models.ValidationOutcome{
				IsValid:  true,
				Errors:   []string{},
				Warnings: []string{models.NoContextWarning},
			},
		}
		answer.Metrics = e.record(req.Question, start, 0, 0, nil)
		return answer, nil
	}

	contextSet := newContextSet(retrieved)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.UserPromptTemplate, FormatContext(retrieved), req.Question)),
	}

	var (
		text   string
		tokens int
	)
	for round := 0; ; round++ {
		var tools []llms.Tool
		if round < e.llmCfg.MaxToolRounds {
			tools = []llms.Tool{llmservice.SearchCodebaseTool}
		}

		resp, err := llmservice.GenerateContent(ctx, e.model, e.llmCfg, tools, messages)
		if err != nil {
			return nil, err
		}
		choice := resp.Choices[0]
		tokens += llmservice.TotalTokens(choice)

		if len(choice.ToolCalls) == 0 || tools == nil {
			text = choice.Content
			break
		}

		log.Info().Int("round", round+1).Int("tool_calls", len(choice.ToolCalls)).Msg("LLM requested additional context")
		messages = append(messages, toolCallMessage(choice))
		for _, call := range choice.ToolCalls {
			messages = append(messages, e.runTool(ctx, req, call, contextSet))
		}
	}

	text = strings.TrimSpace(thinkTag.ReplaceAllString(text, ""))

	merged := contextSet.results()
	validation := e.validator.Validate(text, merged)
	text = guardrails.AddWarningsToResponse(text, validation.Warnings)
	citations := mentionedFiles(text, merged)

	answer := &Answer{
		Response:   text,
		Citations:  citations,
		Validation: validation,
		Context:    merged,
	}
	answer.Metrics = e.record(req.Question, start, len(merged), tokens, citations)
	return answer, nil
}

func (e *Engine) runTool(ctx context.Context, req Request, call llms.ToolCall, set *contextSet) llms.MessageContent {
	name := ""
	args := ""
	if call.FunctionCall != nil {
		name = call.FunctionCall.Name
		args = call.FunctionCall.Arguments
	}

	content := noToolResults
	switch name {
	case llmservice.SearchCodebase:
		search, err := llmservice.ParseSearchArgs(args, req.Question)
		if err != nil {
			log.Warn().Err(err).Str("tool_call_id", call.ID).Msg("Invalid tool arguments")
			content = "Error: " + err.Error()
			break
		}
		results, err := e.retriever.Retrieve(ctx, retrieval.Query{
			Text:           search.Query,
			TopK:           toolTopK,
			SemanticWeight: e.retrieval.SemanticWeight,
			Repository:     req.Repository,
			FileType:       search.FileType,
		})
		if err != nil {
			log.Warn().Err(err).Str("query", search.Query).Msg("Tool search failed")
			content = "Error: " + err.Error()
			break
		}
		log.Debug().Str("query", search.Query).Int("results", len(results)).Msg("Tool search completed")
		if len(results) > 0 {
			set.add(results)
			content = FormatContext(results)
		}
	default:
		content = fmt.Sprintf("Error: unknown tool %q", name)
	}

	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: call.ID,
			Name:       name,
			Content:    content,
		}},
	}
}

func toolCallMessage(choice *llms.ContentChoice) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: choice.Content})
	}
	for _, call := range choice.ToolCalls {
		msg.Parts = append(msg.Parts, call)
	}
	return msg
}

func (e *Engine) record(query string, start time.Time, chunks, tokens int, citations []string) *observability.QueryMetrics {
	if citations == nil {
		citations = []string{}
	}
	m := observability.QueryMetrics{
		Query:           query,
		StartTime:       start,
		EndTime:         e.now(),
		ChunksRetrieved: chunks,
		LLMModel:        e.llmCfg.Model,
		TokensUsed:      tokens,
		CostUSD:         EstimateCost(tokens),
		Citations:       citations,
	}
	if e.metrics != nil {
		e.metrics.RecordQuery(m)
	}
	log.Info().
		Int64("duration_ms", m.Duration().Milliseconds()).
		Int("chunks_retrieved", chunks).
		Int("tokens_used", tokens).
		Float64("cost_usd", m.CostUSD).
		Msg("Query completed")
	return &m
}

// EstimateCost prices a token count assuming 60% prompt and 40% completion tokens.
func EstimateCost(tokens int) float64 {
	in := int(float64(tokens) * inputShare)
	out := tokens - in
	return float64(in)/1000*inputCostPer1K + float64(out)/1000*outputCostPer1K
}

// FormatContext renders retrieved chunks as prompt context blocks.
func FormatContext(results []models.RetrievalResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		date := r.CommitDate
		if date == "" {
			date = "unknown"
		}
		blocks = append(blocks, fmt.Sprintf(models.ContextBlockTemplate, r.FilePath, date, r.Text))
	}
	return strings.Join(blocks, models.ContextSeparator)
}

// mentionedFiles lists the distinct context file paths that appear in the response.
func mentionedFiles(response string, results []models.RetrievalResult) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range results {
		if _, ok := seen[r.FilePath]; ok {
			continue
		}
		seen[r.FilePath] = struct{}{}
		if strings.Contains(response, r.FilePath) {
			out = append(out, r.FilePath)
		}
	}
	sort.Strings(out)
	return out
}

// contextSet keeps retrieval results in arrival order, one per chunk.
type contextSet struct {
	order []models.RetrievalResult
	ids   map[string]struct{}
}

func newContextSet(initial []models.RetrievalResult) *contextSet {
	s := &contextSet{ids: make(map[string]struct{}, len(initial))}
	s.add(initial)
	return s
}

func (s *contextSet) add(results []models.RetrievalResult) {
	for _, r := range results {
		if _, ok := s.ids[r.ChunkID]; ok {
			continue
		}
		s.ids[r.ChunkID] = struct{}{}
		s.order = append(s.order, r)
	}
}

func (s *contextSet) results() []models.RetrievalResult { return s.order }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
