package guardrails

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"repo-rag/internal/models"
)

const (
	DefaultMaxStalenessDays = 180
	DefaultMinResponseChars = 20
)

// ErrorPhrases suggest the model could not answer from the context.
var ErrorPhrases = []string{
	"I don't have",
	"I cannot find",
	"not available",
	"I apologize",
}

type ResponseValidator struct {
	extractor        CitationExtractor
	maxStalenessDays int
	minResponseChars int
	now              func() time.Time
}

type ResponseOption func(*ResponseValidator)

func WithExtractor(e CitationExtractor) ResponseOption {
	return func(v *ResponseValidator) { v.extractor = e }
}

func WithMaxStalenessDays(days int) ResponseOption {
	return func(v *ResponseValidator) { v.maxStalenessDays = days }
}

func WithMinResponseChars(n int) ResponseOption {
	return func(v *ResponseValidator) { v.minResponseChars = n }
}

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) ResponseOption {
	return func(v *ResponseValidator) { v.now = now }
}

func NewResponseValidator(opts ...ResponseOption) *ResponseValidator {
	v := &ResponseValidator{
		extractor:        NewPatternExtractor(),
		maxStalenessDays: DefaultMaxStalenessDays,
		minResponseChars: DefaultMinResponseChars,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the citation, hallucination, staleness, length and error-phrase
// checks in that order. Only the first two produce errors.
func (v *ResponseValidator) Validate(response string, retrieved []models.RetrievalResult) models.ValidationOutcome {
	errs := []string{}
	warnings := []string{}

	citations := v.extractor.Extract(response)
	if len(citations) == 0 {
		errs = append(errs, "Response has no citations")
	}

	byPath := make(map[string]models.Chunk, len(retrieved))
	for _, r := range retrieved {
		if _, ok := byPath[r.FilePath]; !ok {
			byPath[r.FilePath] = r.Chunk
		}
	}
	for _, c := range citations {
		if _, ok := byPath[c]; !ok {
			errs = append(errs, "Hallucinated citation: "+c)
		}
	}

	now := v.now()
	for _, c := range citations {
		chunk, ok := byPath[c]
		if !ok || chunk.CommitDate == "" {
			continue
		}
		committed, err := time.Parse(time.RFC3339, chunk.CommitDate)
		if err != nil {
			log.Warn().Err(err).Str("file_path", c).Str("commit_date", chunk.CommitDate).Msg("Failed to parse commit date")
			continue
		}
		age := int(now.Sub(committed).Hours() / 24)
		if age > v.maxStalenessDays {
			warnings = append(warnings, fmt.Sprintf("%s is %d days old (last updated: %s)", c, age, committed.Format(time.DateOnly)))
		}
	}

	if len([]rune(strings.TrimSpace(response))) < v.minResponseChars {
		warnings = append(warnings, "Response is very short, may be incomplete")
	}

	lower := strings.ToLower(response)
	for _, p := range ErrorPhrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			warnings = append(warnings, fmt.Sprintf("Response contains error pattern: '%s'", p))
		}
	}

	if len(errs) > 0 {
		log.Warn().Strs("errors", errs).Msg("Response validation failed")
	}
	if len(warnings) > 0 {
		log.Info().Strs("warnings", warnings).Msg("Response validation warnings")
	}

	return models.ValidationOutcome{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

// AddWarningsToResponse appends a notes block listing warnings. The response is
// returned unchanged when there are none.
func AddWarningsToResponse(response string, warnings []string) string {
	if len(warnings) == 0 {
		return response
	}
	var b strings.Builder
	b.WriteString(response)
	b.WriteString("\n\n⚠️ **Notes:**\n")
	for _, w := range warnings {
		b.WriteString("- ")
		b.WriteString(w)
		b.WriteString("\n")
	}
	return b.String()
}
