package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMinQueryLength = 3
	DefaultMaxQueryLength = 500

	invalidFormat = "Invalid query format"
)

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*DROP\s+TABLE`),
	regexp.MustCompile(`(?i);\s*DELETE\s+FROM`),
	regexp.MustCompile(`(?i)UNION\s+SELECT`),
	regexp.MustCompile(`--\s*$`),
}

var scriptMarkers = []string{"<script", "javascript:"}

// InputValidator screens questions before any retrieval work. It is a coarse
// filter; storage queries stay parameterized regardless.
type InputValidator struct {
	minLength int
	maxLength int
}

func NewInputValidator(minLength, maxLength int) *InputValidator {
	if minLength <= 0 {
		minLength = DefaultMinQueryLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxQueryLength
	}
	return &InputValidator{minLength: minLength, maxLength: maxLength}
}

// Validate reports whether query may be answered and, if not, why. Length is
// counted in characters.
func (v *InputValidator) Validate(query string) (bool, string) {
	n := utf8.RuneCountInString(query)
	if n < v.minLength {
		return false, fmt.Sprintf("Query too short (minimum %d characters)", v.minLength)
	}
	if n > v.maxLength {
		return false, fmt.Sprintf("Query too long (maximum %d characters)", v.maxLength)
	}

	for _, re := range sqlInjectionPatterns {
		if re.MatchString(query) {
			log.Warn().Str("query", truncate(query, 50)).Msg("Potential SQL injection detected")
			return false, invalidFormat
		}
	}

	lower := strings.ToLower(query)
	for _, m := range scriptMarkers {
		if strings.Contains(lower, m) {
			log.Warn().Str("query", truncate(query, 50)).Msg("Potential script injection detected")
			return false, invalidFormat
		}
	}
	return true, ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
