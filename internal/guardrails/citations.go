package guardrails

import (
	"regexp"
	"sort"
)

// CitationExtractor pulls file-path citations out of generated text.
type CitationExtractor interface {
	Extract(text string) []string
}

// PatternExtractor collects the first capture group of every pattern match.
type PatternExtractor struct {
	patterns []*regexp.Regexp
}

// DefaultCitationPatterns match a path with an extension wrapped in brackets,
// parentheses, double quotes or backticks.
var DefaultCitationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[([\w\-./]+\.\w+)\]`),
	regexp.MustCompile(`\(([\w\-./]+\.\w+)\)`),
	regexp.MustCompile(`"([\w\-./]+\.\w+)"`),
	regexp.MustCompile("`([\\w\\-./]+\\.\\w+)`"),
}

func NewPatternExtractor(patterns ...*regexp.Regexp) *PatternExtractor {
	if len(patterns) == 0 {
		patterns = DefaultCitationPatterns
	}
	return &PatternExtractor{patterns: patterns}
}

// Extract returns the distinct citations in lexical order.
func (e *PatternExtractor) Extract(text string) []string {
	seen := map[string]struct{}{}
	for _, re := range e.patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 {
				seen[m[1]] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
