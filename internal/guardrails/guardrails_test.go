package guardrails

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/models"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func retrieved(path, commitDate string) models.RetrievalResult {
	return models.RetrievalResult{Chunk: models.Chunk{FilePath: path, CommitDate: commitDate}}
}

func newValidator() *ResponseValidator {
	return NewResponseValidator(WithClock(func() time.Time { return fixedNow }))
}

func TestPatternExtractor(t *testing.T) {
	text := "See [docs/install.md] and (src/app.py), also \"lib/util.js\" and `web/index.ts`. " +
		"Again [docs/install.md]. Not a path: [README] or (see above)."
	got := NewPatternExtractor().Extract(text)
	assert.Equal(t, []string{"docs/install.md", "lib/util.js", "src/app.py", "web/index.ts"}, got)
}

func TestPatternExtractor_CustomPatterns(t *testing.T) {
	e := NewPatternExtractor(regexp.MustCompile(`<<([\w./]+)>>`))
	assert.Equal(t, []string{"a/b.go"}, e.Extract("see <<a/b.go>> and [c.md]"))
}

func TestValidate_ValidAnswer(t *testing.T) {
	ctx := []models.RetrievalResult{retrieved("docs/real.md", fixedNow.AddDate(0, 0, -10).Format(time.RFC3339))}
	out := newValidator().Validate("Run the installer as described in [docs/real.md].", ctx)

	assert.True(t, out.IsValid)
	assert.Empty(t, out.Errors)
	assert.Empty(t, out.Warnings)
}

func TestValidate_Hallucination(t *testing.T) {
	ctx := []models.RetrievalResult{retrieved("docs/real.md", "")}
	out := newValidator().Validate(`The steps are in "docs/missing.md" and [docs/real.md].`, ctx)

	assert.False(t, out.IsValid)
	assert.Equal(t, []string{"Hallucinated citation: docs/missing.md"}, out.Errors)
}

func TestValidate_NoCitations(t *testing.T) {
	out := newValidator().Validate("Deployment happens through the CI pipeline on merge.", nil)
	assert.False(t, out.IsValid)
	assert.Equal(t, []string{"Response has no citations"}, out.Errors)
}

func TestValidate_StalenessWarning(t *testing.T) {
	old := fixedNow.AddDate(0, 0, -200)
	ctx := []models.RetrievalResult{retrieved("docs/old.md", old.Format(time.RFC3339))}
	out := newValidator().Validate("Configuration lives in [docs/old.md] under settings.", ctx)

	assert.True(t, out.IsValid)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, "docs/old.md is 200 days old (last updated: 2025-11-13)", out.Warnings[0])
}

func TestValidate_StalenessBoundaryAndBadDate(t *testing.T) {
	ctx := []models.RetrievalResult{
		retrieved("a.md", fixedNow.AddDate(0, 0, -180).Format(time.RFC3339)),
		retrieved("b.md", "last tuesday"),
	}
	out := newValidator().Validate("Both [a.md] and [b.md] describe the release process.", ctx)
	assert.True(t, out.IsValid)
	assert.Empty(t, out.Warnings)
}

func TestValidate_ShortAndErrorPhrases(t *testing.T) {
	ctx := []models.RetrievalResult{retrieved("x.md", "")}

	out := newValidator().Validate(" see [x.md] ", ctx)
	assert.True(t, out.IsValid)
	assert.Equal(t, []string{"Response is very short, may be incomplete"}, out.Warnings)

	out = newValidator().Validate("I apologize, but I CANNOT FIND that in [x.md]; it is not available.", ctx)
	assert.True(t, out.IsValid)
	assert.Equal(t, []string{
		"Response contains error pattern: 'I cannot find'",
		"Response contains error pattern: 'not available'",
		"Response contains error pattern: 'I apologize'",
	}, out.Warnings)
}

func TestValidate_Options(t *testing.T) {
	v := NewResponseValidator(
		WithClock(func() time.Time { return fixedNow }),
		WithMaxStalenessDays(5),
		WithMinResponseChars(200),
	)
	ctx := []models.RetrievalResult{retrieved("x.md", fixedNow.AddDate(0, 0, -6).Format(time.RFC3339))}
	out := v.Validate("Answer from [x.md] with enough words to pass the default.", ctx)
	assert.Len(t, out.Warnings, 2)
}

func TestAddWarningsToResponse(t *testing.T) {
	assert.Equal(t, "answer", AddWarningsToResponse("answer", nil))

	got := AddWarningsToResponse("answer", []string{"one", "two"})
	assert.Equal(t, "answer\n\n⚠️ **Notes:**\n- one\n- two\n", got)
}

func TestInputValidator_LengthBoundaries(t *testing.T) {
	v := NewInputValidator(3, 500)
	tests := []struct {
		length int
		ok     bool
		reason string
	}{
		{2, false, "Query too short (minimum 3 characters)"},
		{3, true, ""},
		{500, true, ""},
		{501, false, "Query too long (maximum 500 characters)"},
	}
	for _, tt := range tests {
		ok, reason := v.Validate(strings.Repeat("a", tt.length))
		assert.Equal(t, tt.ok, ok, tt.length)
		assert.Equal(t, tt.reason, reason, tt.length)
	}
}

func TestInputValidator_CountsCharacters(t *testing.T) {
	ok, _ := NewInputValidator(3, 500).Validate("héé")
	assert.True(t, ok)
}

func TestInputValidator_Injection(t *testing.T) {
	v := NewInputValidator(0, 0)
	for _, q := range []string{
		"docs; drop table documents",
		"x ;  DELETE  FROM documents",
		"1 union select password",
		"what is this --",
		"show <SCRIPT>alert(1)</script>",
		"open JavaScript:void(0)",
	} {
		ok, reason := v.Validate(q)
		assert.False(t, ok, q)
		assert.Equal(t, "Invalid query format", reason, q)
	}

	ok, reason := v.Validate("How do I drop a table in the migration guide?")
	assert.True(t, ok)
	assert.Empty(t, reason)
}
