package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/models"
)

// wordTokenizer maps each whitespace-separated word to one token.
type wordTokenizer struct {
	vocab map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{vocab: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
	var out []int
	for _, f := range strings.Fields(text) {
		id, ok := w.vocab[f]
		if !ok {
			id = len(w.words)
			w.vocab[f] = id
			w.words = append(w.words, f)
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = w.words[t]
	}
	return strings.Join(parts, " ")
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNew_RejectsBadOverlap(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 11},
		{"negative overlap", 10, -1},
		{"zero size", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newWordTokenizer(), tt.size, tt.overlap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfiguration))
		})
	}
}

func TestChunk_ShortTextUnchanged(t *testing.T) {
	c, err := New(newWordTokenizer(), 512, 50)
	require.NoError(t, err)

	text := "  keep   the\toriginal spacing\n"
	assert.Equal(t, []string{text}, c.Chunk(text))
}

func TestChunk_TwoWindowsOverlap(t *testing.T) {
	tok := newWordTokenizer()
	c, err := New(tok, 512, 50)
	require.NoError(t, err)

	chunks := c.Chunk(words(974))
	require.Len(t, chunks, 2)

	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	assert.Len(t, first, 512)
	assert.Len(t, second, 512)
	assert.Equal(t, first[462:], second[:50])
}

func TestChunk_LastWindowShorter(t *testing.T) {
	c, err := New(newWordTokenizer(), 512, 50)
	require.NoError(t, err)

	chunks := c.Chunk(words(1000))
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[2]), 1000-2*462)
	assert.True(t, strings.HasSuffix(chunks[2], "w999"))
}

func TestChunk_CoversEveryToken(t *testing.T) {
	for _, tc := range []struct{ n, size, overlap int }{
		{37, 10, 3}, {100, 10, 0}, {101, 10, 9}, {11, 10, 5},
	} {
		t.Run(fmt.Sprintf("%d/%d/%d", tc.n, tc.size, tc.overlap), func(t *testing.T) {
			c, err := New(newWordTokenizer(), tc.size, tc.overlap)
			require.NoError(t, err)

			seen := map[string]bool{}
			for _, ch := range c.Chunk(words(tc.n)) {
				fs := strings.Fields(ch)
				assert.LessOrEqual(t, len(fs), tc.size)
				for _, f := range fs {
					seen[f] = true
				}
			}
			assert.Len(t, seen, tc.n)
		})
	}
}

func TestChunk_ZeroOverlapIsContiguous(t *testing.T) {
	c, err := New(newWordTokenizer(), 10, 0)
	require.NoError(t, err)

	text := words(35)
	chunks := c.Chunk(text)
	require.Len(t, chunks, 4)
	assert.Equal(t, text, strings.Join(chunks, " "))
}
