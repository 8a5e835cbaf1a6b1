// Package chunker splits extracted file text into overlapping token windows.
package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"repo-rag/internal/models"
)

// Tokenizer converts between text and model tokens.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named BPE encoding, e.g. "cl100k_base".
func NewTiktoken(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, models.NewError(models.ErrConfiguration, "load encoding "+encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

type Chunker struct {
	tok     Tokenizer
	size    int
	overlap int
}

// New fails with a configuration error unless 0 <= overlap < size.
func New(tok Tokenizer, size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, models.NewError(models.ErrConfiguration, "new chunker", fmt.Errorf("chunk_size must be positive, got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return nil, models.NewError(models.ErrConfiguration, "new chunker",
			fmt.Errorf("chunk_overlap %d must be in [0, %d)", overlap, size))
	}
	return &Chunker{tok: tok, size: size, overlap: overlap}, nil
}

// Chunk returns text unchanged when it fits in one window. Longer text is cut into
// windows of size tokens advancing by size-overlap; the last window may be shorter
// and is the first one to reach the end of the token stream.
func (c *Chunker) Chunk(text string) []string {
	tokens := c.tok.Encode(text)
	if len(tokens) <= c.size {
		return []string{text}
	}

	stride := c.size - c.overlap
	var chunks []string
	for start := 0; ; start += stride {
		end := min(start+c.size, len(tokens))
		chunks = append(chunks, c.tok.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// CountTokens reports how many tokens text encodes to.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}
