package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-rag/internal/models"
)

func results(ids ...string) []models.RetrievalResult {
	out := make([]models.RetrievalResult, len(ids))
	for i, id := range ids {
		out[i] = models.RetrievalResult{Chunk: models.Chunk{ChunkID: id, FilePath: id + ".md"}}
	}
	return out
}

func ids(rs []models.RetrievalResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ChunkID
	}
	return out
}

func TestFuse_ExactScores(t *testing.T) {
	fused := Fuse(results("A", "B", "C"), results("B", "C", "D"), 0.7, 60, 10)
	require.Equal(t, []string{"B", "C", "A", "D"}, ids(fused))

	want := map[string]float64{
		"A": 0.7 / 61,
		"B": 0.7/62 + 0.3/61,
		"C": 0.7/63 + 0.3/62,
		"D": 0.3 / 63,
	}
	for _, r := range fused {
		assert.InDelta(t, want[r.ChunkID], r.CombinedScore, 1e-12, r.ChunkID)
	}
	assert.Greater(t, fused[0].CombinedScore, fused[3].CombinedScore)
}

func TestFuse_TopKTruncates(t *testing.T) {
	fused := Fuse(results("A", "B", "C"), results("B", "C", "D"), 0.7, 60, 2)
	assert.Equal(t, []string{"B", "C"}, ids(fused))
}

func TestFuse_PrefersSemanticRecord(t *testing.T) {
	sem := []models.RetrievalResult{{Chunk: models.Chunk{ChunkID: "X", Text: "semantic copy"}, Similarity: 0.9}}
	lex := []models.RetrievalResult{{Chunk: models.Chunk{ChunkID: "X", Text: "lexical copy"}, Rank: 0.3}}

	fused := Fuse(sem, lex, 0.5, 60, 5)
	require.Len(t, fused, 1)
	assert.Equal(t, "semantic copy", fused[0].Text)
	assert.Equal(t, 0.9, fused[0].Similarity)
	assert.Equal(t, 0.3, fused[0].Rank)
}

func TestFuse_WeightExtremes(t *testing.T) {
	lexicalOnly := Fuse(results("A", "B"), results("C", "D"), 0, 60, 10)
	assert.Equal(t, []string{"C", "D", "A", "B"}, ids(lexicalOnly))
	assert.Zero(t, lexicalOnly[2].CombinedScore)

	semanticOnly := Fuse(results("A", "B"), results("C", "D"), 1, 60, 10)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(semanticOnly))
}

func TestFuse_TieBreaks(t *testing.T) {
	// With equal weights, semantic rank 1 and lexical rank 1 score the same.
	fused := Fuse(results("S"), results("L"), 0.5, 60, 10)
	assert.Equal(t, []string{"S", "L"}, ids(fused))

	// Lexical-only chunks with zero weight tie at zero and sort by lexical rank.
	fused = Fuse(nil, results("Z", "Y"), 1, 60, 10)
	assert.Equal(t, []string{"Z", "Y"}, ids(fused))

	// Semantic-only chunks at zero weight keep semantic order.
	fused = Fuse(results("b", "a"), nil, 0, 60, 10)
	assert.Equal(t, []string{"b", "a"}, ids(fused))
}

func TestFuse_Empty(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil, 0.7, 60, 5))
}
