package retrieval

import (
	"math"
	"sort"

	"repo-rag/internal/models"
)

type candidate struct {
	result  models.RetrievalResult
	semRank int
	lexRank int
	score   float64
}

// Fuse merges two ranked lists with weighted Reciprocal Rank Fusion:
//
//	score = w/(k+rankSemantic) + (1-w)/(k+rankLexical)
//
// Ranks are 1-based and a list that lacks a chunk contributes nothing. When both lists
// hold a chunk the semantic record is kept. Ties fall back to semantic rank, then
// lexical rank, then chunk_id.
func Fuse(semantic, lexical []models.RetrievalResult, weight, k float64, topK int) []models.RetrievalResult {
	byID := make(map[string]*candidate, len(semantic)+len(lexical))
	order := make([]*candidate, 0, len(semantic)+len(lexical))

	for i, r := range semantic {
		if _, dup := byID[r.ChunkID]; dup {
			continue
		}
		c := &candidate{result: r, semRank: i + 1, lexRank: math.MaxInt}
		byID[r.ChunkID] = c
		order = append(order, c)
	}
	for i, r := range lexical {
		if c, ok := byID[r.ChunkID]; ok {
			if c.lexRank == math.MaxInt {
				c.lexRank = i + 1
				c.result.Rank = r.Rank
			}
			continue
		}
		c := &candidate{result: r, semRank: math.MaxInt, lexRank: i + 1}
		byID[r.ChunkID] = c
		order = append(order, c)
	}

	for _, c := range order {
		if c.semRank != math.MaxInt {
			c.score += weight / (k + float64(c.semRank))
		}
		if c.lexRank != math.MaxInt {
			c.score += (1 - weight) / (k + float64(c.lexRank))
		}
		c.result.CombinedScore = c.score
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.semRank != b.semRank {
			return a.semRank < b.semRank
		}
		if a.lexRank != b.lexRank {
			return a.lexRank < b.lexRank
		}
		return a.result.ChunkID < b.result.ChunkID
	})

	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}
	out := make([]models.RetrievalResult, len(order))
	for i, c := range order {
		out[i] = c.result
	}
	return out
}
