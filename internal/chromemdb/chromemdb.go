// Package chromemdb is an in-process storage gateway backed by chromem-go. Vectors live
// in a chromem collection; lexical ranking runs over a copy of each chunk kept alongside.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"repo-rag/internal/models"
)

const compress = false

// metadata keys stored on each chromem document
const (
	metaRepository  = "repo_name"
	metaFileType    = "file_type"
	metaFilePath    = "file_path"
	metaChunkIndex  = "chunk_index"
	metaCommitHash  = "commit_hash"
	metaCommitDate  = "commit_date"
	metaAuthor      = "author"
	metaSourceURL   = "source_url"
	metaLastIndexed = "last_indexed"
)

type Store struct {
	db            *chromem.DB
	collection    *chromem.Collection
	encryptionKey string
	filePath      string

	mu     sync.RWMutex
	chunks map[string]models.Chunk
}

// NewStore creates an in-memory collection. exportDir may be empty when Export is unused.
func NewStore(collectionName, exportDir, encryptionKey string) (*Store, error) {
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, models.NewError(models.ErrStorage, "create collection", err)
	}
	s := &Store{
		db:            db,
		collection:    c,
		encryptionKey: encryptionKey,
		chunks:        make(map[string]models.Chunk),
	}
	if exportDir != "" {
		s.filePath = filepath.Join(exportDir, collectionName+".chromem")
	}
	return s, nil
}

// Upsert replaces documents that share a chunk_id.
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return 0, models.NewError(models.ErrStorage, "upsert chunks", fmt.Errorf("chunk %s has no embedding", c.ChunkID))
		}
		docs[i] = chromem.Document{
			ID:        c.ChunkID,
			Content:   c.Text,
			Embedding: append([]float32(nil), c.Embedding...),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range chunks {
		if chunks[i].LastIndexed.IsZero() {
			chunks[i].LastIndexed = now
		}
		docs[i].Metadata = metadata(chunks[i])
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, models.NewError(models.ErrStorage, "upsert chunks", err)
	}
	for _, c := range chunks {
		c.Embedding = nil
		s.chunks[c.ChunkID] = c
	}
	return len(chunks), nil
}

func metadata(c models.Chunk) map[string]string {
	return map[string]string{
		metaRepository:  c.Repository,
		metaFileType:    c.FileType,
		metaFilePath:    c.FilePath,
		metaChunkIndex:  strconv.Itoa(c.ChunkIndex),
		metaCommitHash:  c.CommitHash,
		metaCommitDate:  c.CommitDate,
		metaAuthor:      c.Author,
		metaSourceURL:   c.SourceURL,
		metaLastIndexed: c.LastIndexed.Format(time.RFC3339Nano),
	}
}

func chunkFromDocument(id, content string, meta map[string]string) models.Chunk {
	idx, _ := strconv.Atoi(meta[metaChunkIndex])
	indexed, _ := time.Parse(time.RFC3339Nano, meta[metaLastIndexed])
	return models.Chunk{
		ChunkID:     id,
		Repository:  meta[metaRepository],
		FilePath:    meta[metaFilePath],
		FileType:    meta[metaFileType],
		ChunkIndex:  idx,
		Text:        content,
		CommitHash:  meta[metaCommitHash],
		CommitDate:  meta[metaCommitDate],
		Author:      meta[metaAuthor],
		SourceURL:   meta[metaSourceURL],
		LastIndexed: indexed,
	}
}

func (s *Store) SemanticSearch(ctx context.Context, vec []float32, limit int, filters models.SearchFilters, threshold float64) ([]models.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, s.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	where := map[string]string{}
	if filters.Repository != "" {
		where[metaRepository] = filters.Repository
	}
	if filters.FileType != "" {
		where[metaFileType] = filters.FileType
	}
	if len(where) > 0 {
		// chromem rejects nResults above the number of matching documents
		n = min(n, s.countMatching(filters))
		if n == 0 {
			return nil, nil
		}
	}

	res, err := s.collection.QueryEmbedding(ctx, vec, n, where, nil)
	if err != nil {
		return nil, models.NewError(models.ErrStorage, "semantic search", err)
	}

	out := make([]models.RetrievalResult, 0, len(res))
	for _, r := range res {
		if float64(r.Similarity) < threshold {
			continue
		}
		c, ok := s.chunks[r.ID]
		if !ok {
			continue
		}
		out = append(out, models.RetrievalResult{Chunk: c, Similarity: float64(r.Similarity)})
	}
	return out, nil
}

// LexicalSearch keeps chunks containing every non-stopword query term, like
// plainto_tsquery, and ranks them by term density.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int, filters models.SearchFilters) ([]models.RetrievalResult, error) {
	terms := filterStopwords(tokenize(query))
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RetrievalResult
	for _, c := range s.chunks {
		if !matches(c, filters) {
			continue
		}
		if rank := lexicalRank(terms, c.FilePath+" "+c.Text); rank > 0 {
			out = append(out, models.RetrievalResult{Chunk: c, Rank: rank})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repos := map[string]struct{}{}
	files := map[string]struct{}{}
	var last time.Time
	for _, c := range s.chunks {
		repos[c.Repository] = struct{}{}
		files[c.Repository+"::"+c.FilePath] = struct{}{}
		if c.LastIndexed.After(last) {
			last = c.LastIndexed
		}
	}
	stats := models.StoreStats{
		TotalChunks: len(s.chunks),
		TotalRepos:  len(repos),
		TotalFiles:  len(files),
	}
	if !last.IsZero() {
		stats.LastSync = &last
	}
	return stats, nil
}

func (s *Store) DeleteRepo(ctx context.Context, repository string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, c := range s.chunks {
		if c.Repository == repository {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, models.NewError(models.ErrStorage, "delete repo", err)
	}
	for _, id := range ids {
		delete(s.chunks, id)
	}
	return len(ids), nil
}

// Load restores a collection written by Export. A missing file leaves the store empty.
// dimension must match the stored vectors.
func (s *Store) Load(ctx context.Context, dimension int) error {
	if s.filePath == "" || s.encryptionKey == "" {
		return nil
	}
	if _, err := os.Stat(s.filePath); errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("file", s.filePath).Msg("No exported collection to load")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.collection.Name
	if err := s.db.ImportFromFile(s.filePath, s.encryptionKey, name); err != nil {
		return models.NewError(models.ErrStorage, "import collection", err)
	}
	c, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return models.NewError(models.ErrStorage, "import collection", err)
	}
	s.collection = c

	n := c.Count()
	s.chunks = make(map[string]models.Chunk, n)
	if n == 0 || dimension <= 0 {
		return nil
	}
	// a unit query vector returns every document; only metadata is used
	probe := make([]float32, dimension)
	probe[0] = 1
	res, err := c.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return models.NewError(models.ErrStorage, "import collection", err)
	}
	for _, r := range res {
		s.chunks[r.ID] = chunkFromDocument(r.ID, r.Content, r.Metadata)
	}
	log.Info().Str("collection", name).Int("chunks", len(s.chunks)).Msg("Loaded collection")
	return nil
}

// Export writes the vector collection to an encrypted file.
func (s *Store) Export(ctx context.Context) error {
	if s.encryptionKey == "" {
		return models.NewError(models.ErrConfiguration, "export collection", fmt.Errorf("encryption key is required"))
	}
	if s.filePath == "" {
		return models.NewError(models.ErrConfiguration, "export collection", fmt.Errorf("export path is required"))
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return models.NewError(models.ErrStorage, "export collection", err)
	}

	log.Debug().Str("collection", s.collection.Name).Str("file", s.filePath).Msg("Exporting collection")
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.ExportToFile(s.filePath, compress, s.encryptionKey, s.collection.Name); err != nil {
		return models.NewError(models.ErrStorage, "export collection", err)
	}
	return nil
}

func (s *Store) countMatching(filters models.SearchFilters) int {
	n := 0
	for _, c := range s.chunks {
		if matches(c, filters) {
			n++
		}
	}
	return n
}

func matches(c models.Chunk, filters models.SearchFilters) bool {
	if filters.Repository != "" && c.Repository != filters.Repository {
		return false
	}
	if filters.FileType != "" && c.FileType != filters.FileType {
		return false
	}
	return true
}
