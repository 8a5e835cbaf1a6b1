package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"repo-rag/internal/config"
	"repo-rag/internal/models"
)

const upsertBatchSize = 500

// lexicalDocument is the expression covered by the full-text GIN index. The path is
// included so exact file lookups can go through the lexical path.
const lexicalDocument = "to_tsvector('english', d.file_path || ' ' || d.text)"

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          int64           `bun:"id,pk,autoincrement"`
	ChunkID     string          `bun:"chunk_id,notnull,unique"`
	RepoName    string          `bun:"repo_name,notnull"`
	FilePath    string          `bun:"file_path,notnull"`
	FileType    string          `bun:"file_type"`
	ChunkIndex  int             `bun:"chunk_index,notnull"`
	Text        string          `bun:"text,notnull"`
	Embedding   pgvector.Vector `bun:"embedding,type:vector"`
	CommitHash  string          `bun:"commit_hash"`
	CommitDate  *time.Time      `bun:"commit_date,type:timestamptz"`
	Author      string          `bun:"author"`
	SourceURL   string          `bun:"source_url"`
	LastIndexed time.Time       `bun:"last_indexed,notnull"`

	Similarity float64 `bun:"similarity,scanonly"`
	Rank       float64 `bun:"rank,scanonly"`
}

// resultColumns omits the embedding so searches do not ship vectors back.
const resultColumns = "d.chunk_id, d.repo_name, d.file_path, d.file_type, d.chunk_index, d.text, " +
	"d.commit_hash, d.commit_date, d.author, d.source_url, d.last_indexed"

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pool through pgdriver, or through lib/pq when driver is "pq".
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, models.NewError(models.ErrConfiguration, "connect db", fmt.Errorf("database url is empty"))
	}
	if cfg.Driver == config.DriverPQ {
		sqldb, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, models.NewError(models.ErrStorage, "open postgres", err)
		}
		return sqldb, nil
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL))), nil
}

// InitDB creates the vector extension, the documents table and its indexes.
func InitDB(ctx context.Context, db *bun.DB, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			chunk_id TEXT NOT NULL UNIQUE,
			repo_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_type TEXT,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			text TEXT NOT NULL,
			embedding vector(%d),
			commit_hash TEXT,
			commit_date TIMESTAMPTZ,
			author TEXT,
			source_url TEXT,
			last_indexed TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS documents_repo_name_idx ON documents (repo_name)`,
		`CREATE INDEX IF NOT EXISTS documents_file_path_idx ON documents (file_path)`,
		`CREATE INDEX IF NOT EXISTS documents_file_type_idx ON documents (file_type)`,
		`CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS documents_fts_idx ON documents USING gin (to_tsvector('english', file_path || ' ' || text))`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify("init db", err)
		}
	}
	return nil
}

func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return classify("drop documents", err)
}

// Store is the Postgres storage gateway.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open connects, verifies the connection and ensures the schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig, dimension int) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping db", err)
	}
	if err := InitDB(ctx, db, dimension); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes chunks in one transaction keyed on chunk_id; existing rows get their
// content, vector and provenance overwritten. Any failure rolls back the whole call.
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = toDocument(c)
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < len(docs); start += upsertBatchSize {
			batch := docs[start:min(start+upsertBatchSize, len(docs))]
			_, err := tx.NewInsert().
				Model(&batch).
				ExcludeColumn("id").
				On("CONFLICT (chunk_id) DO UPDATE").
				Set("repo_name = EXCLUDED.repo_name").
				Set("file_path = EXCLUDED.file_path").
				Set("file_type = EXCLUDED.file_type").
				Set("chunk_index = EXCLUDED.chunk_index").
				Set("text = EXCLUDED.text").
				Set("embedding = EXCLUDED.embedding").
				Set("commit_hash = EXCLUDED.commit_hash").
				Set("commit_date = EXCLUDED.commit_date").
				Set("author = EXCLUDED.author").
				Set("source_url = EXCLUDED.source_url").
				Set("last_indexed = EXCLUDED.last_indexed").
				Returning("NULL").
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int("chunks", len(chunks)).Msg("Upsert rolled back")
		return 0, classify("upsert chunks", err)
	}
	return len(chunks), nil
}

// SemanticSearch returns up to limit chunks whose cosine similarity to vec is at least
// threshold, most similar first.
func (s *Store) SemanticSearch(ctx context.Context, vec []float32, limit int, filters models.SearchFilters, threshold float64) ([]models.RetrievalResult, error) {
	v := pgvector.NewVector(vec)
	var docs []Document
	q := s.db.NewSelect().
		Model(&docs).
		ColumnExpr(resultColumns).
		ColumnExpr("1 - (d.embedding <=> ?) AS similarity", v).
		Where("1 - (d.embedding <=> ?) >= ?", v, threshold).
		OrderExpr("d.embedding <=> ?", v).
		OrderExpr("d.chunk_id ASC").
		Limit(limit)
	applyFilters(q, filters)

	if err := q.Scan(ctx); err != nil {
		return nil, classify("semantic search", err)
	}
	return toResults(docs), nil
}

// LexicalSearch ranks chunks against query with Postgres full-text search.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int, filters models.SearchFilters) ([]models.RetrievalResult, error) {
	var docs []Document
	q := s.db.NewSelect().
		Model(&docs).
		ColumnExpr(resultColumns).
		ColumnExpr("ts_rank("+lexicalDocument+", plainto_tsquery('english', ?)) AS rank", query).
		Where(lexicalDocument+" @@ plainto_tsquery('english', ?)", query).
		OrderExpr("rank DESC").
		OrderExpr("d.chunk_id ASC").
		Limit(limit)
	applyFilters(q, filters)

	if err := q.Scan(ctx); err != nil {
		return nil, classify("lexical search", err)
	}
	return toResults(docs), nil
}

func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	var (
		stats    models.StoreStats
		lastSync sql.NullTime
	)
	err := s.db.NewSelect().
		Model((*Document)(nil)).
		ColumnExpr("count(*)").
		ColumnExpr("count(DISTINCT d.repo_name)").
		ColumnExpr("count(DISTINCT (d.repo_name, d.file_path))").
		ColumnExpr("max(d.last_indexed)").
		Scan(ctx, &stats.TotalChunks, &stats.TotalRepos, &stats.TotalFiles, &lastSync)
	if err != nil {
		return models.StoreStats{}, classify("stats", err)
	}
	if lastSync.Valid {
		t := lastSync.Time
		stats.LastSync = &t
	}
	return stats, nil
}

// DeleteRepo removes every chunk of a repository and reports how many were deleted.
func (s *Store) DeleteRepo(ctx context.Context, repository string) (int, error) {
	res, err := s.db.NewDelete().
		Model((*Document)(nil)).
		Where("repo_name = ?", repository).
		Exec(ctx)
	if err != nil {
		return 0, classify("delete repo", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func applyFilters(q *bun.SelectQuery, filters models.SearchFilters) {
	if filters.Repository != "" {
		q.Where("d.repo_name = ?", filters.Repository)
	}
	if filters.FileType != "" {
		q.Where("d.file_type = ?", filters.FileType)
	}
}

func toDocument(c models.Chunk) Document {
	doc := Document{
		ChunkID:     c.ChunkID,
		RepoName:    c.Repository,
		FilePath:    c.FilePath,
		FileType:    c.FileType,
		ChunkIndex:  c.ChunkIndex,
		Text:        c.Text,
		Embedding:   pgvector.NewVector(c.Embedding),
		CommitHash:  c.CommitHash,
		Author:      c.Author,
		SourceURL:   c.SourceURL,
		LastIndexed: c.LastIndexed,
	}
	if doc.LastIndexed.IsZero() {
		doc.LastIndexed = time.Now().UTC()
	}
	if c.CommitDate != "" {
		if t, err := time.Parse(time.RFC3339, c.CommitDate); err == nil {
			doc.CommitDate = &t
		} else {
			log.Warn().Str("chunk_id", c.ChunkID).Str("commit_date", c.CommitDate).Msg("Dropping unparseable commit date")
		}
	}
	return doc
}

func toResults(docs []Document) []models.RetrievalResult {
	out := make([]models.RetrievalResult, len(docs))
	for i, d := range docs {
		c := models.Chunk{
			ChunkID:     d.ChunkID,
			Repository:  d.RepoName,
			FilePath:    d.FilePath,
			FileType:    d.FileType,
			ChunkIndex:  d.ChunkIndex,
			Text:        d.Text,
			CommitHash:  d.CommitHash,
			Author:      d.Author,
			SourceURL:   d.SourceURL,
			LastIndexed: d.LastIndexed,
		}
		if d.CommitDate != nil {
			c.CommitDate = d.CommitDate.UTC().Format(time.RFC3339)
		}
		out[i] = models.RetrievalResult{Chunk: c, Similarity: d.Similarity, Rank: d.Rank}
	}
	return out
}
