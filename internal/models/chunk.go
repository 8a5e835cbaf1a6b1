package models

import "time"

// Chunk is the unit of retrievable text for one file ordinal.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	Repository string    `json:"repo_name"`
	FilePath   string    `json:"file_path"`
	FileType   string    `json:"file_type"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	CommitHash string    `json:"commit_hash"`
	// CommitDate is RFC3339; empty when the date is unknown.
	CommitDate  string    `json:"commit_date,omitempty"`
	Author      string    `json:"author"`
	SourceURL   string    `json:"source_url"`
	LastIndexed time.Time `json:"last_indexed"`
}

// RetrievalResult is a Chunk plus the ranking signal that surfaced it.
type RetrievalResult struct {
	Chunk
	Similarity    float64 `json:"similarity,omitempty"`
	Rank          float64 `json:"rank,omitempty"`
	CombinedScore float64 `json:"combined_score,omitempty"`
}

// Provenance is the version-control record attached to every chunk of a file.
type Provenance struct {
	CommitHash string
	CommitDate string
	Author     string
}

// SearchFilters narrows semantic and lexical queries. Empty fields match everything.
type SearchFilters struct {
	Repository string
	FileType   string
}

// StoreStats summarises the contents of the storage engine.
type StoreStats struct {
	TotalChunks int        `json:"total_chunks"`
	TotalRepos  int        `json:"total_repos"`
	TotalFiles  int        `json:"total_files"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
}

// ValidationOutcome is produced once per generated answer.
type ValidationOutcome struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

const (
	UnknownCommitHash = "unknown"
	UnknownAuthor     = "unknown"
)

// UnknownProvenance is the sentinel used when version control cannot describe a file.
func UnknownProvenance(now time.Time) Provenance {
	return Provenance{
		CommitHash: UnknownCommitHash,
		CommitDate: now.UTC().Format(time.RFC3339),
		Author:     UnknownAuthor,
	}
}
