package helper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"repo-rag/internal/models"
)

// ChunkID derives the stable identifier of the ordinal-th chunk of a file. It hashes
// the location, never the text, so re-indexing an edited file overwrites the same rows.
func ChunkID(repository, filePath string, ordinal int) string {
	name := repository + "::" + filePath + "::" + strconv.Itoa(ordinal)
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(name)).String()
}

// FileRef locates one file inside an indexed repository.
type FileRef struct {
	Repository string
	FilePath   string
	FileType   string
	SourceURL  string
}

// BuildChunks attaches identity and provenance to the text segments of one file.
// Segments keep their order; ordinal i becomes ChunkIndex i.
func BuildChunks(ref FileRef, segments []string, prov models.Provenance, now time.Time) []models.Chunk {
	if prov.CommitHash == "" {
		prov = models.UnknownProvenance(now)
	}

	chunks := make([]models.Chunk, 0, len(segments))
	for i, text := range segments {
		chunks = append(chunks, models.Chunk{
			ChunkID:     ChunkID(ref.Repository, ref.FilePath, i),
			Repository:  ref.Repository,
			FilePath:    ref.FilePath,
			FileType:    ref.FileType,
			ChunkIndex:  i,
			Text:        text,
			CommitHash:  prov.CommitHash,
			CommitDate:  prov.CommitDate,
			Author:      prov.Author,
			SourceURL:   ref.SourceURL,
			LastIndexed: now.UTC(),
		})
	}
	return chunks
}

// SourceURL builds the GitHub blob link for a file on the given branch.
func SourceURL(repository, branch, filePath string) string {
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf("https://github.com/%s/blob/%s/%s", repository, branch, filePath)
}

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// pretty print
func PrettyPrint(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
