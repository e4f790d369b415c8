package vectorstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/papertrail/internal/models"
)

// KeyVersion is stamped into every stored payload so a later change of the
// key layout can be migrated.
const KeyVersion = 1

// DocumentKey is the vector id of the document-level embedding.
func DocumentKey(documentID string) string { return documentID }

// PageKey is the vector id of one page embedding. Pages are 1-based.
func PageKey(documentID string, page int) string {
	return fmt.Sprintf("%s:page:%d", documentID, page)
}

// ChunkKey is the vector id of one chunk embedding. Chunk indexes are
// document-global and 0-based.
func ChunkKey(documentID string, index int) string {
	return fmt.Sprintf("%s:chunk:%d", documentID, index)
}

// Key is a parsed vector id.
type Key struct {
	DocumentID string
	Level      models.VectorLevel
	PageNumber int
	ChunkIndex int
}

// ParseKey reverses DocumentKey, PageKey and ChunkKey.
func ParseKey(key string) (Key, error) {
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return Key{DocumentID: parts[0], Level: models.LevelDocument, ChunkIndex: -1}, nil
	case len(parts) == 3 && parts[0] != "":
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return Key{}, fmt.Errorf("malformed vector key %q", key)
		}
		switch parts[1] {
		case "page":
			if n == 0 {
				return Key{}, fmt.Errorf("malformed vector key %q: pages start at 1", key)
			}
			return Key{DocumentID: parts[0], Level: models.LevelPage, PageNumber: n, ChunkIndex: -1}, nil
		case "chunk":
			return Key{DocumentID: parts[0], Level: models.LevelChunk, ChunkIndex: n}, nil
		}
	}
	return Key{}, fmt.Errorf("malformed vector key %q", key)
}

// RecordFor builds the record stored under key, deriving the level and
// position fields from the key itself.
func RecordFor(key string, vector []float32) (models.VectorRecord, error) {
	k, err := ParseKey(key)
	if err != nil {
		return models.VectorRecord{}, err
	}
	return models.VectorRecord{
		ID:         key,
		DocumentID: k.DocumentID,
		Level:      k.Level,
		PageNumber: k.PageNumber,
		ChunkIndex: k.ChunkIndex,
		Vector:     vector,
	}, nil
}

// levelsOrAll expands an empty level list to every level.
func levelsOrAll(levels []models.VectorLevel) []models.VectorLevel {
	if len(levels) == 0 {
		return []models.VectorLevel{models.LevelDocument, models.LevelPage, models.LevelChunk}
	}
	return levels
}

func levelStrings(levels []models.VectorLevel) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return out
}
