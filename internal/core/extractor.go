package core

import (
	"context"

	"github.com/markdave123-py/papertrail/internal/models"
)

// PageStructure is the extractor's view of one physical page.
type PageStructure struct {
	PageNumber int
	Text       string
	Blocks     []models.Block // empty for OCR output
	Method     models.ExtractionMethod
	Failed     bool
}

// Extraction is the result of reading one PDF.
type Extraction struct {
	Pages   []PageStructure
	UsedOCR bool
}

// DocumentExtractor turns PDF bytes into per-page text.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (*Extraction, error)
}

// MetadataExtractor derives bibliographic fields from full document text.
type MetadataExtractor interface {
	Extract(fullText string) (*models.Metadata, error)
}

// DocumentChunker splits extracted pages into semantic chunks.
type DocumentChunker interface {
	Chunk(documentID string, pages []PageStructure) ([]models.SemanticChunk, error)
}
