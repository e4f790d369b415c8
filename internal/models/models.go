package models

import (
	"time"
)

// User represents an operator allowed into the admin endpoints.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsAdmin      bool      `db:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Document is the finalized record for an ingested PDF. It is created by the
// extract_text step, never at upload time.
type Document struct {
	ID          string    `db:"id" json:"id"`
	Filename    string    `db:"filename" json:"filename"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	ContentType string    `db:"content_type" json:"content_type"`
	PageCount   int       `db:"page_count" json:"page_count"`
	UsedOCR     bool      `db:"used_ocr" json:"used_ocr"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Provenance tells where a metadata record came from.
type Provenance string

const (
	ProvenanceExtracted Provenance = "extracted"
	ProvenanceExternal  Provenance = "external"
)

// Metadata holds the bibliographic fields of a document.
type Metadata struct {
	DocumentID string     `db:"document_id" json:"document_id"`
	Title      string     `db:"title" json:"title,omitempty"`
	Authors    []string   `db:"authors" json:"authors,omitempty"`
	Venue      string     `db:"venue" json:"venue,omitempty"`
	Year       *int       `db:"year" json:"year,omitempty"`
	DOI        string     `db:"doi" json:"doi,omitempty"`
	Abstract   string     `db:"abstract" json:"abstract,omitempty"`
	Provenance Provenance `db:"provenance" json:"provenance"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExternal reports whether the record was supplied by a caller and must not
// be overwritten by the pipeline.
func (m *Metadata) IsExternal() bool {
	return m != nil && m.Provenance == ProvenanceExternal
}

// BBox is a rectangular region on a page in PDF user-space units.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Block is one paragraph region recovered from the text layer.
type Block struct {
	Text string `json:"text"`
	BBox *BBox  `json:"bbox,omitempty"`
}

// ExtractionMethod records how a page's text was obtained.
type ExtractionMethod string

const (
	MethodTextLayer ExtractionMethod = "text_layer"
	MethodOCR       ExtractionMethod = "ocr"
)

// PageText is the persisted text of one page, unique on (document, page).
type PageText struct {
	DocumentID string           `db:"document_id" json:"document_id"`
	PageNumber int              `db:"page_number" json:"page_number"`
	Text       string           `db:"text" json:"text"`
	Method     ExtractionMethod `db:"method" json:"method"`
	Failed     bool             `db:"failed" json:"failed"`
	Blocks     []Block          `db:"blocks" json:"blocks,omitempty"`
}

// ChunkType tags how a chunk boundary was decided.
type ChunkType string

const (
	ChunkParagraph     ChunkType = "paragraph"
	ChunkSentenceGroup ChunkType = "sentence-group"
	ChunkFallbackSplit ChunkType = "fallback-split"
)

// SemanticChunk is a sub-page text span, unique on (document, page, position).
type SemanticChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	PageNumber int       `db:"page_number" json:"page_number"`
	Position   int       `db:"position" json:"position"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Type       ChunkType `db:"chunk_type" json:"chunk_type"`
	Text       string    `db:"text" json:"text"`
	BBox       *BBox     `db:"bbox" json:"bbox,omitempty"`
	VectorID   string    `db:"vector_id" json:"vector_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// VectorLevel distinguishes the granularity of an embedding record.
type VectorLevel string

const (
	LevelDocument VectorLevel = "document"
	LevelPage     VectorLevel = "page"
	LevelChunk    VectorLevel = "chunk"
)

// VectorRecord is one (id, vector, metadata) triple for the vector store.
type VectorRecord struct {
	ID         string
	DocumentID string
	Level      VectorLevel
	PageNumber int // 0 when not applicable
	ChunkIndex int // -1 when not applicable
	Vector     []float32
}

// VectorFilter narrows a vector query. Empty fields do not filter.
type VectorFilter struct {
	DocumentID string
	Levels     []VectorLevel
}

// VectorHit is one ranked result of a vector query.
type VectorHit struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	Level      VectorLevel `json:"level"`
	PageNumber int         `json:"page_number,omitempty"`
	ChunkIndex int         `json:"chunk_index"`
	Score      float32     `json:"score"`
}

// VectorRef is the relational bookkeeping row for a vector written by the pipeline.
type VectorRef struct {
	VectorID   string      `db:"vector_id" json:"vector_id"`
	DocumentID string      `db:"document_id" json:"document_id"`
	Level      VectorLevel `db:"level" json:"level"`
	PageNumber int         `db:"page_number" json:"page_number"`
	ChunkIndex int         `db:"chunk_index" json:"chunk_index"`
	Dimension  int         `db:"dimension" json:"dimension"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// TextMatch is a keyword hit returned by the relational store.
type TextMatch struct {
	DocumentID string      `json:"document_id"`
	Level      VectorLevel `json:"level"`
	PageNumber int         `json:"page_number,omitempty"`
	ChunkIndex int         `json:"chunk_index"`
	Text       string      `json:"text"`
}

// StoreStats exposes write counters of the relational store.
type StoreStats struct {
	Transactions      int64 `json:"transactions"`
	ContentionRetries int64 `json:"contention_retries"`
}
