package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

type DocumentService struct {
	db      core.DbClient
	storage core.ObjectClient
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient) *DocumentService {
	return &DocumentService{db: db, storage: storage}
}

// DocumentView is everything the pipeline produced for one document.
type DocumentView struct {
	Document *models.Document       `json:"document"`
	Metadata *models.Metadata       `json:"metadata,omitempty"`
	Pages    []models.PageText      `json:"pages"`
	Chunks   []models.SemanticChunk `json:"chunks"`
	Vectors  int                    `json:"vectors"`
}

func (s *DocumentService) Get(ctx context.Context, id string) (*DocumentView, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := s.db.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	pages, err := s.db.GetPageTexts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	chunks, err := s.db.GetChunksByDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	refs, err := s.db.ListVectorRefs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load vector refs: %w", err)
	}
	return &DocumentView{
		Document: doc,
		Metadata: meta,
		Pages:    nonNilSlice(pages),
		Chunks:   nonNilSlice(chunks),
		Vectors:  len(refs),
	}, nil
}

func (s *DocumentService) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	docs, err := s.db.ListDocuments(ctx, clampLimit(limit, 50, 500), max(offset, 0))
	return nonNilSlice(docs), err
}

// OpenFile returns the stored upload of a document. The caller closes the reader.
func (s *DocumentService) OpenFile(ctx context.Context, id string) (*models.Document, io.ReadCloser, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storage.GetObjectReader(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

// SetMetadata records a manual edit. It is stored as external so the
// pipeline never overwrites it.
func (s *DocumentService) SetMetadata(ctx context.Context, id string, m models.Metadata) (*models.Metadata, error) {
	if _, err := s.db.GetDocumentByID(ctx, id); err != nil {
		return nil, err
	}
	m.Title = strings.TrimSpace(m.Title)
	if m.Year != nil && (*m.Year < 1000 || *m.Year > time.Now().Year()+1) {
		return nil, fmt.Errorf("year %d out of range: %w", *m.Year, core.ErrInvalidInput)
	}
	m.DocumentID = id
	m.Provenance = models.ProvenanceExternal
	m.UpdatedAt = time.Now().UTC()
	if err := s.db.SetExternalMetadata(ctx, &m); err != nil {
		return nil, err
	}
	return s.db.GetMetadata(ctx, id)
}

func clampLimit(n, def, maxN int) int {
	switch {
	case n <= 0:
		return def
	case n > maxN:
		return maxN
	}
	return n
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
