package core

import "context"

// EmbeddingProvider returns raw (not necessarily normalized) vectors, one per text.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// OCREngine transcribes a single page of a PDF whose text layer was too thin.
// Page numbers are 1-based.
type OCREngine interface {
	RecognizePage(ctx context.Context, pdf []byte, pageNumber int) (string, error)
}
