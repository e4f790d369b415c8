// Package extractor turns PDF bytes into per-page text, using the embedded
// text layer where it is dense enough and OCR for the pages where it is not.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/logger"
	"github.com/markdave123-py/papertrail/internal/models"
)

const (
	DefaultOCRMinChars = 100
	DefaultOCRWorkers  = 4
)

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

type PDFExtractor struct {
	layers      []TextLayer
	ocr         core.OCREngine
	ocrMinChars int
	ocrWorkers  int
	log         *zap.Logger
}

type Option func(*PDFExtractor)

// WithTextLayers replaces the text layers, tried in order until one reads the file.
func WithTextLayers(layers ...TextLayer) Option {
	return func(e *PDFExtractor) { e.layers = layers }
}

// WithOCR sets the engine used for low-density pages. Nil disables OCR.
func WithOCR(engine core.OCREngine) Option {
	return func(e *PDFExtractor) { e.ocr = engine }
}

func WithOCRMinChars(n int) Option {
	return func(e *PDFExtractor) {
		if n > 0 {
			e.ocrMinChars = n
		}
	}
}

func WithOCRWorkers(n int) Option {
	return func(e *PDFExtractor) {
		if n > 0 {
			e.ocrWorkers = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *PDFExtractor) { e.log = logger.Component(l, "extractor") }
}

func NewPDFExtractor(opts ...Option) *PDFExtractor {
	e := &PDFExtractor{
		layers:      []TextLayer{PDFTextLayer{}, DocconvTextLayer{}},
		ocrMinChars: DefaultOCRMinChars,
		ocrWorkers:  DefaultOCRWorkers,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract reads every page. Only an unreadable file is an error; page level
// problems are reported through PageStructure.Failed.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*core.Extraction, error) {
	if len(data) == 0 {
		return nil, &core.ExtractionError{Err: errors.New("empty file")}
	}

	pages, err := e.readTextLayer(ctx, data)
	if err != nil {
		return nil, &core.ExtractionError{Err: err}
	}

	var thin []int
	for i := range pages {
		if utf8.RuneCountInString(strings.TrimSpace(pages[i].Text)) < e.ocrMinChars {
			thin = append(thin, i)
		}
	}

	if len(thin) > 0 {
		if e.ocr == nil {
			e.log.Warn("Extractor: low text density and no OCR engine configured", zap.Int("pages", len(thin)))
			for _, i := range thin {
				pages[i].Failed = true
			}
		} else if err := e.recognize(ctx, data, pages, thin); err != nil {
			return nil, err
		}
	}

	return &core.Extraction{Pages: pages, UsedOCR: len(thin) > 0}, nil
}

func (e *PDFExtractor) readTextLayer(ctx context.Context, data []byte) ([]core.PageStructure, error) {
	var errs []error
	for _, layer := range e.layers {
		pages, err := layer.ReadPages(ctx, data)
		if err == nil && len(pages) > 0 {
			return pages, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			err = errors.New("no pages")
		}
		e.log.Debug("Extractor: text layer could not read file", zap.String("layer", fmt.Sprintf("%T", layer)), zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no text layer configured")
	}
	return nil, errors.Join(errs...)
}

// recognize OCRs the given pages concurrently. Results land by index, so
// page order never depends on completion order.
func (e *PDFExtractor) recognize(ctx context.Context, data []byte, pages []core.PageStructure, idx []int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.ocrWorkers)

	for _, i := range idx {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("Extractor: OCR panicked", zap.Int("page", pages[i].PageNumber), zap.Any("panic", r))
					pages[i].Failed = true
					err = nil
				}
			}()

			text, err := e.ocr.RecognizePage(gctx, data, pages[i].PageNumber)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.Warn("Extractor: OCR failed, keeping direct text",
					zap.Int("page", pages[i].PageNumber), zap.Error(err))
				pages[i].Failed = true
				return nil
			}
			pages[i].Text = CleanText(text)
			pages[i].Method = models.MethodOCR
			pages[i].Blocks = nil
			pages[i].Failed = false
			return nil
		})
	}
	return g.Wait()
}
