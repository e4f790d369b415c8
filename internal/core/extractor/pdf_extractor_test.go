package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
	"github.com/markdave123-py/papertrail/internal/testutil"
)

type fakeLayer struct {
	pages []core.PageStructure
	err   error
}

func (f fakeLayer) ReadPages(context.Context, []byte) ([]core.PageStructure, error) {
	out := make([]core.PageStructure, len(f.pages))
	copy(out, f.pages)
	return out, f.err
}

type fakeOCR struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]bool
}

func (f *fakeOCR) RecognizePage(_ context.Context, _ []byte, page int) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()
	if f.fail[page] {
		return "", errors.New("engine unavailable")
	}
	return fmt.Sprintf("  ocr text of page %d  \n\n\n second paragraph ", page), nil
}

func textPage(n int, text string) core.PageStructure {
	return core.PageStructure{PageNumber: n, Text: text, Method: models.MethodTextLayer}
}

var dense = strings.Repeat("dense text layer content ", 10)

func TestExtractScannedDocumentUsesOCRPerPage(t *testing.T) {
	ocr := &fakeOCR{}
	e := NewPDFExtractor(
		WithTextLayers(fakeLayer{pages: []core.PageStructure{textPage(1, ""), textPage(2, ""), textPage(3, "")}}),
		WithOCR(ocr),
	)

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.True(t, res.UsedOCR)
	require.Len(t, res.Pages, 3)
	for i, p := range res.Pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, models.MethodOCR, p.Method)
		assert.Equal(t, fmt.Sprintf("ocr text of page %d\n\nsecond paragraph", i+1), p.Text)
		assert.Empty(t, p.Blocks)
		assert.False(t, p.Failed)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, ocr.calls)
}

func TestExtractOnlyThinPagesGoToOCR(t *testing.T) {
	ocr := &fakeOCR{}
	e := NewPDFExtractor(
		WithTextLayers(fakeLayer{pages: []core.PageStructure{textPage(1, dense), textPage(2, "Fig. 3"), textPage(3, dense)}}),
		WithOCR(ocr),
	)

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.True(t, res.UsedOCR)
	assert.Equal(t, []int{2}, ocr.calls)
	assert.Equal(t, models.MethodTextLayer, res.Pages[0].Method)
	assert.Equal(t, models.MethodOCR, res.Pages[1].Method)
	assert.Equal(t, models.MethodTextLayer, res.Pages[2].Method)
}

func TestExtractDenseDocumentSkipsOCR(t *testing.T) {
	ocr := &fakeOCR{}
	e := NewPDFExtractor(WithTextLayers(fakeLayer{pages: []core.PageStructure{textPage(1, dense)}}), WithOCR(ocr))

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.False(t, res.UsedOCR)
	assert.Empty(t, ocr.calls)
}

func TestExtractOCRFailureKeepsDirectTextAndFlagsPage(t *testing.T) {
	ocr := &fakeOCR{fail: map[int]bool{1: true}}
	e := NewPDFExtractor(WithTextLayers(fakeLayer{pages: []core.PageStructure{textPage(1, "short"), textPage(2, "")}}), WithOCR(ocr))

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.True(t, res.Pages[0].Failed)
	assert.Equal(t, "short", res.Pages[0].Text)
	assert.Equal(t, models.MethodTextLayer, res.Pages[0].Method)
	assert.False(t, res.Pages[1].Failed)
	assert.Equal(t, models.MethodOCR, res.Pages[1].Method)
}

func TestExtractWithoutOCREngineFlagsThinPages(t *testing.T) {
	e := NewPDFExtractor(WithTextLayers(fakeLayer{pages: []core.PageStructure{textPage(1, ""), textPage(2, dense)}}))

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.True(t, res.UsedOCR)
	assert.True(t, res.Pages[0].Failed)
	assert.False(t, res.Pages[1].Failed)
}

func TestExtractFallsBackToSecondLayer(t *testing.T) {
	e := NewPDFExtractor(WithTextLayers(
		fakeLayer{err: errors.New("xref broken")},
		fakeLayer{pages: []core.PageStructure{textPage(1, dense)}},
	))

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
}

func TestExtractUnreadableFile(t *testing.T) {
	e := NewPDFExtractor(WithTextLayers(PDFTextLayer{}))

	_, err := e.Extract(context.Background(), []byte("this is not a pdf at all"))
	var xe *core.ExtractionError
	require.ErrorAs(t, err, &xe)

	_, err = e.Extract(context.Background(), nil)
	require.ErrorAs(t, err, &xe)
}

func TestPDFTextLayerReadsGeneratedDocument(t *testing.T) {
	data := testutil.MinimalPDF("Deep Residual Learning\nfor Image Recognition\n\nAbstract follows here", "")

	pages, err := PDFTextLayer{}.ReadPages(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Contains(t, pages[0].Text, "Residual")
	assert.Contains(t, pages[0].Text, "Abstract")
	assert.NotEmpty(t, pages[0].Blocks)
	assert.Empty(t, strings.TrimSpace(pages[1].Text))
}

func TestBuildBlocksSplitsOnVerticalGap(t *testing.T) {
	lines := []textLine{
		{Text: "first line", X0: 72, X1: 200, Y: 720, FontSize: 12},
		{Text: "second line", X0: 72, X1: 220, Y: 706, FontSize: 12},
		{Text: "new paragraph", X0: 80, X1: 210, Y: 662, FontSize: 12},
	}
	blocks := buildBlocks(lines)
	require.Len(t, blocks, 2)
	assert.Equal(t, "first line\nsecond line", blocks[0].Text)
	assert.Equal(t, &models.BBox{X0: 72, Y0: 706, X1: 220, Y1: 732}, blocks[0].BBox)
	assert.Equal(t, "new paragraph", blocks[1].Text)
	assert.Nil(t, buildBlocks(nil))
}

func TestCleanText(t *testing.T) {
	in := "  Title  \r\n\n\n\n  body line one \nbody line two\n\n   \n"
	assert.Equal(t, "Title\n\nbody line one\nbody line two", CleanText(in))
	assert.Equal(t, "", CleanText(" \n \n"))
}
