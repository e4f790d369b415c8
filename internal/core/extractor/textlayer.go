package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

// TextLayer reads the embedded text of every page. An error means the file
// as a whole could not be read; single bad pages come back with Failed set.
type TextLayer interface {
	ReadPages(ctx context.Context, data []byte) ([]core.PageStructure, error)
}

// PDFTextLayer reads positioned text rows with github.com/ledongthuc/pdf and
// groups them into paragraph blocks.
type PDFTextLayer struct{}

func (PDFTextLayer) ReadPages(ctx context.Context, data []byte) (pages []core.PageStructure, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := r.NumPage()
	if n == 0 {
		return nil, errors.New("pdf has no pages")
	}

	pages = make([]core.PageStructure, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, readPage(r, i))
	}
	return pages, nil
}

func readPage(r *pdf.Reader, num int) (ps core.PageStructure) {
	ps = core.PageStructure{PageNumber: num, Method: models.MethodTextLayer}
	defer func() {
		if rec := recover(); rec != nil {
			ps = core.PageStructure{PageNumber: num, Method: models.MethodTextLayer, Failed: true}
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return ps
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		ps.Failed = true
		return ps
	}

	lines := make([]textLine, 0, len(rows))
	for _, row := range rows {
		if l, ok := lineFromRow(row.Content); ok {
			lines = append(lines, l)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Y > lines[j].Y })
	ps.Blocks = buildBlocks(lines)
	ps.Text = CleanText(blocksText(ps.Blocks))
	return ps
}

// textLine is one row of glyph runs on a page, in PDF user space (y grows upward).
type textLine struct {
	Text     string
	X0, X1   float64
	Y        float64
	FontSize float64
}

func lineFromRow(content pdf.TextHorizontal) (textLine, bool) {
	if len(content) == 0 {
		return textLine{}, false
	}
	sort.SliceStable(content, func(i, j int) bool { return content[i].X < content[j].X })

	var b strings.Builder
	l := textLine{X0: math.Inf(1), X1: math.Inf(-1), Y: content[0].Y}
	prevEnd := math.Inf(-1)
	for _, t := range content {
		if t.S == "" {
			continue
		}
		// a horizontal gap wider than a fraction of the font size is a word break
		if b.Len() > 0 && t.X-prevEnd > 0.2*t.FontSize && !strings.HasSuffix(b.String(), " ") {
			b.WriteByte(' ')
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
		l.X0 = math.Min(l.X0, t.X)
		l.X1 = math.Max(l.X1, t.X+t.W)
		l.FontSize = math.Max(l.FontSize, t.FontSize)
	}
	l.Text = strings.TrimSpace(b.String())
	if l.Text == "" {
		return textLine{}, false
	}
	return l, true
}

// buildBlocks groups lines, ordered top to bottom, into paragraphs. A vertical
// gap larger than 1.5 line heights starts a new block.
func buildBlocks(lines []textLine) []models.Block {
	if len(lines) == 0 {
		return nil
	}
	var (
		blocks []models.Block
		cur    []textLine
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		box := models.BBox{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
		for i, l := range cur {
			texts[i] = l.Text
			h := lineHeight(l)
			box.X0 = math.Min(box.X0, l.X0)
			box.X1 = math.Max(box.X1, l.X1)
			box.Y0 = math.Min(box.Y0, l.Y)
			box.Y1 = math.Max(box.Y1, l.Y+h)
		}
		blocks = append(blocks, models.Block{Text: strings.Join(texts, "\n"), BBox: &box})
		cur = cur[:0]
	}

	for i, l := range lines {
		if i > 0 {
			prev := lines[i-1]
			gap := math.Abs(prev.Y - l.Y)
			if gap > 1.5*math.Max(lineHeight(prev), lineHeight(l)) {
				flush()
			}
		}
		cur = append(cur, l)
	}
	flush()
	return blocks
}

func lineHeight(l textLine) float64 {
	if l.FontSize > 0 {
		return l.FontSize
	}
	return 10
}

func blocksText(blocks []models.Block) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Text
	}
	return strings.Join(parts, "\n\n")
}

// DocconvTextLayer converts through docconv, which runs pdftotext. Pages are
// split on form feeds and carry no blocks.
type DocconvTextLayer struct{}

func (DocconvTextLayer) ReadPages(ctx context.Context, data []byte) ([]core.PageStructure, error) {
	body, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := strings.Split(body, "\f")
	// pdftotext terminates the last page with a form feed too
	if len(raw) > 1 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 || (len(raw) == 1 && strings.TrimSpace(raw[0]) == "") {
		return nil, errors.New("docconv returned no text")
	}
	pages := make([]core.PageStructure, len(raw))
	for i, t := range raw {
		pages[i] = core.PageStructure{PageNumber: i + 1, Text: CleanText(t), Method: models.MethodTextLayer}
	}
	return pages, nil
}
