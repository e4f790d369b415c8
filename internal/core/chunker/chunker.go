// Package chunker splits extracted pages into semantic chunks. It prefers
// paragraph blocks, then sentence groups, and falls back to a character
// window split with a fixed overlap.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/core/vectorstore"
	"github.com/markdave123-py/papertrail/internal/models"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

var (
	reSentenceEnd = regexp.MustCompile(`([.!?]+)\s+`)
	separators    = []string{"\n\n", "\n", " "}
)

type Chunker struct {
	size     int
	overlap  int
	minChars int
}

type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithChunkOverlap sets how many runes consecutive fallback chunks share.
func WithChunkOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinChunkChars drops paragraph and sentence-group chunks shorter than n runes.
func WithMinChunkChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minChars = n
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, o := range opts {
		o(c)
	}
	if c.overlap*2 >= c.size {
		c.overlap = max(0, (c.size-1)/2)
	}
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits pages in order. Chunk indexes are global to the document and
// positions restart on each page.
func (c *Chunker) Chunk(documentID string, pages []core.PageStructure) (out []models.SemanticChunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &core.ChunkingError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	index := 0
	for _, p := range pages {
		position := 0
		emit := func(text string, typ models.ChunkType, bbox *models.BBox) {
			if strings.TrimSpace(text) == "" {
				return
			}
			out = append(out, models.SemanticChunk{
				ID:         vectorstore.ChunkKey(documentID, index),
				DocumentID: documentID,
				PageNumber: p.PageNumber,
				Position:   position,
				ChunkIndex: index,
				Type:       typ,
				Text:       text,
				BBox:       copyBBox(bbox),
				VectorID:   vectorstore.ChunkKey(documentID, index),
			})
			position++
			index++
		}

		if len(p.Blocks) == 0 {
			for _, t := range c.fallbackSplit(p.Text) {
				emit(t, models.ChunkFallbackSplit, nil)
			}
			continue
		}

		for _, b := range p.Blocks {
			text := strings.TrimSpace(b.Text)
			if text == "" {
				continue
			}
			if runeLen(text) <= c.size {
				if runeLen(text) >= c.minChars {
					emit(text, models.ChunkParagraph, b.BBox)
				}
				continue
			}
			for _, piece := range c.sentenceGroups(text) {
				if piece.fallback {
					emit(piece.text, models.ChunkFallbackSplit, b.BBox)
				} else if runeLen(piece.text) >= c.minChars {
					emit(piece.text, models.ChunkSentenceGroup, b.BBox)
				}
			}
		}
	}
	return out, nil
}

type piece struct {
	text     string
	fallback bool
}

// sentenceGroups packs sentences up to the chunk size. A sentence that is
// longer than the chunk size on its own is fallback-split.
func (c *Chunker) sentenceGroups(text string) []piece {
	var (
		out []piece
		cur []string
		n   int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, piece{text: strings.Join(cur, " ")})
			cur, n = nil, 0
		}
	}

	for _, s := range splitSentences(text) {
		l := runeLen(s)
		if l > c.size {
			flush()
			for _, f := range c.fallbackSplit(s) {
				out = append(out, piece{text: f, fallback: true})
			}
			continue
		}
		if len(cur) > 0 && n+1+l > c.size {
			flush()
		}
		if len(cur) > 0 {
			n++
		}
		cur = append(cur, s)
		n += l
	}
	flush()
	return out
}

// splitSentences splits after runs of . ! ? followed by whitespace and keeps
// the punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, m := range reSentenceEnd.FindAllStringSubmatchIndex(text, -1) {
		if s := strings.TrimSpace(text[start:m[3]]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// fallbackSplit cuts text into windows of at most size runes. Every window
// after the first starts overlap runes before the previous one ended, so
// neighbours share exactly overlap runes and each window is a substring of
// the trimmed text. A window ends on a paragraph break, then a line break,
// then a space in its back half, and is cut hard when none is found.
func (c *Chunker) fallbackSplit(text string) []string {
	r := []rune(strings.TrimSpace(text))
	if len(r) == 0 {
		return nil
	}

	var out []string
	for start, end := 0, 0; end < len(r); {
		if end > 0 {
			start = end - c.overlap
			if c.overlap == 0 {
				for unicode.IsSpace(r[start]) {
					start++
				}
			}
		}
		limit := start + c.size
		if limit >= len(r) {
			end = len(r)
		} else {
			end = breakAt(r, max(end+1, start+c.size/2+1, c.overlap), limit)
		}
		out = append(out, string(r[start:end]))
	}
	return out
}

// breakAt returns the last end offset in [from, to] that falls on a
// separator, trying separators in order, or to when none does.
func breakAt(r []rune, from, to int) int {
	for _, sep := range separators {
		sr := []rune(sep)
		for e := to; e >= from; e-- {
			if !hasRunePrefix(r[e:], sr) {
				continue
			}
			for e > from && unicode.IsSpace(r[e-1]) {
				e--
			}
			return e
		}
	}
	return to
}

func hasRunePrefix(r, prefix []rune) bool {
	if len(r) < len(prefix) {
		return false
	}
	for i := range prefix {
		if r[i] != prefix[i] {
			return false
		}
	}
	return true
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func copyBBox(b *models.BBox) *models.BBox {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

var _ core.DocumentChunker = (*Chunker)(nil)
