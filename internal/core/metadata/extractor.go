// Package metadata derives bibliographic fields from the first pages of a
// paper with plain text rules. Fields it is not confident about stay empty.
package metadata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

const (
	sampleChars   = 2000
	abstractChars = 3000
)

var (
	reTitleIndicator = regexp.MustCompile(`(?i)^title\s*:\s*(.+)$`)
	reNumbered       = regexp.MustCompile(`^\d+\.`)
	reLeadingNoise   = regexp.MustCompile(`^[\d.\-\s]+`)
	reSpaces         = regexp.MustCompile(`\s+`)

	reAuthorLine = regexp.MustCompile(`(?i)\b(?:authors?|by)\b[:\s]+([^\n]+)`)
	reAuthorSep  = regexp.MustCompile(`[,;&]|\band\b`)
	reName       = regexp.MustCompile(`^[A-Z][a-z]+\s+[A-Z][a-z]+`)

	reVenueIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)journal\s*:[:\s]*([^\n,]+)`),
		regexp.MustCompile(`(?i)published in[:\s]+([^\n,]+)`),
		regexp.MustCompile(`(?i)\bin:[:\s]*([^\n,]+)`),
	}
	reVenuePhrase    = regexp.MustCompile(`(?:Proceedings of|Journal of|Conference on)\s+[^\n,]+`)
	reTrailingYear   = regexp.MustCompile(`\s*\d{4}\s*$`)
	reTrailingPunct  = regexp.MustCompile(`[,.]$`)
	reYear           = regexp.MustCompile(`\b(19[5-9]\d|20[0-2]\d)\b`)
	reDOI            = regexp.MustCompile(`10\.\d{4,9}/[^\s]+`)
	reDOITrailing    = regexp.MustCompile(`[.,;)\]]+$`)
	reAbstractHeader = regexp.MustCompile(`(?is)(?:abstract|summary)[:\s]*\n+(.*?)(?:\n\n|\n(?:introduction|keywords|1\.|i\.))`)
)

var _ core.MetadataExtractor = (*RuleExtractor)(nil)

// RuleExtractor is a regexp based metadata extractor.
type RuleExtractor struct {
	// Now bounds the accepted publication year.
	Now func() time.Time
}

func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{Now: time.Now}
}

func (e *RuleExtractor) Extract(fullText string) (m *models.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, &core.MetadataError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	sample := prefix(fullText, sampleChars)
	m = &models.Metadata{
		Title:      extractTitle(sample),
		Authors:    extractAuthors(sample),
		Venue:      extractVenue(sample),
		DOI:        extractDOI(sample),
		Abstract:   extractAbstract(prefix(fullText, abstractChars)),
		Provenance: models.ProvenanceExtracted,
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	m.Year = extractYear(sample, now().Year())
	return m, nil
}

// prefix returns at most n runes of s.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func extractTitle(sample string) string {
	lines := strings.Split(sample, "\n")

	for i, line := range lines {
		if i >= 20 {
			break
		}
		if m := reTitleIndicator.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if t := cleanTitle(m[1]); utf8.RuneCountInString(t) > 10 {
				return t
			}
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		n := utf8.RuneCountInString(line)
		if n <= 20 || n >= 200 {
			continue
		}
		if strings.HasPrefix(line, "(") || reNumbered.MatchString(line) {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(line); !unicode.IsUpper(r) {
			continue
		}
		return cleanTitle(line)
	}
	return ""
}

func cleanTitle(t string) string {
	t = reLeadingNoise.ReplaceAllString(t, "")
	t = strings.TrimSpace(reSpaces.ReplaceAllString(t, " "))
	if len(t) >= 2 && strings.HasPrefix(t, `"`) && strings.HasSuffix(t, `"`) {
		t = t[1 : len(t)-1]
	}
	return t
}

// extractAuthors only reads an explicit author line; it never guesses names
// from arbitrary capitalized words.
func extractAuthors(sample string) []string {
	m := reAuthorLine.FindStringSubmatch(sample)
	if m == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, part := range reAuthorSep.Split(m[1], -1) {
		name := strings.TrimSpace(part)
		if !reName.MatchString(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func extractVenue(sample string) string {
	for _, re := range reVenueIndicators {
		m := re.FindStringSubmatch(sample)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(m[1])
		v = reTrailingYear.ReplaceAllString(v, "")
		v = reTrailingPunct.ReplaceAllString(v, "")
		if utf8.RuneCountInString(v) > 5 {
			return v
		}
	}
	return strings.TrimSpace(reVenuePhrase.FindString(sample))
}

// extractYear picks the latest plausible year that is not in the future.
func extractYear(sample string, currentYear int) *int {
	best := 0
	for _, s := range reYear.FindAllString(sample, -1) {
		y, err := strconv.Atoi(s)
		if err != nil || y > currentYear {
			continue
		}
		best = max(best, y)
	}
	if best == 0 {
		return nil
	}
	return &best
}

func extractDOI(sample string) string {
	doi := reDOI.FindString(sample)
	return reDOITrailing.ReplaceAllString(doi, "")
}

func extractAbstract(text string) string {
	m := reAbstractHeader.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	a := strings.TrimSpace(reSpaces.ReplaceAllString(m[1], " "))
	if utf8.RuneCountInString(a) <= 50 {
		return ""
	}
	return a
}
