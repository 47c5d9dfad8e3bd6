package snippet

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxLen is the snippet length stored on message rows.
const MaxLen = 180

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	// Invisible Unicode characters (zero-width spaces, etc.)
	invisibleRegex = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}]+`)
)

// Derive picks the best snippet source available: plain text first, then
// HTML stripped to text, then the subject line as a last resort.
func Derive(text, html, subject string) string {
	if s := fromText(text); s != "" {
		return s
	}
	if stripped, err := FromHTML(html); err == nil {
		if s := fromText(stripped); s != "" {
			return s
		}
	}
	return fromText(subject)
}

// FromHTML converts an HTML body to clean plain text
func FromHTML(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Newlines before block elements so text doesn't run together
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	return doc.Text(), nil
}

func fromText(s string) string {
	s = invisibleRegex.ReplaceAllString(s, "")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) <= MaxLen {
		return s
	}
	cut := MaxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 { // don't split a UTF-8 sequence
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
