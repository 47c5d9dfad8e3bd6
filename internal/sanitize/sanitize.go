package sanitize

import "strings"

// DefaultMaxLen bounds sanitized error text handed to UI surfaces.
const DefaultMaxLen = 200

// ErrorText cleans an untrusted server-supplied error string before it
// reaches any UI surface, bounding it to DefaultMaxLen.
func ErrorText(s string) string {
	return Clean(s, DefaultMaxLen)
}

// Clean strips markup-significant characters (<>"'&) and control
// characters, trims whitespace, and caps the result at max bytes without
// cutting a UTF-8 sequence in half.
func Clean(s string, max int) string {
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 32 || r == 127 {
			continue
		}
		switch r {
		case '<', '>', '"', '\'', '&':
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	if max <= 0 || len(out) <= max {
		return out
	}
	cut := max
	for cut > 0 && cut < len(out) {
		if (out[cut] & 0x80) == 0 { // ASCII
			break
		}
		if (out[cut] & 0xC0) == 0xC0 { // start of a UTF-8 sequence
			break
		}
		cut--
	}
	if cut <= 0 {
		cut = max
	}
	return out[:cut]
}
