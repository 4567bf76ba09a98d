// Package textutil provides text normalization helpers for script content
// imported from the parent project: markup stripping, display-name casing,
// and avatar initials.
package textutil

import (
	"html"
	"strings"
	"unicode"
)

// StripMarkup converts rich project content (HTML or markdown-rendered HTML)
// to plain text. Tags are removed, entities are decoded, and runs of
// whitespace introduced by block elements are collapsed to single spaces.
//
// The function is idempotent: applying it to already-plain text returns the
// text unchanged (modulo whitespace normalization). A literal "<" in plain
// text only survives if it does not open a well-formed tag, which matches
// how the parent app renders the same content.
func StripMarkup(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inTag := false
	for _, r := range s {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
				// Block boundaries become whitespace so "<p>a</p><p>b</p>"
				// does not produce "ab".
				b.WriteRune(' ')
			}
		case r == '<':
			inTag = true
		default:
			b.WriteRune(r)
		}
	}

	text := html.UnescapeString(b.String())
	return collapseWhitespace(text)
}

// collapseWhitespace trims the string and replaces any run of whitespace
// (including newlines left behind by stripped block tags) with a single space.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteRune(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StartCase lowercases the input and capitalizes the first letter of each
// word. Used to normalize avatar group names from the provider, which arrive
// in inconsistent casing.
func StartCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Initials returns up to two uppercase initials for a display name,
// e.g. "jane doe" -> "JD".
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		out = append(out, unicode.ToUpper([]rune(w)[0]))
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}
