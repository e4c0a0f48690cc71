// SPDX-License-Identifier: MIT

package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeArtist folds an artist name into its canonical match key:
// accents stripped, lower case, whitespace collapsed.
func NormalizeArtist(name string) string {
	stripped, _, err := transform.String(accentStripper, name)
	if err != nil {
		stripped = name
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

// artistSortKey ignores a leading "The " so "The Beatles" sorts under B.
func artistSortKey(name string) string {
	key := NormalizeArtist(name)
	key = strings.TrimPrefix(key, "the ")
	return key
}

// artistFirstLetter groups purely numeric or non-letter names under "#".
func artistFirstLetter(name string) string {
	key := artistSortKey(name)
	if key == "" {
		return "#"
	}
	r := []rune(key)[0]
	if !unicode.IsLetter(r) {
		return "#"
	}
	return strings.ToUpper(string(r))
}

// tokenize splits a free-text query into lower-cased match tokens.
func tokenize(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
