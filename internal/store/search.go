// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"sort"
	"strings"
)

// SearchSongs matches q against title, artist and album. Every query token
// must match at least one field token, exactly or within edit distance two
// for tokens of four or more runes. Results are ordered by relevance, then
// date added descending, then id.
func (s *Store) SearchSongs(ctx context.Context, q string, opts ListOptions) (*Page[*Song], error) {
	tokens := tokenize(q)
	offset, limit := opts.window()
	if len(tokens) == 0 {
		return &Page[*Song]{Items: []*Song{}, Offset: offset, Limit: limit}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+songColumns+` FROM songs`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		song  *Song
		score int
	}
	var matches []scored
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		if score, ok := scoreSong(song, tokens); ok {
			matches = append(matches, scored{song, score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if !matches[i].song.DateAdded.Equal(matches[j].song.DateAdded) {
			return matches[i].song.DateAdded.After(matches[j].song.DateAdded)
		}
		return matches[i].song.ID < matches[j].song.ID
	})

	page := &Page[*Song]{Items: []*Song{}, Total: len(matches), Offset: offset, Limit: limit}
	for i := offset; i < len(matches) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, matches[i].song)
	}
	return page, nil
}

// Field weights: a title hit outranks an artist hit outranks an album hit,
// and exact token matches outrank fuzzy ones.
const (
	weightTitle  = 100
	weightArtist = 50
	weightAlbum  = 20
	exactBonus   = 10
)

func scoreSong(song *Song, queryTokens []string) (int, bool) {
	fields := []struct {
		tokens []string
		weight int
	}{
		{tokenize(song.Title), weightTitle},
		{tokenize(song.Artist), weightArtist},
		{tokenize(song.Album), weightAlbum},
	}

	total := 0
	for _, qt := range queryTokens {
		best := 0
		for _, f := range fields {
			for _, ft := range f.tokens {
				switch {
				case ft == qt || strings.HasPrefix(ft, qt):
					if v := f.weight + exactBonus; v > best {
						best = v
					}
				case fuzzyMatch(qt, ft):
					if f.weight > best {
						best = f.weight
					}
				}
			}
		}
		if best == 0 {
			return 0, false
		}
		total += best
	}
	return total, true
}

// fuzzyMatch tolerates up to two edits for query tokens of at least four
// runes; shorter tokens must match exactly or by prefix.
func fuzzyMatch(query, field string) bool {
	qr := []rune(query)
	if len(qr) < 4 {
		return false
	}
	return levenshtein(qr, []rune(field)) <= 2
}

// levenshtein computes the edit distance between two rune slices with a
// rolling single-row table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min3(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
