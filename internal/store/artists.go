// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"sort"
	"strings"
)

// ListArtists aggregates the library by normalized artist name. Names are
// sorted ignoring a leading "The ", and names starting with a digit or symbol
// group under "#". A non-empty search narrows to names containing it,
// accent-insensitively. Paging applies after the full sort so letter groups
// stay contiguous across pages.
func (s *Store) ListArtists(ctx context.Context, search string, offset, limit int) (*Page[*Artist], error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	// Display name of a group is the casing of its most recent song; SQLite
	// resolves the bare column from the row that carries MAX().
	rows, err := s.db.QueryContext(ctx, `
	SELECT artist, COUNT(*), MAX(date_added_ms) FROM songs
	GROUP BY artist_norm`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	needle := NormalizeArtist(search)
	var artists []*Artist
	for rows.Next() {
		var latest int64
		a := &Artist{}
		if err := rows.Scan(&a.Name, &a.SongCount, &latest); err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(NormalizeArtist(a.Name), needle) {
			continue
		}
		a.FirstLetter = artistFirstLetter(a.Name)
		artists = append(artists, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(artists, func(i, j int) bool {
		// "#" group sorts before letters.
		li, lj := artists[i].FirstLetter, artists[j].FirstLetter
		if (li == "#") != (lj == "#") {
			return li == "#"
		}
		return artistSortKey(artists[i].Name) < artistSortKey(artists[j].Name)
	})

	page := &Page[*Artist]{Items: []*Artist{}, Total: len(artists), Offset: offset, Limit: limit}
	for i := offset; i < len(artists) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, artists[i])
	}
	return page, nil
}
