// SPDX-License-Identifier: MIT

// Package lyrics fetches song lyrics from the LRCLIB API and validates
// synced LRC text before it is stored. Like metadata enrichment this is
// best-effort; a song without lyrics still completes.
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openkaraoke/studio/internal/log"
)

// Candidate is one LRCLIB search result.
type Candidate struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	DurationSec  float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// Client is a rate-limited LRCLIB client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// New builds a client for the given API root, e.g. "https://lrclib.net/api".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		log:        log.WithComponent("lrclib"),
	}
}

// Search queries LRCLIB for candidates matching artist and title. An album
// narrows the search when known.
func (c *Client) Search(ctx context.Context, artist, title, album string) ([]Candidate, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("lyrics: empty title")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("lyrics: rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("track_name", title)
	if artist != "" {
		q.Set("artist_name", artist)
	}
	if album != "" {
		q.Set("album_name", album)
	}
	endpoint := c.baseURL + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("lyrics: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lyrics: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lyrics: search returned status %d", resp.StatusCode)
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("lyrics: decode response: %w", err)
	}
	c.log.Debug().Str("title", title).Int("results", len(candidates)).Msg("lrclib search")
	return candidates, nil
}

// BestMatch picks the strongest candidate. Exact normalized artist and
// title matches are considered first; within them, a candidate whose
// duration lies within two seconds of durationHintMs wins, then synced
// lyrics beat plain ones. With no exact match the same ranking is applied
// to all candidates that at least match the title.
func BestMatch(candidates []Candidate, artist, title string, durationHintMs int64) *Candidate {
	wantArtist := foldKey(artist)
	wantTitle := foldKey(title)

	usable := func(c *Candidate) bool {
		return !c.Instrumental && (c.PlainLyrics != "" || c.SyncedLyrics != "")
	}
	rank := func(c *Candidate) int {
		score := 0
		if durationHintMs > 0 && c.DurationSec > 0 {
			diff := c.DurationSec*1000 - float64(durationHintMs)
			if diff < 0 {
				diff = -diff
			}
			if diff <= 2000 {
				score += 4
			}
		}
		if c.SyncedLyrics != "" {
			score += 2
		}
		if foldKey(c.ArtistName) == wantArtist {
			score++
		}
		return score
	}

	var best *Candidate
	bestScore := -1
	exactOnly := false
	for i := range candidates {
		c := &candidates[i]
		if !usable(c) || foldKey(c.TrackName) != wantTitle {
			continue
		}
		exact := foldKey(c.ArtistName) == wantArtist
		if exactOnly && !exact {
			continue
		}
		score := rank(c)
		if exact && !exactOnly {
			// First exact match resets the ranking to exact candidates only.
			exactOnly = true
			best, bestScore = c, score
			continue
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func foldKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
