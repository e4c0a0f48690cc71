// SPDX-License-Identifier: MIT

// Package itunes queries the iTunes Search API for song metadata used by the
// enrichment step. Lookups are rate limited and cached; enrichment is
// best-effort and callers treat any error here as non-fatal.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openkaraoke/studio/internal/log"
)

// Track is one candidate result.
type Track struct {
	TrackID        int64  `json:"trackId"`
	ArtistID       int64  `json:"artistId"`
	CollectionID   int64  `json:"collectionId"`
	TrackName      string `json:"trackName"`
	ArtistName     string `json:"artistName"`
	CollectionName string `json:"collectionName"`
	Genre          string `json:"primaryGenreName"`
	ReleaseDate    string `json:"releaseDate"`
	TrackTimeMs    int64  `json:"trackTimeMillis"`
	ArtworkURL     string `json:"artworkUrl100"`
}

type searchResponse struct {
	ResultCount int     `json:"resultCount"`
	Results     []Track `json:"results"`
}

type cacheEntry struct {
	tracks    []Track
	expiresAt time.Time
}

// Client is a rate-limited iTunes Search API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	cacheMu  sync.RWMutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

// New builds a client for the given search endpoint, e.g.
// "https://itunes.apple.com/search".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Apple documents roughly 20 calls per minute for anonymous use.
		limiter:  rate.NewLimiter(rate.Every(3*time.Second), 1),
		log:      log.WithComponent("itunes"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: time.Hour,
	}
}

// Search queries for candidate tracks matching artist and title.
func (c *Client) Search(ctx context.Context, artist, title string) ([]Track, error) {
	term := strings.TrimSpace(artist + " " + title)
	if term == "" {
		return nil, fmt.Errorf("itunes: empty search term")
	}

	key := strings.ToLower(term)
	c.cacheMu.RLock()
	if e, ok := c.cache[key]; ok && time.Now().Before(e.expiresAt) {
		c.cacheMu.RUnlock()
		return e.tracks, nil
	}
	c.cacheMu.RUnlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("itunes: rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s?term=%s&media=music&entity=song&limit=10",
		c.baseURL, url.QueryEscape(term))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("itunes: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("itunes: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("itunes: search returned status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("itunes: decode response: %w", err)
	}

	c.cacheMu.Lock()
	c.cache[key] = cacheEntry{tracks: sr.Results, expiresAt: time.Now().Add(c.cacheTTL)}
	c.cacheMu.Unlock()

	c.log.Debug().Str("term", term).Int("results", sr.ResultCount).Msg("itunes search")
	return sr.Results, nil
}

// BestMatch picks the candidate most likely to be the song. An exact
// normalized artist and title match wins outright; otherwise candidates are
// ranked by how many of the wanted tokens they cover. Returns nil when no
// candidate covers at least half of the title tokens.
func BestMatch(candidates []Track, artist, title string) *Track {
	if len(candidates) == 0 {
		return nil
	}
	wantArtist := foldKey(artist)
	wantTitle := foldKey(title)

	for i := range candidates {
		if foldKey(candidates[i].ArtistName) == wantArtist && foldKey(candidates[i].TrackName) == wantTitle {
			return &candidates[i]
		}
	}

	type scored struct {
		idx   int
		score int
	}
	titleTokens := strings.Fields(wantTitle)
	artistTokens := strings.Fields(wantArtist)

	var ranked []scored
	for i := range candidates {
		ct := foldKey(candidates[i].TrackName)
		ca := foldKey(candidates[i].ArtistName)
		score := 0
		hits := 0
		for _, tok := range titleTokens {
			if strings.Contains(ct, tok) {
				score += 2
				hits++
			}
		}
		for _, tok := range artistTokens {
			if strings.Contains(ca, tok) {
				score++
			}
		}
		if len(titleTokens) > 0 && hits*2 < len(titleTokens) {
			continue
		}
		ranked = append(ranked, scored{idx: i, score: score})
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return &candidates[ranked[0].idx]
}

func foldKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
