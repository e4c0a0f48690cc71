// SPDX-License-Identifier: MIT

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// File keys inside a song directory. The Song row's paths mapping stores
// these relative keys; the mapping is the source of truth for readiness.
const (
	KeyOriginal     = "original.mp3"
	KeyVocals       = "vocals.mp3"
	KeyInstrumental = "instrumental.mp3"
	KeyCover        = "cover.jpg"
)

var safeSongID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// Library resolves song-relative file keys under a single root directory.
type Library struct {
	root string
}

// NewLibrary returns a Library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{root: dir}
}

// Root returns the library root directory.
func (l *Library) Root() string { return l.root }

// SongDir returns the directory for a song, creating it if needed.
func (l *Library) SongDir(songID string) (string, error) {
	if !safeSongID.MatchString(songID) {
		return "", fmt.Errorf("unsafe song id: %q", songID)
	}
	dir, err := ConfineRelPath(l.root, songID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create song dir: %w", err)
	}
	return dir, nil
}

// Resolve returns the absolute path for a song-relative key without creating
// anything. Keys come from Song.paths, e.g. "vocals.mp3" or "thumbnail.webp".
func (l *Library) Resolve(songID, key string) (string, error) {
	if !safeSongID.MatchString(songID) {
		return "", fmt.Errorf("unsafe song id: %q", songID)
	}
	return ConfineRelPath(l.root, filepath.Join(songID, key))
}

// RemoveSong deletes a song's directory and all of its files.
func (l *Library) RemoveSong(songID string) error {
	if !safeSongID.MatchString(songID) {
		return fmt.Errorf("unsafe song id: %q", songID)
	}
	dir, err := ConfineRelPath(l.root, songID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
