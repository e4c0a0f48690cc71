// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader resolves the effective Settings with precedence ENV > file > defaults.
type Loader struct {
	path string
}

// NewLoader returns a loader for the optional YAML file at path.
// An empty path skips file loading entirely.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load produces the effective settings. A missing file at an explicitly
// provided path is an error; an empty path is not.
func (l *Loader) Load() (Settings, error) {
	s := Defaults()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return s, fmt.Errorf("config file %s does not exist", l.path)
		case err != nil:
			return s, fmt.Errorf("read config file %s: %w", l.path, err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("parse config file %s: %w", l.path, err)
			}
		}
	}

	applyEnv(&s)
	return s, nil
}

// applyEnv overlays environment variables on top of file/default values.
// Variable names are the upper-snake forms of the config keys.
func applyEnv(s *Settings) {
	s.LibraryDir = ParseString("LIBRARY_DIR", s.LibraryDir)
	s.DatabaseURL = ParseString("DATABASE_URL", s.DatabaseURL)
	s.HTTPBind = ParseString("HTTP_BIND", s.HTTPBind)
	s.WorkerConcurrency = ParseInt("WORKER_CONCURRENCY", s.WorkerConcurrency)
	s.StepTimeout.Fetch = ParseDuration("STEP_TIMEOUT_FETCH", s.StepTimeout.Fetch)
	s.StepTimeout.Separate = ParseDuration("STEP_TIMEOUT_SEPARATE", s.StepTimeout.Separate)
	s.StepTimeout.Metadata = ParseDuration("STEP_TIMEOUT_METADATA", s.StepTimeout.Metadata)
	s.StepTimeout.Lyrics = ParseDuration("STEP_TIMEOUT_LYRICS", s.StepTimeout.Lyrics)
	s.JobRetention = ParseDuration("JOB_RETENTION", s.JobRetention)
	s.CORSOrigins = ParseStringList("CORS_ORIGINS", s.CORSOrigins)
	s.SeparatorDevice = ParseString("SEPARATOR_DEVICE", s.SeparatorDevice)
	s.PushHeartbeat = ParseDuration("PUSH_HEARTBEAT", s.PushHeartbeat)
	s.PushIdle = ParseDuration("PUSH_IDLE", s.PushIdle)
	s.PollBackoffMin = ParseDuration("POLL_BACKOFF_MIN", s.PollBackoffMin)
	s.PollBackoffMax = ParseDuration("POLL_BACKOFF_MAX", s.PollBackoffMax)
	s.ReservationStale = ParseDuration("RESERVATION_STALE", s.ReservationStale)
	s.FetcherBin = ParseString("FETCHER_BIN", s.FetcherBin)
	s.SeparatorBin = ParseString("SEPARATOR_BIN", s.SeparatorBin)
	s.MetadataAPIURL = ParseString("METADATA_API_URL", s.MetadataAPIURL)
	s.LyricsAPIURL = ParseString("LYRICS_API_URL", s.LyricsAPIURL)
	s.LogLevel = ParseString("LOG_LEVEL", s.LogLevel)
	s.LogService = ParseString("LOG_SERVICE", s.LogService)
}
