// SPDX-License-Identifier: MIT

// Package config loads service configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StepTimeouts carries the per-pipeline-step deadlines.
type StepTimeouts struct {
	Fetch    time.Duration `yaml:"fetch"`
	Separate time.Duration `yaml:"separate"`
	Metadata time.Duration `yaml:"metadata"`
	Lyrics   time.Duration `yaml:"lyrics"`
}

// Settings is the complete runtime configuration of the service.
type Settings struct {
	LibraryDir  string `yaml:"library_dir"`
	DatabaseURL string `yaml:"database_url"`
	HTTPBind    string `yaml:"http_bind"`

	WorkerConcurrency int           `yaml:"worker_concurrency"`
	StepTimeout       StepTimeouts  `yaml:"step_timeout"`
	JobRetention      time.Duration `yaml:"job_retention"`

	CORSOrigins     []string `yaml:"cors_origins"`
	SeparatorDevice string   `yaml:"separator_device"`

	// Push channel tuning. Not exposed in the documented option table but
	// overridable for tests and constrained deployments.
	PushHeartbeat time.Duration `yaml:"push_heartbeat"`
	PushIdle      time.Duration `yaml:"push_idle"`

	// Dispatcher poll backoff bounds.
	PollBackoffMin time.Duration `yaml:"poll_backoff_min"`
	PollBackoffMax time.Duration `yaml:"poll_backoff_max"`

	// Stale reservations older than this are reopened to pending.
	ReservationStale time.Duration `yaml:"reservation_stale"`

	// External tool and provider endpoints.
	FetcherBin     string `yaml:"fetcher_bin"`
	SeparatorBin   string `yaml:"separator_bin"`
	MetadataAPIURL string `yaml:"metadata_api_url"`
	LyricsAPIURL   string `yaml:"lyrics_api_url"`

	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Settings {
	return Settings{
		LibraryDir:        "library",
		DatabaseURL:       filepath.Join("library", "karaoke.db"),
		HTTPBind:          ":8080",
		WorkerConcurrency: 1,
		StepTimeout: StepTimeouts{
			Fetch:    10 * time.Minute,
			Separate: 30 * time.Minute,
			Metadata: 15 * time.Second,
			Lyrics:   15 * time.Second,
		},
		JobRetention:     24 * time.Hour,
		PushHeartbeat:    20 * time.Second,
		PushIdle:         60 * time.Second,
		PollBackoffMin:   100 * time.Millisecond,
		PollBackoffMax:   2 * time.Second,
		ReservationStale: 60 * time.Second,
		FetcherBin:       "yt-dlp",
		SeparatorBin:     "demucs",
		MetadataAPIURL:   "https://itunes.apple.com/search",
		LyricsAPIURL:     "https://lrclib.net/api",
		LogLevel:         "info",
		LogService:       "openkaraoke",
	}
}

// Validate performs a fail-fast sanity pass and returns every violation found.
func (s *Settings) Validate() []error {
	var errs []error
	if s.LibraryDir == "" {
		errs = append(errs, fmt.Errorf("library_dir must not be empty"))
	}
	if s.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("database_url must not be empty"))
	}
	if s.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("worker_concurrency must be >= 1, got %d", s.WorkerConcurrency))
	}
	for name, d := range map[string]time.Duration{
		"step_timeout.fetch":    s.StepTimeout.Fetch,
		"step_timeout.separate": s.StepTimeout.Separate,
		"step_timeout.metadata": s.StepTimeout.Metadata,
		"step_timeout.lyrics":   s.StepTimeout.Lyrics,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if s.JobRetention < 0 {
		errs = append(errs, fmt.Errorf("job_retention must not be negative, got %s", s.JobRetention))
	}
	if s.PollBackoffMin <= 0 || s.PollBackoffMax < s.PollBackoffMin {
		errs = append(errs, fmt.Errorf("poll backoff bounds invalid: min=%s max=%s", s.PollBackoffMin, s.PollBackoffMax))
	}
	return errs
}

// EnsureLibraryDir creates the library root if missing and verifies it is writable.
func (s *Settings) EnsureLibraryDir() error {
	if err := os.MkdirAll(s.LibraryDir, 0o750); err != nil {
		return fmt.Errorf("create library dir %s: %w", s.LibraryDir, err)
	}
	probe := filepath.Join(s.LibraryDir, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("library dir %s is not writable: %w", s.LibraryDir, err)
	}
	return os.Remove(probe)
}
