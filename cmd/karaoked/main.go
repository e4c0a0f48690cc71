// SPDX-License-Identifier: MIT

// Command karaoked runs the Open Karaoke Studio daemon: the HTTP API, the
// websocket push hub and the job worker pool, all against one SQLite library.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openkaraoke/studio/internal/api"
	"github.com/openkaraoke/studio/internal/bus"
	"github.com/openkaraoke/studio/internal/config"
	"github.com/openkaraoke/studio/internal/coordinator"
	"github.com/openkaraoke/studio/internal/dispatch"
	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/media"
	"github.com/openkaraoke/studio/internal/pipeline"
	"github.com/openkaraoke/studio/internal/providers/itunes"
	"github.com/openkaraoke/studio/internal/providers/lyrics"
	"github.com/openkaraoke/studio/internal/push"
	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		logger := log.WithComponent("daemon")
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(configPath string) error {
	cfg, err := config.NewLoader(configPath).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureLibraryDir(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	b := bus.New()
	defer b.Close()

	lib := fsutil.NewLibrary(cfg.LibraryDir)
	jobs := jobstore.New(st)
	coord := coordinator.New(st, jobs, b, lib)

	metadata := itunes.New(cfg.MetadataAPIURL)
	lyricsClient := lyrics.New(cfg.LyricsAPIURL)

	runner := pipeline.New(st, jobs, lib,
		media.NewYtDlp(cfg.FetcherBin),
		media.NewDemucs(cfg.SeparatorBin, cfg.SeparatorDevice),
		metadata, lyricsClient,
		pipeline.Timeouts{
			Fetch:    cfg.StepTimeout.Fetch,
			Separate: cfg.StepTimeout.Separate,
			Metadata: cfg.StepTimeout.Metadata,
			Lyrics:   cfg.StepTimeout.Lyrics,
		})

	dispatcher := dispatch.New(jobs, runner, b, dispatch.Options{
		Concurrency: cfg.WorkerConcurrency,
		BackoffMin:  cfg.PollBackoffMin,
		BackoffMax:  cfg.PollBackoffMax,
		StaleAfter:  cfg.ReservationStale,
		Retention:   cfg.JobRetention,
		ReapPlayed:  st.DeletePlayedBefore,
	})

	hub := push.NewHub(coord, jobs, b, push.Options{
		Origins:     cfg.CORSOrigins,
		Heartbeat:   cfg.PushHeartbeat,
		IdleTimeout: cfg.PushIdle,
	})

	server := api.New(api.Options{
		Store:           st,
		Jobs:            jobs,
		Coord:           coord,
		Library:         lib,
		Hub:             hub,
		Metadata:        metadata,
		Lyrics:          lyricsClient,
		CORSOrigins:     cfg.CORSOrigins,
		ProviderTimeout: cfg.StepTimeout.Metadata,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPBind,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("version", version.Version).
		Str("addr", cfg.HTTPBind).
		Str("library", cfg.LibraryDir).
		Int("workers", cfg.WorkerConcurrency).
		Msg("starting openkaraoke")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	g.Go(func() error {
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Shutdown order: stop accepting HTTP, close push sessions, then let the
	// dispatcher drain its in-flight job.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("openkaraoke stopped")
	return err
}
