// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// StubFetcher is an in-process Fetcher for tests and for running the daemon
// without yt-dlp installed. It writes a small placeholder file.
type StubFetcher struct {
	Result *FetchResult
	Err    error

	mu    sync.Mutex
	calls []FetchRequest
}

func (f *StubFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if req.Progress != nil {
		req.Progress(50)
		req.Progress(100)
	}
	if err := writePlaceholder(req.DestPath); err != nil {
		return nil, err
	}
	if f.Result != nil {
		return f.Result, nil
	}
	return &FetchResult{Title: "stub title", Uploader: "stub uploader"}, nil
}

// Calls returns the requests seen so far.
func (f *StubFetcher) Calls() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchRequest(nil), f.calls...)
}

// StubSeparator is an in-process Separator for tests.
type StubSeparator struct {
	Err error

	mu    sync.Mutex
	calls []SeparateRequest
}

func (s *StubSeparator) Separate(ctx context.Context, req SeparateRequest) error {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Err != nil {
		return s.Err
	}
	if req.Progress != nil {
		req.Progress(50)
		req.Progress(100)
	}
	if err := writePlaceholder(req.VocalsPath); err != nil {
		return err
	}
	return writePlaceholder(req.InstrumentalPath)
}

// Calls returns the requests seen so far.
func (s *StubSeparator) Calls() []SeparateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SeparateRequest(nil), s.calls...)
}

func writePlaceholder(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("stub audio"), 0o640)
}

var (
	_ Fetcher   = (*StubFetcher)(nil)
	_ Separator = (*StubSeparator)(nil)
)
