// SPDX-License-Identifier: MIT

// Package media wraps the external tools that produce audio artifacts: a
// fetcher that downloads source audio and a separator that splits it into
// vocal and instrumental stems. Both run as child processes in their own
// process group so cancellation kills the whole tree.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/openkaraoke/studio/internal/types"
)

// ProgressFunc receives step-local progress in the range 0..100. Callers
// scale it into the job's progress band.
type ProgressFunc func(percent int)

// FetchRequest asks the fetcher for the audio of one video.
type FetchRequest struct {
	VideoID  string
	DestPath string // final path of the downloaded audio
	Progress ProgressFunc
}

// FetchResult carries source metadata discovered during download.
type FetchResult struct {
	Title      string
	Uploader   string
	DurationMs int64
	Thumbnails []ThumbnailInfo
}

// ThumbnailInfo is one artwork candidate reported by the source site.
type ThumbnailInfo struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SeparateRequest asks the separator to split one audio file.
type SeparateRequest struct {
	InputPath        string
	VocalsPath       string
	InstrumentalPath string
	Progress         ProgressFunc
}

// Fetcher downloads source audio. Implementations must honor ctx
// cancellation and leave no partial file at DestPath on failure.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// Separator splits audio into stems, writing both output paths atomically.
type Separator interface {
	Separate(ctx context.Context, req SeparateRequest) error
}

// Error is a tool failure tagged with the job error taxonomy.
type Error struct {
	Kind   types.ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind from a tool failure, falling back to
// INTERNAL for untagged errors and CANCELLED for context errors.
func KindOf(err error) types.ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.Canceled) {
		return types.ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrKindTimeout
	}
	return types.ErrKindInternal
}
