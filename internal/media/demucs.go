// SPDX-License-Identifier: MIT

package media

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openkaraoke/studio/internal/fsutil"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/types"
)

// Demucs splits audio into vocal and accompaniment stems through the demucs
// CLI, using the two-stems mode so only the pair we need is rendered.
type Demucs struct {
	Bin       string
	Device    string // "", "cpu", "cuda", "mps"
	Model     string
	KillGrace time.Duration
	log       zerolog.Logger
}

// NewDemucs builds a separator around the given binary path. device is
// passed through to demucs unchanged when non-empty.
func NewDemucs(bin, device string) *Demucs {
	if bin == "" {
		bin = "demucs"
	}
	return &Demucs{
		Bin:       bin,
		Device:    device,
		Model:     "htdemucs",
		KillGrace: 10 * time.Second,
		log:       log.WithComponent("demucs"),
	}
}

//	 12%|██        | 14.4/120.0 [00:05<00:40, 2.63seconds/s]
var demucsProgressRe = regexp.MustCompile(`(\d{1,3})%\|`)

// Separate renders vocals and no_vocals stems and moves them to the
// requested paths atomically.
func (d *Demucs) Separate(ctx context.Context, req SeparateRequest) error {
	if _, err := os.Stat(req.InputPath); err != nil {
		return &Error{Kind: types.ErrKindSepFailed, Detail: "input audio missing", Err: err}
	}

	scratch, err := os.MkdirTemp("", "karaoke-separate-*")
	if err != nil {
		return &Error{Kind: types.ErrKindInternal, Detail: "create scratch dir", Err: err}
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	args := []string{
		"--two-stems", "vocals",
		"--mp3",
		"-n", d.Model,
		"-o", scratch,
	}
	if d.Device != "" {
		args = append(args, "-d", d.Device)
	}
	args = append(args, req.InputPath)

	cmd := exec.CommandContext(ctx, d.Bin, args...) // #nosec G204
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd, d.KillGrace)
		return nil
	}

	// Demucs writes its progress bar to stderr.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &Error{Kind: types.ErrKindInternal, Detail: "pipe stderr", Err: err}
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &Error{Kind: types.ErrKindSepUnavailable, Detail: "demucs binary not found", Err: err}
		}
		return &Error{Kind: types.ErrKindSepUnavailable, Detail: "start demucs", Err: err}
	}
	d.log.Debug().Str(log.FieldPath, req.InputPath).Str("device", d.Device).Msg("demucs started")

	var (
		ioWg        sync.WaitGroup
		stderrLines []string
	)
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Split(scanProgressLines)
		for scanner.Scan() {
			line := scanner.Text()
			if m := demucsProgressRe.FindStringSubmatch(line); m != nil {
				if pct, err := strconv.Atoi(m[1]); err == nil && req.Progress != nil {
					req.Progress(pct)
				}
				continue
			}
			stderrLines = appendCapped(stderrLines, strings.TrimSpace(line), 30)
		}
	}()

	waitErr := cmd.Wait()
	ioWg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return classifySeparateFailure(waitErr, stderrLines)
	}

	// Demucs lays out <out>/<model>/<track>/{vocals,no_vocals}.mp3.
	track := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	stemDir := filepath.Join(scratch, d.Model, track)

	vocals := filepath.Join(stemDir, "vocals.mp3")
	instrumental := filepath.Join(stemDir, "no_vocals.mp3")
	for _, p := range []string{vocals, instrumental} {
		if _, err := os.Stat(p); err != nil {
			return &Error{Kind: types.ErrKindSepFailed, Detail: "expected stem missing: " + filepath.Base(p), Err: err}
		}
	}

	if err := fsutil.MoveFileAtomic(vocals, req.VocalsPath); err != nil {
		return &Error{Kind: types.ErrKindPersistence, Detail: "move vocals into library", Err: err}
	}
	if err := fsutil.MoveFileAtomic(instrumental, req.InstrumentalPath); err != nil {
		return &Error{Kind: types.ErrKindPersistence, Detail: "move instrumental into library", Err: err}
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	return nil
}

func classifySeparateFailure(waitErr error, stderrLines []string) error {
	joined := strings.ToLower(strings.Join(stderrLines, "\n"))
	detail := lastNonEmpty(stderrLines)

	switch {
	case strings.Contains(joined, "cuda"),
		strings.Contains(joined, "out of memory"),
		strings.Contains(joined, "no module named"),
		strings.Contains(joined, "command not found"):
		return &Error{Kind: types.ErrKindSepUnavailable, Detail: detail, Err: waitErr}
	default:
		return &Error{Kind: types.ErrKindSepFailed, Detail: detail, Err: waitErr}
	}
}

// scanProgressLines splits on \n and \r so tqdm-style progress bars, which
// redraw in place, still produce scannable lines.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ Separator = (*Demucs)(nil)
