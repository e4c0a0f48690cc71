// SPDX-License-Identifier: MIT

package media

import (
	"bufio"
	"context"
	"encoding/json"
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

// YtDlp fetches audio through the yt-dlp binary.
type YtDlp struct {
	Bin       string
	KillGrace time.Duration
	log       zerolog.Logger
}

// NewYtDlp builds a fetcher around the given binary path.
func NewYtDlp(bin string) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{Bin: bin, KillGrace: 5 * time.Second, log: log.WithComponent("ytdlp")}
}

// [download]  42.5% of 3.52MiB at 1.21MiB/s ETA 00:02
var downloadProgressRe = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

type ytdlpInfo struct {
	Title      string          `json:"title"`
	Uploader   string          `json:"uploader"`
	Duration   float64         `json:"duration"`
	Thumbnails []ThumbnailInfo `json:"thumbnails"`
}

// Fetch downloads the video's audio as mp3 into req.DestPath. The file is
// produced in a scratch directory and moved into place only when complete,
// so a crash never leaves a partial artifact behind.
func (y *YtDlp) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if req.VideoID == "" {
		return nil, &Error{Kind: types.ErrKindFetchFormat, Detail: "empty video id"}
	}

	scratch, err := os.MkdirTemp("", "karaoke-fetch-*")
	if err != nil {
		return nil, &Error{Kind: types.ErrKindInternal, Detail: "create scratch dir", Err: err}
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	outTemplate := filepath.Join(scratch, "audio.%(ext)s")
	url := "https://www.youtube.com/watch?v=" + req.VideoID
	args := []string{
		"--no-playlist",
		"--newline",
		"--print-json",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"-o", outTemplate,
		url,
	}

	cmd := exec.CommandContext(ctx, y.Bin, args...) // #nosec G204
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd, y.KillGrace)
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Kind: types.ErrKindInternal, Detail: "pipe stdout", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &Error{Kind: types.ErrKindInternal, Detail: "pipe stderr", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: types.ErrKindFetchNetwork, Detail: "start yt-dlp", Err: err}
	}
	y.log.Debug().Str("video_id", req.VideoID).Msg("yt-dlp started")

	var (
		ioWg        sync.WaitGroup
		info        ytdlpInfo
		infoOK      bool
		stderrLines []string
	)

	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if m := downloadProgressRe.FindStringSubmatch(line); m != nil {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil && req.Progress != nil {
					req.Progress(int(pct))
				}
				continue
			}
			// The info JSON is the one line that starts with a brace.
			if strings.HasPrefix(line, "{") {
				if err := json.Unmarshal([]byte(line), &info); err == nil {
					infoOK = true
				}
			}
		}
	}()
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrLines = appendCapped(stderrLines, scanner.Text(), 30)
		}
	}()

	waitErr := cmd.Wait()
	ioWg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, classifyFetchFailure(waitErr, stderrLines)
	}

	produced := filepath.Join(scratch, "audio.mp3")
	if _, err := os.Stat(produced); err != nil {
		return nil, &Error{Kind: types.ErrKindFetchFormat, Detail: "yt-dlp produced no mp3", Err: err}
	}
	if err := fsutil.MoveFileAtomic(produced, req.DestPath); err != nil {
		return nil, &Error{Kind: types.ErrKindPersistence, Detail: "move audio into library", Err: err}
	}
	if req.Progress != nil {
		req.Progress(100)
	}

	res := &FetchResult{}
	if infoOK {
		res.Title = info.Title
		res.Uploader = info.Uploader
		res.DurationMs = int64(info.Duration * 1000)
		res.Thumbnails = info.Thumbnails
	}
	return res, nil
}

func classifyFetchFailure(waitErr error, stderrLines []string) error {
	joined := strings.ToLower(strings.Join(stderrLines, "\n"))
	detail := lastNonEmpty(stderrLines)

	switch {
	case strings.Contains(joined, "video unavailable"),
		strings.Contains(joined, "private video"),
		strings.Contains(joined, "this video has been removed"),
		strings.Contains(joined, "account associated with this video has been terminated"):
		return &Error{Kind: types.ErrKindFetchGone, Detail: detail, Err: waitErr}
	case strings.Contains(joined, "unable to download"),
		strings.Contains(joined, "connection"),
		strings.Contains(joined, "timed out"),
		strings.Contains(joined, "temporary failure"):
		return &Error{Kind: types.ErrKindFetchNetwork, Detail: detail, Err: waitErr}
	case strings.Contains(joined, "postprocess"),
		strings.Contains(joined, "ffmpeg"),
		strings.Contains(joined, "requested format"):
		return &Error{Kind: types.ErrKindFetchFormat, Detail: detail, Err: waitErr}
	default:
		return &Error{Kind: types.ErrKindFetchNetwork, Detail: detail, Err: waitErr}
	}
}

func appendCapped(lines []string, line string, limit int) []string {
	if line == "" {
		return lines
	}
	lines = append(lines, line)
	if len(lines) > limit {
		lines = lines[1:]
	}
	return lines
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return "tool failed without output"
}

var _ Fetcher = (*YtDlp)(nil)
