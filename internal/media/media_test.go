// SPDX-License-Identifier: MIT

package media

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkaraoke/studio/internal/types"
)

func TestClassifyFetchFailure(t *testing.T) {
	cases := []struct {
		name   string
		stderr []string
		want   types.ErrorKind
	}{
		{"removed video", []string{"ERROR: Video unavailable"}, types.ErrKindFetchGone},
		{"private video", []string{"ERROR: Private video. Sign in"}, types.ErrKindFetchGone},
		{"network", []string{"ERROR: unable to download video data"}, types.ErrKindFetchNetwork},
		{"timeout", []string{"ERROR: connection timed out"}, types.ErrKindFetchNetwork},
		{"postprocess", []string{"ERROR: Postprocessing: ffmpeg exited with code 1"}, types.ErrKindFetchFormat},
		{"unknown", []string{"something odd"}, types.ErrKindFetchNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyFetchFailure(errors.New("exit status 1"), tc.stderr)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestClassifySeparateFailure(t *testing.T) {
	err := classifySeparateFailure(errors.New("exit status 1"), []string{"RuntimeError: CUDA error"})
	assert.Equal(t, types.ErrKindSepUnavailable, KindOf(err))

	err = classifySeparateFailure(errors.New("exit status 1"), []string{"torch.load failed"})
	assert.Equal(t, types.ErrKindSepFailed, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, types.ErrKindCancelled, KindOf(context.Canceled))
	assert.Equal(t, types.ErrKindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, types.ErrKindInternal, KindOf(errors.New("plain")))

	wrapped := &Error{Kind: types.ErrKindSepFailed, Detail: "x", Err: errors.New("inner")}
	assert.Equal(t, types.ErrKindSepFailed, KindOf(wrapped))
	assert.ErrorContains(t, wrapped, "SEPARATOR_FAILED")
}

func TestDownloadProgressParsing(t *testing.T) {
	m := downloadProgressRe.FindStringSubmatch("[download]  42.5% of 3.52MiB at 1.21MiB/s")
	require.NotNil(t, m)
	assert.Equal(t, "42.5", m[1])

	assert.Nil(t, downloadProgressRe.FindStringSubmatch("[ExtractAudio] Destination: audio.mp3"))
}

func TestScanProgressLinesHandlesCarriageReturns(t *testing.T) {
	input := " 12%|██        | redraw\r 64%|██████    | redraw\nplain line\n"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanProgressLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 3)

	m := demucsProgressRe.FindStringSubmatch(lines[1])
	require.NotNil(t, m)
	assert.Equal(t, "64", m[1])
}

func TestStubFetcherWritesFile(t *testing.T) {
	dir := t.TempDir()
	stub := &StubFetcher{}

	var last int
	res, err := stub.Fetch(context.Background(), FetchRequest{
		VideoID:  "abc",
		DestPath: dir + "/original.mp3",
		Progress: func(p int) { last = p },
	})
	require.NoError(t, err)
	assert.Equal(t, "stub title", res.Title)
	assert.Equal(t, 100, last)
	assert.FileExists(t, dir+"/original.mp3")
	assert.Len(t, stub.Calls(), 1)
}

func TestStubSeparatorWritesStems(t *testing.T) {
	dir := t.TempDir()
	stub := &StubSeparator{}

	err := stub.Separate(context.Background(), SeparateRequest{
		InputPath:        dir + "/original.mp3",
		VocalsPath:       dir + "/vocals.mp3",
		InstrumentalPath: dir + "/instrumental.mp3",
	})
	require.NoError(t, err)
	assert.FileExists(t, dir+"/vocals.mp3")
	assert.FileExists(t, dir+"/instrumental.mp3")
}
