// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	open := []JobStatus{JobStatusPending, JobStatusReserved, JobStatusDownloading, JobStatusProcessing, JobStatusCancelling}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), "expected %s to be non-terminal", s)
	}
}

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusReserved, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusReserved, JobStatusDownloading, true},
		{JobStatusReserved, JobStatusPending, true}, // stale reservation reopened
		{JobStatusDownloading, JobStatusProcessing, true},
		{JobStatusDownloading, JobStatusReserved, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusDownloading, false},
		{JobStatusCancelling, JobStatusCancelled, true},
		{JobStatusCompleted, JobStatusPending, false},
		{JobStatusFailed, JobStatusCancelling, false},
		{JobStatusCancelled, JobStatusCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJobStatusJSONRoundTrip(t *testing.T) {
	for _, s := range AllJobStatuses() {
		data, err := json.Marshal(s)
		require.NoError(t, err)

		var got JobStatus
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, s, got)
	}

	var bad JobStatus
	err := json.Unmarshal([]byte(`"exploded"`), &bad)
	require.Error(t, err)
}

func TestParseJobStatus(t *testing.T) {
	got, err := ParseJobStatus("reserved")
	require.NoError(t, err)
	assert.Equal(t, JobStatusReserved, got)

	_, err = ParseJobStatus("nope")
	assert.Error(t, err)
}

func TestSongSourceValidation(t *testing.T) {
	assert.True(t, SourceUpload.IsValid())
	assert.True(t, SourceYouTube.IsValid())
	assert.False(t, SongSource("spotify").IsValid())
}

func TestQueueStatusValidation(t *testing.T) {
	assert.True(t, QueueStatusQueued.IsValid())
	assert.False(t, QueueStatus("done").IsValid())
}
