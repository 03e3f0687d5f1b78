package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryJobTerminal(t *testing.T) {
	require.False(t, (&RetryJob{Status: RetryJobStatusQueued}).Terminal())
	require.False(t, (&RetryJob{Status: RetryJobStatusRunning}).Terminal())
	require.True(t, (&RetryJob{Status: RetryJobStatusDone}).Terminal())
	require.True(t, (&RetryJob{Status: RetryJobStatusFailed}).Terminal())
}

func TestRetryJobExhausted(t *testing.T) {
	job := &RetryJob{Attempts: 2, MaxAttempts: 3}
	require.False(t, job.Exhausted())
	job.Attempts = 3
	require.True(t, job.Exhausted())
}

func TestRetryJobBackoffDoublesAndCaps(t *testing.T) {
	base := 30 * time.Second
	max := 10 * time.Minute

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 480 * time.Second},
		{6, max},
		{20, max},
	}
	for _, tc := range cases {
		job := &RetryJob{Attempts: tc.attempts}
		require.Equal(t, tc.want, job.Backoff(base, max), "attempts=%d", tc.attempts)
	}
}

func TestRetryJobBackoffZeroBase(t *testing.T) {
	job := &RetryJob{Attempts: 1}
	require.Equal(t, time.Second, job.Backoff(0, time.Minute))
}
