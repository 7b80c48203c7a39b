package scheduler

import (
	"context"
	"testing"
	"time"

	"perpflow/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"4H":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "15x", "-5m"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestNextWakeAlignsToClose(t *testing.T) {
	s := NewAlignedScheduler(15*time.Minute, 5*time.Second)
	now := time.Date(2024, 5, 1, 10, 7, 30, 0, time.UTC)
	nextClose, wake := s.NextWake(now)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), nextClose)
	assert.Equal(t, nextClose.Add(5*time.Second), wake)
}

func TestRunStopsOnCancelAndFinishesTask(t *testing.T) {
	s := NewAlignedScheduler(time.Hour, 0)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())

	var taskCtxErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := s.Run(ctx, func(taskCtx context.Context) {
			cancel()
			taskCtxErr = taskCtx.Err()
		})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.NoError(t, taskCtxErr)
}

func TestRunRejectsBadInterval(t *testing.T) {
	err := NewAlignedScheduler(0, 0).Run(context.Background(), func(context.Context) {})
	require.Error(t, err)
}

func TestDropUnclosedKline(t *testing.T) {
	open := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: open.Add(-15 * time.Minute).UnixMilli(), Close: 1},
		{OpenTime: open.UnixMilli(), Close: 2},
	}
	got := DropUnclosedKline(klines, 15*time.Minute, open.Add(10*time.Minute))
	assert.Len(t, got, 1)

	got = DropUnclosedKline(klines, 15*time.Minute, open.Add(16*time.Minute))
	assert.Len(t, got, 2)
}
