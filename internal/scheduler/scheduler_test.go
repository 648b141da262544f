package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingStage struct {
	calls atomic.Int64
}

func (c *countingStage) PollAll(context.Context) { c.calls.Add(1) }
func (c *countingStage) RunOnce(context.Context) { c.calls.Add(1) }

type countingConfig struct {
	calls atomic.Int64
	err   error
}

func (c *countingConfig) Refresh(context.Context) error {
	c.calls.Add(1)
	return c.err
}

type countingStore struct {
	calls atomic.Int64
}

func (c *countingStore) DeleteOlderThan(context.Context, time.Time) (int64, int64, error) {
	c.calls.Add(1)
	return 0, 0, nil
}

type countingDedup struct {
	calls atomic.Int64
}

func (c *countingDedup) Reset() { c.calls.Add(1) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_FiresEachStageImmediatelyThenOnItsOwnTick(t *testing.T) {
	poller := &countingStage{}
	matcher := &countingStage{}
	dispatcher := &countingStage{}
	cfg := &countingConfig{}
	store := &countingStore{}
	dedupSet := &countingDedup{}

	s := New(poller, matcher, dispatcher, cfg, store, dedupSet, testLogger())
	s.SetPollInterval(20 * time.Millisecond)
	s.SetMatchInterval(20 * time.Millisecond)
	s.SetDispatchInterval(20 * time.Millisecond)
	s.SetConfigInterval(time.Hour)
	s.SetRetentionInterval(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if poller.calls.Load() < 2 {
		t.Errorf("want poll tick fired more than once, got %d", poller.calls.Load())
	}
	if matcher.calls.Load() < 2 {
		t.Errorf("want match tick fired more than once, got %d", matcher.calls.Load())
	}
	if dispatcher.calls.Load() < 2 {
		t.Errorf("want dispatch tick fired more than once, got %d", dispatcher.calls.Load())
	}
	// initial synchronous refresh in Run, plus the config tick's own
	// immediate fire: at least 1, regardless of the hour-long interval.
	if cfg.calls.Load() < 1 {
		t.Errorf("want tenant config refreshed at least once, got %d", cfg.calls.Load())
	}
}

func TestRun_RetentionSweepResetsDedupSetOnSuccess(t *testing.T) {
	poller := &countingStage{}
	matcher := &countingStage{}
	dispatcher := &countingStage{}
	cfg := &countingConfig{}
	store := &countingStore{}
	dedupSet := &countingDedup{}

	s := New(poller, matcher, dispatcher, cfg, store, dedupSet, testLogger())
	s.SetPollInterval(time.Hour)
	s.SetMatchInterval(time.Hour)
	s.SetDispatchInterval(time.Hour)
	s.SetConfigInterval(time.Hour)
	s.SetRetentionInterval(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if store.calls.Load() != 1 {
		t.Fatalf("want retention sweep run once immediately, got %d", store.calls.Load())
	}
	if dedupSet.calls.Load() != 1 {
		t.Fatalf("want dedup set reset once after the sweep, got %d", dedupSet.calls.Load())
	}
}
