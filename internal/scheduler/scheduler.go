// Package scheduler runs the poll, match, and dispatch cycles plus a
// daily retention sweep, each on its own independent cadence.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Poller is the subset of internal/poller.Poller the scheduler drives.
type Poller interface {
	PollAll(ctx context.Context)
}

// MatchEngine is the subset of internal/matchengine.Engine the
// scheduler drives.
type MatchEngine interface {
	RunOnce(ctx context.Context)
}

// Dispatcher is the subset of internal/dispatcher.Dispatcher the
// scheduler drives.
type Dispatcher interface {
	RunOnce(ctx context.Context)
}

// TenantConfig is the subset of internal/tenantconfig.Reader the
// scheduler refreshes on its own cadence, independent of the other
// three ticks.
type TenantConfig interface {
	Refresh(ctx context.Context) error
}

// RetentionStore is the subset of storage.Storage the daily sweep
// needs.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (deletedMatches, deletedContent int64, err error)
}

// MatchDedup is the in-memory dedup set the sweep resets after it
// deletes the rows those entries referenced.
type MatchDedup interface {
	Reset()
}

const (
	// defaultPollTick fires the outer poll loop once a minute; the real
	// per-subreddit cadence is enforced inside Poller.PollAll via each
	// subreddit's EffectiveCadence, not by this tick's own interval.
	defaultPollTick      = time.Minute
	defaultConfigTick    = 60 * time.Second
	defaultMatchTick     = 30 * time.Second
	defaultDispatchTick  = 30 * time.Second
	defaultRetentionTick = 24 * time.Hour
	defaultRetentionDays = 90
)

// Scheduler owns the four independent ticks and the tenant-config
// refresh loop that runs alongside them.
type Scheduler struct {
	poller     Poller
	matcher    MatchEngine
	dispatcher Dispatcher
	cfg        TenantConfig
	store      RetentionStore
	dedupSet   MatchDedup
	log        *slog.Logger

	pollTick      time.Duration
	configTick    time.Duration
	matchTick     time.Duration
	dispatchTick  time.Duration
	retentionTick time.Duration
	retentionDays int
}

// New creates a Scheduler with its default tick intervals.
func New(poller Poller, matcher MatchEngine, dispatcher Dispatcher, cfg TenantConfig, store RetentionStore, dedupSet MatchDedup, log *slog.Logger) *Scheduler {
	return &Scheduler{
		poller:        poller,
		matcher:       matcher,
		dispatcher:    dispatcher,
		cfg:           cfg,
		store:         store,
		dedupSet:      dedupSet,
		log:           log,
		pollTick:      defaultPollTick,
		configTick:    defaultConfigTick,
		matchTick:     defaultMatchTick,
		dispatchTick:  defaultDispatchTick,
		retentionTick: defaultRetentionTick,
		retentionDays: defaultRetentionDays,
	}
}

// SetPollInterval overrides the poll tick, mainly for tests that don't
// want to wait a full minute for the first pass.
func (s *Scheduler) SetPollInterval(d time.Duration) { s.pollTick = d }

// SetConfigInterval overrides the tenant-config refresh tick.
func (s *Scheduler) SetConfigInterval(d time.Duration) { s.configTick = d }

// SetMatchInterval overrides the match-engine tick.
func (s *Scheduler) SetMatchInterval(d time.Duration) { s.matchTick = d }

// SetDispatchInterval overrides the dispatcher tick.
func (s *Scheduler) SetDispatchInterval(d time.Duration) { s.dispatchTick = d }

// SetRetentionInterval overrides the retention-sweep tick.
func (s *Scheduler) SetRetentionInterval(d time.Duration) { s.retentionTick = d }

// SetRetentionDays overrides how far back the sweep keeps rows.
func (s *Scheduler) SetRetentionDays(days int) { s.retentionDays = days }

// Run blocks until ctx is cancelled, firing each of the four ticks on
// its own goroutine. A config refresh runs once synchronously before
// any tick starts so the first poll/match/dispatch pass sees a
// populated snapshot.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.cfg.Refresh(ctx); err != nil {
		s.log.Error("initial tenant config refresh", "error", err)
	}

	done := make(chan struct{})
	go func() { s.runTick(ctx, "config", s.configTick, s.refreshConfig); close(done) }()
	go s.runTick(ctx, "poll", s.pollTick, s.poller.PollAll)
	go s.runTick(ctx, "match", s.matchTick, s.matcher.RunOnce)
	go s.runTick(ctx, "dispatch", s.dispatchTick, s.dispatcher.RunOnce)
	go s.runTick(ctx, "retention", s.retentionTick, s.runRetentionSweep)

	<-ctx.Done()
	<-done
}

// runTick fires fn immediately, then again every interval, until ctx
// is cancelled, parameterized so every stage's tick reuses it.
func (s *Scheduler) runTick(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Debug("tick", "stage", name)
			fn(ctx)
		}
	}
}

func (s *Scheduler) refreshConfig(ctx context.Context) {
	if err := s.cfg.Refresh(ctx); err != nil {
		s.log.Error("refresh tenant config", "error", err)
	}
}

// runRetentionSweep deletes content/match rows older than the
// configured retention window, then resets the in-memory match dedup
// set since its entries may now reference deleted rows.
func (s *Scheduler) runRetentionSweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deletedMatches, deletedContent, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("retention sweep", "error", err)
		return
	}
	s.dedupSet.Reset()
	s.log.Info("retention sweep complete", "cutoff", cutoff, "deleted_content", deletedContent, "deleted_matches", deletedMatches)
}
