package pipeline

import (
	"context"
	"log/slog"
)

// Poller is the subset of internal/poller.Poller the pipeline drives.
type Poller interface {
	PollAll(ctx context.Context)
}

// MatchEngine is the subset of internal/matchengine.Engine the
// pipeline drives.
type MatchEngine interface {
	RunOnce(ctx context.Context)
}

// Dispatcher is the subset of internal/dispatcher.Dispatcher the
// pipeline drives.
type Dispatcher interface {
	RunOnce(ctx context.Context)
}

// Pipeline runs the full poll -> match -> alert cycle as a single
// call. The production scheduler ticks each stage on its own
// independent cadence instead of calling this; Pipeline exists for
// tests and any one-shot invocation (e.g. a manual "run once now"
// operator command) that wants the whole cycle in order.
type Pipeline struct {
	poller  Poller
	matcher MatchEngine
	dispatch Dispatcher
	log     *slog.Logger
}

// New creates a Pipeline.
func New(poller Poller, matcher MatchEngine, dispatcher Dispatcher, log *slog.Logger) *Pipeline {
	return &Pipeline{poller: poller, matcher: matcher, dispatch: dispatcher, log: log}
}

// RunOnce executes poll, then match, then dispatch, in that order.
// Each stage already isolates its own per-tenant/per-subreddit
// failures; RunOnce itself never short-circuits on a stage logging
// errors internally, since every stage method returns void and
// reports through its own logger.
func (p *Pipeline) RunOnce(ctx context.Context) {
	p.log.Info("pipeline cycle starting")

	p.poller.PollAll(ctx)
	if ctx.Err() != nil {
		return
	}
	p.matcher.RunOnce(ctx)
	if ctx.Err() != nil {
		return
	}
	p.dispatch.RunOnce(ctx)

	p.log.Info("pipeline cycle finished")
}
