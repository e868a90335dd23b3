package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/govdl/govdl/internal/capture"
	"github.com/govdl/govdl/internal/model"
	"github.com/govdl/govdl/internal/parallel"
	"github.com/govdl/govdl/internal/probe"
	"github.com/govdl/govdl/internal/watchlist"
)

// probeFanout caps the number of concurrent liveness probes per tick.
const probeFanout = 4

// Starter is the capture side of a tick; the Supervisor implements it.
type Starter interface {
	IsActive(w model.Watch) bool
	TryStart(ctx context.Context, w model.Watch, targetURL, outDir string) (capture.Outcome, error)
}

// Observer receives scheduling events; the ops metrics implement it.
type Observer interface {
	ProbeError(platform string)
}

// Loop drives the poll cycle: on every tick it snapshots the current
// watchlist, probes each idle channel for liveness and hands live ones to
// the Starter. A tick never fails as a whole; per-channel errors are logged
// and the rest of the cycle proceeds.
type Loop struct {
	store    *watchlist.Store
	probers  map[model.Platform]probe.Prober
	starter  Starter
	observer Observer

	ticks chan struct{}
}

func NewLoop(store *watchlist.Store, probers []probe.Prober, starter Starter) *Loop {
	byPlatform := make(map[model.Platform]probe.Prober, len(probers))
	for _, p := range probers {
		byPlatform[p.Platform()] = p
	}
	return &Loop{
		store:   store,
		probers: byPlatform,
		starter: starter,
		ticks:   make(chan struct{}, 1),
	}
}

// WithObserver attaches a scheduling observer. Not safe to call after Run.
func (l *Loop) WithObserver(o Observer) *Loop {
	l.observer = o
	return l
}

// Kick requests an immediate tick. Requests arriving while a tick is
// already pending coalesce into one.
func (l *Loop) Kick() {
	select {
	case l.ticks <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The cadence comes from the poll block
// of the config present at startup; an interval change requires a restart.
func (l *Loop) Run(ctx context.Context) error {
	timer, err := newTimer(l.store.Current().Poll, l.Kick)
	if err != nil {
		return err
	}
	timer.Start()
	defer func() {
		if err := timer.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down poll timer has failed", "error", err)
		}
	}()

	l.Kick() // first cycle runs right away, not one interval in
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.ticks:
			l.tick(ctx)
		}
	}
}

// probed pairs a watch with its liveness answer so fan-out errors keep
// their channel identity.
type probed struct {
	watch    model.Watch
	liveness probe.Liveness
	err      error
}

func (l *Loop) tick(ctx context.Context) {
	cfg := l.store.Current()

	due := make([]model.Watch, 0, len(cfg.Watches))
	seen := make(map[string]struct{}, len(cfg.Watches))
	for _, w := range cfg.Watches {
		key := w.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := l.probers[w.Platform]; !ok {
			slog.DebugContext(ctx, "no prober for platform, skipping", "channel", key)
			continue
		}
		if l.starter.IsActive(w) {
			continue
		}
		due = append(due, w)
	}
	if len(due) == 0 {
		return
	}
	slog.DebugContext(ctx, "polling channels", "due", len(due), "watches", len(cfg.Watches))

	// probe failures travel inside probed so each one keeps its channel
	results := parallel.Map(ctx, probeFanout, due, func(ctx context.Context, w model.Watch) (probed, error) {
		liveness, err := l.probers[w.Platform].IsLive(ctx, w)
		return probed{watch: w, liveness: liveness, err: err}, nil
	})

	for p := range results {
		if p.err != nil {
			l.logProbeError(ctx, p.watch, p.err)
			continue
		}
		if !p.liveness.Live {
			slog.DebugContext(ctx, "channel is not live", "channel", p.watch.Key())
			continue
		}
		outcome, err := l.starter.TryStart(ctx, p.watch, p.liveness.TargetURL, cfg.Output)
		if err != nil {
			slog.ErrorContext(ctx, "starting capture has failed",
				"channel", p.watch.Key(),
				"target", p.liveness.TargetURL,
				"error", err,
			)
			continue
		}
		if outcome == capture.OutcomeAlreadyRunning {
			slog.DebugContext(ctx, "capture already running", "channel", p.watch.Key())
		}
	}
}

func (l *Loop) logProbeError(ctx context.Context, w model.Watch, err error) {
	if l.observer != nil {
		l.observer.ProbeError(string(w.Platform))
	}
	var perr *probe.Error
	if errors.As(err, &perr) {
		slog.WarnContext(ctx, "liveness probe has failed",
			"channel", w.Key(),
			"kind", perr.Kind,
			"error", err,
		)
		return
	}
	slog.WarnContext(ctx, "liveness probe has failed", "channel", w.Key(), "error", err)
}
