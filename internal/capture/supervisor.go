package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/govdl/govdl/internal/model"
)

// Outcome of a TryStart call. It is only meaningful when the returned error
// is nil.
type Outcome int

const (
	OutcomeStarted Outcome = iota
	OutcomeAlreadyRunning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeAlreadyRunning:
		return "already_running"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Capture is one in-flight download attempt for a channel.
type Capture struct {
	ID        uuid.UUID
	Watch     model.Watch
	TargetURL string
	Started   time.Time

	runner *Runner
}

// Info is a read-only snapshot of a running capture, served by the ops
// endpoint.
type Info struct {
	ID        uuid.UUID `json:"id"`
	Channel   string    `json:"channel"`
	TargetURL string    `json:"target_url"`
	Started   time.Time `json:"started"`
}

// Observer receives capture lifecycle events; the ops metrics implement it.
type Observer interface {
	CaptureStarted()
	CaptureFinished(success bool)
	SetActiveCaptures(n int)
}

// Supervisor exclusively owns the active capture set: the map from channel
// identity to its single in-flight capture. TryStart's check-and-insert is
// atomic under one mutex, which is what makes repeated liveness polling
// safe once a capture is already underway.
type Supervisor struct {
	mx       sync.Mutex
	active   map[string]*Capture
	wg       sync.WaitGroup
	tool     Tool
	observer Observer
}

func NewSupervisor(tool Tool) *Supervisor {
	return &Supervisor{
		active: make(map[string]*Capture),
		tool:   tool,
	}
}

// WithObserver attaches a lifecycle observer. Not safe to call after the
// first TryStart.
func (s *Supervisor) WithObserver(o Observer) *Supervisor {
	s.observer = o
	return s
}

// TryStart launches a capture for w unless one is already running.
// Exactly one of any number of concurrent calls for the same channel
// identity gets OutcomeStarted; everyone else gets OutcomeAlreadyRunning.
// A launch failure leaves the channel idle and is returned to the caller;
// the next live detection simply tries again.
func (s *Supervisor) TryStart(ctx context.Context, w model.Watch, targetURL, outDir string) (Outcome, error) {
	key := w.Key()

	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.active[key]; ok {
		return OutcomeAlreadyRunning, nil
	}

	cpt := &Capture{
		ID:        uuid.New(),
		Watch:     w,
		TargetURL: targetURL,
		Started:   time.Now().UTC(),
		runner:    NewRunner(),
	}
	cmd := s.tool.BuildCommand(w, targetURL, outDir)
	output := func(ctx context.Context, stream, line string) {
		slog.DebugContext(ctx, "capture output", "channel", key, "stream", stream, "line", line)
	}
	if err := cpt.runner.Start(ctx, cmd, output); err != nil {
		return OutcomeStarted, fmt.Errorf("launching capture for %s: %w", key, err)
	}

	s.active[key] = cpt
	s.notifyStarted(len(s.active))
	s.wg.Add(1)
	go s.watch(ctx, cpt)

	slog.InfoContext(ctx, "capture started",
		"channel", key,
		"capture_id", cpt.ID,
		"target", targetURL,
		"path", cmd.Path,
	)
	return OutcomeStarted, nil
}

// IsActive is a cheap existence check; the scheduler uses it to skip
// probing channels already being captured. TryStart stays safe to call
// unconditionally.
func (s *Supervisor) IsActive(w model.Watch) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, ok := s.active[w.Key()]
	return ok
}

func (s *Supervisor) ActiveCount() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.active)
}

// Active returns a snapshot of running captures ordered by start time.
func (s *Supervisor) Active() []Info {
	s.mx.Lock()
	infos := make([]Info, 0, len(s.active))
	for key, cpt := range s.active {
		infos = append(infos, Info{
			ID:        cpt.ID,
			Channel:   key,
			TargetURL: cpt.TargetURL,
			Started:   cpt.Started,
		})
	}
	s.mx.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Started.Before(infos[j].Started) })
	return infos
}

// Drain waits for in-flight captures to finish naturally. timeout 0 waits
// indefinitely. It returns the number of captures still running when the
// wait gave up.
func (s *Supervisor) Drain(timeout time.Duration) int {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if timeout == 0 {
		<-done
		return 0
	}
	select {
	case <-done:
		return 0
	case <-time.After(timeout):
		return s.ActiveCount()
	}
}

// watch observes a single capture to completion and removes it from the
// active set regardless of how it ended, so the channel becomes eligible
// for the next live detection.
func (s *Supervisor) watch(ctx context.Context, cpt *Capture) {
	defer s.wg.Done()
	res := <-cpt.runner.Done()
	key := cpt.Watch.Key()

	success := res.Success()

	// notify under the mutex so gauge updates from near-simultaneous
	// exits reach the observer in removal order
	s.mx.Lock()
	delete(s.active, key)
	s.notifyFinished(success, len(s.active))
	s.mx.Unlock()

	if success {
		slog.InfoContext(ctx, "capture finished",
			"channel", key,
			"capture_id", cpt.ID,
			"duration", res.Stopped.Sub(res.Started).String(),
		)
		return
	}

	var reason string
	switch {
	case res.Err != nil:
		reason = "err: " + res.Err.Error()
	case res.State == nil:
		reason = "state is nil"
	default:
		reason = "exit code " + strconv.Itoa(res.ExitCode())
	}
	slog.ErrorContext(ctx, "capture failed",
		"channel", key,
		"capture_id", cpt.ID,
		"reason", reason,
		"duration", res.Stopped.Sub(res.Started).String(),
	)
}

func (s *Supervisor) notifyStarted(active int) {
	if s.observer == nil {
		return
	}
	s.observer.CaptureStarted()
	s.observer.SetActiveCaptures(active)
}

func (s *Supervisor) notifyFinished(success bool, active int) {
	if s.observer == nil {
		return
	}
	s.observer.CaptureFinished(success)
	s.observer.SetActiveCaptures(active)
}
