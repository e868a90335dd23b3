package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/govdl/govdl/internal/capture"
	"github.com/govdl/govdl/internal/model"
	"github.com/govdl/govdl/internal/probe"
	"github.com/govdl/govdl/internal/watchlist"
)

type stubProber struct {
	platform model.Platform

	mx    sync.Mutex
	live  map[string]probe.Liveness
	errs  map[string]error
	calls map[string]int
}

func newStubProber(platform model.Platform) *stubProber {
	return &stubProber{
		platform: platform,
		live:     make(map[string]probe.Liveness),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (s *stubProber) Platform() model.Platform { return s.platform }

func (s *stubProber) IsLive(_ context.Context, w model.Watch) (probe.Liveness, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.calls[w.Key()]++
	if err := s.errs[w.Key()]; err != nil {
		return probe.Liveness{}, err
	}
	return s.live[w.Key()], nil
}

func (s *stubProber) callCount(key string) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.calls[key]
}

type stubStarter struct {
	mx      sync.Mutex
	active  map[string]bool
	started []string
	failKey string
}

func newStubStarter() *stubStarter {
	return &stubStarter{active: make(map[string]bool)}
}

func (s *stubStarter) IsActive(w model.Watch) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.active[w.Key()]
}

func (s *stubStarter) TryStart(_ context.Context, w model.Watch, _, _ string) (capture.Outcome, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	key := w.Key()
	if key == s.failKey {
		return capture.OutcomeStarted, errors.New("spawn failed")
	}
	if s.active[key] {
		return capture.OutcomeAlreadyRunning, nil
	}
	s.active[key] = true
	s.started = append(s.started, key)
	return capture.OutcomeStarted, nil
}

func (s *stubStarter) startedKeys() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.started...)
}

type stubObserver struct {
	mx        sync.Mutex
	platforms []string
}

func (s *stubObserver) ProbeError(platform string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.platforms = append(s.platforms, platform)
}

func newTestStore(t *testing.T, watches ...model.Watch) *watchlist.Store {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Output = t.TempDir()
	cfg.Watches = watches
	store, err := watchlist.NewStore("unused.yml", &cfg)
	require.NoError(t, err)
	return store
}

var (
	ytWatch     = model.Watch{Platform: model.PlatformYouTube, ID: "@Chan1"}
	twitchWatch = model.Watch{Platform: model.PlatformTwitch, ID: "chan2"}
)

func TestLoopTick(t *testing.T) {
	t.Parallel()
	yt := newStubProber(model.PlatformYouTube)
	yt.live[ytWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://www.youtube.com/watch?v=abcdefghijk"}
	tw := newStubProber(model.PlatformTwitch)
	tw.live[twitchWatch.Key()] = probe.Liveness{Live: false}

	starter := newStubStarter()
	loop := NewLoop(newTestStore(t, ytWatch, twitchWatch), []probe.Prober{yt, tw}, starter)

	loop.tick(t.Context())
	require.Equal(t, []string{"yt:@Chan1"}, starter.startedKeys())
	require.Equal(t, 1, yt.callCount(ytWatch.Key()))
	require.Equal(t, 1, tw.callCount(twitchWatch.Key()))

	// an active channel is not probed again
	loop.tick(t.Context())
	require.Equal(t, 1, yt.callCount(ytWatch.Key()))
	require.Equal(t, 2, tw.callCount(twitchWatch.Key()))
}

func TestLoopTickErrorIsolation(t *testing.T) {
	t.Parallel()
	yt := newStubProber(model.PlatformYouTube)
	yt.errs[ytWatch.Key()] = &probe.Error{
		Kind:     probe.KindRateLimited,
		Platform: model.PlatformYouTube,
		Err:      errors.New("too many requests"),
	}
	tw := newStubProber(model.PlatformTwitch)
	tw.live[twitchWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://www.twitch.tv/chan2"}

	starter := newStubStarter()
	observer := &stubObserver{}
	loop := NewLoop(newTestStore(t, ytWatch, twitchWatch), []probe.Prober{yt, tw}, starter).
		WithObserver(observer)

	loop.tick(t.Context())
	require.Equal(t, []string{"twitch:chan2"}, starter.startedKeys())
	require.Equal(t, []string{"youtube"}, observer.platforms)
}

func TestLoopTickStartFailure(t *testing.T) {
	t.Parallel()
	yt := newStubProber(model.PlatformYouTube)
	yt.live[ytWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://example.com/watch"}
	tw := newStubProber(model.PlatformTwitch)
	tw.live[twitchWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://www.twitch.tv/chan2"}

	starter := newStubStarter()
	starter.failKey = "yt:@Chan1"
	loop := NewLoop(newTestStore(t, ytWatch, twitchWatch), []probe.Prober{yt, tw}, starter)

	loop.tick(t.Context())
	require.Equal(t, []string{"twitch:chan2"}, starter.startedKeys())

	// a failed launch leaves the channel eligible next cycle
	starter.failKey = ""
	loop.tick(t.Context())
	require.ElementsMatch(t, []string{"twitch:chan2", "yt:@Chan1"}, starter.startedKeys())
}

func TestLoopTickDedupe(t *testing.T) {
	t.Parallel()
	yt := newStubProber(model.PlatformYouTube)
	loop := NewLoop(newTestStore(t, ytWatch, ytWatch, ytWatch), []probe.Prober{yt}, newStubStarter())

	loop.tick(t.Context())
	require.Equal(t, 1, yt.callCount(ytWatch.Key()))
}

func TestLoopTickUnknownPlatform(t *testing.T) {
	t.Parallel()
	tw := newStubProber(model.PlatformTwitch)
	tw.live[twitchWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://www.twitch.tv/chan2"}

	starter := newStubStarter()
	loop := NewLoop(newTestStore(t, ytWatch, twitchWatch), []probe.Prober{tw}, starter)

	loop.tick(t.Context())
	require.Equal(t, []string{"twitch:chan2"}, starter.startedKeys())
}

func TestLoopRun(t *testing.T) {
	t.Parallel()
	yt := newStubProber(model.PlatformYouTube)
	yt.live[ytWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://example.com/watch"}

	starter := newStubStarter()
	loop := NewLoop(newTestStore(t, ytWatch), []probe.Prober{yt}, starter)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// the initial kick starts the capture without waiting an interval
	require.Eventually(t, func() bool {
		return len(starter.startedKeys()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

// Reloading a config that drops a channel must not touch its running
// capture: it stays active, is not probed again and finishes naturally.
func TestLoopReloadKeepsRunningCapture(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	dir := t.TempDir()
	outDir := filepath.Join(dir, "captures")
	configPath := filepath.Join(dir, "govdl.yaml")
	withWatch := fmt.Sprintf(`
version: 0
output: %s
watches:
    - platform: "youtube"
      id: "@Chan1"
`, outDir)
	require.NoError(t, os.WriteFile(configPath, []byte(withWatch), 0o644))

	store, err := watchlist.Open(configPath)
	require.NoError(t, err)

	var tool capture.Tool
	tool.Command.Path = sh
	tool.Command.Args = []string{"-c", "sleep 0.5"}
	sup := capture.NewSupervisor(tool)

	yt := newStubProber(model.PlatformYouTube)
	yt.live[ytWatch.Key()] = probe.Liveness{Live: true, TargetURL: "https://example.com/watch"}
	loop := NewLoop(store, []probe.Prober{yt}, sup)

	loop.tick(t.Context())
	require.True(t, sup.IsActive(ytWatch))
	require.Equal(t, 1, yt.callCount(ytWatch.Key()))

	// drop the channel from the config while its capture runs
	withoutWatch := fmt.Sprintf("version: 0\noutput: %s\n", outDir)
	require.NoError(t, os.WriteFile(configPath, []byte(withoutWatch), 0o644))
	require.NoError(t, store.Reload(t.Context()))
	require.True(t, sup.IsActive(ytWatch))
	require.Empty(t, store.Current().Watches)

	loop.tick(t.Context())
	require.Equal(t, 1, yt.callCount(ytWatch.Key()))
	require.True(t, sup.IsActive(ytWatch))

	require.Zero(t, sup.Drain(0))
	require.False(t, sup.IsActive(ytWatch))
}

func TestLoopKickCoalesces(t *testing.T) {
	t.Parallel()
	loop := NewLoop(newTestStore(t), nil, newStubStarter())
	for range 10 {
		loop.Kick() // must never block
	}
	require.Len(t, loop.ticks, 1)
}
