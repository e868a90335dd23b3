package capture_test

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/govdl/govdl/internal/capture"
	"github.com/stretchr/testify/require"
)

func lookPath(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("skipped, binary %s not available: %v", name, err)
	}
	return path
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := lookPath(t, "sh")

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		runner := capture.NewRunner()
		cmd := capture.Command{Path: sh, Args: []string{"-c", "exit 0"}}
		require.NoError(t, runner.Start(t.Context(), cmd, nil))

		res := <-runner.Done()
		require.True(t, res.Success())
		require.Zero(t, res.ExitCode())
		require.NotZero(t, res.Started)
		require.NotZero(t, res.Stopped)

		// channel is closed after the single result
		_, ok := <-runner.Done()
		require.False(t, ok)
	})

	t.Run("nonzero exit", func(t *testing.T) {
		t.Parallel()
		runner := capture.NewRunner()
		cmd := capture.Command{Path: sh, Args: []string{"-c", "exit 3"}}
		require.NoError(t, runner.Start(t.Context(), cmd, nil))

		res := <-runner.Done()
		require.False(t, res.Success())
		require.Equal(t, 3, res.ExitCode())
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)
	})

	t.Run("single use", func(t *testing.T) {
		t.Parallel()
		runner := capture.NewRunner()
		cmd := capture.Command{Path: sh, Args: []string{"-c", "exit 0"}}
		require.NoError(t, runner.Start(t.Context(), cmd, nil))
		err := runner.Start(t.Context(), cmd, nil)
		require.ErrorIs(t, err, capture.ErrAlreadyStarted)
		<-runner.Done()
	})

	t.Run("exec error", func(t *testing.T) {
		t.Parallel()
		runner := capture.NewRunner()
		cmd := capture.Command{Path: "/does/not/exist"}
		err := runner.Start(t.Context(), cmd, nil)
		require.Error(t, err)
		res := runner.LastResult()
		require.Error(t, res.Err)
		require.Equal(t, -1, res.ExitCode())
	})
}

func TestRunnerTimeout(t *testing.T) {
	t.Parallel()
	yes := lookPath(t, "yes")

	runner := capture.NewRunner()
	cmd := capture.Command{
		Path:    yes,
		Args:    []string{"golang"},
		Timeout: 100 * time.Millisecond,
	}
	require.NoError(t, runner.Start(t.Context(), cmd, nil))

	res := <-runner.Done()
	require.False(t, res.Success())
	require.Error(t, res.Err)
	require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 100*time.Millisecond)
}

// Cancelling the caller's context must not kill the subprocess: shutdown
// lets in-flight captures finish naturally.
func TestRunnerDetachedFromContext(t *testing.T) {
	t.Parallel()
	sh := lookPath(t, "sh")

	ctx, cancel := context.WithCancel(t.Context())
	runner := capture.NewRunner()
	cmd := capture.Command{Path: sh, Args: []string{"-c", "sleep 0.2; exit 0"}}
	require.NoError(t, runner.Start(ctx, cmd, nil))
	cancel()

	res := <-runner.Done()
	require.True(t, res.Success())
}

func TestRunnerOutput(t *testing.T) {
	t.Parallel()
	sh := lookPath(t, "sh")

	var mx sync.Mutex
	type line struct{ stream, text string }
	var lines []line
	collect := func(_ context.Context, stream, text string) {
		mx.Lock()
		defer mx.Unlock()
		lines = append(lines, line{stream, text})
	}

	runner := capture.NewRunner()
	cmd := capture.Command{Path: sh, Args: []string{"-c", "echo out; echo err 1>&2"}}
	require.NoError(t, runner.Start(t.Context(), cmd, collect))
	res := <-runner.Done()
	require.True(t, res.Success())

	mx.Lock()
	defer mx.Unlock()
	require.Contains(t, lines, line{"stdout", "out"})
	require.Contains(t, lines, line{"stderr", "err"})
}
