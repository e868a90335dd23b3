package capture

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by Start on a Runner that was used before.
// A Runner drives exactly one subprocess; the Supervisor creates a fresh one
// per capture.
var ErrAlreadyStarted = errors.New("capture already started")

// OutputFunc receives one line of subprocess output. stream is "stdout" or
// "stderr".
type OutputFunc func(ctx context.Context, stream, line string)

// Command is a fully assembled subprocess invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Result is the terminal state of one subprocess run.
type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// Success reports whether the subprocess ran and exited zero.
func (r Result) Success() bool {
	return r.Err == nil && r.State != nil && r.State.Success()
}

// ExitCode returns the subprocess exit code, or -1 when it never ran.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Runner wraps one os/exec invocation. Start is non-blocking: an internal
// goroutine waits on the command and delivers exactly one Result on Done.
// The subprocess is detached from the caller's context cancellation, so a
// daemon shutdown never kills a capture mid-stream; a non-zero Timeout
// still applies.
type Runner struct {
	mx     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan Result
	result Result
}

func NewRunner() *Runner {
	return &Runner{done: make(chan Result, 1)}
}

// Start launches the command. It returns an exec error when the process
// cannot be spawned; in that case no Result is delivered on Done.
func (r *Runner) Start(ctx context.Context, proto Command, outputFunc OutputFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrAlreadyStarted
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	procCtx := context.WithoutCancel(ctx)
	if proto.Timeout > 0 {
		procCtx, r.cancel = context.WithTimeout(procCtx, proto.Timeout)
	}

	cmd := exec.CommandContext(procCtx, r.result.Path, r.result.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}

	var pipes map[string]io.ReadCloser
	if outputFunc != nil {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		pipes = map[string]io.ReadCloser{"stdout": stdout, "stderr": stderr}
	}

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		if r.cancel != nil {
			r.cancel()
		}
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		return err
	}
	r.cmd = cmd

	var forwarders sync.WaitGroup
	for stream, pipe := range pipes {
		forwarders.Add(1)
		go r.forward(ctx, &forwarders, stream, pipe, outputFunc)
	}
	go r.wait(cmd, &forwarders)
	return nil
}

// Done delivers the single terminal Result; the channel is closed after.
func (r *Runner) Done() <-chan Result {
	return r.done
}

// LastResult returns a copy of the most recent state, for observability.
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

func (r *Runner) forward(ctx context.Context, wg *sync.WaitGroup, stream string, pipe io.Reader, outputFunc OutputFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		outputFunc(ctx, stream, scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		slog.DebugContext(ctx, "reading capture output", "stream", stream, "error", err)
	}
}

func (r *Runner) wait(cmd *exec.Cmd, forwarders *sync.WaitGroup) {
	// pipes must be drained before Wait closes them
	forwarders.Wait()
	err := cmd.Wait()
	if r.cancel != nil {
		r.cancel()
	}
	stopped := time.Now().UTC()

	r.mx.Lock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	res := r.result
	r.mx.Unlock()

	r.done <- res
	close(r.done)
}
