package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/opsmenu/opsmenu/internal/model"
)

// reapDelay bounds how long Wait lingers after cancellation before the
// child is killed outright and its pipes are torn down.
const reapDelay = 5 * time.Second

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("runner closed")

// StderrFunc receives captured stderr line by line.
type StderrFunc func(ctx context.Context, line string)

// Runner drives at most one child process at a time. Start launches and
// returns immediately, the terminal Result is delivered on ResultsChan.
type Runner struct {
	mx         sync.RWMutex
	cmd        *exec.Cmd
	runCtx     context.Context
	cancelFunc context.CancelFunc
	closed     bool
	last       Result
	results    chan Result
}

func NewRunner() *Runner {
	return &Runner{
		last:    Result{Err: model.ErrRunNotStarted},
		results: make(chan Result, 1),
	}
}

// Command is the process prototype handed to Start.
type Command struct {
	Path        string
	Args        []string
	Env         []string
	Dir         string
	Timeout     time.Duration
	OutputLimit int
}

// Result is the terminal state of one child process.
type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	State    *os.ProcessState
	Stdout   *tailBuffer
	TimedOut bool
	Err      error
}

// Start launches the child process, ensuring only a single instance is
// active. Returns model.ErrRunInProgress or an exec error, otherwise nil.
// Does NOT wait on the command to finish, consume ResultsChan instead.
// A timeout of zero means no deadline, which is logged as a warning.
func (r *Runner) Start(ctx context.Context, proto Command, stderrFunc StderrFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.cmd != nil {
		return model.ErrRunInProgress
	}

	r.last = Result{
		Path:   proto.Path,
		Args:   append([]string(nil), proto.Args...),
		Stdout: newTailBuffer(proto.OutputLimit),
	}

	runCtx := ctx
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
		runCtx, r.cancelFunc = context.WithCancel(ctx)
	} else {
		runCtx, r.cancelFunc = context.WithTimeout(ctx, proto.Timeout)
	}
	r.runCtx = runCtx

	cmd := exec.CommandContext(runCtx, proto.Path, proto.Args...)
	cmd.Env = append([]string(nil), proto.Env...)
	cmd.Dir = proto.Dir
	cmd.WaitDelay = reapDelay
	cmd.Stdout = r.last.Stdout

	// stderr goes through a plain writer, not a pipe: Wait only returns
	// once the copy goroutine is done, so no trailing lines are lost on a
	// fast-exiting child
	var stderr *lineWriter
	if stderrFunc != nil {
		stderr = &lineWriter{ctx: runCtx, fn: stderrFunc}
		cmd.Stderr = stderr
	}

	r.last.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.last.Stopped = time.Now().UTC()
		r.last.Err = err
		r.cancelFunc()
		r.cancelFunc = nil
		return err
	}
	r.cmd = cmd

	go r.wait(cmd, runCtx, stderr)
	return nil
}

// lineWriter feeds captured stderr to a StderrFunc line by line. Only the
// exec copy goroutine writes, flush happens after Wait, so no locking.
type lineWriter struct {
	ctx context.Context
	fn  StderrFunc
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			return len(p), nil
		}
		w.fn(w.ctx, string(bytes.TrimSuffix(w.buf[:i], []byte{'\r'})))
		w.buf = w.buf[i+1:]
	}
}

// flush emits a trailing unterminated line.
func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.fn(w.ctx, string(w.buf))
		w.buf = nil
	}
}

func (r *Runner) wait(cmd *exec.Cmd, runCtx context.Context, stderr *lineWriter) {
	err := cmd.Wait()
	if stderr != nil {
		stderr.flush()
	}
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
	r.last.Stopped = stopped
	r.last.State = cmd.ProcessState
	r.last.TimedOut = timedOut
	r.last.Err = err
	r.cmd = nil
	// the result is delivered even after Close: a consumer blocked on
	// ResultsChan still gets the terminal state of the interrupted child.
	// Drop a stale unconsumed result so the send below never blocks.
	select {
	case <-r.results:
	default:
	}
	r.results <- r.last
}

// ResultsChan returns the channel delivering the result of each run.
func (r *Runner) ResultsChan() <-chan Result {
	return r.results
}

// LastResult returns the result of the last run, or a result wrapping
// model.ErrRunNotStarted if nothing has been started yet.
func (r *Runner) LastResult() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.last
}

// Close cancels a running child, if any, and stops further Starts. The
// interrupted child's Result is still delivered on ResultsChan. Every
// exit path of the child releases its handles: Wait reaps the process
// and WaitDelay bounds the pipe teardown.
func (r *Runner) Close() {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.closed = true
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
}
