// Package engine launches allowed scripts as isolated child processes,
// enforces the timeout and classifies the terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opsmenu/opsmenu/internal/model"
)

// summaryLines is how many trailing stderr lines make up an error summary.
const summaryLines = 10

// Engine executes scripts one at a time. Execute is synchronous, callers
// wanting a responsive surface run it off their interactive loop, the
// runner already hands results over a channel.
type Engine struct {
	runner      *Runner
	outputLimit int
}

func New(outputLimit int) *Engine {
	return &Engine{
		runner:      NewRunner(),
		outputLimit: outputLimit,
	}
}

// Close terminates a running child, if any.
func (e *Engine) Close() {
	e.runner.Close()
}

// Execute runs the script and classifies the result. It never returns an
// error, every failure mode degrades to a typed outcome.
func (e *Engine) Execute(ctx context.Context, script model.ScriptDescriptor, timeout time.Duration) model.RunOutcome {
	proto, err := commandFor(script, timeout, e.outputLimit)
	if err != nil {
		return model.RunOutcome{
			Kind:         model.OutcomeLaunchError,
			ErrorSummary: err.Error(),
		}
	}

	tail := &lineTail{limit: summaryLines}
	err = e.runner.Start(ctx, proto, tail.collect)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRunInProgress), errors.Is(err, ErrClosed):
			return model.RunOutcome{
				Kind:   model.OutcomeBusy,
				Reason: err.Error(),
			}
		default:
			// executable missing, not executable, bad interpreter...
			return model.RunOutcome{
				Kind:         model.OutcomeLaunchError,
				ErrorSummary: err.Error(),
			}
		}
	}

	res := <-e.runner.ResultsChan()
	return classify(ctx, script, res, tail, timeout)
}

func classify(ctx context.Context, script model.ScriptDescriptor, res Result, tail *lineTail, timeout time.Duration) model.RunOutcome {
	outcome := model.RunOutcome{
		Output:  res.Stdout.String(),
		Started: res.Started,
		Stopped: res.Stopped,
	}
	if res.State != nil {
		outcome.ExitCode = res.State.ExitCode()
	}

	switch {
	case res.TimedOut:
		outcome.Kind = model.OutcomeTimedOut
		outcome.ErrorSummary = fmt.Sprintf("terminated after timeout of %s", timeout)
		slog.WarnContext(ctx, "script timed out", "script", script.ID, "timeout", timeout)
	case res.Err == nil:
		outcome.Kind = model.OutcomeSuccess
	default:
		var exitErr *exec.ExitError
		if errors.As(res.Err, &exitErr) {
			outcome.Kind = model.OutcomeFailure
			outcome.ErrorSummary = tail.String()
			if outcome.ErrorSummary == "" {
				outcome.ErrorSummary = res.Err.Error()
			}
		} else {
			outcome.Kind = model.OutcomeLaunchError
			outcome.ErrorSummary = res.Err.Error()
		}
	}
	return outcome
}

// commandFor picks the interpreter by extension. Shell scripts run
// directly, they are expected to be executable.
func commandFor(script model.ScriptDescriptor, timeout time.Duration, outputLimit int) (Command, error) {
	proto := Command{
		Timeout:     timeout,
		OutputLimit: outputLimit,
		Dir:         filepath.Dir(script.Path),
	}
	switch strings.ToLower(filepath.Ext(script.Path)) {
	case ".py":
		python, err := exec.LookPath("python3")
		if err != nil {
			return Command{}, fmt.Errorf("python3 interpreter: %w", err)
		}
		proto.Path = python
		proto.Args = []string{script.Path}
	case ".ps1":
		pwsh, err := exec.LookPath("pwsh")
		if err != nil {
			return Command{}, fmt.Errorf("pwsh interpreter: %w", err)
		}
		proto.Path = pwsh
		proto.Args = []string{"-File", script.Path}
	default:
		proto.Path = script.Path
	}
	return proto, nil
}

// lineTail keeps the last limit stderr lines.
type lineTail struct {
	mu    sync.Mutex
	limit int
	lines []string
}

func (t *lineTail) collect(_ context.Context, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
