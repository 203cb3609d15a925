package engine_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opsmenu/opsmenu/internal/engine"
	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/stretchr/testify/require"
)

func script(t *testing.T, name, content string) model.ScriptDescriptor {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return model.ScriptDescriptor{
		ID:       name,
		Synopsis: name,
		Path:     path,
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	e := engine.New(4096)
	t.Cleanup(e.Close)

	desc := script(t, "hello.sh", "#!/bin/sh\necho hello\n")
	outcome := e.Execute(t.Context(), desc, 5*time.Second)

	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	require.Zero(t, outcome.ExitCode)
	require.Equal(t, "hello\n", outcome.Output)
	require.Empty(t, outcome.ErrorSummary)
	require.NotZero(t, outcome.Started)
	require.NotZero(t, outcome.Stopped)
}

func TestExecuteFailure(t *testing.T) {
	t.Parallel()
	e := engine.New(4096)
	t.Cleanup(e.Close)

	desc := script(t, "broken.sh", "#!/bin/sh\necho partial\necho 1>&2 'disk full'\nexit 1\n")
	outcome := e.Execute(t.Context(), desc, 5*time.Second)

	require.Equal(t, model.OutcomeFailure, outcome.Kind)
	require.Equal(t, 1, outcome.ExitCode)
	require.Contains(t, outcome.ErrorSummary, "disk full")
	require.Equal(t, "partial\n", outcome.Output)
}

func TestExecuteTimedOut(t *testing.T) {
	t.Parallel()
	e := engine.New(4096)
	t.Cleanup(e.Close)

	desc := script(t, "slow.sh", "#!/bin/sh\necho starting\nsleep 10\necho done\n")
	start := time.Now()
	outcome := e.Execute(t.Context(), desc, 300*time.Millisecond)

	require.Equal(t, model.OutcomeTimedOut, outcome.Kind)
	// killed at the deadline, long before the script would have finished
	require.Less(t, time.Since(start), 8*time.Second)
	require.Contains(t, outcome.ErrorSummary, "timeout")
	// output captured so far is retained
	require.Equal(t, "starting\n", outcome.Output)
}

func TestExecuteLaunchError(t *testing.T) {
	t.Parallel()
	e := engine.New(4096)
	t.Cleanup(e.Close)

	desc := model.ScriptDescriptor{
		ID:   "ghost",
		Path: filepath.Join(t.TempDir(), "ghost.sh"),
	}
	outcome := e.Execute(t.Context(), desc, time.Second)

	require.Equal(t, model.OutcomeLaunchError, outcome.Kind)
	require.NotEmpty(t, outcome.ErrorSummary)
}

func TestExecuteCloseDuringRun(t *testing.T) {
	t.Parallel()
	e := engine.New(4096)

	marker := filepath.Join(t.TempDir(), "started")
	slow := script(t, "slow.sh", "#!/bin/sh\ntouch "+marker+"\nsleep 30\n")

	done := make(chan model.RunOutcome, 1)
	go func() {
		done <- e.Execute(t.Context(), slow, time.Minute)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	e.Close()

	// the interrupted run still yields its one terminal outcome
	select {
	case outcome := <-done:
		require.Equal(t, model.OutcomeFailure, outcome.Kind)
		require.NotEmpty(t, outcome.ErrorSummary)
	case <-time.After(10 * time.Second):
		t.Fatal("Execute did not return after Close")
	}
}

func TestExecuteBusy(t *testing.T) {
	t.Parallel()
	e := engine.New(4096)
	t.Cleanup(e.Close)

	marker := filepath.Join(t.TempDir(), "started")
	slow := script(t, "slow.sh", "#!/bin/sh\ntouch "+marker+"\nsleep 10\n")
	quick := script(t, "quick.sh", "#!/bin/sh\necho quick\n")

	var wg sync.WaitGroup
	var first model.RunOutcome
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = e.Execute(t.Context(), slow, time.Second)
	}()

	// wait until the slow script is really in flight
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	second := e.Execute(t.Context(), quick, time.Second)
	require.Equal(t, model.OutcomeBusy, second.Kind)
	require.NotEmpty(t, second.Reason)

	wg.Wait()
	require.Equal(t, model.OutcomeTimedOut, first.Kind)
}
