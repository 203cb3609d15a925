package dispatch_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsmenu/opsmenu/internal/dispatch"
	"github.com/opsmenu/opsmenu/internal/history"
	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/opsmenu/opsmenu/internal/notify"
	"github.com/stretchr/testify/require"
)

type fakeLookup map[string]model.ScriptDescriptor

func (f fakeLookup) Get(id string) (model.ScriptDescriptor, error) {
	script, ok := f[id]
	if !ok {
		return model.ScriptDescriptor{}, model.ErrScriptNotFound
	}
	return script, nil
}

type fakeExecutor struct {
	calls   atomic.Int32
	outcome model.RunOutcome
	release chan struct{} // when non-nil, Execute blocks until closed
	running chan struct{} // when non-nil, closed once Execute is entered
}

func (f *fakeExecutor) Execute(_ context.Context, _ model.ScriptDescriptor, _ time.Duration) model.RunOutcome {
	f.calls.Add(1)
	if f.running != nil {
		close(f.running)
	}
	if f.release != nil {
		<-f.release
	}
	return f.outcome
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []model.NotificationRecord
}

func (f *fakeMailer) Send(_ context.Context, rec model.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rec)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type staticResolver map[string]model.UserIdentity

func (s staticResolver) Resolve(_ context.Context, username string) (model.UserIdentity, error) {
	identity, ok := s[username]
	if !ok {
		return model.UserIdentity{}, model.ErrUserNotFound
	}
	return identity, nil
}

type downResolver struct{}

func (downResolver) Resolve(context.Context, string) (model.UserIdentity, error) {
	return model.UserIdentity{}, model.ErrDirectoryUnavailable
}

var (
	cleanup = model.ScriptDescriptor{
		ID:             "cleanup",
		Synopsis:       "Clean up stale sessions",
		Path:           "/srv/scripts/cleanup.sh",
		RequiredGroups: []string{"ops"},
	}
	users = staticResolver{
		"alice": {Username: "alice", Groups: []string{"ops"}},
		"bob":   {Username: "bob", Groups: []string{"sales"}},
	}
)

func TestRequestRunAllowed(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{outcome: model.RunOutcome{Kind: model.OutcomeSuccess}}
	d := dispatch.New(fakeLookup{"cleanup": cleanup}, users, exec, nil, nil)

	outcome := d.RequestRun(t.Context(), "alice", "cleanup")
	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	require.Equal(t, int32(1), exec.calls.Load())
}

func TestRequestRunDenied(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{outcome: model.RunOutcome{Kind: model.OutcomeSuccess}}
	mailer := &fakeMailer{}
	notifier := notify.New(mailer, []string{"ops@example.com"})
	d := dispatch.New(fakeLookup{"cleanup": cleanup}, users, exec, notifier, nil)

	outcome := d.RequestRun(t.Context(), "bob", "cleanup")
	require.Equal(t, model.OutcomePermissionDenied, outcome.Kind)
	require.Equal(t, "not a member of required groups", outcome.Reason)

	// nothing executed, nothing mailed
	notifier.Flush()
	require.Zero(t, exec.calls.Load())
	require.Zero(t, mailer.count())
}

func TestRequestRunUnknownScript(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	d := dispatch.New(fakeLookup{}, users, exec, nil, nil)

	outcome := d.RequestRun(t.Context(), "alice", "no-such-script")
	require.Equal(t, model.OutcomePermissionDenied, outcome.Kind)
	require.Equal(t, "unknown script", outcome.Reason)
	require.Zero(t, exec.calls.Load())
}

func TestRequestRunResolverFailures(t *testing.T) {
	t.Parallel()

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		d := dispatch.New(fakeLookup{"cleanup": cleanup}, users, &fakeExecutor{}, nil, nil)
		outcome := d.RequestRun(t.Context(), "mallory", "cleanup")
		require.Equal(t, model.OutcomePermissionDenied, outcome.Kind)
		require.Equal(t, "unknown user", outcome.Reason)
	})

	t.Run("directory unavailable", func(t *testing.T) {
		t.Parallel()
		d := dispatch.New(fakeLookup{"cleanup": cleanup}, downResolver{}, &fakeExecutor{}, nil, nil)
		outcome := d.RequestRun(t.Context(), "alice", "cleanup")
		require.Equal(t, model.OutcomePermissionDenied, outcome.Kind)
		require.Equal(t, "identity unresolved", outcome.Reason)
	})
}

func TestRequestRunNotifiesFailureOnce(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{outcome: model.RunOutcome{
		Kind:         model.OutcomeFailure,
		ExitCode:     1,
		ErrorSummary: "disk full",
	}}
	mailer := &fakeMailer{}
	notifier := notify.New(mailer, []string{"ops@example.com"})
	d := dispatch.New(fakeLookup{"cleanup": cleanup}, users, exec, notifier, nil)

	outcome := d.RequestRun(t.Context(), "alice", "cleanup")
	require.Equal(t, model.OutcomeFailure, outcome.Kind)
	notifier.Flush()
	require.Equal(t, 1, mailer.count())

	// a following success sends nothing
	exec.outcome = model.RunOutcome{Kind: model.OutcomeSuccess}
	d.RequestRun(t.Context(), "alice", "cleanup")
	notifier.Flush()
	require.Equal(t, 1, mailer.count())
}

func TestRequestRunBusy(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{
		outcome: model.RunOutcome{Kind: model.OutcomeSuccess},
		release: make(chan struct{}),
		running: make(chan struct{}),
	}
	d := dispatch.New(fakeLookup{"cleanup": cleanup}, users, exec, nil, nil)

	first := make(chan model.RunOutcome, 1)
	go func() {
		first <- d.RequestRun(context.Background(), "alice", "cleanup")
	}()
	<-exec.running

	second := d.RequestRun(t.Context(), "alice", "cleanup")
	require.Equal(t, model.OutcomeBusy, second.Kind)
	require.Equal(t, "another script is running", second.Reason)

	close(exec.release)
	require.Equal(t, model.OutcomeSuccess, (<-first).Kind)
	require.Equal(t, int32(1), exec.calls.Load())

	// the slot frees up once the first run finishes
	exec.release = nil
	exec.running = nil
	third := d.RequestRun(t.Context(), "alice", "cleanup")
	require.Equal(t, model.OutcomeSuccess, third.Kind)
}

func TestRequestRunRecordsHistory(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	db, err := history.InitDB(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	exec := &fakeExecutor{outcome: model.RunOutcome{
		Kind:    model.OutcomeSuccess,
		Stopped: time.Now().UTC(),
	}}
	d := dispatch.New(fakeLookup{"cleanup": cleanup}, users, exec, nil, db)

	outcome := d.RequestRun(ctx, "alice", "cleanup")
	require.Equal(t, model.OutcomeSuccess, outcome.Kind)

	rows, err := history.List(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "cleanup", rows[0].ScriptID)
	require.Equal(t, "alice", rows[0].Username)
	require.NotNil(t, rows[0].Outcome)
	require.Equal(t, string(model.OutcomeSuccess), *rows[0].Outcome)

	// denied requests leave no history row
	d.RequestRun(ctx, "bob", "cleanup")
	rows, err = history.List(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
