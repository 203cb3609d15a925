package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/opsmenu/opsmenu/internal/notify"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []model.NotificationRecord
	err  error
}

func (f *fakeMailer) Send(_ context.Context, rec model.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, rec)
	return nil
}

func (f *fakeMailer) records() []model.NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NotificationRecord(nil), f.sent...)
}

var (
	cleanupScript = model.ScriptDescriptor{ID: "cleanup", Synopsis: "Clean up stale sessions", Path: "/srv/scripts/cleanup.sh"}
	alice         = model.UserIdentity{Username: "alice", Groups: []string{"ops"}}
)

func TestNotifyFailure(t *testing.T) {
	t.Parallel()
	mailer := &fakeMailer{}
	n := notify.New(mailer, []string{"ops@example.com"})

	outcome := model.RunOutcome{
		Kind:         model.OutcomeFailure,
		ExitCode:     1,
		ErrorSummary: "disk full",
	}
	n.Notify(t.Context(), outcome, cleanupScript, alice)
	n.Flush()

	sent := mailer.records()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"ops@example.com"}, sent[0].Recipients)
	require.Contains(t, sent[0].Subject, "Clean up stale sessions")
	require.Contains(t, sent[0].Subject, "failure")
	require.Contains(t, sent[0].Body, "disk full")
	require.Contains(t, sent[0].Body, "alice")
	require.Contains(t, sent[0].Body, "Exit:     1")
}

func TestNotifySkipsNonNotifiable(t *testing.T) {
	t.Parallel()
	mailer := &fakeMailer{}
	n := notify.New(mailer, []string{"ops@example.com"})

	for _, kind := range []model.OutcomeKind{
		model.OutcomeSuccess,
		model.OutcomePermissionDenied,
		model.OutcomeBusy,
	} {
		n.Notify(t.Context(), model.RunOutcome{Kind: kind}, cleanupScript, alice)
	}
	n.Flush()
	require.Empty(t, mailer.records())
}

func TestNotifyTransportErrorSwallowed(t *testing.T) {
	t.Parallel()
	mailer := &fakeMailer{err: errors.New("connection refused")}
	n := notify.New(mailer, []string{"ops@example.com"})

	// must not panic, block or surface the transport error
	n.Notify(t.Context(), model.RunOutcome{Kind: model.OutcomeTimedOut}, cleanupScript, alice)
	n.Flush()
	require.Empty(t, mailer.records())
}

func TestNotifyNoRecipients(t *testing.T) {
	t.Parallel()
	mailer := &fakeMailer{}
	n := notify.New(mailer, nil)

	n.Notify(t.Context(), model.RunOutcome{Kind: model.OutcomeFailure}, cleanupScript, alice)
	n.Flush()
	require.Empty(t, mailer.records())
}

func TestCompose(t *testing.T) {
	t.Parallel()
	outcome := model.RunOutcome{Kind: model.OutcomeTimedOut, ErrorSummary: "terminated after timeout of 5s"}
	rec := notify.Compose(outcome, cleanupScript, alice, []string{"a@example.com", "b@example.com"})

	require.Len(t, rec.Recipients, 2)
	require.Contains(t, rec.Subject, "timed_out")
	require.Contains(t, rec.Body, "terminated after timeout")
	require.NotContains(t, rec.Body, "Exit:")
}
