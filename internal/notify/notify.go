// Package notify routes failure outcomes to an email transport. Sending is
// fire and forget: a lost notification never blocks or fails the run that
// produced it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opsmenu/opsmenu/internal/model"
)

// Mailer is the transport capability. Implementations get exactly one
// attempt per record, retry and backoff are deliberately absent.
type Mailer interface {
	Send(ctx context.Context, rec model.NotificationRecord) error
}

// Notifier composes failure reports and hands them to the Mailer on a
// separate goroutine. The dispatcher never waits for delivery.
type Notifier struct {
	mailer     Mailer
	recipients []string
	wg         sync.WaitGroup
}

func New(mailer Mailer, recipients []string) *Notifier {
	return &Notifier{
		mailer:     mailer,
		recipients: recipients,
	}
}

// Notify is a no-op for outcomes that carry nothing to report. For the
// rest it sends one email and returns immediately.
func (n *Notifier) Notify(ctx context.Context, outcome model.RunOutcome, script model.ScriptDescriptor, user model.UserIdentity) {
	if n == nil || n.mailer == nil {
		return
	}
	if !outcome.Notifiable() {
		return
	}
	if len(n.recipients) == 0 {
		slog.DebugContext(ctx, "no notify recipients configured, skipping", "script", script.ID)
		return
	}

	rec := Compose(outcome, script, user, n.recipients)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.mailer.Send(context.WithoutCancel(ctx), rec); err != nil {
			slog.ErrorContext(ctx, "sending failure report", "script", script.ID, "error", err)
			return
		}
		slog.InfoContext(ctx, "failure report sent", "script", script.ID, "recipients", len(rec.Recipients))
	}()
}

// Flush waits for in-flight sends. Used on shutdown and in tests.
func (n *Notifier) Flush() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// Compose builds the report mail for a non-success outcome.
func Compose(outcome model.RunOutcome, script model.ScriptDescriptor, user model.UserIdentity, recipients []string) model.NotificationRecord {
	var b strings.Builder
	fmt.Fprintf(&b, "Script:   %s (%s)\n", script.Synopsis, script.ID)
	fmt.Fprintf(&b, "Path:     %s\n", script.Path)
	fmt.Fprintf(&b, "User:     %s\n", user.Username)
	fmt.Fprintf(&b, "Outcome:  %s\n", outcome.Kind)
	if outcome.Kind == model.OutcomeFailure {
		fmt.Fprintf(&b, "Exit:     %d\n", outcome.ExitCode)
	}
	if !outcome.Stopped.IsZero() {
		fmt.Fprintf(&b, "Finished: %s\n", outcome.Stopped.Format(time.RFC3339))
	}
	if outcome.ErrorSummary != "" {
		fmt.Fprintf(&b, "\nError excerpt:\n%s\n", outcome.ErrorSummary)
	}

	return model.NotificationRecord{
		Recipients: append([]string(nil), recipients...),
		Subject:    fmt.Sprintf("automation script %q failed: %s", script.Synopsis, outcome.Kind),
		Body:       b.String(),
	}
}
