// Package dispatch drives a run request from username and script id to a
// terminal outcome: resolve the caller, evaluate permission, execute, record
// and notify. Exactly one run is in flight at a time.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opsmenu/opsmenu/internal/directory"
	"github.com/opsmenu/opsmenu/internal/history"
	"github.com/opsmenu/opsmenu/internal/log"
	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/opsmenu/opsmenu/internal/notify"
	"github.com/opsmenu/opsmenu/internal/permit"
)

// Lookup resolves a script id to its descriptor. Satisfied by *catalog.Catalog.
type Lookup interface {
	Get(id string) (model.ScriptDescriptor, error)
}

// Executor runs a permitted script. Satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, script model.ScriptDescriptor, timeout time.Duration) model.RunOutcome
}

type Dispatcher struct {
	catalog  Lookup
	resolver directory.Resolver
	executor Executor
	notifier *notify.Notifier
	db       *sql.DB

	inFlight atomic.Bool
}

// New wires the dispatcher. notifier and db may be nil, in which case
// notification and history recording are skipped.
func New(catalog Lookup, resolver directory.Resolver, executor Executor, notifier *notify.Notifier, db *sql.DB) *Dispatcher {
	return &Dispatcher{
		catalog:  catalog,
		resolver: resolver,
		executor: executor,
		notifier: notifier,
		db:       db,
	}
}

// RequestRun takes a run request to a terminal outcome. It never returns an
// error: every failure mode is a classified outcome. A second call while a
// run is in flight comes back Busy without touching the executor.
func (d *Dispatcher) RequestRun(ctx context.Context, username, scriptID string) model.RunOutcome {
	if !d.inFlight.CompareAndSwap(false, true) {
		return model.RunOutcome{
			Kind:   model.OutcomeBusy,
			Reason: "another script is running",
		}
	}
	defer d.inFlight.Store(false)

	script, err := d.catalog.Get(scriptID)
	if err != nil {
		slog.WarnContext(ctx, "run request for unknown script", "script", scriptID, "user", username)
		return model.RunOutcome{
			Kind:   model.OutcomePermissionDenied,
			Reason: "unknown script",
		}
	}

	ctx = log.ContextAttrs(ctx,
		slog.String("script", script.ID),
		slog.String("user", username),
	)

	user, err := d.resolver.Resolve(ctx, username)
	if err != nil {
		reason := "identity unresolved"
		if errors.Is(err, model.ErrUserNotFound) {
			reason = "unknown user"
		}
		slog.WarnContext(ctx, "resolving identity failed", "error", err)
		return model.RunOutcome{
			Kind:   model.OutcomePermissionDenied,
			Reason: reason,
		}
	}

	if !permit.CanRun(user, script) {
		slog.InfoContext(ctx, "run request denied")
		return model.RunOutcome{
			Kind:   model.OutcomePermissionDenied,
			Reason: "not a member of required groups",
		}
	}

	req := model.NewRunRequest(user, script)
	ctx = log.ContextAttrs(ctx, slog.String("run", req.ID.String()))
	d.recordStart(ctx, req)

	slog.InfoContext(ctx, "executing script", "path", script.Path)
	outcome := d.executor.Execute(ctx, script, script.Timeout)
	d.recordFinish(ctx, req, outcome)

	d.notifier.Notify(ctx, outcome, script, user)
	return outcome
}

func (d *Dispatcher) recordStart(ctx context.Context, req model.RunRequest) {
	if d.db == nil {
		return
	}
	if err := history.Start(ctx, d.db, req); err != nil {
		slog.ErrorContext(ctx, "recording run start failed", "error", err)
	}
}

func (d *Dispatcher) recordFinish(ctx context.Context, req model.RunRequest, outcome model.RunOutcome) {
	if d.db == nil {
		return
	}
	if err := history.Finish(ctx, d.db, req.ID.String(), outcome); err != nil {
		slog.ErrorContext(ctx, "recording run outcome failed", "error", err)
	}
}
