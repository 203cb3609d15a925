package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScriptDescriptor describes one discovered automation script. Descriptors
// are immutable values, rebuilt from scratch on every catalog refresh.
type ScriptDescriptor struct {
	// ID is the stable identity of a script, its file name without extension.
	ID string
	// Synopsis is a short display name from the script metadata block,
	// falls back to the file name.
	Synopsis string
	// Path is the absolute location of the script file.
	Path string
	// RequiredGroups lists directory groups, membership in any one of them
	// permits execution. Empty together with AllowedUsers means public.
	RequiredGroups []string
	// AllowedUsers lists usernames permitted regardless of group membership.
	AllowedUsers []string
	// Author may always run their own script.
	Author string
	// Timeout overrides the configured default when non-zero.
	Timeout time.Duration
}

// Public reports whether the script declares no execution restrictions.
func (d ScriptDescriptor) Public() bool {
	return len(d.RequiredGroups) == 0 && len(d.AllowedUsers) == 0
}

// UserIdentity is a resolved directory identity. Valid for one session,
// never persisted.
type UserIdentity struct {
	Username string
	Groups   []string
	Mail     string
}

// MemberOf reports group membership, compared case-insensitively as the
// directory service does.
func (u UserIdentity) MemberOf(group string) bool {
	for _, g := range u.Groups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// RunRequest captures one execution request. Created per invocation,
// never reused.
type RunRequest struct {
	ID        uuid.UUID
	User      UserIdentity
	Script    ScriptDescriptor
	Requested time.Time
}

func NewRunRequest(user UserIdentity, script ScriptDescriptor) RunRequest {
	return RunRequest{
		ID:        uuid.New(),
		User:      user,
		Script:    script,
		Requested: time.Now().UTC(),
	}
}

// OutcomeKind enumerates the terminal classifications of a run request.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeFailure          OutcomeKind = "failure"
	OutcomeTimedOut         OutcomeKind = "timed_out"
	OutcomePermissionDenied OutcomeKind = "permission_denied"
	OutcomeLaunchError      OutcomeKind = "launch_error"
	OutcomeBusy             OutcomeKind = "busy"
)

// RunOutcome is the terminal result of exactly one RunRequest.
type RunOutcome struct {
	Kind OutcomeKind
	// ExitCode is meaningful for Success and Failure only.
	ExitCode int
	// Output holds captured stdout, bounded by the engine.
	Output string
	// ErrorSummary holds the last lines of captured stderr for Failure,
	// or a short reason for TimedOut and LaunchError.
	ErrorSummary string
	// Reason explains PermissionDenied and Busy outcomes.
	Reason  string
	Started time.Time
	Stopped time.Time
}

// Executed reports whether a child process produced this outcome.
func (o RunOutcome) Executed() bool {
	switch o.Kind {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimedOut:
		return true
	}
	return false
}

// Notifiable reports whether the outcome is routed to the notifier.
// Denials and busy rejections never started anything, so there is
// nothing to report to a script author.
func (o RunOutcome) Notifiable() bool {
	switch o.Kind {
	case OutcomeFailure, OutcomeTimedOut, OutcomeLaunchError:
		return true
	}
	return false
}

// NotificationRecord is a composed failure report handed to the mail
// transport. Fire and forget, not persisted by the core.
type NotificationRecord struct {
	Recipients []string
	Subject    string
	Body       string
}
