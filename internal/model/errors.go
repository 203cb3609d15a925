package model

import (
	"errors"
)

var (
	// ErrDirectoryUnavailable means the directory service cannot be reached.
	ErrDirectoryUnavailable = errors.New("directory service unavailable")
	// ErrUserNotFound means the identity does not exist in the directory.
	ErrUserNotFound = errors.New("user not found in directory")
	// ErrScriptNotFound means the catalog holds no script with the given id.
	ErrScriptNotFound = errors.New("script not found in catalog")
	// ErrRunInProgress means the runner already drives a child process.
	ErrRunInProgress = errors.New("run in progress")
	// ErrRunNotStarted means no run has been started yet.
	ErrRunNotStarted = errors.New("run not started")
)
