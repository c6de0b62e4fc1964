package agent

import "errors"

var (
	// ErrBinaryNotFound indicates the agent CLI is not installed.
	ErrBinaryNotFound = errors.New("agent CLI not found in PATH")
	// ErrNotConnected indicates the session has no active agent process.
	ErrNotConnected = errors.New("session is not connected")
	// ErrProjectPathMissing indicates the project directory no longer exists.
	ErrProjectPathMissing = errors.New("project path does not exist")
)
