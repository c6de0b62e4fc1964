// Package types provides the core data types for the ZURK server.
package types

import "time"

// PermissionMode controls how the external agent treats tool permissions.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionManual      PermissionMode = "manual"
)

// ValidPermissionModes is the closed set of accepted permission modes.
var ValidPermissionModes = map[PermissionMode]bool{
	PermissionDefault:     true,
	PermissionAcceptEdits: true,
	PermissionManual:      true,
}

// Project is a registered project directory that agent sessions run in.
type Project struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Path                string         `json:"path"`
	Description         string         `json:"description,omitempty"`
	DefaultAllowedTools []string       `json:"default_allowed_tools"`
	PermissionMode      PermissionMode `json:"permission_mode"`
	AutoApprovePatterns []string       `json:"auto_approve_patterns"`
	DevCommand          string         `json:"dev_command,omitempty"`
	DevPort             int            `json:"dev_port,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ProjectUpdate carries the mutable fields of a project settings update.
// Nil fields are left unchanged.
type ProjectUpdate struct {
	Name                *string         `json:"name,omitempty"`
	Description         *string         `json:"description,omitempty"`
	DefaultAllowedTools *[]string       `json:"default_allowed_tools,omitempty"`
	PermissionMode      *PermissionMode `json:"permission_mode,omitempty"`
	AutoApprovePatterns *[]string       `json:"auto_approve_patterns,omitempty"`
	DevCommand          *string         `json:"dev_command,omitempty"`
	DevPort             *int            `json:"dev_port,omitempty"`
}

// DefaultAllowedTools is the standard tool set granted to new sessions
// when the project does not configure its own.
var DefaultAllowedTools = []string{
	"Read", "Write", "Edit", "Glob", "Grep", "Bash", "WebSearch", "WebFetch",
}
