// Package project manages registered project directories: path
// normalization and validation, agent configuration detection, and dev
// server auto-detection for live previews.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/internal/store"
	"github.com/zurk-ai/zurk/pkg/types"
)

// DescriptionMaxLength caps descriptions extracted from agent config files.
const DescriptionMaxLength = 500

var (
	// ErrPathExists indicates the path is already registered.
	ErrPathExists = errors.New("project path already registered")
	// ErrPathInvalid indicates the path is missing or not a directory.
	ErrPathInvalid = errors.New("invalid project path")
	// ErrInvalidPermissionMode indicates an unknown permission mode.
	ErrInvalidPermissionMode = errors.New("invalid permission mode")
)

// Registry manages project registration on top of the store.
type Registry struct {
	store *store.Store
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(st *store.Store) *Registry {
	return &Registry{store: st}
}

// RegisterArgs holds the inputs for registering a project. Zero-valued
// optional fields are auto-detected from the project directory.
type RegisterArgs struct {
	Name                string
	Path                string
	Description         string
	DefaultAllowedTools []string
	PermissionMode      types.PermissionMode
	AutoApprovePatterns []string
	DevCommand          string
	DevPort             int

	// SkipPathCheck registers the path without requiring it to exist.
	SkipPathCheck bool
}

// Register adds a new project directory. The path is normalized to an
// absolute, symlink-resolved form before the duplicate check so two
// spellings of the same directory cannot both register.
func (r *Registry) Register(args RegisterArgs) (*types.Project, error) {
	mode := args.PermissionMode
	if mode == "" {
		mode = types.PermissionDefault
	}
	if err := validateMode(mode); err != nil {
		return nil, err
	}

	path, err := NormalizePath(args.Path)
	if err != nil {
		return nil, err
	}

	if !args.SkipPathCheck {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: path does not exist: %s", ErrPathInvalid, path)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: path is not a directory: %s", ErrPathInvalid, path)
		}
	}

	existing, err := r.store.GetProjectByPath(path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, path)
	}

	description := args.Description
	if description == "" {
		description = detectDescription(path)
	}

	devCommand, devPort := args.DevCommand, args.DevPort
	if devCommand == "" || devPort == 0 {
		detected := DetectDevServer(path)
		if devCommand == "" {
			devCommand = detected.Command
		}
		if devPort == 0 {
			devPort = detected.Port
		}
	}

	p := &types.Project{
		Name:                args.Name,
		Path:                path,
		Description:         description,
		DefaultAllowedTools: args.DefaultAllowedTools,
		PermissionMode:      mode,
		AutoApprovePatterns: args.AutoApprovePatterns,
		DevCommand:          devCommand,
		DevPort:             devPort,
	}
	if err := r.store.CreateProject(p); err != nil {
		return nil, err
	}
	logger := logging.ForComponent("project")
	logger.Info().
		Str("project_id", p.ID).
		Str("path", p.Path).
		Msg("project registered")
	return p, nil
}

// Get returns a project by id.
func (r *Registry) Get(id string) (*types.Project, error) {
	return r.store.GetProject(id)
}

// GetByPath returns the project registered at the given path, or nil.
func (r *Registry) GetByPath(path string) (*types.Project, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return r.store.GetProjectByPath(normalized)
}

// List returns all registered projects ordered by name.
func (r *Registry) List() ([]*types.Project, error) {
	return r.store.ListProjects()
}

// Update applies a partial update to a project's settings.
func (r *Registry) Update(id string, upd types.ProjectUpdate) (*types.Project, error) {
	if upd.PermissionMode != nil {
		if err := validateMode(*upd.PermissionMode); err != nil {
			return nil, err
		}
	}
	return r.store.UpdateProject(id, upd)
}

// Delete removes a project and all of its sessions.
func (r *Registry) Delete(id string) error {
	if _, err := r.store.GetProject(id); err != nil {
		return err
	}
	return r.store.DeleteProject(id)
}

// ValidatePath reports whether the project's directory still exists.
func (r *Registry) ValidatePath(id string) (bool, error) {
	p, err := r.store.GetProject(id)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p.Path)
	return err == nil && info.IsDir(), nil
}

// NormalizePath makes a path absolute and resolves symlinks when the
// target exists.
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathInvalid, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func validateMode(mode types.PermissionMode) error {
	if types.ValidPermissionModes[mode] {
		return nil
	}
	modes := make([]string, 0, len(types.ValidPermissionModes))
	for m := range types.ValidPermissionModes {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)
	return fmt.Errorf("%w: %s, must be one of: %s",
		ErrInvalidPermissionMode, mode, strings.Join(modes, ", "))
}

// detectDescription extracts the first prose line from the project's
// agent instructions file, if one exists.
func detectDescription(path string) string {
	content, err := os.ReadFile(filepath.Join(path, "CLAUDE.md"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">") {
			continue
		}
		if len(line) > DescriptionMaxLength {
			line = line[:DescriptionMaxLength]
		}
		return line
	}
	return ""
}
