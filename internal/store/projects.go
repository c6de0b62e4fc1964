package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zurk-ai/zurk/pkg/types"
)

const projectColumns = `id, name, path, description, default_allowed_tools,
	permission_mode, auto_approve_patterns, dev_command, dev_port, created_at, updated_at`

// CreateProject inserts a new project. The ID and timestamps are
// assigned here; the caller provides everything else.
func (s *Store) CreateProject(p *types.Project) error {
	now := time.Now().UTC()
	p.ID = ulid.Make().String()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.PermissionMode == "" {
		p.PermissionMode = types.PermissionDefault
	}

	tools, err := marshalJSON(p.DefaultAllowedTools)
	if err != nil {
		return err
	}
	patterns, err := marshalJSON(p.AutoApprovePatterns)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO projects
		(id, name, path, description, default_allowed_tools, permission_mode,
		 auto_approve_patterns, dev_command, dev_port, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.Description, tools, string(p.PermissionMode),
		patterns, p.DevCommand, p.DevPort, now.UnixNano(), now.UnixNano())
	return err
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (*types.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p, err
}

// GetProjectByPath retrieves a project by its registered path, or nil
// when no project claims the path.
func (s *Store) GetProjectByPath(path string) (*types.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE path = ?`, path)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects() ([]*types.Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject applies the non-nil fields of upd to a project.
func (s *Store) UpdateProject(id string, upd types.ProjectUpdate) (*types.Project, error) {
	p, err := s.GetProject(id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.DefaultAllowedTools != nil {
		p.DefaultAllowedTools = *upd.DefaultAllowedTools
	}
	if upd.PermissionMode != nil {
		p.PermissionMode = *upd.PermissionMode
	}
	if upd.AutoApprovePatterns != nil {
		p.AutoApprovePatterns = *upd.AutoApprovePatterns
	}
	if upd.DevCommand != nil {
		p.DevCommand = *upd.DevCommand
	}
	if upd.DevPort != nil {
		p.DevPort = *upd.DevPort
	}
	p.UpdatedAt = time.Now().UTC()

	tools, err := marshalJSON(p.DefaultAllowedTools)
	if err != nil {
		return nil, err
	}
	patterns, err := marshalJSON(p.AutoApprovePatterns)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		UPDATE projects SET name = ?, description = ?, default_allowed_tools = ?,
		permission_mode = ?, auto_approve_patterns = ?, dev_command = ?, dev_port = ?,
		updated_at = ? WHERE id = ?`,
		p.Name, p.Description, tools, string(p.PermissionMode), patterns,
		p.DevCommand, p.DevPort, p.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject removes a project along with its sessions and their
// messages.
func (s *Store) DeleteProject(id string) error {
	if _, err := s.GetProject(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id IN
		(SELECT id FROM sessions WHERE project_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE project_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*types.Project, error) {
	p := &types.Project{}
	var tools, patterns, mode string
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.Description, &tools,
		&mode, &patterns, &p.DevCommand, &p.DevPort, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.PermissionMode = types.PermissionMode(mode)
	p.DefaultAllowedTools = unmarshalStrings(tools)
	p.AutoApprovePatterns = unmarshalStrings(patterns)
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return p, nil
}

func unmarshalMap(data sql.NullString) map[string]any {
	if !data.Valid || data.String == "" {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(data.String), &out)
	return out
}
