package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/zurk-ai/zurk/pkg/types"
)

const sessionColumns = `id, project_id, name, status, agent_session_id, model,
	permission_mode, allowed_tools, system_prompt, last_prompt, pending_approval,
	error_message, message_count, total_cost_usd, created_at, updated_at`

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	ProjectID string
	Status    types.SessionStatus
	Limit     int
	Offset    int
}

// CreateSession inserts a new session in idle status. The project must
// exist. ID, status, and timestamps are assigned here.
func (s *Store) CreateSession(sess *types.Session) error {
	if _, err := s.GetProject(sess.ProjectID); err != nil {
		return err
	}

	now := time.Now().UTC()
	sess.ID = ulid.Make().String()
	sess.Status = types.StatusIdle
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.PermissionMode == "" {
		sess.PermissionMode = types.PermissionDefault
	}
	sess.LastPrompt = truncatePrompt(sess.LastPrompt)

	tools, err := marshalJSON(sess.AllowedTools)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions
		(id, project_id, name, status, agent_session_id, model, permission_mode,
		 allowed_tools, system_prompt, last_prompt, pending_approval, error_message,
		 message_count, total_cost_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', 0, 0, ?, ?)`,
		sess.ID, sess.ProjectID, sess.Name, string(sess.Status), sess.AgentSessionID,
		sess.Model, string(sess.PermissionMode), tools, sess.SystemPrompt,
		sess.LastPrompt, now.UnixNano(), now.UnixNano())
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*types.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// GetSessionByAgentID retrieves the session bound to an agent runtime
// session id, or nil when none is.
func (s *Store) GetSessionByAgentID(agentSessionID string) (*types.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE agent_session_id = ?`,
		agentSessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// ListSessions returns sessions matching the filter ordered by most
// recently updated, plus the total count before pagination.
func (s *Store) ListSessions(f SessionFilter) ([]*types.Session, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.ProjectID != "" {
		where += " AND project_id = ?"
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, string(f.Status))
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = types.DefaultListLimit
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions` + where +
		` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// UpdateSessionStatus moves a session through the state machine.
// Entering error records the error message; entering running clears it.
// Leaving waiting_approval clears the stored pending approval.
func (s *Store) UpdateSessionStatus(id string, newStatus types.SessionStatus, errorMessage string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	if !types.CanTransition(sess.Status, newStatus) {
		return nil, &StateError{SessionID: id, Current: sess.Status, Target: newStatus}
	}

	prior := sess.Status
	sess.Status = newStatus

	switch newStatus {
	case types.StatusError:
		sess.ErrorMessage = errorMessage
	case types.StatusRunning:
		sess.ErrorMessage = ""
	}
	if prior == types.StatusWaitingApproval {
		sess.PendingApproval = nil
	}
	sess.UpdatedAt = time.Now().UTC()

	pending, err := marshalPending(sess.PendingApproval)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
		UPDATE sessions SET status = ?, error_message = ?, pending_approval = ?,
		updated_at = ? WHERE id = ?`,
		string(sess.Status), sess.ErrorMessage, pending,
		sess.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// BindAgentSessionID records the agent runtime's own session id against
// a session. Status and all other fields are left untouched.
func (s *Store) BindAgentSessionID(id, agentSessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	sess.AgentSessionID = agentSessionID
	sess.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`UPDATE sessions SET agent_session_id = ?, updated_at = ? WHERE id = ?`,
		agentSessionID, sess.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SetPendingApproval stores the approval payload and moves the session
// to waiting_approval in one write. Only legal from running, which
// keeps the payload and the status in lockstep.
func (s *Store) SetPendingApproval(id string, approval *types.PendingApproval) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	if sess.Status != types.StatusRunning {
		return nil, &StateError{
			SessionID: id,
			Current:   sess.Status,
			Target:    types.StatusWaitingApproval,
			Reason: fmt.Sprintf("can only set pending approval from running state, current state: %s",
				sess.Status),
		}
	}

	sess.PendingApproval = approval
	sess.Status = types.StatusWaitingApproval
	sess.UpdatedAt = time.Now().UTC()

	pending, err := marshalPending(approval)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
		UPDATE sessions SET status = ?, pending_approval = ?, updated_at = ?
		WHERE id = ?`,
		string(sess.Status), pending, sess.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// AddSessionCost adds to a session's cumulative cost.
func (s *Store) AddSessionCost(id string, costUSD float64) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	sess.TotalCostUSD += costUSD
	sess.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`UPDATE sessions SET total_cost_usd = ?, updated_at = ? WHERE id = ?`,
		sess.TotalCostUSD, sess.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CompleteSession adds any final cost and moves the session to
// completed.
func (s *Store) CompleteSession(id string, finalCostUSD float64) (*types.Session, error) {
	if finalCostUSD != 0 {
		if _, err := s.AddSessionCost(id, finalCostUSD); err != nil {
			return nil, err
		}
	}
	return s.UpdateSessionStatus(id, types.StatusCompleted, "")
}

// FailSession moves the session to error with a message.
func (s *Store) FailSession(id, errorMessage string) (*types.Session, error) {
	return s.UpdateSessionStatus(id, types.StatusError, errorMessage)
}

// UpdateSessionName renames a session.
func (s *Store) UpdateSessionName(id, name string) (*types.Session, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	sess.Name = name
	sess.UpdatedAt = time.Now().UTC()
	_, err = s.db.Exec(`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, sess.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.GetSession(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// truncatePrompt bounds a prompt to LastPromptMaxLength bytes without
// splitting a multi-byte rune at the cut point.
func truncatePrompt(prompt string) string {
	if len(prompt) <= types.LastPromptMaxLength {
		return prompt
	}
	cut := types.LastPromptMaxLength
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}

func marshalPending(pa *types.PendingApproval) (any, error) {
	if pa == nil {
		return nil, nil
	}
	data, err := json.Marshal(pa)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanSession(row scanner) (*types.Session, error) {
	sess := &types.Session{}
	var status, mode, tools string
	var pending sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Name, &status,
		&sess.AgentSessionID, &sess.Model, &mode, &tools, &sess.SystemPrompt,
		&sess.LastPrompt, &pending, &sess.ErrorMessage, &sess.MessageCount,
		&sess.TotalCostUSD, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = types.SessionStatus(status)
	sess.PermissionMode = types.PermissionMode(mode)
	sess.AllowedTools = unmarshalStrings(tools)
	if pending.Valid && pending.String != "" {
		pa := &types.PendingApproval{}
		if err := json.Unmarshal([]byte(pending.String), pa); err == nil {
			sess.PendingApproval = pa
		}
	}
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return sess, nil
}
