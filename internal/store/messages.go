package store

import (
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zurk-ai/zurk/pkg/types"
)

const messageColumns = `id, session_id, role, content, message_type, extra, created_at`

// AddMessage appends a message to a session transcript, bumps the
// session's message count, and records user prompts as the session's
// last prompt (truncated).
func (s *Store) AddMessage(sessionID string, role types.MessageRole, content, messageType string, extra map[string]any) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &types.Message{
		ID:          ulid.Make().String(),
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		MessageType: messageType,
		Extra:       extra,
		CreatedAt:   now,
	}

	var extraJSON any
	if len(extra) > 0 {
		data, err := marshalJSON(extra)
		if err != nil {
			return nil, err
		}
		extraJSON = data
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO messages (id, session_id, role, content, message_type, extra, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(role), content, messageType, extraJSON, now.UnixNano())
	if err != nil {
		return nil, err
	}

	lastPrompt := sess.LastPrompt
	if role == types.RoleUser {
		lastPrompt = truncatePrompt(content)
	}
	_, err = tx.Exec(`
		UPDATE sessions SET message_count = message_count + 1, last_prompt = ?, updated_at = ?
		WHERE id = ?`,
		lastPrompt, now.UnixNano(), sessionID)
	if err != nil {
		return nil, err
	}

	return msg, tx.Commit()
}

// GetMessages returns a session's messages in chronological order with
// the total count. A limit of zero or less returns everything after
// the offset.
func (s *Store) GetMessages(sessionID string, limit, offset int) ([]*types.Message, int, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`,
		sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?
		ORDER BY created_at, id`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	return messages, total, rows.Err()
}

func scanMessage(row scanner) (*types.Message, error) {
	msg := &types.Message{}
	var role string
	var extra sql.NullString
	var createdAt int64

	err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content,
		&msg.MessageType, &extra, &createdAt)
	if err != nil {
		return nil, err
	}

	msg.Role = types.MessageRole(role)
	msg.Extra = unmarshalMap(extra)
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	return msg, nil
}
