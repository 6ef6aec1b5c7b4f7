package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"jax-advisor-core/internal/domain"
)

// CreateSession implements session.Store against ai_sessions.
func (s *Store) CreateSession(ctx context.Context, sess domain.ChatSession) error {
	const q = `
		INSERT INTO ai_sessions (id, user_id, session_type, status, started_at, total_messages, total_tokens)
		VALUES ($1, $2, $3, $4, $5, 0, 0)`

	_, err := s.db.ExecContext(ctx, q, sess.ID, sess.UserID, sess.Type, domain.SessionActive, sess.StartedAt)
	return wrap("CreateSession", err)
}

// AppendMessage implements session.Store against ai_messages, bumping the
// owning session's running totals in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, m domain.ChatMessage, tokens int) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return wrap("AppendMessage: marshal metadata", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("AppendMessage: begin", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO ai_messages (id, session_id, agent, message_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, insert, m.ID, m.SessionID, m.Agent, m.Type, m.Content, metadata, m.CreatedAt); err != nil {
		return wrap("AppendMessage: insert", err)
	}

	const bump = `
		UPDATE ai_sessions SET total_messages = total_messages + 1, total_tokens = total_tokens + $1
		WHERE id = $2`
	if _, err := tx.ExecContext(ctx, bump, tokens, m.SessionID); err != nil {
		return wrap("AppendMessage: bump totals", err)
	}

	return wrap("AppendMessage: commit", tx.Commit())
}

// EndSession implements session.Store, marking sessionID completed.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	const q = `UPDATE ai_sessions SET status = $1, ended_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, q, domain.SessionCompleted, endedAt, sessionID)
	return wrap("EndSession", err)
}

// Messages implements session.Store, returning up to limit messages for
// sessionID ordered oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	const q = `
		SELECT id, session_id, agent, message_type, content, metadata, created_at
		FROM (
			SELECT id, session_id, agent, message_type, content, metadata, created_at
			FROM ai_messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, wrap("Messages", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Agent, &m.Type, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, wrap("Messages: scan", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, wrap("Messages: unmarshal metadata", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("Messages: rows", err)
	}
	return out, nil
}
