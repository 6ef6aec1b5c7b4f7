// Package session implements the Session Log: durable chat sessions and
// messages keyed by an opaque session identifier, with per-session totals
// kept in sync with the messages actually persisted.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jax-advisor-core/internal/domain"
)

// Store is the persistence contract this package drives. Implemented by
// internal/store against the ai_sessions/ai_messages tables.
type Store interface {
	CreateSession(ctx context.Context, s domain.ChatSession) error
	AppendMessage(ctx context.Context, m domain.ChatMessage, tokens int) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
	Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}

// Log is the Session Log component (C4).
type Log struct {
	store Store
}

// New builds a Log backed by store.
func New(store Store) *Log {
	return &Log{store: store}
}

// StartSession persists a new active session and returns its opaque id.
// sessionType is derived by the caller (the Supervisor infers it from
// keywords in the triggering request; any caller uninterested in that
// distinction may pass SessionGeneral).
func (l *Log) StartSession(ctx context.Context, userID string, sessionType domain.SessionType) (string, error) {
	id := uuid.New().String()
	s := domain.ChatSession{
		ID:        id,
		UserID:    userID,
		Type:      sessionType,
		Status:    domain.SessionActive,
		StartedAt: time.Now().UTC(),
	}
	if err := l.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("session: start: %w", err)
	}
	return id, nil
}

// LogMessage appends one message and atomically bumps the session's
// totals. Returns whether the write succeeded; a caller on the hot path of
// a client turn treats a false return as "log, but keep going" rather than
// aborting the turn.
func (l *Log) LogMessage(ctx context.Context, sessionID string, agent domain.AgentType, msgType domain.MessageType, content string, metadata map[string]any, tokens int) bool {
	m := domain.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Agent:     agent,
		Type:      msgType,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendMessage(ctx, m, tokens); err != nil {
		return false
	}
	return true
}

// EndSession marks a session completed.
func (l *Log) EndSession(ctx context.Context, sessionID string) error {
	if err := l.store.EndSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	return nil
}

// GetHistory returns up to limit most recent messages, ascending by
// created_at (oldest first), the order the Supervisor replays into a
// prompt.
func (l *Log) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	msgs, err := l.store.Messages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	return msgs, nil
}

// InferSessionType matches the supervisor's keyword heuristic for the
// initial session type when a client turn arrives without one.
func InferSessionType(request string) domain.SessionType {
	lower := strings.ToLower(request)
	switch {
	case containsAny(lower, "buy", "sell", "trade", "execute", "order"):
		return domain.SessionExecution
	case containsAny(lower, "compliant", "compliance", "regulation", "violat"):
		return domain.SessionCompliance
	case containsAny(lower, "portfolio", "holding", "allocation", "recommend", "analy"):
		return domain.SessionAdvisory
	default:
		return domain.SessionGeneral
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
