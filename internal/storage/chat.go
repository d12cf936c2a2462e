package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SaveChatMessage appends a message to a chat session transcript.
func (s *Store) SaveChatMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, m.Role, m.Content, formatTime(m.CreatedAt),
	)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("saving chat message: %w", err)
	}
	return m, nil
}

// ChatHistory returns a session's messages in the order they were written.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, session_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at ASC
		LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
