package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ashureev/tutorhub/internal/domain"
)

const messageColumns = `seq, id, session_id, role, content, tokens, feedback_json, created_at`

func scanMessage(row rowScanner) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	var role string
	var feedback sql.NullString
	var createdAt int64

	if err := row.Scan(
		&msg.Seq, &msg.ID, &msg.SessionID, &role, &msg.Content,
		&msg.Tokens, &feedback, &createdAt,
	); err != nil {
		return nil, err
	}

	if feedback.Valid && feedback.String != "" {
		if err := json.Unmarshal([]byte(feedback.String), &msg.Feedback); err != nil {
			return nil, fmt.Errorf("decode message %s feedback: %w", msg.ID, err)
		}
	}
	msg.Role = domain.Role(role)
	msg.CreatedAt = unixTime(createdAt)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*domain.ChatMessage, error) {
	var msgs []*domain.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage adds a transcript entry and fills in its Seq.
func (q *queries) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	var feedback any
	if msg.Feedback != nil {
		raw, err := json.Marshal(msg.Feedback)
		if err != nil {
			return fmt.Errorf("encode message feedback: %w", err)
		}
		feedback = string(raw)
	}

	result, err := q.q.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, tokens, feedback_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.Tokens, feedback, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get message seq: %w", err)
	}
	msg.Seq = seq
	return nil
}

// RecentMessages returns the latest transcript entries, oldest first.
func (q *queries) RecentMessages(ctx context.Context, sessionID string, limit int, excludeID string) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := q.q.QueryContext(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ? AND id != ?
		ORDER BY created_at DESC, seq DESC LIMIT ?`, sessionID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer closeRows(rows, "recent messages")

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// CountMessages returns the number of transcript entries of a session.
func (q *queries) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ListMessages returns a page of a transcript counted from the newest entry,
// ordered oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, skip, limit int) ([]*domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		sessionID, pageLimit(limit), max(skip, 0))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
