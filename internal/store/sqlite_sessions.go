package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
)

const sessionColumns = `s.id, s.user_id, s.topic_id, s.agent_id, s.is_active, s.duration,
	s.completion_rate, s.interaction_data, s.feedback_score, s.agent_state,
	s.created_at, s.updated_at`

func scanSessionInto(session *domain.Session, row rowScanner, extra ...any) error {
	var interactionJSON, stateJSON string
	var feedback sql.NullInt64
	var createdAt, updatedAt int64

	dest := []any{
		&session.ID, &session.UserID, &session.TopicID, &session.AgentID,
		&session.IsActive, &session.Duration, &session.CompletionRate,
		&interactionJSON, &feedback, &stateJSON, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(interactionJSON), &session.InteractionData); err != nil {
		return fmt.Errorf("decode session %s interaction data: %w", session.ID, err)
	}
	if stateJSON != "" && stateJSON != "{}" {
		if err := json.Unmarshal([]byte(stateJSON), &session.AgentState); err != nil {
			return fmt.Errorf("decode session %s agent state: %w", session.ID, err)
		}
	}
	if feedback.Valid {
		score := int(feedback.Int64)
		session.FeedbackScore = &score
	}
	session.CreatedAt = unixTime(createdAt)
	session.UpdatedAt = unixTime(updatedAt)
	return nil
}

func encodeSessionJSON(session *domain.Session) (interaction, state string, err error) {
	rawInteraction, err := json.Marshal(session.InteractionData)
	if err != nil {
		return "", "", fmt.Errorf("encode interaction data: %w", err)
	}
	rawState := []byte("{}")
	if session.AgentState != nil {
		if rawState, err = json.Marshal(session.AgentState); err != nil {
			return "", "", fmt.Errorf("encode agent state: %w", err)
		}
	}
	return string(rawInteraction), string(rawState), nil
}

func feedbackValue(score *int) any {
	if score == nil {
		return nil
	}
	return *score
}

// GetSession retrieves a session by ID.
func (q *queries) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	var session domain.Session
	err := scanSessionInto(&session, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return &session, nil
}

// FindActiveSession returns the newest active session for a user and topic.
func (q *queries) FindActiveSession(ctx context.Context, userID, topicID string, incompleteOnly bool) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s
		WHERE s.user_id = ? AND s.topic_id = ? AND s.is_active = 1`
	if incompleteOnly {
		query += ` AND s.completion_rate < 1.0`
	}
	query += ` ORDER BY s.created_at DESC, s.rowid DESC LIMIT 1`

	row := q.q.QueryRowContext(ctx, query, userID, topicID)
	var session domain.Session
	err := scanSessionInto(&session, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active session row: %w", err)
	}
	return &session, nil
}

// InsertSession stores a new session.
func (q *queries) InsertSession(ctx context.Context, session *domain.Session) error {
	interaction, state, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (id, user_id, topic_id, agent_id, is_active, duration,
		completion_rate, interaction_data, feedback_score, agent_state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = q.q.ExecContext(ctx, query,
		session.ID, session.UserID, session.TopicID, session.AgentID,
		session.IsActive, session.Duration, session.CompletionRate,
		interaction, feedbackValue(session.FeedbackScore), state,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession writes the mutable fields of a session.
func (q *queries) UpdateSession(ctx context.Context, session *domain.Session) error {
	interaction, state, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
	UPDATE sessions SET
		is_active = ?, duration = ?, completion_rate = ?, interaction_data = ?,
		feedback_score = ?, agent_state = ?, updated_at = ?
	WHERE id = ?`

	result, err := q.q.ExecContext(ctx, query,
		session.IsActive, session.Duration, session.CompletionRate, interaction,
		feedbackValue(session.FeedbackScore), state, session.UpdatedAt.Unix(),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectOneRow(result, "session", session.ID)
}

// DeactivateSession marks a session inactive.
func (q *queries) DeactivateSession(ctx context.Context, id string, now time.Time) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, updated_at = ? WHERE id = ?`, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return expectOneRow(result, "session", id)
}

func expectOneRow(result sql.Result, resource, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

const sessionViewQuery = `SELECT ` + sessionColumns + `, COALESCE(t.title, ''), COALESCE(u.full_name, '')
	FROM sessions s
	LEFT JOIN topics t ON t.id = s.topic_id
	LEFT JOIN users u ON u.id = s.user_id`

func scanSessionView(row rowScanner) (*domain.SessionView, error) {
	var view domain.SessionView
	if err := scanSessionInto(&view.Session, row, &view.TopicTitle, &view.UserFullName); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetSessionView returns one session with display fields.
func (s *SQLiteStore) GetSessionView(ctx context.Context, id string) (*domain.SessionView, error) {
	row := s.db.QueryRowContext(ctx, sessionViewQuery+` WHERE s.id = ?`, id)
	view, err := scanSessionView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session view row: %w", err)
	}
	return view, nil
}

// ListSessionViews returns sessions newest first.
func (s *SQLiteStore) ListSessionViews(ctx context.Context, filter SessionFilter) ([]*domain.SessionView, error) {
	query := sessionViewQuery + ` WHERE 1 = 1`
	var args []any
	if filter.UserID != "" {
		query += ` AND s.user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.TopicID != "" {
		query += ` AND s.topic_id = ?`
		args = append(args, filter.TopicID)
	}
	if filter.ActiveOnly {
		query += ` AND s.is_active = 1`
	}
	query += ` ORDER BY s.created_at DESC, s.rowid DESC LIMIT ? OFFSET ?`
	args = append(args, pageLimit(filter.Limit), max(filter.Skip, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session views: %w", err)
	}
	defer closeRows(rows, "session views")

	views := []*domain.SessionView{}
	for rows.Next() {
		view, err := scanSessionView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session view row: %w", err)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session views: %w", err)
	}
	return views, nil
}

// SessionStats summarizes a user's sessions.
func (s *SQLiteStore) SessionStats(ctx context.Context, userID string) (*domain.SessionStats, error) {
	stats := &domain.SessionStats{RecentActivity: []domain.ActivityEntry{}}

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(duration), 0),
		       COALESCE(AVG(completion_rate), 0),
		       COUNT(DISTINCT CASE WHEN completion_rate >= 0.8 THEN topic_id END)
		FROM sessions WHERE user_id = ?`, userID)
	if err := row.Scan(&stats.TotalDurationMinutes, &stats.AverageCompletionRate, &stats.CompletedTopics); err != nil {
		return nil, fmt.Errorf("scan session stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.created_at, COALESCE(t.title, ''), s.completion_rate
		FROM sessions s LEFT JOIN topics t ON t.id = s.topic_id
		WHERE s.user_id = ?
		ORDER BY s.created_at DESC, s.rowid DESC LIMIT 5`, userID)
	if err != nil {
		return nil, fmt.Errorf("query recent activity: %w", err)
	}
	defer closeRows(rows, "recent activity")

	for rows.Next() {
		var entry domain.ActivityEntry
		var createdAt int64
		if err := rows.Scan(&createdAt, &entry.Topic, &entry.Completion); err != nil {
			return nil, fmt.Errorf("scan recent activity row: %w", err)
		}
		entry.Date = unixTime(createdAt)
		stats.RecentActivity = append(stats.RecentActivity, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent activity: %w", err)
	}
	return stats, nil
}

// SystemStats returns platform-wide counters.
func (s *SQLiteStore) SystemStats(ctx context.Context) (*domain.SystemStats, error) {
	var stats domain.SystemStats
	row := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM users),
		       (SELECT COUNT(*) FROM users WHERE is_active = 1),
		       (SELECT COUNT(*) FROM topics),
		       (SELECT COUNT(*) FROM sessions),
		       (SELECT COALESCE(AVG(completion_rate), 0) FROM sessions)`)
	if err := row.Scan(
		&stats.TotalUsers, &stats.ActiveUsers, &stats.TotalTopics,
		&stats.TotalSessions, &stats.AverageCompletionRate,
	); err != nil {
		return nil, fmt.Errorf("scan system stats: %w", err)
	}
	return &stats, nil
}

// RecordAnalytics stores the derived message count of a session. The write
// touches only its own interaction keys.
func (s *SQLiteStore) RecordAnalytics(ctx context.Context, sessionID string, now time.Time) error {
	query := `
	UPDATE sessions SET interaction_data = json_set(
		CASE WHEN json_valid(interaction_data) THEN interaction_data ELSE '{}' END,
		'$.` + domain.KeyMessageCount + `', (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = sessions.id),
		'$.` + domain.KeyLastUpdated + `', ?)
	WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, now.UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("record analytics: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("RecordAnalytics affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// DeleteStaleSessions removes sessions with a zero completion rate created
// before cutoff. Their transcripts cascade.
func (s *SQLiteStore) DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE completion_rate = 0 AND created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return result.RowsAffected()
}
