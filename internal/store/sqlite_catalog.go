package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/tutorhub/internal/domain"
)

const agentColumns = `id, name, description, provider, params_json, system_prompt,
	welcome_message, reminder_message, is_active, created_at, updated_at`

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var paramsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.Provider, &paramsJSON,
		&agent.SystemPrompt, &agent.WelcomeMessage, &agent.ReminderMessage,
		&agent.IsActive, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &agent.Params); err != nil {
		return nil, fmt.Errorf("decode agent %s params: %w", agent.ID, err)
	}
	agent.CreatedAt = unixTime(createdAt)
	agent.UpdatedAt = unixTime(updatedAt)
	return &agent, nil
}

// GetAgent retrieves an agent by ID.
func (q *queries) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return agent, nil
}

// UpsertAgent creates or updates an agent record.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *domain.Agent) error {
	params, err := json.Marshal(agent.Params)
	if err != nil {
		return fmt.Errorf("encode agent params: %w", err)
	}

	query := `
	INSERT INTO agents (` + agentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		provider = excluded.provider,
		params_json = excluded.params_json,
		system_prompt = excluded.system_prompt,
		welcome_message = excluded.welcome_message,
		reminder_message = excluded.reminder_message,
		is_active = excluded.is_active,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.Description, agent.Provider, string(params),
		agent.SystemPrompt, agent.WelcomeMessage, agent.ReminderMessage,
		agent.IsActive, agent.CreatedAt.Unix(), agent.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// ListAgents returns all agents ordered by name.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer closeRows(rows, "agents")

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

const topicColumns = `t.id, t.title, t.description, t.content_json, t.difficulty_level,
	t.parent_id, t.agent_id, t.engagement_score, t.created_at, t.updated_at`

const topicStatsColumns = `,
	(SELECT COUNT(*) FROM topics c WHERE c.parent_id = t.id),
	(SELECT COUNT(*) FROM sessions s WHERE s.topic_id = t.id),
	(SELECT COALESCE(AVG(s.completion_rate), 0) FROM sessions s WHERE s.topic_id = t.id)`

func scanTopicInto(topic *domain.Topic, row rowScanner, extra ...any) error {
	var contentJSON string
	var parentID, agentID sql.NullString
	var createdAt, updatedAt int64

	dest := []any{
		&topic.ID, &topic.Title, &topic.Description, &contentJSON, &topic.DifficultyLevel,
		&parentID, &agentID, &topic.EngagementScore, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	if contentJSON != "" {
		if err := json.Unmarshal([]byte(contentJSON), &topic.Content); err != nil {
			return fmt.Errorf("decode topic %s content: %w", topic.ID, err)
		}
	}
	topic.ParentID = parentID.String
	topic.AgentID = agentID.String
	topic.CreatedAt = unixTime(createdAt)
	topic.UpdatedAt = unixTime(updatedAt)
	return nil
}

func scanTopicView(row rowScanner) (*domain.TopicView, error) {
	var view domain.TopicView
	if err := scanTopicInto(&view.Topic, row,
		&view.SubtopicCount, &view.TotalSessions, &view.AverageCompletionRate,
	); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetTopic retrieves a topic by ID.
func (q *queries) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics t WHERE t.id = ?`, id)
	var topic domain.Topic
	err := scanTopicInto(&topic, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic row: %w", err)
	}
	return &topic, nil
}

// UpsertTopic creates or updates a topic record.
func (s *SQLiteStore) UpsertTopic(ctx context.Context, topic *domain.Topic) error {
	content := []byte("{}")
	if topic.Content != nil {
		var err error
		if content, err = json.Marshal(topic.Content); err != nil {
			return fmt.Errorf("encode topic content: %w", err)
		}
	}

	query := `
	INSERT INTO topics (id, title, description, content_json, difficulty_level,
		parent_id, agent_id, engagement_score, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		content_json = excluded.content_json,
		difficulty_level = excluded.difficulty_level,
		parent_id = excluded.parent_id,
		agent_id = excluded.agent_id,
		engagement_score = excluded.engagement_score,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		topic.ID, topic.Title, topic.Description, string(content), topic.DifficultyLevel,
		nullString(topic.ParentID), nullString(topic.AgentID), topic.EngagementScore,
		topic.CreatedAt.Unix(), topic.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	return nil
}

// ListTopics returns every topic ordered by title.
func (s *SQLiteStore) ListTopics(ctx context.Context) ([]*domain.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics t ORDER BY t.title, t.id`)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer closeRows(rows, "topics")

	var topics []*domain.Topic
	for rows.Next() {
		var topic domain.Topic
		if err := scanTopicInto(&topic, rows); err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		topics = append(topics, &topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// ListTopicViews returns topics under filter.ParentID, or root topics when
// it is empty, with usage statistics.
func (s *SQLiteStore) ListTopicViews(ctx context.Context, filter TopicFilter) ([]*domain.TopicView, error) {
	query := `SELECT ` + topicColumns + topicStatsColumns + ` FROM topics t`
	var args []any
	if filter.ParentID != "" {
		query += ` WHERE t.parent_id = ?`
		args = append(args, filter.ParentID)
	} else {
		query += ` WHERE t.parent_id IS NULL`
	}
	query += ` ORDER BY t.title, t.id LIMIT ? OFFSET ?`
	args = append(args, pageLimit(filter.Limit), max(filter.Skip, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topic views: %w", err)
	}
	defer closeRows(rows, "topic views")

	views := []*domain.TopicView{}
	for rows.Next() {
		view, err := scanTopicView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic view row: %w", err)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic views: %w", err)
	}
	return views, nil
}

// GetTopicView returns one topic with usage statistics.
func (s *SQLiteStore) GetTopicView(ctx context.Context, id string) (*domain.TopicView, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+topicStatsColumns+` FROM topics t WHERE t.id = ?`, id)
	view, err := scanTopicView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic view row: %w", err)
	}
	return view, nil
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
