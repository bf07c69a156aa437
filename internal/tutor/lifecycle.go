package tutor

import (
	"context"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/prompt"
	"github.com/ashureev/tutorhub/internal/store"
)

// CreateSession starts a new session for user on topicID. It fails with
// *domain.ConflictError while the user has an active session on the topic
// that is not complete.
func (s *Service) CreateSession(ctx context.Context, user *domain.User, topicID string) (*domain.Session, error) {
	var created *domain.Session
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindActiveSession(ctx, user.ID, topicID, true)
		if err != nil {
			return err
		}
		if existing != nil {
			return &domain.ConflictError{SessionID: existing.ID, CompletionRate: existing.CompletionRate}
		}

		created, err = s.createInTx(ctx, tx, user, topicID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session created", "session_id", created.ID, "user_id", user.ID, "topic_id", topicID)
	return created, nil
}

// GetOrCreateSession returns the user's most recent active session on
// topicID, creating one if there is none. The boolean reports whether a
// session was created.
func (s *Service) GetOrCreateSession(ctx context.Context, user *domain.User, topicID string) (*domain.Session, bool, error) {
	var sess *domain.Session
	var created bool
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindActiveSession(ctx, user.ID, topicID, false)
		if err != nil {
			return err
		}
		if existing != nil {
			sess = existing
			return nil
		}

		sess, err = s.createInTx(ctx, tx, user, topicID)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("session created", "session_id", sess.ID, "user_id", user.ID, "topic_id", topicID)
	}
	return sess, created, nil
}

// DisableAndRecreate deactivates one of the user's active sessions and
// replaces it with a fresh session on the same topic and agent.
func (s *Service) DisableAndRecreate(ctx context.Context, user *domain.User, sessionID string) (*domain.Session, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var fresh *domain.Session
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		old, err := ownedSession(ctx, tx, user, sessionID)
		if err != nil {
			return err
		}
		if !old.IsActive {
			return &domain.NotFoundError{Resource: "session", ID: sessionID}
		}

		topic, err := tx.GetTopic(ctx, old.TopicID)
		if err != nil {
			return err
		}
		if topic == nil {
			return &domain.NotFoundError{Resource: "topic", ID: old.TopicID}
		}
		agent, err := loadAgent(ctx, tx, old.AgentID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.DeactivateSession(ctx, old.ID, now); err != nil {
			return err
		}

		fresh = domain.NewSession(s.newID(), user.ID, old.TopicID, old.AgentID, now)
		if err := tx.InsertSession(ctx, fresh); err != nil {
			return err
		}
		return s.initialize(ctx, tx, user, topic, agent, fresh)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session recreated", "old_session_id", sessionID, "session_id", fresh.ID, "user_id", user.ID)
	return fresh, nil
}

func (s *Service) createInTx(ctx context.Context, tx store.Tx, user *domain.User, topicID string) (*domain.Session, error) {
	topic, err := tx.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, &domain.NotFoundError{Resource: "topic", ID: topicID}
	}
	if !topic.HasAgent() {
		return nil, &domain.ValidationError{Field: "topic_id", Message: "topic has no agent"}
	}
	agent, err := loadAgent(ctx, tx, topic.AgentID)
	if err != nil {
		return nil, err
	}

	sess := domain.NewSession(s.newID(), user.ID, topic.ID, agent.ID, s.now())
	if err := tx.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.initialize(ctx, tx, user, topic, agent, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// initialize seeds a new transcript with the rendered system prompt and
// welcome message, in that order.
func (s *Service) initialize(ctx context.Context, tx store.Tx, user *domain.User, topic *domain.Topic, agent *domain.Agent, sess *domain.Session) error {
	data := templateContext(user, topic, sess)

	system, err := prompt.Render(agent.SystemPrompt, data)
	if err != nil {
		return &domain.ConfigurationError{AgentID: agent.ID, Message: "system prompt: " + err.Error()}
	}
	welcome, err := prompt.Render(agent.WelcomeMessage, data)
	if err != nil {
		return &domain.ConfigurationError{AgentID: agent.ID, Message: "welcome message: " + err.Error()}
	}

	now := s.now()
	for _, msg := range []*domain.ChatMessage{
		{ID: s.newID(), SessionID: sess.ID, Role: domain.RoleSystem, Content: system, CreatedAt: now},
		{ID: s.newID(), SessionID: sess.ID, Role: domain.RoleAssistant, Content: welcome, CreatedAt: now},
	} {
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// templateContext builds the data prompts are rendered against.
func templateContext(user *domain.User, topic *domain.Topic, sess *domain.Session) map[string]any {
	data := map[string]any{
		"session": map[string]any{
			"id":              sess.ID,
			"completion_rate": sess.CompletionRate,
			"duration":        sess.Duration,
		},
	}
	if user != nil {
		data["user"] = map[string]any{
			"full_name": user.FullName,
			"email":     user.Email,
			"role":      string(user.Role),
		}
	}
	if topic != nil {
		content := topic.Content
		if content == nil {
			content = map[string]any{}
		}
		data["topic"] = map[string]any{
			"title":            topic.Title,
			"description":      topic.Description,
			"difficulty_level": topic.DifficultyLevel,
			"content":          content,
		}
	}
	return data
}
