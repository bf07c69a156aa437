package tutor

import (
	"context"
	"strings"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/prompt"
	"github.com/ashureev/tutorhub/internal/store"
)

// ProcessTurn asks the agent's backend for a reply to the user's text and
// stores both messages. It returns the user and assistant messages in that
// order. The user message stays provisional until the reply arrives; if
// anything fails, nothing from the turn is kept.
//
// No transaction is open while the backend is called, so turns on other
// sessions proceed in parallel. Turns on the same session are serialized by
// the session lock.
func (s *Service) ProcessTurn(ctx context.Context, user *domain.User, sessionID, text string) ([]*domain.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "content", Message: "message cannot be empty"}
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out, err := s.runTurn(ctx, user, sessionID, text)
	if err != nil {
		s.logger.Warn("turn failed", "session_id", sessionID, "user_id", user.ID, "error", err)
		return nil, err
	}

	if s.refresher != nil {
		s.refresher.Enqueue(sessionID)
	}
	return out, nil
}

// turnInput is what a turn reads before calling the backend.
type turnInput struct {
	agent    *domain.Agent
	messages []domain.PromptMessage
}

func (s *Service) runTurn(ctx context.Context, user *domain.User, sessionID, text string) ([]*domain.ChatMessage, error) {
	in, err := s.prepareTurn(ctx, user, sessionID, text)
	if err != nil {
		return nil, err
	}

	now := s.now()
	userMsg := &domain.ChatMessage{
		ID:        s.newID(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: now,
	}

	reply, err := s.gen.Send(ctx, in.agent, in.messages)
	if err != nil {
		return nil, err
	}

	assistantMsg := &domain.ChatMessage{
		ID:        s.newID(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   reply.Content,
		Tokens:    reply.Tokens,
		CreatedAt: s.now(),
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		sess, err := ownedSession(ctx, tx, user, sessionID)
		if err != nil {
			return err
		}
		if !sess.IsActive {
			return &domain.ValidationError{Field: "session_id", Message: "session is not active"}
		}

		if err := tx.AppendMessage(ctx, userMsg); err != nil {
			return err
		}
		if err := tx.AppendMessage(ctx, assistantMsg); err != nil {
			return err
		}

		sess.RaiseCompletionRate(reply.CompletionRate)
		sess.InteractionData.RecordTurn(reply.Tokens, now)
		sess.UpdatedAt = now
		return tx.UpdateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return []*domain.ChatMessage{userMsg, assistantMsg}, nil
}

// prepareTurn loads the session and builds the provider-bound messages: the
// context window followed by the new user text.
func (s *Service) prepareTurn(ctx context.Context, user *domain.User, sessionID, text string) (*turnInput, error) {
	sess, err := ownedSession(ctx, s.repo, user, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, &domain.ValidationError{Field: "session_id", Message: "session is not active"}
	}
	agent, err := loadAgent(ctx, s.repo, sess.AgentID)
	if err != nil {
		return nil, err
	}

	prior, err := s.repo.CountMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	window, err := s.repo.RecentMessages(ctx, sess.ID, s.cfg.ContextWindow, "")
	if err != nil {
		return nil, err
	}

	outbound := text
	if prior > s.cfg.ReminderThreshold && agent.ReminderMessage != "" {
		topic, err := s.repo.GetTopic(ctx, sess.TopicID)
		if err != nil {
			return nil, err
		}
		reminder, err := prompt.Render(agent.ReminderMessage, templateContext(user, topic, sess))
		if err != nil {
			return nil, &domain.ConfigurationError{AgentID: agent.ID, Message: "reminder message: " + err.Error()}
		}
		outbound = withReminder(reminder, text)
	}

	messages := make([]domain.PromptMessage, 0, len(window)+1)
	for _, m := range window {
		messages = append(messages, domain.PromptMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, domain.PromptMessage{Role: domain.RoleUser, Content: outbound})

	return &turnInput{agent: agent, messages: messages}, nil
}

// withReminder prefixes the agent's reminder to the user's text.
func withReminder(reminder, text string) string {
	return "Things to keep in mind for you: " + reminder + "\n---\nMy message below:\n\n" + text
}
