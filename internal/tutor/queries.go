package tutor

import (
	"context"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/store"
)

// DefaultHistoryPage is the default chat history page size.
const DefaultHistoryPage = 50

// SessionUpdate carries the fields a user may change on a session. Nil
// fields are left alone.
type SessionUpdate struct {
	Duration        *int
	FeedbackScore   *int
	CompletionRate  *float64
	InteractionData map[string]any
}

// GetSession returns a session owned by user. Admins may read any session.
func (s *Service) GetSession(ctx context.Context, user *domain.User, sessionID string) (*domain.SessionView, error) {
	view, err := s.repo.GetSessionView(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if view == nil || (view.UserID != user.ID && !user.IsAdmin()) {
		return nil, &domain.NotFoundError{Resource: "session", ID: sessionID}
	}
	return view, nil
}

// ListSessions returns the user's active sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, user *domain.User, topicID string, skip, limit int) ([]*domain.SessionView, error) {
	if err := validatePage(skip, limit); err != nil {
		return nil, err
	}
	return s.repo.ListSessionViews(ctx, store.SessionFilter{
		UserID:     user.ID,
		TopicID:    topicID,
		ActiveOnly: true,
		Skip:       skip,
		Limit:      limit,
	})
}

// ListAllSessions returns sessions across users. Callers must restrict it to
// administrators.
func (s *Service) ListAllSessions(ctx context.Context, filter store.SessionFilter) ([]*domain.SessionView, error) {
	if err := validatePage(filter.Skip, filter.Limit); err != nil {
		return nil, err
	}
	return s.repo.ListSessionViews(ctx, filter)
}

// UpdateSession applies a user's changes to one of their sessions. The
// completion rate only ever goes up.
func (s *Service) UpdateSession(ctx context.Context, user *domain.User, sessionID string, upd SessionUpdate) (*domain.Session, error) {
	if upd.Duration != nil && *upd.Duration < 0 {
		return nil, &domain.ValidationError{Field: "duration", Message: "must not be negative"}
	}
	if upd.FeedbackScore != nil && !domain.ValidFeedbackScore(*upd.FeedbackScore) {
		return nil, &domain.ValidationError{Field: "feedback_score", Message: "must be between 1 and 5"}
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated *domain.Session
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		sess, err := ownedSession(ctx, tx, user, sessionID)
		if err != nil {
			return err
		}

		if upd.Duration != nil {
			sess.Duration = *upd.Duration
		}
		if upd.FeedbackScore != nil {
			score := *upd.FeedbackScore
			sess.FeedbackScore = &score
		}
		if upd.CompletionRate != nil {
			sess.RaiseCompletionRate(*upd.CompletionRate)
		}
		if upd.InteractionData != nil {
			if err := sess.InteractionData.Merge(upd.InteractionData); err != nil {
				return &domain.ValidationError{Field: "interaction_data", Message: err.Error()}
			}
		}
		sess.UpdatedAt = s.now()

		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		updated = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// History returns one page of a session transcript, oldest first. skip counts
// back from the newest message.
func (s *Service) History(ctx context.Context, user *domain.User, sessionID string, skip, limit int) (*domain.ChatHistory, error) {
	if limit == 0 {
		limit = DefaultHistoryPage
	}
	if err := validatePage(skip, limit); err != nil {
		return nil, err
	}

	sess, err := ownedSession(ctx, s.repo, user, sessionID)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sess.ID, skip, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*domain.ChatMessage{}
	}

	return &domain.ChatHistory{
		Messages:      msgs,
		HasMore:       skip+len(msgs) < total,
		TotalMessages: total,
	}, nil
}

// Stats summarizes the user's progress.
func (s *Service) Stats(ctx context.Context, user *domain.User) (*domain.SessionStats, error) {
	return s.repo.SessionStats(ctx, user.ID)
}

func validatePage(skip, limit int) error {
	if skip < 0 {
		return &domain.ValidationError{Field: "skip", Message: "must not be negative"}
	}
	if limit < 0 || limit > store.MaxPageSize {
		return &domain.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	return nil
}
