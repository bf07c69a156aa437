package domain

import (
	"math"
	"time"
)

// Session is one user's attempt at a topic, bound to an agent and a transcript.
// AgentID is copied from the topic at creation and never follows later
// reassignments.
type Session struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	TopicID         string          `json:"topic_id"`
	AgentID         string          `json:"agent_id"`
	IsActive        bool            `json:"is_active"`
	Duration        int             `json:"duration"`
	CompletionRate  float64         `json:"completion_rate"`
	InteractionData InteractionData `json:"interaction_data"`
	FeedbackScore   *int            `json:"feedback_score,omitempty"`
	AgentState      map[string]any  `json:"agent_state,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewSession returns a fresh active session with all counters at zero.
func NewSession(id, userID, topicID, agentID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		TopicID:   topicID,
		AgentID:   agentID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsComplete returns true once the completion rate reached 1.0.
func (s *Session) IsComplete() bool {
	return s.CompletionRate >= 1.0
}

// RaiseCompletionRate clamps candidate to [0, 1] and stores it only if it is
// higher than the current rate. It returns the resulting rate.
func (s *Session) RaiseCompletionRate(candidate float64) float64 {
	if math.IsNaN(candidate) {
		candidate = 0
	}
	candidate = math.Max(0, math.Min(1, candidate))
	if candidate > s.CompletionRate {
		s.CompletionRate = candidate
	}
	return s.CompletionRate
}

// ValidFeedbackScore reports whether score is in the accepted 1..5 range.
func ValidFeedbackScore(score int) bool {
	return score >= 1 && score <= 5
}
