package domain

import "time"

// Topic is a unit of learning content. Topics form a tree through ParentID.
type Topic struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Content         map[string]any `json:"content,omitempty"`
	DifficultyLevel int            `json:"difficulty_level"`
	ParentID        string         `json:"parent_id,omitempty"`
	AgentID         string         `json:"agent_id,omitempty"`
	EngagementScore float64        `json:"engagement_score"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// HasAgent returns true if sessions can be started on the topic.
func (t *Topic) HasAgent() bool {
	return t.AgentID != ""
}
