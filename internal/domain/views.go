package domain

import "time"

// SessionView is a session with display fields resolved by the query layer.
type SessionView struct {
	Session
	TopicTitle   string `json:"topic_title"`
	UserFullName string `json:"user_full_name,omitempty"`
}

// TopicView is a topic with computed usage statistics.
type TopicView struct {
	Topic
	SubtopicCount         int     `json:"subtopic_count"`
	TotalSessions         int     `json:"total_sessions"`
	AverageCompletionRate float64 `json:"average_completion_rate"`
}

// TopicNode is one node of a topic hierarchy.
type TopicNode struct {
	Topic
	Subtopics []*TopicNode `json:"subtopics"`
}

// ChatHistory is one page of a transcript, oldest first.
type ChatHistory struct {
	Messages      []*ChatMessage `json:"messages"`
	HasMore       bool           `json:"has_more"`
	TotalMessages int            `json:"total_messages"`
}

// ActivityEntry is one line of a user's recent activity.
type ActivityEntry struct {
	Date       time.Time `json:"date"`
	Topic      string    `json:"topic"`
	Completion float64   `json:"completion"`
}

// SessionStats summarizes a user's progress across sessions.
type SessionStats struct {
	TotalDurationMinutes  int             `json:"total_duration_minutes"`
	AverageCompletionRate float64         `json:"average_completion_rate"`
	CompletedTopics       int             `json:"completed_topics"`
	RecentActivity        []ActivityEntry `json:"recent_activity"`
}

// SystemStats are platform-wide counters for operators.
type SystemStats struct {
	TotalUsers            int
	ActiveUsers           int
	TotalTopics           int
	TotalSessions         int
	AverageCompletionRate float64
}
