// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
)

// MaxPageSize caps list queries.
const MaxPageSize = 100

// Reader holds the lookups shared by the repository and open transactions.
// Lookups return (nil, nil) when the row does not exist.
type Reader interface {
	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// GetTopic retrieves a topic by ID.
	GetTopic(ctx context.Context, id string) (*domain.Topic, error)

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// FindActiveSession returns the most recently created active session for
	// (userID, topicID). With incompleteOnly set, sessions with a completion
	// rate of 1.0 are ignored.
	FindActiveSession(ctx context.Context, userID, topicID string, incompleteOnly bool) (*domain.Session, error)

	// CountMessages returns the number of transcript entries of a session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// RecentMessages returns up to limit of the latest transcript entries of a
	// session, oldest first, skipping the message with excludeID.
	RecentMessages(ctx context.Context, sessionID string, limit int, excludeID string) ([]*domain.ChatMessage, error)
}

// Tx is a unit of work. Everything written through a Tx commits or rolls
// back together.
type Tx interface {
	Reader

	// InsertSession stores a new session.
	InsertSession(ctx context.Context, session *domain.Session) error

	// UpdateSession writes the mutable fields of a session.
	UpdateSession(ctx context.Context, session *domain.Session) error

	// DeactivateSession marks a session inactive.
	DeactivateSession(ctx context.Context, id string, now time.Time) error

	// AppendMessage adds a transcript entry and fills in its Seq.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error
}

// SessionFilter selects sessions for list queries.
type SessionFilter struct {
	UserID     string
	TopicID    string
	ActiveOnly bool
	Skip       int
	Limit      int
}

// TopicFilter selects topics for list queries. An empty ParentID selects
// root topics.
type TopicFilter struct {
	ParentID string
	Skip     int
	Limit    int
}

// Repository defines the interface for persisting tutoring data.
type Repository interface {
	Reader

	// WithTx runs fn inside a write transaction. A non-nil error from fn
	// rolls the transaction back and is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpsertUser creates or updates a user record keyed by ID.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpsertAgent creates or updates an agent record.
	UpsertAgent(ctx context.Context, agent *domain.Agent) error

	// ListAgents returns all agents ordered by name.
	ListAgents(ctx context.Context) ([]*domain.Agent, error)

	// UpsertTopic creates or updates a topic record.
	UpsertTopic(ctx context.Context, topic *domain.Topic) error

	// ListTopics returns every topic ordered by title.
	ListTopics(ctx context.Context) ([]*domain.Topic, error)

	// ListTopicViews returns topics with usage statistics.
	ListTopicViews(ctx context.Context, filter TopicFilter) ([]*domain.TopicView, error)

	// GetTopicView returns one topic with usage statistics.
	GetTopicView(ctx context.Context, id string) (*domain.TopicView, error)

	// GetSessionView returns one session with display fields.
	GetSessionView(ctx context.Context, id string) (*domain.SessionView, error)

	// ListSessionViews returns sessions newest first.
	ListSessionViews(ctx context.Context, filter SessionFilter) ([]*domain.SessionView, error)

	// ListMessages returns a page of a transcript counted from the newest
	// entry, ordered oldest first.
	ListMessages(ctx context.Context, sessionID string, skip, limit int) ([]*domain.ChatMessage, error)

	// SessionStats summarizes a user's sessions.
	SessionStats(ctx context.Context, userID string) (*domain.SessionStats, error)

	// SystemStats returns platform-wide counters.
	SystemStats(ctx context.Context) (*domain.SystemStats, error)

	// RecordAnalytics stores the derived message count of a session under
	// the message_count and last_updated interaction keys.
	RecordAnalytics(ctx context.Context, sessionID string, now time.Time) error

	// DeleteStaleSessions removes sessions with no progress created before cutoff.
	DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}
