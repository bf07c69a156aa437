// Package tutor orchestrates tutoring sessions: creation, initialization and
// turn processing against a text-generation backend. Every operation that
// writes runs in exactly one store transaction.
package tutor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/lock"
	"github.com/ashureev/tutorhub/internal/provider"
	"github.com/ashureev/tutorhub/internal/store"
	"github.com/google/uuid"
)

// Generator produces assistant replies.
type Generator interface {
	Send(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*provider.Reply, error)
}

// Refresher receives best-effort post-turn analytics requests.
type Refresher interface {
	Enqueue(sessionID string)
}

// Config controls turn processing.
type Config struct {
	// ContextWindow is the number of prior messages sent with each turn.
	ContextWindow int
	// ReminderThreshold is the prior message count above which the agent's
	// reminder is prefixed to the provider-bound user text.
	ReminderThreshold int
}

// DefaultConfig returns the default turn settings.
func DefaultConfig() Config {
	return Config{ContextWindow: 10, ReminderThreshold: 20}
}

// Service implements the session orchestrator.
type Service struct {
	repo      store.Repository
	gen       Generator
	locks     lock.Locker
	refresher Refresher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithRefresher sets the analytics refresher notified after each turn.
func WithRefresher(r Refresher) Option {
	return func(s *Service) {
		s.refresher = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides how entity IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates a session orchestrator.
func NewService(repo store.Repository, gen Generator, locks lock.Locker, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = lock.NewMemory()
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultConfig().ContextWindow
	}
	s := &Service{
		repo:   repo,
		gen:    gen,
		locks:  locks,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// loadAgent resolves a session's agent and checks it can be used.
func loadAgent(ctx context.Context, tx store.Reader, agentID string) (*domain.Agent, error) {
	agent, err := tx.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &domain.NotFoundError{Resource: "agent", ID: agentID}
	}
	if !agent.IsActive {
		return nil, &domain.ConfigurationError{AgentID: agent.ID, Message: "agent is not active"}
	}
	return agent, nil
}

// ownedSession loads a session that belongs to user. Sessions of other users
// are reported as missing.
func ownedSession(ctx context.Context, tx store.Reader, user *domain.User, sessionID string) (*domain.Session, error) {
	sess, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != user.ID {
		return nil, &domain.NotFoundError{Resource: "session", ID: sessionID}
	}
	return sess, nil
}
