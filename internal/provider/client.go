// Package provider dispatches prompts to text-generation backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
)

// Reply is the normalized result of one generation call.
type Reply struct {
	Content string
	Tokens  int
	// CompletionRate is the backend's progress estimate, 0 when it sent none.
	CompletionRate float64
}

// Backend generates one reply for an agent.
type Backend interface {
	Generate(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error)
}

// Client selects a backend by the agent's provider selector.
type Client struct {
	backends map[string]Backend
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a client that bounds every call by timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backends: make(map[string]Backend),
		timeout:  timeout,
		logger:   logger,
	}
}

// Register installs a backend under selector, replacing any previous one.
func (c *Client) Register(selector string, b Backend) {
	c.backends[selector] = b
}

// Selectors returns the registered backend selectors.
func (c *Client) Selectors() []string {
	out := make([]string, 0, len(c.backends))
	for k := range c.backends {
		out = append(out, k)
	}
	return out
}

// Send dispatches messages to the agent's backend. Backend failures come
// back as *domain.ProviderError, unknown selectors as
// *domain.ConfigurationError.
func (c *Client) Send(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error) {
	selector := agent.ProviderSelector()
	backend, ok := c.backends[selector]
	if !ok {
		return nil, &domain.ConfigurationError{
			AgentID: agent.ID,
			Message: fmt.Sprintf("provider %q is not available", selector),
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := backend.Generate(ctx, agent, messages)
	if err != nil {
		c.logger.Warn("provider call failed",
			"provider", selector, "agent_id", agent.ID,
			"duration", time.Since(start), "error", err)
		return nil, asProviderError(ctx, selector, err)
	}

	c.logger.Debug("provider call completed",
		"provider", selector, "agent_id", agent.ID,
		"duration", time.Since(start), "tokens", reply.Tokens)
	return reply, nil
}

func asProviderError(ctx context.Context, selector string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = selector
		}
		return pe
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ProviderError{Provider: selector, Message: "request timed out", Err: err}
	}
	return &domain.ProviderError{Provider: selector, Message: err.Error(), Err: err}
}
