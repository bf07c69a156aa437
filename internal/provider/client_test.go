package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
)

type backendFunc func(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error)

func (f backendFunc) Generate(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error) {
	return f(ctx, agent, messages)
}

func TestSendUnknownSelector(t *testing.T) {
	c := NewClient(time.Second, nil)
	_, err := c.Send(context.Background(), &domain.Agent{ID: "a1", Provider: "nope"}, nil)

	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.AgentID != "a1" {
		t.Errorf("expected agent a1, got %q", cfgErr.AgentID)
	}
}

func TestSendWrapsBackendErrors(t *testing.T) {
	c := NewClient(time.Second, nil)
	cause := errors.New("connection refused")
	c.Register("fake", backendFunc(func(context.Context, *domain.Agent, []domain.PromptMessage) (*Reply, error) {
		return nil, cause
	}))

	_, err := c.Send(context.Background(), &domain.Agent{ID: "a1", Provider: "fake"}, nil)

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Provider != "fake" || !errors.Is(err, cause) {
		t.Fatalf("unexpected provider error %+v", pe)
	}
}

func TestSendTimesOut(t *testing.T) {
	c := NewClient(20*time.Millisecond, nil)
	c.Register("slow", backendFunc(func(ctx context.Context, _ *domain.Agent, _ []domain.PromptMessage) (*Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := c.Send(context.Background(), &domain.Agent{Provider: "slow"}, nil)

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !strings.Contains(pe.Message, "timed out") {
		t.Fatalf("expected timeout message, got %q", pe.Message)
	}
}

func TestEchoRepeatsLastUserMessage(t *testing.T) {
	c := NewClient(time.Second, nil)
	c.Register(domain.ProviderEcho, Echo{})

	reply, err := c.Send(context.Background(), &domain.Agent{Provider: domain.ProviderEcho}, []domain.PromptMessage{
		{Role: domain.RoleSystem, Content: "be nice"},
		{Role: domain.RoleUser, Content: "what is ls"},
		{Role: domain.RoleAssistant, Content: "a command"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply.Content != "You said: what is ls" || reply.Tokens != 5 || reply.CompletionRate != 0 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestCompletionFromArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want float64
	}{
		{"number", map[string]any{"completion_rate": 0.4}, 0.4},
		{"string", map[string]any{"completion_rate": "0.25"}, 0.25},
		{"missing", map[string]any{}, 0},
		{"garbage", map[string]any{"completion_rate": "lots"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := completionFromArgs(tt.args); got != tt.want {
				t.Errorf("completionFromArgs() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := completionFromJSON(`{"completion_rate":0.7}`); got != 0.7 {
		t.Errorf("completionFromJSON() = %v, want 0.7", got)
	}
}
