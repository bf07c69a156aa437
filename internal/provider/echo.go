package provider

import (
	"context"
	"strings"

	"github.com/ashureev/tutorhub/internal/domain"
)

// Echo is a deterministic local backend. It repeats the last user message.
type Echo struct{}

// Generate implements Backend.
func (Echo) Generate(ctx context.Context, _ *domain.Agent, messages []domain.PromptMessage) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			last = messages[i].Content
			break
		}
	}

	content := "You said: " + last
	return &Reply{
		Content: content,
		Tokens:  len(strings.Fields(content)),
	}, nil
}
