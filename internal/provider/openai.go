package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Model is used when the agent does not name one.
	Model string
}

// OpenAI implements Backend for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Generate implements Backend. A reply that only calls the progress tool is
// answered with tool results so the model produces its text.
func (p *OpenAI) Generate(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error) {
	req := p.buildRequest(agent, messages)

	msg, reply, err := p.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if reply.Content == "" && len(msg.ToolCalls) > 0 {
		req.Messages = append(req.Messages, msg)
		for _, call := range msg.ToolCalls {
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    `{"status":"recorded"}`,
				ToolCallID: call.ID,
			})
		}
		req.ToolChoice = "none"

		_, next, err := p.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		reply.Content = next.Content
		reply.Tokens += next.Tokens
	}

	if reply.Content == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderOpenAI, Message: "empty response content"}
	}
	return reply, nil
}

// complete runs one chat completion and reads text, usage and the progress
// signal from its first choice. The text may be empty.
func (p *OpenAI) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionMessage, *Reply, error) {
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, nil, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, nil, &domain.ProviderError{Provider: domain.ProviderOpenAI, Message: "no choices in response"}
	}

	msg := resp.Choices[0].Message
	reply := &Reply{
		Content: msg.Content,
		Tokens:  resp.Usage.TotalTokens,
	}
	for _, call := range msg.ToolCalls {
		if call.Function.Name == progressToolName {
			reply.CompletionRate = completionFromJSON(call.Function.Arguments)
		}
	}
	return msg, reply, nil
}

func (p *OpenAI) buildRequest(agent *domain.Agent, messages []domain.PromptMessage) openai.ChatCompletionRequest {
	model := agent.Params.Model
	if model == "" {
		model = p.model
	}

	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  openaiMessages,
		MaxTokens: agent.Params.MaxTokensOrDefault(),
	}
	if agent.Params.Temperature != nil {
		req.Temperature = float32(*agent.Params.Temperature)
	}
	if agent.Params.CompletionTool {
		req.Tools = []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        progressToolName,
				Description: progressToolDescription,
				Parameters:  progressSchema(),
			},
		}}
	}
	return req
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider: domain.ProviderOpenAI,
			Status:   apiErr.HTTPStatusCode,
			Message:  apiErr.Message,
			Err:      err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.ProviderError{
			Provider: domain.ProviderOpenAI,
			Status:   reqErr.HTTPStatusCode,
			Message:  fmt.Sprintf("request failed: %v", reqErr.Err),
			Err:      err,
		}
	}
	return fmt.Errorf("create chat completion: %w", err)
}
