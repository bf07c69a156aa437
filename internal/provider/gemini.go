package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/tutorhub/internal/domain"
	"google.golang.org/genai"
)

// contentGenerator is the part of the genai client the backend uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements Backend on the Gemini API.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini backend. model is used when the agent does not
// name one.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{models: client.Models, model: model}, nil
}

// Generate implements Backend. A reply that only calls the progress tool is
// answered with a function response so the model produces its text.
func (g *Gemini) Generate(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error) {
	model := agent.Params.Model
	if model == "" {
		model = g.model
	}
	contents, cfg := geminiRequest(agent, messages)

	res, err := g.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, geminiError(err)
	}
	reply := geminiReply(res)

	calls := res.FunctionCalls()
	if reply.Content == "" && len(calls) > 0 {
		contents = append(contents, res.Candidates[0].Content, functionResponses(calls))
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone},
		}
		res, err = g.models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return nil, geminiError(err)
		}
		next := geminiReply(res)
		reply.Content = next.Content
		reply.Tokens += next.Tokens
	}

	if reply.Content == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderGemini, Message: "empty response content"}
	}
	return reply, nil
}

func geminiError(err error) error {
	return &domain.ProviderError{Provider: domain.ProviderGemini, Message: err.Error(), Err: err}
}

// functionResponses acknowledges every function call of a model turn.
func functionResponses(calls []*genai.FunctionCall) *genai.Content {
	parts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, map[string]any{"status": "recorded"}))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

// geminiRequest maps the prompt onto Gemini contents. System messages are
// joined into the system instruction; assistant turns use the model role.
func geminiRequest(agent *domain.Agent, messages []domain.PromptMessage) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(agent.Params.MaxTokensOrDefault()),
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if agent.Params.Temperature != nil {
		temp := float32(*agent.Params.Temperature)
		cfg.Temperature = &temp
	}
	if agent.Params.CompletionTool {
		lo, hi := 0.0, 1.0
		cfg.Tools = []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        progressToolName,
				Description: progressToolDescription,
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						progressArgName: {
							Type:        genai.TypeNumber,
							Description: progressArgDescription,
							Minimum:     &lo,
							Maximum:     &hi,
						},
					},
					Required: []string{progressArgName},
				},
			}},
		}}
	}
	return contents, cfg
}

// geminiReply reads text, usage and the progress signal. The text may be empty.
func geminiReply(res *genai.GenerateContentResponse) *Reply {
	reply := &Reply{Content: res.Text()}
	if res.UsageMetadata != nil {
		reply.Tokens = int(res.UsageMetadata.TotalTokenCount)
	}
	for _, call := range res.FunctionCalls() {
		if call.Name == progressToolName {
			reply.CompletionRate = completionFromArgs(call.Args)
		}
	}
	return reply
}
