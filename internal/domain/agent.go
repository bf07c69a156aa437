package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider selectors understood by the provider client.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderGRPC   = "grpc"
	ProviderEcho   = "echo"
)

// Agent is the static configuration of one AI persona. The orchestration
// core only reads agents.
type Agent struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Description     string      `json:"description,omitempty" yaml:"description"`
	Provider        string      `json:"ai_service" yaml:"provider"`
	Params          ModelParams `json:"config" yaml:"config"`
	SystemPrompt    string      `json:"system_prompt" yaml:"system_prompt"`
	WelcomeMessage  string      `json:"welcome_message" yaml:"welcome_message"`
	ReminderMessage string      `json:"reminder_message,omitempty" yaml:"reminder_message"`
	IsActive        bool        `json:"is_active" yaml:"is_active"`
	CreatedAt       time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time   `json:"updated_at" yaml:"-"`
}

// ProviderSelector returns the backend selector, defaulting to openai.
func (a *Agent) ProviderSelector() string {
	if a.Provider == "" {
		return ProviderOpenAI
	}
	return a.Provider
}

// ModelParams are the generation parameters of an agent. Keys other than the
// known ones are kept in Extra and survive a JSON round trip.
type ModelParams struct {
	Model          string                     `yaml:"model"`
	Temperature    *float64                   `yaml:"temperature"`
	MaxTokens      int                        `yaml:"max_tokens"`
	CompletionTool bool                       `yaml:"completion_tool"`
	Extra          map[string]json.RawMessage `yaml:"-"`
}

const (
	paramModel          = "model"
	paramTemperature    = "temperature"
	paramMaxTokens      = "max_tokens"
	paramCompletionTool = "completion_tool"
)

// DefaultMaxTokens is used when an agent does not set max_tokens.
const DefaultMaxTokens = 4096

// MaxTokensOrDefault returns MaxTokens or DefaultMaxTokens when unset.
func (p ModelParams) MaxTokensOrDefault() int {
	if p.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return p.MaxTokens
}

// MarshalJSON flattens the typed fields and Extra into one object.
func (p ModelParams) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Model != "" {
		out[paramModel] = p.Model
	}
	if p.Temperature != nil {
		out[paramTemperature] = *p.Temperature
	}
	if p.MaxTokens > 0 {
		out[paramMaxTokens] = p.MaxTokens
	}
	if p.CompletionTool {
		out[paramCompletionTool] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys into typed fields.
func (p *ModelParams) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode model params: %w", err)
	}
	*p = ModelParams{}
	for k, v := range raw {
		var err error
		switch k {
		case paramModel:
			err = json.Unmarshal(v, &p.Model)
		case paramTemperature:
			var t float64
			if err = json.Unmarshal(v, &t); err == nil {
				p.Temperature = &t
			}
		case paramMaxTokens:
			var n float64
			if err = json.Unmarshal(v, &n); err == nil {
				p.MaxTokens = int(n)
			}
		case paramCompletionTool:
			err = json.Unmarshal(v, &p.CompletionTool)
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[k] = v
		}
		if err != nil {
			return fmt.Errorf("decode model param %q: %w", k, err)
		}
	}
	return nil
}
