package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/tutorhub/internal/domain"
)

func newOpenAITestServer(t *testing.T, handler func(w http.ResponseWriter, req map[string]any)) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "default-model"})
}

func TestOpenAIGenerate(t *testing.T) {
	var gotReq map[string]any
	p := newOpenAITestServer(t, func(w http.ResponseWriter, req map[string]any) {
		gotReq = req
		_, _ = w.Write([]byte(`{
			"id": "c1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {
				"role": "assistant", "content": "Pipes connect commands.",
				"tool_calls": [{"id": "t1", "type": "function", "function": {
					"name": "report_progress", "arguments": "{\"completion_rate\":0.3}"}}]
			}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	agent := &domain.Agent{ID: "a1", Params: domain.ModelParams{Model: "gpt-4o", CompletionTool: true}}
	reply, err := p.Generate(context.Background(), agent, []domain.PromptMessage{
		{Role: domain.RoleSystem, Content: "teach"},
		{Role: domain.RoleUser, Content: "what is a pipe"},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if reply.Content != "Pipes connect commands." || reply.Tokens != 15 || reply.CompletionRate != 0.3 {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if gotReq["model"] != "gpt-4o" {
		t.Errorf("expected agent model to win, got %v", gotReq["model"])
	}
	if gotReq["max_tokens"] != float64(domain.DefaultMaxTokens) {
		t.Errorf("expected default max tokens, got %v", gotReq["max_tokens"])
	}
	if tools, _ := gotReq["tools"].([]any); len(tools) != 1 {
		t.Errorf("expected progress tool to be offered, got %v", gotReq["tools"])
	}
	if msgs, _ := gotReq["messages"].([]any); len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %v", gotReq["messages"])
	}
}

func TestOpenAIGenerateUsesDefaultModel(t *testing.T) {
	var gotReq map[string]any
	p := newOpenAITestServer(t, func(w http.ResponseWriter, req map[string]any) {
		gotReq = req
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"total_tokens":1}}`))
	})

	if _, err := p.Generate(context.Background(), &domain.Agent{}, []domain.PromptMessage{{Role: domain.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gotReq["model"] != "default-model" {
		t.Errorf("expected default model, got %v", gotReq["model"])
	}
	if _, ok := gotReq["tools"]; ok {
		t.Errorf("expected no tools without completion_tool")
	}
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := p.Generate(context.Background(), &domain.Agent{}, []domain.PromptMessage{{Role: domain.RoleUser, Content: "hi"}})

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Status != http.StatusTooManyRequests || pe.Message != "slow down" {
		t.Fatalf("unexpected provider error %+v", pe)
	}
}

func TestOpenAIGenerateEmptyContent(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, _ map[string]any) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	})

	_, err := p.Generate(context.Background(), &domain.Agent{}, []domain.PromptMessage{{Role: domain.RoleUser, Content: "hi"}})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestOpenAIGenerateToolCallOnly(t *testing.T) {
	var reqs []map[string]any
	p := newOpenAITestServer(t, func(w http.ResponseWriter, req map[string]any) {
		reqs = append(reqs, req)
		if len(reqs) == 1 {
			_, _ = w.Write([]byte(`{
				"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
					"role": "assistant", "content": null,
					"tool_calls": [{"id": "call-1", "type": "function", "function": {
						"name": "report_progress", "arguments": "{\"completion_rate\":0.6}"}}]
				}}],
				"usage": {"total_tokens": 12}
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Nice work on pipes."}}],
			"usage": {"total_tokens": 20}
		}`))
	})

	agent := &domain.Agent{ID: "a1", Params: domain.ModelParams{CompletionTool: true}}
	reply, err := p.Generate(context.Background(), agent, []domain.PromptMessage{{Role: domain.RoleUser, Content: "done"}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.Content != "Nice work on pipes." || reply.CompletionRate != 0.6 || reply.Tokens != 32 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[1]["tool_choice"] != "none" {
		t.Errorf("expected tool_choice none on follow-up, got %v", reqs[1]["tool_choice"])
	}
	msgs, _ := reqs[1]["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected user, assistant and tool messages, got %v", msgs)
	}
	toolMsg, _ := msgs[2].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "call-1" {
		t.Errorf("unexpected tool message %v", toolMsg)
	}
}
