package domain

import (
	"encoding/json"
	"testing"
)

func TestModelParamsKeepsExtensionKeys(t *testing.T) {
	var p ModelParams
	if err := json.Unmarshal([]byte(`{"model":"gpt-4o","temperature":0.2,"max_tokens":512,"top_p":0.9}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if p.Model != "gpt-4o" || p.MaxTokens != 512 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if p.Temperature == nil || *p.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", p.Temperature)
	}
	if string(p.Extra["top_p"]) != "0.9" {
		t.Fatalf("expected top_p in Extra, got %s", p.Extra["top_p"])
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if back["top_p"] != 0.9 {
		t.Fatalf("expected top_p to round trip, got %v", back["top_p"])
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if got := (ModelParams{}).MaxTokensOrDefault(); got != DefaultMaxTokens {
		t.Fatalf("expected default %d, got %d", DefaultMaxTokens, got)
	}
	if got := (ModelParams{MaxTokens: 10}).MaxTokensOrDefault(); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestProviderSelectorDefaultsToOpenAI(t *testing.T) {
	a := &Agent{}
	if a.ProviderSelector() != ProviderOpenAI {
		t.Fatalf("expected openai, got %q", a.ProviderSelector())
	}
}
