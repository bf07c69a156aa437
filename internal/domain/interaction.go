package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Interaction data keys shared with analytics consumers.
const (
	KeyTotalMessages   = "total_messages"
	KeyTotalTokens     = "total_tokens"
	KeyLastInteraction = "last_interaction"

	// Written by the analytics refresher only.
	KeyMessageCount = "message_count"
	KeyLastUpdated  = "last_updated"
)

// InteractionData holds per-session counters. Keys written by other
// collaborators are kept verbatim in Extra.
type InteractionData struct {
	TotalMessages   int
	TotalTokens     int
	LastInteraction time.Time
	Extra           map[string]json.RawMessage
}

// RecordTurn folds one completed turn into the counters.
func (d *InteractionData) RecordTurn(tokens int, now time.Time) {
	d.TotalMessages++
	d.TotalTokens += tokens
	d.LastInteraction = now.UTC()
}

// Set stores a value under key, routing known keys to their typed fields.
func (d *InteractionData) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode interaction value %q: %w", key, err)
	}
	return d.setRaw(key, raw)
}

// Merge applies patch on top of d without dropping keys absent from patch.
func (d *InteractionData) Merge(patch map[string]any) error {
	for k, v := range patch {
		if err := d.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the raw JSON stored under an extension key.
func (d *InteractionData) Get(key string) (json.RawMessage, bool) {
	v, ok := d.Extra[key]
	return v, ok
}

func (d *InteractionData) setRaw(key string, raw json.RawMessage) error {
	switch key {
	case KeyTotalMessages, KeyTotalTokens:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if key == KeyTotalMessages {
			d.TotalMessages = int(n)
		} else {
			d.TotalTokens = int(n)
		}
	case KeyLastInteraction:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if s == "" {
			d.LastInteraction = time.Time{}
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		d.LastInteraction = t
	default:
		if d.Extra == nil {
			d.Extra = make(map[string]json.RawMessage)
		}
		d.Extra[key] = append(json.RawMessage(nil), raw...)
	}
	return nil
}

// MarshalJSON writes the typed counters and Extra as one flat object.
func (d InteractionData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		out[k] = v
	}
	if d.TotalMessages != 0 {
		out[KeyTotalMessages] = d.TotalMessages
	}
	if d.TotalTokens != 0 {
		out[KeyTotalTokens] = d.TotalTokens
	}
	if !d.LastInteraction.IsZero() {
		out[KeyLastInteraction] = d.LastInteraction.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a JSON object or null. Known keys holding values of
// the wrong type load as zero so a stray write cannot make a session
// unreadable; the next save replaces them.
func (d *InteractionData) UnmarshalJSON(data []byte) error {
	*d = InteractionData{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode interaction data: %w", err)
	}
	for k, v := range raw {
		_ = d.setRaw(k, v)
	}
	return nil
}
