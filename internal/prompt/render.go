// Package prompt renders agent prompt templates.
//
// Templates are mustache: {{a.b.c}} looks values up through nested maps,
// sections iterate lists or push maps onto the context and inverted sections
// render for missing or falsy values. Missing names render as the empty
// string. Output is never HTML-escaped. Maps and lists interpolated directly
// render as JSON. A trailing {{ with no closing braces is kept as literal text.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

// ErrSyntax is returned for templates that cannot be parsed.
var ErrSyntax = errors.New("template syntax error")

// Render fills tmpl with values from data.
func Render(tmpl string, data map[string]any) (string, error) {
	head, tail := splitUnclosed(tmpl)
	t, err := parse(head)
	if err != nil {
		return "", err
	}
	out, err := t.Render(wrap(data))
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out + tail, nil
}

// Validate parses tmpl and reports syntax errors without rendering.
func Validate(tmpl string) error {
	head, _ := splitUnclosed(tmpl)
	_, err := parse(head)
	return err
}

func parse(tmpl string) (*mustache.Template, error) {
	t, err := mustache.ParseStringRaw(tmpl, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return t, nil
}

// splitUnclosed cuts tmpl at the first {{ that has no }} after it.
func splitUnclosed(tmpl string) (head, tail string) {
	from := 0
	if end := strings.LastIndex(tmpl, "}}"); end >= 0 {
		from = end + 2
	}
	i := strings.Index(tmpl[from:], "{{")
	if i < 0 {
		return tmpl, ""
	}
	return tmpl[:from+i], tmpl[from+i:]
}

// jsonMap and jsonList keep their map and slice kinds for section lookups
// but print as JSON when interpolated.
type (
	jsonMap  map[string]any
	jsonList []any
)

func (m jsonMap) String() string  { return marshal(map[string]any(m)) }
func (l jsonList) String() string { return marshal([]any(l)) }

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func wrap(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(jsonMap, len(t))
		for k, val := range t {
			m[k] = wrap(val)
		}
		return m
	case []any:
		l := make(jsonList, len(t))
		for i, val := range t {
			l[i] = wrap(val)
		}
		return l
	case []string:
		l := make(jsonList, len(t))
		for i, val := range t {
			l[i] = val
		}
		return l
	}
	return v
}
