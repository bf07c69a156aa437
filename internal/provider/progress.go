package provider

import (
	"encoding/json"
	"math"
	"strconv"
)

// Progress tool offered to agents with completion_tool enabled.
const (
	progressToolName        = "report_progress"
	progressToolDescription = "Report how much of the current topic the learner has mastered."
	progressArgName         = "completion_rate"
	progressArgDescription  = "Fraction of the topic mastered, from 0.0 to 1.0."
)

// progressSchema is the JSON schema of the progress tool arguments.
func progressSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			progressArgName: map[string]any{
				"type":        "number",
				"description": progressArgDescription,
				"minimum":     0,
				"maximum":     1,
			},
		},
		"required": []string{progressArgName},
	}
}

// completionFromArgs reads the progress value from decoded tool arguments.
// Missing or malformed values count as no signal.
func completionFromArgs(args map[string]any) float64 {
	var v float64
	switch x := args[progressArgName].(type) {
	case float64:
		v = x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		v = f
	default:
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// completionFromJSON decodes raw tool arguments and reads the progress value.
func completionFromJSON(raw string) float64 {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return 0
	}
	return completionFromArgs(args)
}
