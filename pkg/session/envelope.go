package session

import (
	"encoding/json"
	"strings"
)

// Envelope is the JSON wrapper some assistant messages arrive in: an answer
// plus an optional action the widget may execute.
type Envelope struct {
	Answer        string          `json:"answer"`
	Action        string          `json:"action,omitempty"`
	ActionContext json.RawMessage `json:"action_context,omitempty"`
}

// ExtractAnswer returns the answer field when content is an assistant
// envelope, and the raw string otherwise. A parse failure degrades the
// message to its raw text rather than dropping it.
func ExtractAnswer(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return content
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return content
	}
	if env.Answer == "" {
		return content
	}
	return env.Answer
}
