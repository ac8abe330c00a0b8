package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopglue/chatwidget/pkg/session"
)

// Reply is the normalized result of one chat round-trip. Response-shape
// sniffing happens exactly once, here at the network boundary; downstream
// code only ever sees this struct.
type Reply struct {
	Message string
	Action  string
	URL     string

	// Session carries the updated authoritative session when the backend
	// returned one alongside the answer.
	Session *session.Session
}

// IsRedirect reports whether the reply asks the widget to navigate.
func (r Reply) IsRedirect() bool {
	return r.Action == "redirect" && r.URL != ""
}

type actionContext struct {
	URL string `json:"url"`
}

// replyBody is the superset of fields seen across the backend's response
// shapes: a flat envelope, a nested response object, or a nested
// JSON-encoded string.
type replyBody struct {
	Response      json.RawMessage  `json:"response,omitempty"`
	Answer        string           `json:"answer,omitempty"`
	Message       string           `json:"message,omitempty"`
	Action        string           `json:"action,omitempty"`
	ActionContext json.RawMessage  `json:"action_context,omitempty"`
	Session       *session.Session `json:"session,omitempty"`
}

// NormalizeReply folds the three documented response shapes into one Reply:
//
//  1. a JSON string needing a second parse,
//  2. {"response": {...}} with a nested envelope (object or encoded string),
//  3. a flat {"answer", "action", "action_context"} object.
//
// A body that is valid text but no recognizable shape degrades to a
// raw-text reply instead of failing.
func NormalizeReply(raw []byte) (Reply, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Reply{}, fmt.Errorf("client: empty response body")
	}

	// Whole body is a JSON-encoded string: unwrap and retry.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return Reply{}, fmt.Errorf("client: parse string response: %w", err)
		}
		return NormalizeReply([]byte(inner))
	}

	if trimmed[0] != '{' {
		// Plain text body. Degrade rather than drop.
		return Reply{Message: string(trimmed)}, nil
	}

	var body replyBody
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return Reply{Message: string(trimmed)}, nil
	}

	reply := Reply{Session: body.Session}

	envelope := body
	if len(body.Response) > 0 {
		nested := bytes.TrimSpace(body.Response)
		if len(nested) > 0 && nested[0] == '"' {
			// {"response": "<json-encoded envelope>"}
			var inner string
			if err := json.Unmarshal(nested, &inner); err != nil {
				return Reply{}, fmt.Errorf("client: parse nested string response: %w", err)
			}
			nested = bytes.TrimSpace([]byte(inner))
		}
		if len(nested) > 0 && nested[0] == '{' {
			var nestedBody replyBody
			if err := json.Unmarshal(nested, &nestedBody); err != nil {
				return Reply{Message: string(nested), Session: body.Session}, nil
			}
			envelope = nestedBody
		} else {
			// Nested plain text answer.
			reply.Message = string(nested)
			return reply, nil
		}
	}

	reply.Message = envelope.Answer
	if reply.Message == "" {
		reply.Message = envelope.Message
	}
	reply.Action = envelope.Action

	if len(envelope.ActionContext) > 0 {
		var ac actionContext
		if err := json.Unmarshal(envelope.ActionContext, &ac); err == nil {
			reply.URL = ac.URL
		}
	}

	if reply.Message == "" && reply.Action == "" {
		return Reply{}, fmt.Errorf("client: response has no answer")
	}
	return reply, nil
}

// unmarshalLoose parses a body that may itself arrive as a JSON-encoded
// string.
func unmarshalLoose(raw []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		trimmed = []byte(inner)
	}
	return json.Unmarshal(trimmed, v)
}
