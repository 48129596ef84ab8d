package copilot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/qdash-dev/copilot/internal/session"
)

// Frame names sent by the copilot backend.
const (
	EventStatus = "status"
	EventResult = "result"
	EventError  = "error"
)

type statusPayload struct {
	Message        string   `json:"message"`
	CompletedTools []string `json:"completed_tools,omitempty"`
}

type errorPayload struct {
	Detail string `json:"detail"`
}

type requestBody struct {
	Message   string            `json:"message"`
	SessionID string            `json:"session_id"`
	History   []session.Message `json:"history"`
	Context   map[string]any    `json:"context,omitempty"`
}

func parseStatus(data string) (statusPayload, error) {
	var p statusPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, fmt.Errorf("invalid status payload: %w", err)
	}
	return p, nil
}

// resultContent turns a result payload into assistant message content.
// Structured answers (with blocks) are kept whole as compact JSON for the
// renderer; otherwise the explanation text wins, then the raw JSON.
func resultContent(data string) (string, error) {
	if !json.Valid([]byte(data)) {
		return "", fmt.Errorf("invalid result payload")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		// valid JSON that is not an object
		return data, nil
	}

	if blocks, ok := fields["blocks"]; ok && string(blocks) != "null" {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(data)); err != nil {
			return "", fmt.Errorf("invalid result payload: %w", err)
		}
		return buf.String(), nil
	}

	if raw, ok := fields["explanation"]; ok {
		var explanation string
		if err := json.Unmarshal(raw, &explanation); err == nil && explanation != "" {
			return explanation, nil
		}
	}
	return data, nil
}

// errorDetail never fails: a payload that is not {"detail": ...} is used as is.
func errorDetail(data string) string {
	var p errorPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil || p.Detail == "" {
		return data
	}
	return p.Detail
}
