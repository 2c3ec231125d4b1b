package memgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"graphmem/internal/mcp"
)

// toolResult is the MCP tools/call result envelope.
type toolResult struct {
	Content           []contentBlock  `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// decodeResult extracts the JSON payload of a tool call.
//
// Structured content wins when present. Otherwise the text blocks are
// parsed as JSON: one block is the payload, several JSON blocks form an
// array, and plain text becomes {"message": text}. Failures reported by
// the server come back wrapping ErrServer.
func decodeResult(tool string, res *mcp.MCPCallResult) (json.RawMessage, error) {
	if res == nil {
		return nil, fmt.Errorf("%s: %w: empty result", tool, ErrServer)
	}
	if !res.Success {
		return nil, fmt.Errorf("%s: %w: %s", tool, ErrServer, res.Error)
	}

	var env toolResult
	if err := json.Unmarshal(res.Output, &env); err != nil {
		return nil, fmt.Errorf("%s: malformed tool result: %w", tool, err)
	}
	text := joinText(env.Content)
	if env.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, fmt.Errorf("%s: %w: %s", tool, ErrServer, text)
	}

	payload, err := payloadOf(env, text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	if msg, ok := errorField(payload); ok {
		return nil, fmt.Errorf("%s: %w: %s", tool, ErrServer, msg)
	}
	return payload, nil
}

func payloadOf(env toolResult, text string) (json.RawMessage, error) {
	if s := bytes.TrimSpace(env.StructuredContent); len(s) > 0 && !bytes.Equal(s, []byte("null")) {
		// Servers wrap non-object returns as {"result": ...}.
		var wrapped map[string]json.RawMessage
		if json.Unmarshal(s, &wrapped) == nil && len(wrapped) == 1 {
			if inner, ok := wrapped["result"]; ok {
				return inner, nil
			}
		}
		return s, nil
	}

	var blocks []json.RawMessage
	for _, b := range env.Content {
		if b.Type != "text" {
			continue
		}
		t := strings.TrimSpace(b.Text)
		if !json.Valid([]byte(t)) {
			blocks = nil
			break
		}
		blocks = append(blocks, json.RawMessage(t))
	}
	switch {
	case len(blocks) == 1:
		return blocks[0], nil
	case len(blocks) > 1:
		return json.Marshal(blocks)
	}
	return json.Marshal(map[string]string{"message": text})
}

func joinText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// errorField reports a non-empty "error" member of an object payload.
func errorField(payload json.RawMessage) (string, bool) {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(payload, &probe) != nil || len(probe.Error) == 0 {
		return "", false
	}
	var msg string
	if json.Unmarshal(probe.Error, &msg) != nil {
		msg = string(probe.Error)
	}
	if msg == "" || msg == "null" || msg == "false" {
		return "", false
	}
	return msg, true
}

// messageOf returns the "message" member of a payload, or the payload
// itself when it has none.
func messageOf(payload json.RawMessage) string {
	var probe struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &probe) == nil && probe.Message != "" {
		return probe.Message
	}
	var s string
	if json.Unmarshal(payload, &s) == nil {
		return s
	}
	return string(payload)
}

// decodeList decodes payload as a list of T, either a bare array or the
// array under key. An object with only a message means no results.
func decodeList[T any](payload json.RawMessage, key string) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	raw, ok := obj[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return out, nil
}
