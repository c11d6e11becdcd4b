package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Heartbeat is the keepalive text frame the backend sends between queries.
const Heartbeat = "ping"

// ContentTypeState marks a progress frame; every other content type is terminal.
const ContentTypeState = "state"

var (
	ErrUndefinedPayload = errors.New("undefined payload")
	ErrHeartbeat        = errors.New("heartbeat frame")
	ErrMalformed        = errors.New("malformed frame")
)

// Frame is one inbound message from the backend.
type Frame struct {
	SessionID   string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	ContentType string          `json:"content_type"`
	Content     json.RawMessage `json:"content"`
	StatusCode  int             `json:"X-Status-Code,omitempty"`
}

// Progress is the content of a "state" frame.
type Progress struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

// Parse decodes a raw text frame. An empty or null payload yields
// ErrUndefinedPayload, the heartbeat token yields ErrHeartbeat, and anything
// that is not a JSON object yields an error wrapping ErrMalformed.
func Parse(raw []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "undefined":
		return Frame{}, ErrUndefinedPayload
	case Heartbeat:
		return Frame{}, ErrHeartbeat
	}
	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

func (f Frame) IsProgress() bool {
	return f.ContentType == ContentTypeState
}

// Unauthorized reports the out-of-band 401 signal, at the top level or
// inside the content object.
func (f Frame) Unauthorized() bool {
	if f.StatusCode == http.StatusUnauthorized {
		return true
	}
	var inner struct {
		StatusCode int `json:"X-Status-Code"`
	}
	if len(f.Content) == 0 || f.Content[0] != '{' {
		return false
	}
	if err := json.Unmarshal(f.Content, &inner); err != nil {
		return false
	}
	return inner.StatusCode == http.StatusUnauthorized
}

func (f Frame) Progress() (Progress, error) {
	var p Progress
	if len(f.Content) == 0 {
		return p, nil
	}
	if f.Content[0] == '"' {
		// some backends send a bare string as progress text
		err := json.Unmarshal(f.Content, &p.Text)
		return p, err
	}
	err := json.Unmarshal(f.Content, &p)
	return p, err
}
