package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTitle is the placeholder title of a session that has not been asked anything yet.
const DefaultTitle = "New Chat"

type Kind string

const (
	KindHuman Kind = "human"
	KindAI    Kind = "AI"
)

// Message is Human{Text} or AI{Answer}, told apart by Kind.
type Message struct {
	Kind      Kind
	Text      string
	Answer    *AnswerPayload
	CreatedAt time.Time
}

func HumanMessage(text string) Message {
	return Message{Kind: KindHuman, Text: text, CreatedAt: time.Now()}
}

func AIMessage(answer AnswerPayload) Message {
	return Message{Kind: KindAI, Answer: &answer, CreatedAt: time.Now()}
}

type messageWire struct {
	Type    Kind            `json:"type"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON uses the backend history shape: {"type": "human"|"AI", "content": ...}.
func (m Message) MarshalJSON() ([]byte, error) {
	var content any
	switch m.Kind {
	case KindHuman:
		content = m.Text
	case KindAI:
		if m.Answer == nil {
			return nil, errors.New("ai message without answer")
		}
		content = m.Answer
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageWire{Type: m.Kind, Content: raw})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w messageWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Type {
	case KindHuman:
		var text string
		if err := json.Unmarshal(w.Content, &text); err != nil {
			return fmt.Errorf("human message content: %w", err)
		}
		*m = Message{Kind: KindHuman, Text: text}
	case KindAI:
		answer, err := DecodeAnswer(w.Content)
		if err != nil {
			return err
		}
		*m = Message{Kind: KindAI, Answer: &answer}
	default:
		return fmt.Errorf("unknown message type %q", w.Type)
	}
	return nil
}

// Session is one chat thread. Values handed out by Store are copies.
type Session struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`

	// rev increments on every mutation of Messages.
	rev uint64
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

// StatusMessage is a transient progress notification for an in-flight query.
type StatusMessage struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Text      string `json:"text"`
	Terminal  bool   `json:"terminal"`
}
