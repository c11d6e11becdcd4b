package protocol

import (
	"encoding/json"

	"github.com/suPer8Hu/genbi-gateway/internal/query"
)

// Continuation carries the answer to a previous clarification or entity
// disambiguation turn.
type Continuation struct {
	QueryRewrite     string          `json:"query_rewrite,omitempty"`
	PreviousIntent   string          `json:"previous_intent,omitempty"`
	EntityUserSelect json.RawMessage `json:"entity_user_select,omitempty"`
	EntityRetrieval  json.RawMessage `json:"entity_retrieval,omitempty"`
}

func (c Continuation) IsZero() bool {
	return c.QueryRewrite == "" && c.PreviousIntent == "" &&
		len(c.EntityUserSelect) == 0 && len(c.EntityRetrieval) == 0
}

// Credentials are the bearer-style headers the backend expects inline.
type Credentials struct {
	AccessToken  string `json:"X-Access-Token,omitempty"`
	IDToken      string `json:"X-Id-Token,omitempty"`
	RefreshToken string `json:"X-Refresh-Token,omitempty"`
}

// Headers returns the credentials as HTTP headers for REST calls.
func (c Credentials) Headers() map[string]string {
	h := make(map[string]string, 3)
	if c.AccessToken != "" {
		h["X-Access-Token"] = c.AccessToken
	}
	if c.IDToken != "" {
		h["X-Id-Token"] = c.IDToken
	}
	if c.RefreshToken != "" {
		h["X-Refresh-Token"] = c.RefreshToken
	}
	return h
}

// Identity names who is asking.
type Identity struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

// Envelope is the single JSON object sent upstream per query. Embedded
// structs flatten into one object.
type Envelope struct {
	Query string `json:"query"`
	query.Config
	Identity
	Continuation
	Credentials
}

func NewEnvelope(q string, cfg query.Config, id Identity, cont Continuation, creds Credentials) Envelope {
	return Envelope{
		Query:        q,
		Config:       cfg,
		Identity:     id,
		Continuation: cont,
		Credentials:  creds,
	}
}
