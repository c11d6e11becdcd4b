package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Intent is the backend's classification of a query.
type Intent string

const (
	IntentNormalSearch    Intent = "normal_search"
	IntentAgentSearch     Intent = "agent_search"
	IntentKnowledgeSearch Intent = "knowledge_search"
	IntentAskInReply      Intent = "ask_in_reply"
	IntentEntitySelect    Intent = "entity_select"
	IntentRejectSearch    Intent = "reject_search"
)

// Result is the intent-specific part of an answer. Exactly one variant is
// populated per AnswerPayload; switch on the concrete type.
type Result interface {
	Intent() Intent
	result()
}

// SQLResult is the tabular/chart outcome of a generated SQL query.
type SQLResult struct {
	SQL          string          `json:"sql"`
	Data         [][]any         `json:"sql_data"`
	DataShowType string          `json:"data_show_type"`
	GenProcess   string          `json:"sql_gen_process"`
	DataAnalyse  string          `json:"data_analyse"`
	Charts       json.RawMessage `json:"sql_data_chart,omitempty"`
}

type NormalSearch struct {
	SQL SQLResult
}

type AgentStep struct {
	SubTask string    `json:"sub_task"`
	SQL     SQLResult `json:"sql_search_result"`
}

type AgentSearch struct {
	Steps   []AgentStep
	Summary string
}

type KnowledgeSearch struct {
	Response string
}

// AskInReply asks the user to clarify; QueryRewrite is the backend's
// reformulation of what it understood so far.
type AskInReply struct {
	QueryRewrite string
}

// EntitySelect asks the user to disambiguate an entity. The continuation
// fields of the next query are derived from it.
type EntitySelect struct {
	Prompt     string
	EntityInfo json.RawMessage
}

type RejectSearch struct{}

// Unrecognized keeps answers whose intent this client does not know.
type Unrecognized struct {
	Tag Intent
}

func (NormalSearch) Intent() Intent    { return IntentNormalSearch }
func (AgentSearch) Intent() Intent     { return IntentAgentSearch }
func (KnowledgeSearch) Intent() Intent { return IntentKnowledgeSearch }
func (AskInReply) Intent() Intent      { return IntentAskInReply }
func (EntitySelect) Intent() Intent    { return IntentEntitySelect }
func (RejectSearch) Intent() Intent    { return IntentRejectSearch }
func (u Unrecognized) Intent() Intent  { return u.Tag }

func (NormalSearch) result()    {}
func (AgentSearch) result()     {}
func (KnowledgeSearch) result() {}
func (AskInReply) result()      {}
func (EntitySelect) result()    {}
func (RejectSearch) result()    {}
func (Unrecognized) result()    {}

// AnswerPayload is the content of a terminal frame.
type AnswerPayload struct {
	Query              string
	QueryRewrite       string
	Intent             Intent
	SuggestedQuestions []string
	ErrorLog           map[string]any
	Result             Result

	// raw keeps the payload as received so it round-trips untouched.
	raw json.RawMessage
}

type answerWire struct {
	Query             string         `json:"query"`
	QueryRewrite      string         `json:"query_rewrite"`
	QueryIntent       Intent         `json:"query_intent"`
	SuggestedQuestion []string       `json:"suggested_question"`
	ErrorLog          map[string]any `json:"error_log"`

	SQLSearchResult *SQLResult `json:"sql_search_result"`

	AgentSearchResult *struct {
		Steps   []AgentStep `json:"agent_sql_search_result"`
		Summary string      `json:"agent_summary"`
	} `json:"agent_search_result"`

	KnowledgeSearchResult *struct {
		Response string `json:"knowledge_response"`
	} `json:"knowledge_search_result"`

	AskRewriteResult *struct {
		QueryRewrite string `json:"query_rewrite"`
	} `json:"ask_rewrite_result"`

	AskEntitySelect *struct {
		EntitySelect string          `json:"entity_select"`
		EntityInfo   json.RawMessage `json:"entity_info"`
	} `json:"ask_entity_select"`
}

// UnrecognizedAnswer wraps content that could not be decoded as an answer.
func UnrecognizedAnswer(raw json.RawMessage) AnswerPayload {
	return AnswerPayload{
		Result: Unrecognized{},
		raw:    append(json.RawMessage(nil), raw...),
	}
}

// DecodeAnswer parses a terminal frame's content into an AnswerPayload.
// Content that is not a JSON object decodes to an Unrecognized result.
func DecodeAnswer(raw json.RawMessage) (AnswerPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return UnrecognizedAnswer(raw), nil
	}

	var w answerWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return AnswerPayload{}, fmt.Errorf("decode answer: %w", err)
	}

	a := AnswerPayload{
		Query:              w.Query,
		QueryRewrite:       w.QueryRewrite,
		Intent:             w.QueryIntent,
		SuggestedQuestions: w.SuggestedQuestion,
		ErrorLog:           w.ErrorLog,
		raw:                append(json.RawMessage(nil), raw...),
	}

	switch w.QueryIntent {
	case IntentNormalSearch:
		r := NormalSearch{}
		if w.SQLSearchResult != nil {
			r.SQL = *w.SQLSearchResult
		}
		a.Result = r
	case IntentAgentSearch:
		r := AgentSearch{}
		if w.AgentSearchResult != nil {
			r.Steps = w.AgentSearchResult.Steps
			r.Summary = w.AgentSearchResult.Summary
		}
		a.Result = r
	case IntentKnowledgeSearch:
		r := KnowledgeSearch{}
		if w.KnowledgeSearchResult != nil {
			r.Response = w.KnowledgeSearchResult.Response
		}
		a.Result = r
	case IntentAskInReply:
		r := AskInReply{QueryRewrite: w.QueryRewrite}
		if w.AskRewriteResult != nil && w.AskRewriteResult.QueryRewrite != "" {
			r.QueryRewrite = w.AskRewriteResult.QueryRewrite
		}
		a.Result = r
	case IntentEntitySelect:
		r := EntitySelect{}
		if w.AskEntitySelect != nil {
			r.Prompt = w.AskEntitySelect.EntitySelect
			r.EntityInfo = w.AskEntitySelect.EntityInfo
		}
		a.Result = r
	case IntentRejectSearch:
		a.Result = RejectSearch{}
	default:
		a.Result = Unrecognized{Tag: w.QueryIntent}
	}
	return a, nil
}

// MarshalJSON emits the payload exactly as the backend sent it.
func (a AnswerPayload) MarshalJSON() ([]byte, error) {
	if len(a.raw) > 0 {
		return a.raw, nil
	}
	return json.Marshal(map[string]any{
		"query":              a.Query,
		"query_rewrite":      a.QueryRewrite,
		"query_intent":       a.Intent,
		"suggested_question": a.SuggestedQuestions,
	})
}

func (a *AnswerPayload) UnmarshalJSON(b []byte) error {
	decoded, err := DecodeAnswer(b)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// Summary is a one-line human-readable rendition, used by the CLI and logs.
func (a AnswerPayload) Summary() string {
	switch r := a.Result.(type) {
	case NormalSearch:
		return fmt.Sprintf("sql: %s (%d rows)", r.SQL.SQL, len(r.SQL.Data))
	case AgentSearch:
		if r.Summary != "" {
			return r.Summary
		}
		return fmt.Sprintf("agent search: %d steps", len(r.Steps))
	case KnowledgeSearch:
		return r.Response
	case AskInReply:
		return "clarification needed: " + r.QueryRewrite
	case EntitySelect:
		return "select entity: " + r.Prompt
	case RejectSearch:
		return "query rejected"
	case Unrecognized:
		return fmt.Sprintf("unrecognized intent %q", string(r.Tag))
	default:
		return ""
	}
}
