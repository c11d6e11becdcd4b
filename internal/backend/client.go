package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
)

var ErrUnauthorized = errors.New("backend: unauthorized")

// Client talks to the backend's REST endpoints. The upstream WebSocket is
// handled by wsconn.
type Client struct {
	BaseURL string
	Client  *http.Client
	// Creds, when set, supplies the bearer-style headers for each call.
	Creds func() protocol.Credentials
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/"
	}
	return &Client{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type Options struct {
	DataProfiles []string `json:"data_profiles"`
	ModelIDs     []string `json:"bedrock_model_ids"`
}

type SessionSummary struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

type History struct {
	SessionID string         `json:"session_id"`
	Title     string         `json:"title"`
	Messages  []chat.Message `json:"messages"`
}

type Feedback struct {
	FeedbackType        string   `json:"feedback_type"` // "upvote" | "downvote"
	DataProfile         string   `json:"data_profiles"`
	Query               string   `json:"query"`
	QueryIntent         string   `json:"query_intent"`
	QueryAnswer         string   `json:"query_answer"`
	SessionID           string   `json:"session_id"`
	UserID              string   `json:"user_id"`
	ErrorDescription    string   `json:"error_description,omitempty"`
	ErrorCategories     []string `json:"error_categories,omitempty"`
	CorrectSQLReference string   `json:"correct_sql_reference,omitempty"`
}

type sessionQuery struct {
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id"`
	ProfileName string `json:"profile_name"`
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c.Client == nil {
		return errors.New("backend: http client is nil")
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Creds != nil {
		for k, v := range c.Creds().Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("backend %s %s: %s", method, path, msg)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend %s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *Client) ListOptions(ctx context.Context) (Options, error) {
	var out Options
	err := c.do(ctx, http.MethodGet, "qa/option", nil, &out)
	return out, err
}

func (c *Client) ListRecommendedQuestions(ctx context.Context, profile string) ([]string, error) {
	var out struct {
		CustomQuestion []string `json:"custom_question"`
	}
	path := "qa/get_custom_question?data_profile=" + url.QueryEscape(profile)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.CustomQuestion, nil
}

func (c *Client) ListSessions(ctx context.Context, userID, profile string) ([]SessionSummary, error) {
	var out []SessionSummary
	err := c.do(ctx, http.MethodPost, "qa/get_sessions", sessionQuery{UserID: userID, ProfileName: profile}, &out)
	return out, err
}

func (c *Client) GetHistory(ctx context.Context, sessionID, userID, profile string) (History, error) {
	var out History
	err := c.do(ctx, http.MethodPost, "qa/get_history_by_session",
		sessionQuery{SessionID: sessionID, UserID: userID, ProfileName: profile}, &out)
	return out, err
}

func (c *Client) DeleteHistory(ctx context.Context, sessionID, userID, profile string) error {
	return c.do(ctx, http.MethodPost, "qa/delete_history_by_session",
		sessionQuery{SessionID: sessionID, UserID: userID, ProfileName: profile}, nil)
}

func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) error {
	return c.do(ctx, http.MethodPost, "qa/user_feedback", fb, nil)
}
