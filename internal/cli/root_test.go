package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/genbi-gateway/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "version flag", args: []string{"--version"}},
		{name: "help flag", args: []string{"--help"}},
		{name: "unknown command", args: []string{"nope"}, wantErr: true},
		{name: "ask without query", args: []string{"ask"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("USER_ID", "u7")

	out, err := run(t, "token", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseJWT(strings.TrimSpace(out), "s3cret")
	if err != nil {
		t.Fatalf("minted token does not parse: %v", err)
	}
	if claims.UserID != "u7" {
		t.Fatalf("unexpected user id %q", claims.UserID)
	}
}

func TestTokenCommand_NoSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := run(t, "token"); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
}

func TestSessionsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"session_id":"S1","title":"sales by region"}]`))
	}))
	defer srv.Close()
	t.Setenv("BACKEND_URL", srv.URL)

	out, err := run(t, "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "S1") || !strings.Contains(out, "sales by region") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

// fakeBackend answers every query with one progress frame and one answer.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				Query     string `json:"query"`
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				t.Errorf("bad envelope: %v", err)
				return
			}
			_ = ws.WriteMessage(websocket.TextMessage, []byte("ping"))
			_ = ws.WriteJSON(map[string]any{
				"session_id":   env.SessionID,
				"content_type": "state",
				"content":      map[string]any{"status": "start", "text": "Query Understanding"},
			})
			_ = ws.WriteJSON(map[string]any{
				"session_id":   env.SessionID,
				"content_type": "end",
				"content": map[string]any{
					"query":        env.Query,
					"query_intent": "knowledge_search",
					"knowledge_search_result": map[string]any{
						"knowledge_response": "Revenue grew 12%.",
					},
					"suggested_question": []string{"and last year?"},
				},
			})
		}
	}))
}

func TestAskCommand(t *testing.T) {
	srv := fakeBackend(t)
	defer srv.Close()
	t.Setenv("BACKEND_WS_URL", "ws"+strings.TrimPrefix(srv.URL, "http"))
	t.Setenv("BACKEND_URL", srv.URL)

	out, err := run(t, "ask", "--timeout", "5s", "how", "did", "revenue", "do")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "... start Query Understanding") {
		t.Fatalf("missing progress line:\n%s", out)
	}
	if !strings.Contains(out, "Revenue grew 12%.") || !strings.Contains(out, "? and last year?") {
		t.Fatalf("missing answer:\n%s", out)
	}
}
