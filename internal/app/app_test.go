package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
	"github.com/suPer8Hu/genbi-gateway/internal/query"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	err  error
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v.(protocol.Envelope))
	return nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) envelopes() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.sent...)
}

type fakeBackend struct {
	history   backend.History
	historyFn func() // runs before GetHistory returns
	err       error
	deleted   []string
	sessions  []backend.SessionSummary
}

func (f *fakeBackend) ListSessions(ctx context.Context, userID, profile string) ([]backend.SessionSummary, error) {
	return f.sessions, f.err
}

func (f *fakeBackend) GetHistory(ctx context.Context, sessionID, userID, profile string) (backend.History, error) {
	if f.historyFn != nil {
		f.historyFn()
	}
	return f.history, f.err
}

func (f *fakeBackend) DeleteHistory(ctx context.Context, sessionID, userID, profile string) error {
	f.deleted = append(f.deleted, sessionID)
	return f.err
}

func newTestApp(t *testing.T, be Backend) *App {
	t.Helper()
	ctx := context.Background()
	store, err := chat.NewStore(ctx, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	settings, err := query.LoadSettings(ctx, query.NewMemoryStore(), "admin", "demo")
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	return New(Options{
		Store:    store,
		Settings: settings,
		Identity: Identity{UserID: "admin", Username: "admin", ProfileName: "demo"},
		Backend:  be,
	})
}

func TestSelectSession_HydratesEmptySession(t *testing.T) {
	be := &fakeBackend{history: backend.History{Messages: []chat.Message{
		chat.HumanMessage("old question"),
	}}}
	a := newTestApp(t, be)
	id := a.Store.ActiveID()

	sess, err := a.SelectSession(context.Background(), id)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Text != "old question" {
		t.Fatalf("expected hydrated history, got %+v", sess.Messages)
	}
}

func TestSelectSession_DiscardsLateHistory(t *testing.T) {
	a := newTestApp(t, nil)
	id := a.Store.ActiveID()

	be := &fakeBackend{history: backend.History{Messages: []chat.Message{
		chat.HumanMessage("stale"),
	}}}
	// the user asks something while the history request is in flight
	be.historyFn = func() {
		if _, err := a.Store.AppendHuman(context.Background(), id, "fresh"); err != nil {
			t.Errorf("append: %v", err)
		}
	}
	a.backend = be

	sess, err := a.SelectSession(context.Background(), id)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Text != "fresh" {
		t.Fatalf("late history must not overwrite, got %+v", sess.Messages)
	}
}

func TestSelectSession_UnauthorizedRaisesEvent(t *testing.T) {
	be := &fakeBackend{err: backend.ErrUnauthorized}
	a := newTestApp(t, be)
	events, cancel := a.Bus.Subscribe(8)
	defer cancel()

	if _, err := a.SelectSession(context.Background(), a.Store.ActiveID()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if !sawEvent(events, EventUnauthorized) {
		t.Fatalf("expected unauthorized event")
	}
}

func TestSelectSession_UnknownID(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.SelectSession(context.Background(), "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestClearHistory_AbandonsInFlightTurns(t *testing.T) {
	be := &fakeBackend{}
	a := newTestApp(t, be)
	d := NewDispatcher(a, &fakeSender{}, 0)
	r := NewRouter(a)
	id := a.Store.ActiveID()

	if _, err := d.Dispatch(context.Background(), DispatchRequest{Query: "q"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := a.ClearHistory(context.Background(), id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if a.Searching() {
		t.Fatalf("clearing the only busy session should stop searching")
	}
	if len(be.deleted) != 1 || be.deleted[0] != id {
		t.Fatalf("expected backend delete for %s, got %v", id, be.deleted)
	}

	r.HandleFrame(terminalFrame(id, "normal_search"))
	sess, _ := a.Store.Get(id)
	if len(sess.Messages) != 0 {
		t.Fatalf("answer to cleared query must be discarded, got %d messages", len(sess.Messages))
	}
}

func TestSyncSessions_ImportsMissing(t *testing.T) {
	be := &fakeBackend{sessions: []backend.SessionSummary{
		{SessionID: "remote-1", Title: "sales"},
		{SessionID: "remote-2"},
	}}
	a := newTestApp(t, be)

	n, err := a.SyncSessions(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 imported, got %d", n)
	}
	if n, _ := a.SyncSessions(context.Background()); n != 0 {
		t.Fatalf("second sync should import nothing, got %d", n)
	}
	if len(a.Store.List()) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(a.Store.List()))
	}
}

func TestDeleteSession_ForgetsTurns(t *testing.T) {
	a := newTestApp(t, nil)
	d := NewDispatcher(a, &fakeSender{}, 0)
	id := a.Store.ActiveID()

	if _, err := d.Dispatch(context.Background(), DispatchRequest{Query: "q"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	active, err := a.DeleteSession(context.Background(), id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if active.ID == id {
		t.Fatalf("replacement session must have a fresh id")
	}
	if len(a.Turns.Pending(id)) != 0 {
		t.Fatalf("turns of a deleted session must be dropped")
	}
}

func TestConnectionLost_StopsSearching(t *testing.T) {
	a := newTestApp(t, nil)
	d := NewDispatcher(a, &fakeSender{}, 0)
	events, cancel := a.Bus.Subscribe(16)
	defer cancel()

	if _, err := d.Dispatch(context.Background(), DispatchRequest{Query: "q"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	a.ConnectionLost(errors.New("gave up"))

	if a.Searching() {
		t.Fatalf("searching must be cleared")
	}
	if a.Turns.Live() != 0 {
		t.Fatalf("live turns must be abandoned")
	}
	if !sawEvent(events, EventToast) {
		t.Fatalf("expected toast")
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: EventToast})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(ch))
	}
}

func sawEvent(ch <-chan Event, typ EventType) bool {
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return true
			}
		default:
			return false
		}
	}
}

func terminalFrame(sessionID, intent string) []byte {
	b, _ := json.Marshal(map[string]any{
		"session_id":   sessionID,
		"content_type": "end",
		"content":      map[string]any{"query_intent": intent},
	})
	return b
}

func progressFrame(sessionID, status, text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"session_id":   sessionID,
		"content_type": "state",
		"content":      map[string]any{"status": status, "text": text},
	})
	return b
}

func TestLedger_RemoveKeepsOrder(t *testing.T) {
	l := NewLedger()
	a := l.Open("s", "a")
	b := l.Open("s", "b")
	c := l.Open("s", "c")

	if !l.Remove("s", b.ID) {
		t.Fatalf("remove should find the turn")
	}
	if l.Remove("s", b.ID) {
		t.Fatalf("second remove should report false")
	}
	if got, _, _ := l.Close("s"); got.ID != a.ID {
		t.Fatalf("expected %s first, got %s", a.ID, got.ID)
	}
	if got, _, _ := l.Close("s"); got.ID != c.ID {
		t.Fatalf("expected %s second, got %s", c.ID, got.ID)
	}
	if l.Remove("s", c.ID) || len(l.Pending("s")) != 0 {
		t.Fatalf("ledger should be empty")
	}
}
