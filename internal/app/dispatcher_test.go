package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
)

func TestDispatch_RenamesDefaultTitleOnly(t *testing.T) {
	a := newTestApp(t, nil)
	d := NewDispatcher(a, &fakeSender{}, 0)
	ctx := context.Background()
	id := a.Store.ActiveID()

	if _, err := d.Dispatch(ctx, DispatchRequest{SessionID: id, Query: "revenue by month"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := d.Dispatch(ctx, DispatchRequest{SessionID: id, Query: "and by region"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	sess, _ := a.Store.Get(id)
	if sess.Title != "revenue by month" {
		t.Fatalf("title should follow the first query, got %q", sess.Title)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 human messages, got %d", len(sess.Messages))
	}
}

func TestDispatch_EnvelopeCarriesConfigIdentityAndContinuation(t *testing.T) {
	a := newTestApp(t, nil)
	a.SetCredentials(protocol.Credentials{AccessToken: "acc", IDToken: "idt"})
	sender := &fakeSender{}
	d := NewDispatcher(a, sender, 0)
	id := a.Store.ActiveID()

	cont := protocol.Continuation{QueryRewrite: "top products in 2023", PreviousIntent: "ask_in_reply"}
	if _, err := d.Dispatch(context.Background(), DispatchRequest{Query: "2023", Continuation: cont}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	sent := sender.envelopes()
	if len(sent) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(sent))
	}
	raw, err := json.Marshal(sent[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]any{
		"query":           "2023",
		"session_id":      id,
		"user_id":         "admin",
		"username":        "admin",
		"profile_name":    "demo",
		"query_rewrite":   "top products in 2023",
		"previous_intent": "ask_in_reply",
		"X-Access-Token":  "acc",
		"X-Id-Token":      "idt",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("field %s: want %v, got %v", k, v, got[k])
		}
	}
	if _, ok := got["temperature"]; !ok {
		t.Fatalf("envelope must carry the query config")
	}
}

func TestDispatch_EmptyQuery(t *testing.T) {
	a := newTestApp(t, nil)
	sender := &fakeSender{}
	d := NewDispatcher(a, sender, 0)

	_, err := d.Dispatch(context.Background(), DispatchRequest{Query: "   "})
	if !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if len(sender.envelopes()) != 0 || a.Searching() {
		t.Fatalf("empty query must not be sent")
	}
	if len(a.Store.Active().Messages) != 0 {
		t.Fatalf("empty query must not be recorded")
	}
}

func TestDispatch_UnknownSession(t *testing.T) {
	a := newTestApp(t, nil)
	d := NewDispatcher(a, &fakeSender{}, 0)

	_, err := d.Dispatch(context.Background(), DispatchRequest{SessionID: "nope", Query: "q"})
	if !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if a.Searching() {
		t.Fatalf("searching must stay false")
	}
}

func TestDispatch_SendFailureKeepsHumanMessageAndStopsSearching(t *testing.T) {
	a := newTestApp(t, nil)
	sendErr := errors.New("socket closed")
	d := NewDispatcher(a, &fakeSender{err: sendErr}, 0)
	events, cancel := a.Bus.Subscribe(16)
	defer cancel()
	id := a.Store.ActiveID()

	_, err := d.Dispatch(context.Background(), DispatchRequest{Query: "q"})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if a.Searching() {
		t.Fatalf("searching must be cleared after a failed send")
	}
	sess, _ := a.Store.Get(id)
	if len(sess.Messages) != 1 || sess.Messages[0].Kind != chat.KindHuman {
		t.Fatalf("human message should remain recorded, got %+v", sess.Messages)
	}
	if !sawEvent(events, EventToast) {
		t.Fatalf("expected toast")
	}
	if pending := a.Turns.Pending(id); len(pending) != 0 {
		t.Fatalf("unsent turn must leave the ledger, got %+v", pending)
	}
}

func TestDispatch_AnswerAfterFailedSendIsKept(t *testing.T) {
	a := newTestApp(t, nil)
	sender := &fakeSender{err: errors.New("socket closed")}
	d := NewDispatcher(a, sender, 0)
	r := NewRouter(a)
	ctx := context.Background()
	id := a.Store.ActiveID()

	if _, err := d.Dispatch(ctx, DispatchRequest{Query: "first"}); err == nil {
		t.Fatalf("expected send error")
	}
	sender.setErr(nil)
	if _, err := d.Dispatch(ctx, DispatchRequest{Query: "second"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	r.HandleFrame(terminalFrame(id, "normal_search"))

	msgs := a.Store.Active().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 2 questions and 1 answer, got %d", len(msgs))
	}
	if msgs[2].Kind != chat.KindAI {
		t.Fatalf("answer to the second query was dropped, got %+v", msgs[2])
	}
	if a.Turns.Live() != 0 || a.Searching() {
		t.Fatalf("live=%d searching=%v after the answer", a.Turns.Live(), a.Searching())
	}
}

func TestDispatch_TimeoutAbandonsTurn(t *testing.T) {
	a := newTestApp(t, nil)
	d := NewDispatcher(a, &fakeSender{}, 20*time.Millisecond)
	r := NewRouter(a)
	id := a.Store.ActiveID()

	if _, err := d.Dispatch(context.Background(), DispatchRequest{Query: "slow"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Searching() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout never cleared searching")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.HandleFrame(terminalFrame(id, "normal_search"))
	sess, _ := a.Store.Get(id)
	if len(sess.Messages) != 1 {
		t.Fatalf("late answer must be discarded, got %d messages", len(sess.Messages))
	}
}
