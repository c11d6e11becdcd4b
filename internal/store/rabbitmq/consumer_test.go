package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/genbi-gateway/internal/backend"
)

type stubSubmitter struct {
	err  error
	seen []backend.Feedback
}

func (s *stubSubmitter) SubmitFeedback(ctx context.Context, fb backend.Feedback) error {
	s.seen = append(s.seen, fb)
	return s.err
}

func feedbackBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(backend.Feedback{FeedbackType: "upvote", SessionID: "S1", Query: "top 10 products"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestFeedbackHandler_Ack(t *testing.T) {
	sub := &stubSubmitter{}
	h := &FeedbackHandler{Submit: sub, MaxRetries: 3}

	if got := h.Handle(context.Background(), feedbackBody(t), 0); got != Ack {
		t.Fatalf("expected ack, got %s", got)
	}
	if len(sub.seen) != 1 || sub.seen[0].Query != "top 10 products" {
		t.Fatalf("unexpected submissions: %+v", sub.seen)
	}
}

func TestFeedbackHandler_RetryThenDeadLetter(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("503")}
	h := &FeedbackHandler{Submit: sub, MaxRetries: 2}

	if got := h.Handle(context.Background(), feedbackBody(t), 1); got != Retry {
		t.Fatalf("expected retry, got %s", got)
	}
	if got := h.Handle(context.Background(), feedbackBody(t), 2); got != DeadLetter {
		t.Fatalf("expected dead letter after budget, got %s", got)
	}
}

func TestFeedbackHandler_UnauthorizedIsNotRetried(t *testing.T) {
	h := &FeedbackHandler{Submit: &stubSubmitter{err: backend.ErrUnauthorized}, MaxRetries: 5}
	if got := h.Handle(context.Background(), feedbackBody(t), 0); got != DeadLetter {
		t.Fatalf("expected dead letter, got %s", got)
	}
}

func TestFeedbackHandler_BadMessage(t *testing.T) {
	sub := &stubSubmitter{}
	h := &FeedbackHandler{Submit: sub, MaxRetries: 3}
	for _, body := range []string{"not json", `{"feedback_type":"upvote"}`} {
		if got := h.Handle(context.Background(), []byte(body), 0); got != DeadLetter {
			t.Fatalf("%q: expected dead letter, got %s", body, got)
		}
	}
	if len(sub.seen) != 0 {
		t.Fatalf("bad messages must not reach the backend")
	}
}

func TestAttempt(t *testing.T) {
	if Attempt(nil) != 0 {
		t.Fatalf("missing header should be attempt 0")
	}
	if Attempt(amqp.Table{RetryHeader: int32(2)}) != 2 {
		t.Fatalf("int32 header not read")
	}
	if Attempt(amqp.Table{RetryHeader: int64(3)}) != 3 {
		t.Fatalf("int64 header not read")
	}
}

func TestQueueNames(t *testing.T) {
	if RetryQueue("fb") != "fb.retry" || DeadLetterQueue("fb") != "fb.dlq" {
		t.Fatalf("unexpected queue names")
	}
}
