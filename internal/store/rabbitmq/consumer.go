package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"go.uber.org/zap"
)

// Outcome tells the worker what to do with a delivery.
type Outcome int

const (
	Ack Outcome = iota
	Retry
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return "dead_letter"
	}
}

type Submitter interface {
	SubmitFeedback(ctx context.Context, fb backend.Feedback) error
}

// FeedbackHandler forwards queued feedback to the backend.
type FeedbackHandler struct {
	Submit     Submitter
	MaxRetries int
	Logger     *zap.Logger
}

// RetryDelay backs off linearly with the attempt number.
func RetryDelay(attempt int) time.Duration {
	return time.Duration(attempt+1) * 5 * time.Second
}

// Handle processes one message body. attempt is how many retries it already had.
func (h *FeedbackHandler) Handle(ctx context.Context, body []byte, attempt int) Outcome {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var fb backend.Feedback
	if err := json.Unmarshal(body, &fb); err != nil || fb.SessionID == "" {
		log.Warn("bad feedback message", zap.Error(err))
		return DeadLetter
	}

	start := time.Now()
	err := h.Submit.SubmitFeedback(ctx, fb)
	if err == nil {
		log.Info("feedback submitted",
			zap.String("session_id", fb.SessionID),
			zap.String("type", fb.FeedbackType),
			zap.Duration("cost", time.Since(start)),
		)
		return Ack
	}

	log.Warn("feedback submit failed",
		zap.String("session_id", fb.SessionID),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
	// credentials will not get better by waiting
	if errors.Is(err, backend.ErrUnauthorized) || attempt >= h.MaxRetries {
		return DeadLetter
	}
	return Retry
}
