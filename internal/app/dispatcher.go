package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
	"go.uber.org/zap"
)

var ErrEmptyQuery = errors.New("query is empty")

// Sender writes one JSON message to the upstream socket.
type Sender interface {
	Send(v any) error
}

type DispatchRequest struct {
	// SessionID defaults to the active session.
	SessionID    string
	Query        string
	Continuation protocol.Continuation
}

// Dispatcher turns a user query into an upstream envelope. It records the
// question locally before anything goes on the wire.
type Dispatcher struct {
	app     *App
	sender  Sender
	timeout time.Duration
}

// NewDispatcher returns a dispatcher. A positive timeout abandons turns whose
// answer has not arrived in time.
func NewDispatcher(a *App, sender Sender, timeout time.Duration) *Dispatcher {
	return &Dispatcher{app: a, sender: sender, timeout: timeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Turn, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return Turn{}, ErrEmptyQuery
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = d.app.Store.ActiveID()
	}

	if _, err := d.app.Store.AppendHuman(ctx, sessionID, q); err != nil {
		return Turn{}, err
	}
	turn := d.app.Turns.Open(sessionID, q)
	d.app.setSearching(true)

	id := d.app.Identity()
	env := protocol.NewEnvelope(
		q,
		d.app.Settings.Current(),
		protocol.Identity{SessionID: sessionID, UserID: id.UserID, Username: id.Username},
		req.Continuation,
		d.app.Credentials(),
	)

	if err := d.sender.Send(env); err != nil {
		d.app.logger.Warn("send query failed",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
		d.app.Turns.Remove(sessionID, turn.ID)
		if d.app.Turns.Live() == 0 {
			d.app.setSearching(false)
		}
		d.app.toast("could not send query")
		return turn, fmt.Errorf("send query: %w", err)
	}

	d.app.logger.Info("query dispatched",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turn.ID),
		zap.Bool("continuation", !req.Continuation.IsZero()),
	)
	if d.timeout > 0 {
		time.AfterFunc(d.timeout, func() { d.expire(turn) })
	}
	return turn, nil
}

func (d *Dispatcher) expire(t Turn) {
	if !d.app.Turns.Abandon(t.SessionID, t.ID) {
		return
	}
	d.app.logger.Warn("query timed out",
		zap.String("session_id", t.SessionID),
		zap.String("turn_id", t.ID),
		zap.Duration("timeout", d.timeout),
	)
	if d.app.Turns.Live() == 0 {
		d.app.setSearching(false)
	}
	d.app.toast("query timed out")
}
