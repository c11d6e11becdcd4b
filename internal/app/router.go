package app

import (
	"context"
	"errors"

	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
	"go.uber.org/zap"
)

// Router applies inbound socket frames to the application state. It is
// called from the connection's single read goroutine.
type Router struct {
	app *App
}

func NewRouter(a *App) *Router {
	return &Router{app: a}
}

func (r *Router) HandleFrame(raw []byte) {
	log := r.app.logger

	f, err := protocol.Parse(raw)
	switch {
	case errors.Is(err, protocol.ErrHeartbeat):
		return
	case errors.Is(err, protocol.ErrUndefinedPayload):
		log.Warn("received undefined payload")
		return
	case err != nil:
		log.Warn("dropping malformed frame", zap.Int("bytes", len(raw)), zap.Error(err))
		return
	}

	if f.Unauthorized() {
		r.app.setSearching(false)
		r.app.raiseUnauthorized()
		return
	}

	if f.IsProgress() {
		p, err := f.Progress()
		if err != nil {
			log.Warn("dropping malformed progress frame", zap.String("session_id", f.SessionID), zap.Error(err))
			return
		}
		r.app.appendStatus(chat.StatusMessage{
			SessionID: f.SessionID,
			Status:    p.Status,
			Text:      p.Text,
			Terminal:  p.Status == "end",
		})
		return
	}

	r.terminal(f)
}

func (r *Router) terminal(f protocol.Frame) {
	log := r.app.logger.With(zap.String("session_id", f.SessionID))

	r.app.setSearching(false)
	r.app.clearStatus()

	if turn, stale, ok := r.app.Turns.Close(f.SessionID); ok && stale {
		log.Info("discarding answer to abandoned query", zap.String("turn_id", turn.ID))
		return
	}

	answer, err := chat.DecodeAnswer(f.Content)
	if err != nil {
		log.Warn("answer did not decode, keeping it raw", zap.Error(err))
		answer = chat.UnrecognizedAnswer(f.Content)
	}

	if !r.app.Store.AppendAI(context.Background(), f.SessionID, answer) {
		log.Info("dropping answer for unknown session")
		return
	}
	log.Info("answer received", zap.String("intent", string(answer.Intent)))
	r.app.Bus.Publish(Event{Type: EventAnswer, SessionID: f.SessionID, Data: answer})
}
