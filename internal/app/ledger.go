package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one dispatched query awaiting its terminal frame.
type Turn struct {
	ID        string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	StartedAt time.Time `json:"started_at"`
	Abandoned bool      `json:"abandoned"`
}

// Ledger keeps the open turns of each session in dispatch order. The backend
// answers a session's queries in order, so a terminal frame closes the oldest
// open turn of its session. Abandoned turns were sent, so they stay queued
// until their answer arrives, which is then recognised as stale. Turns that
// never went on the wire are removed instead.
type Ledger struct {
	mu    sync.Mutex
	turns map[string][]*Turn
}

func NewLedger() *Ledger {
	return &Ledger{turns: make(map[string][]*Turn)}
}

func (l *Ledger) Open(sessionID, query string) Turn {
	t := &Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Query:     query,
		StartedAt: time.Now(),
	}
	l.mu.Lock()
	l.turns[sessionID] = append(l.turns[sessionID], t)
	l.mu.Unlock()
	return *t
}

// Abandon marks one turn. It reports whether the turn was live.
func (l *Ledger) Abandon(sessionID, turnID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range l.turns[sessionID] {
		if t.ID == turnID {
			if t.Abandoned {
				return false
			}
			t.Abandoned = true
			return true
		}
	}
	return false
}

// Remove drops a turn that never reached the backend, so no answer can be
// paired with it. It reports whether the turn was found.
func (l *Ledger) Remove(sessionID, turnID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.turns[sessionID]
	for i, t := range q {
		if t.ID != turnID {
			continue
		}
		q = append(q[:i:i], q[i+1:]...)
		if len(q) == 0 {
			delete(l.turns, sessionID)
		} else {
			l.turns[sessionID] = q
		}
		return true
	}
	return false
}

// AbandonAll marks every open turn of the session and returns how many were live.
func (l *Ledger) AbandonAll(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, t := range l.turns[sessionID] {
		if !t.Abandoned {
			t.Abandoned = true
			n++
		}
	}
	return n
}

// Close pops the oldest open turn of the session. ok is false when none is
// open; stale is true when the popped turn had been abandoned.
func (l *Ledger) Close(sessionID string) (turn Turn, stale bool, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.turns[sessionID]
	if len(q) == 0 {
		return Turn{}, false, false
	}
	t := q[0]
	if len(q) == 1 {
		delete(l.turns, sessionID)
	} else {
		l.turns[sessionID] = q[1:]
	}
	return *t, t.Abandoned, true
}

// Forget drops every turn of a session that no longer exists.
func (l *Ledger) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.turns, sessionID)
	l.mu.Unlock()
}

// Live counts turns that still expect an answer, across all sessions.
func (l *Ledger) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, q := range l.turns {
		for _, t := range q {
			if !t.Abandoned {
				n++
			}
		}
	}
	return n
}

// Pending returns a copy of the session's open turns, oldest first.
func (l *Ledger) Pending(sessionID string) []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Turn, 0, len(l.turns[sessionID]))
	for _, t := range l.turns[sessionID] {
		out = append(out, *t)
	}
	return out
}
