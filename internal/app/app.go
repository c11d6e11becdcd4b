package app

import (
	"context"
	"errors"
	"sync"

	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
	"github.com/suPer8Hu/genbi-gateway/internal/query"
	"github.com/suPer8Hu/genbi-gateway/internal/wsconn"
	"go.uber.org/zap"
)

// Backend is the slice of the REST client the application uses.
type Backend interface {
	ListSessions(ctx context.Context, userID, profile string) ([]backend.SessionSummary, error)
	GetHistory(ctx context.Context, sessionID, userID, profile string) (backend.History, error)
	DeleteHistory(ctx context.Context, sessionID, userID, profile string) error
}

// Identity is the user every query is sent on behalf of.
type Identity struct {
	UserID      string
	Username    string
	ProfileName string
}

// App is the application context shared by the dispatcher, the frame router
// and the HTTP layer. Every field is safe for concurrent use.
type App struct {
	Store    *chat.Store
	Settings *query.Settings
	Bus      *Bus
	Turns    *Ledger

	identity Identity
	backend  Backend
	logger   *zap.Logger

	mu        sync.Mutex
	searching bool
	status    []chat.StatusMessage
	creds     protocol.Credentials
	connState wsconn.State
}

type Options struct {
	Store    *chat.Store
	Settings *query.Settings
	Identity Identity
	Backend  Backend // optional
	Logger   *zap.Logger
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Store:    opts.Store,
		Settings: opts.Settings,
		Bus:      NewBus(),
		Turns:    NewLedger(),
		identity: opts.Identity,
		backend:  opts.Backend,
		logger:   logger,
	}
}

func (a *App) Identity() Identity { return a.identity }

func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) Searching() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.searching
}

func (a *App) setSearching(v bool) {
	a.mu.Lock()
	changed := a.searching != v
	a.searching = v
	a.mu.Unlock()
	if changed {
		a.Bus.Publish(Event{Type: EventSearching, Data: v})
	}
}

// Status returns the buffered progress messages for one session, or for all
// sessions when sessionID is empty.
func (a *App) Status(sessionID string) []chat.StatusMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]chat.StatusMessage, 0, len(a.status))
	for _, m := range a.status {
		if sessionID == "" || m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (a *App) appendStatus(m chat.StatusMessage) {
	a.mu.Lock()
	a.status = append(a.status, m)
	a.mu.Unlock()
	a.Bus.Publish(Event{Type: EventStatus, SessionID: m.SessionID, Data: m})
}

// clearStatus empties the whole buffer, not only one session's entries.
func (a *App) clearStatus() {
	a.mu.Lock()
	a.status = nil
	a.mu.Unlock()
}

func (a *App) Credentials() protocol.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds
}

// SetCredentials replaces the tokens forwarded upstream.
func (a *App) SetCredentials(c protocol.Credentials) {
	a.mu.Lock()
	a.creds = c
	a.mu.Unlock()
}

func (a *App) ConnectionState() wsconn.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connState
}

// ConnectionChanged records a socket state transition; wire it to
// wsconn.Options.OnStateChange.
func (a *App) ConnectionChanged(s wsconn.State) {
	a.mu.Lock()
	a.connState = s
	a.mu.Unlock()
	a.Bus.Publish(Event{Type: EventConnection, Data: s.String()})
}

// ConnectionLost handles an exhausted reconnect budget. Live turns can no
// longer be answered, so they are abandoned and the searching flag cleared.
func (a *App) ConnectionLost(err error) {
	a.logger.Error("upstream socket gave up", zap.Error(err))
	for _, sess := range a.Store.List() {
		a.Turns.AbandonAll(sess.ID)
	}
	a.setSearching(false)
	a.toast("connection to backend lost")
}

func (a *App) raiseUnauthorized() {
	a.logger.Warn("backend rejected credentials")
	a.Bus.Publish(Event{Type: EventUnauthorized})
}

func (a *App) toast(msg string) {
	a.Bus.Publish(Event{Type: EventToast, Data: msg})
}

// backendFailed maps a REST failure to the matching notification.
func (a *App) backendFailed(op string, err error) {
	if errors.Is(err, backend.ErrUnauthorized) {
		a.raiseUnauthorized()
		return
	}
	a.logger.Warn("backend call failed", zap.String("op", op), zap.Error(err))
	a.toast(op + " failed")
}

func (a *App) CreateSession(ctx context.Context) (chat.Session, error) {
	sess, err := a.Store.Create(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	a.Bus.Publish(Event{Type: EventSession, SessionID: sess.ID, Data: "created"})
	return sess, nil
}

// DeleteSession removes a session and returns the session that became active.
func (a *App) DeleteSession(ctx context.Context, id string) (chat.Session, error) {
	active, err := a.Store.Delete(ctx, id)
	if err != nil {
		return chat.Session{}, err
	}
	a.Turns.Forget(id)
	a.Bus.Publish(Event{Type: EventSession, SessionID: id, Data: "deleted"})
	return active, nil
}

// SelectSession makes a session active. A session with no local messages is
// hydrated from the backend's history; the result is applied only if the
// session still exists and was not modified while the request was in flight.
func (a *App) SelectSession(ctx context.Context, id string) (chat.Session, error) {
	sess, err := a.Store.Select(id)
	if err != nil {
		return chat.Session{}, err
	}
	a.Bus.Publish(Event{Type: EventSession, SessionID: id, Data: "selected"})
	if len(sess.Messages) > 0 || a.backend == nil {
		return sess, nil
	}

	rev, err := a.Store.Revision(id)
	if err != nil {
		return sess, nil
	}
	hist, err := a.backend.GetHistory(ctx, id, a.identity.UserID, a.identity.ProfileName)
	if err != nil {
		a.backendFailed("load history", err)
		return sess, nil
	}
	applied, err := a.Store.HydrateAt(ctx, id, rev, hist.Messages)
	if err != nil || !applied {
		a.logger.Info("discarding late history", zap.String("session_id", id))
		if cur, ok := a.Store.Get(id); ok {
			return cur, nil
		}
		return sess, nil
	}
	cur, _ := a.Store.Get(id)
	return cur, nil
}

// ClearHistory empties a session locally and asks the backend to drop its
// history. Answers still in flight for the session are discarded on arrival.
func (a *App) ClearHistory(ctx context.Context, id string) error {
	if err := a.Store.ClearHistory(ctx, id); err != nil {
		return err
	}
	if n := a.Turns.AbandonAll(id); n > 0 && a.Turns.Live() == 0 {
		a.setSearching(false)
	}
	if a.backend != nil {
		if err := a.backend.DeleteHistory(ctx, id, a.identity.UserID, a.identity.ProfileName); err != nil {
			a.backendFailed("delete history", err)
		}
	}
	a.Bus.Publish(Event{Type: EventSession, SessionID: id, Data: "cleared"})
	return nil
}

// SyncSessions imports the backend's session list and returns how many new
// sessions were added.
func (a *App) SyncSessions(ctx context.Context) (int, error) {
	if a.backend == nil {
		return 0, nil
	}
	remote, err := a.backend.ListSessions(ctx, a.identity.UserID, a.identity.ProfileName)
	if err != nil {
		a.backendFailed("list sessions", err)
		return 0, err
	}
	in := make([]chat.Session, 0, len(remote))
	for _, r := range remote {
		in = append(in, chat.Session{ID: r.SessionID, Title: r.Title})
	}
	n := a.Store.Import(ctx, in)
	if n > 0 {
		a.Bus.Publish(Event{Type: EventSession, Data: "synced"})
	}
	return n, nil
}
