package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

func NewSessionID() (string, error) {
	return common.NewULID()
}

// Persister mirrors store mutations into durable storage. Implementations
// must tolerate being called while the store holds its lock.
type Persister interface {
	LoadSessions(ctx context.Context) ([]Session, error)
	SaveSession(ctx context.Context, s Session) error
	AppendMessage(ctx context.Context, sessionID string, m Message) error
	ReplaceMessages(ctx context.Context, sessionID string, msgs []Message) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Store is the ordered session list (newest first) plus the active pointer.
// The list is never empty once NewStore returns.
type Store struct {
	mu       sync.RWMutex
	sessions []*Session
	activeID string

	persist Persister
	logger  *zap.Logger
}

// NewStore restores sessions from persist (may be nil) or starts with one
// empty default session.
func NewStore(ctx context.Context, persist Persister, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{persist: persist, logger: logger}

	if persist != nil {
		restored, err := persist.LoadSessions(ctx)
		if err != nil {
			return nil, err
		}
		for i := range restored {
			sess := restored[i]
			s.sessions = append(s.sessions, &sess)
		}
	}

	if len(s.sessions) == 0 {
		sess, err := s.newSessionLocked(ctx)
		if err != nil {
			return nil, err
		}
		s.sessions = []*Session{sess}
	}
	s.activeID = s.sessions[0].ID
	return s, nil
}

func (s *Store) newSessionLocked(ctx context.Context) (*Session, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: time.Now(),
	}
	s.save(ctx, sess)
	return sess, nil
}

func (s *Store) indexLocked(id string) int {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

// Create inserts a fresh session at the head of the list and makes it active.
func (s *Store) Create(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.newSessionLocked(ctx)
	if err != nil {
		return Session{}, err
	}
	s.sessions = append([]*Session{sess}, s.sessions...)
	s.activeID = sess.ID
	return sess.clone(), nil
}

// Delete removes the session. When the list becomes empty a replacement
// session is synthesized. The new head becomes active, which is returned.
func (s *Store) Delete(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Session{}, ErrSessionNotFound
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if s.persist != nil {
		if err := s.persist.DeleteSession(ctx, id); err != nil {
			s.logger.Warn("persist delete session failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	if len(s.sessions) == 0 {
		sess, err := s.newSessionLocked(ctx)
		if err != nil {
			return Session{}, err
		}
		s.sessions = []*Session{sess}
	}
	s.activeID = s.sessions[0].ID
	return s.sessions[0].clone(), nil
}

// Select moves the active pointer. It does not touch any status buffer.
func (s *Store) Select(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Session{}, ErrSessionNotFound
	}
	s.activeID = id
	return s.sessions[idx].clone(), nil
}

// Revision returns the session's mutation counter, for HydrateAt.
func (s *Store) Revision(id string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return 0, ErrSessionNotFound
	}
	return s.sessions[idx].rev, nil
}

// HydrateAt overwrites the session's messages wholesale, guarded by a
// revision read before the history fetch began. It reports false, changing
// nothing, when the session moved on since.
func (s *Store) HydrateAt(ctx context.Context, id string, rev uint64, msgs []Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false, ErrSessionNotFound
	}
	sess := s.sessions[idx]
	if sess.rev != rev {
		return false, nil
	}
	s.hydrateLocked(ctx, sess, msgs)
	return true, nil
}

func (s *Store) hydrateLocked(ctx context.Context, sess *Session, msgs []Message) {
	id := sess.ID
	sess.Messages = append([]Message{}, msgs...)
	sess.rev++
	if s.persist != nil {
		if err := s.persist.ReplaceMessages(ctx, id, sess.Messages); err != nil {
			s.logger.Warn("persist hydrate failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Import adds sessions known to the backend but missing locally, keeping
// their order, after the local ones. Messages are left empty so that they are
// hydrated on selection. It returns how many sessions were added.
func (s *Store) Import(ctx context.Context, remote []Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, r := range remote {
		if r.ID == "" || s.indexLocked(r.ID) >= 0 {
			continue
		}
		title := r.Title
		if title == "" {
			title = DefaultTitle
		}
		sess := &Session{ID: r.ID, Title: title, Messages: []Message{}, CreatedAt: r.CreatedAt}
		s.sessions = append(s.sessions, sess)
		s.save(ctx, sess)
		added++
	}
	return added
}

// ClearHistory empties a session's messages and resets its title.
func (s *Store) ClearHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrSessionNotFound
	}
	sess := s.sessions[idx]
	sess.Messages = []Message{}
	sess.Title = DefaultTitle
	sess.rev++
	s.save(ctx, sess)
	if s.persist != nil {
		if err := s.persist.ReplaceMessages(ctx, id, nil); err != nil {
			s.logger.Warn("persist clear history failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	return nil
}

// AppendHuman appends a query and renames a session still carrying the
// default title to the query text.
func (s *Store) AppendHuman(ctx context.Context, id, text string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Session{}, ErrSessionNotFound
	}
	sess := s.sessions[idx]
	if sess.Title == DefaultTitle {
		sess.Title = text
		s.save(ctx, sess)
	}
	s.appendLocked(ctx, sess, HumanMessage(text))
	return sess.clone(), nil
}

// AppendAI appends an answer. It reports false, changing nothing, when no
// session has the id.
func (s *Store) AppendAI(ctx context.Context, id string, answer AnswerPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	s.appendLocked(ctx, s.sessions[idx], AIMessage(answer))
	return true
}

func (s *Store) appendLocked(ctx context.Context, sess *Session, m Message) {
	sess.Messages = append(sess.Messages, m)
	sess.rev++
	if s.persist != nil {
		if err := s.persist.AppendMessage(ctx, sess.ID, m); err != nil {
			s.logger.Warn("persist append failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}

func (s *Store) save(ctx context.Context, sess *Session) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveSession(ctx, *sess); err != nil {
		s.logger.Warn("persist session failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	return out
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Session{}, false
	}
	return s.sessions[idx].clone(), true
}

func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) Active() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(s.activeID)
	if idx < 0 {
		return s.sessions[0].clone()
	}
	return s.sessions[idx].clone()
}
