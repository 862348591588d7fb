// Package memory is an in-process store used for demos and tests. Data is
// lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/pavelanni/prognosis/internal/model"
)

type Store struct {
	mu       sync.RWMutex
	cases    map[string]model.Case
	order    []string // case ids in insertion order
	sessions map[string]*model.Session
	users    map[string]model.User
	tokens   map[string]model.AuthToken
	imported map[string]string
	now      func() time.Time
}

func New() *Store {
	return &Store{
		cases:    make(map[string]model.Case),
		sessions: make(map[string]*model.Session),
		users:    make(map[string]model.User),
		tokens:   make(map[string]model.AuthToken),
		imported: make(map[string]string),
		now:      time.Now,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

// ListCases returns all cases in insertion order.
func (s *Store) ListCases(context.Context) ([]model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.order, func(id string, _ int) model.Case { return s.cases[id] }), nil
}

func (s *Store) GetCase(_ context.Context, id string) (model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return model.Case{}, fmt.Errorf("case %s: %w", id, model.ErrNotFound)
	}
	return c, nil
}

func (s *Store) AddCase(_ context.Context, c model.Case) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := s.cases[c.ID]; exists {
		return "", fmt.Errorf("case %s already exists", c.ID)
	}
	s.cases[c.ID] = c
	s.order = append(s.order, c.ID)
	return c.ID, nil
}

func (s *Store) CreateSession(_ context.Context, sess model.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if _, exists := s.sessions[sess.ID]; exists {
		return "", fmt.Errorf("session %s already exists", sess.ID)
	}
	if sess.Status == "" {
		sess.Status = model.StatusActive
	}
	sess.Turns = slices.Clone(sess.Turns)
	s.sessions[sess.ID] = &sess
	return sess.ID, nil
}

func (s *Store) GetSession(_ context.Context, id string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return clone(sess), nil
}

// AppendTurn adds a turn under the write lock, so concurrent appends to the
// same session are never lost.
func (s *Store) AppendTurn(_ context.Context, sessionID string, t model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	if sess.Status == model.StatusCompleted {
		return model.ErrSessionCompleted
	}
	sess.Turns = append(sess.Turns, t)
	return nil
}

func (s *Store) FinalizeSession(_ context.Context, sessionID string, sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	completedAt := sub.CompletedAt
	sess.Status = model.StatusCompleted
	sess.Diagnosis = &sub.Diagnosis
	sess.Treatment = &sub.Treatment
	sess.Score = &sub.Score
	sess.Feedback = &sub.Feedback
	sess.CompletedAt = &completedAt
	return nil
}

// ListSessionsByUser returns the user's sessions in no particular order.
func (s *Store) ListSessionsByUser(_ context.Context, userID string) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, clone(sess))
		}
	}
	return out, nil
}

// AllSessions returns every session, oldest first.
func (s *Store) AllSessions(context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.MapToSlice(s.sessions, func(_ string, sess *model.Session) model.Session { return clone(sess) })
	slices.SortFunc(out, func(a, b model.Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return out, nil
}

func clone(sess *model.Session) model.Session {
	c := *sess
	c.Turns = slices.Clone(sess.Turns)
	if c.Turns == nil {
		c.Turns = []model.Turn{}
	}
	return c
}
