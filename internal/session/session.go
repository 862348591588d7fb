// Package session implements the case-attempt lifecycle: starting an
// attempt on a random case, relaying questions to the simulated patient,
// scoring the final submission and listing past attempts.
package session

import (
	"context"

	"github.com/pavelanni/prognosis/internal/model"
)

// CaseRepository stores case templates.
type CaseRepository interface {
	ListCases(ctx context.Context) ([]model.Case, error)
	GetCase(ctx context.Context, id string) (model.Case, error)
	AddCase(ctx context.Context, c model.Case) (string, error)
}

// SessionStore persists attempts. AppendTurn must be atomic per session and
// must fail with model.ErrSessionCompleted once the session is completed.
type SessionStore interface {
	CreateSession(ctx context.Context, s model.Session) (string, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	AppendTurn(ctx context.Context, sessionID string, t model.Turn) error
	FinalizeSession(ctx context.Context, sessionID string, sub model.Submission) error
	ListSessionsByUser(ctx context.Context, userID string) ([]model.Session, error)
}

// OrderedSessionLister is implemented by stores that can return a user's
// sessions newest first. It may return model.ErrOrderingUnavailable, in which
// case the service sorts the unordered listing itself.
type OrderedSessionLister interface {
	ListSessionsByUserNewestFirst(ctx context.Context, userID string) ([]model.Session, error)
}

// Responder produces the language-model text for an attempt.
type Responder interface {
	PatientReply(ctx context.Context, c model.Case, conversation, input string) (string, error)
	Feedback(ctx context.Context, c model.Case, diagnosis, treatment string) (string, error)
}
