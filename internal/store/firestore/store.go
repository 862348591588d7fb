// Package firestore stores cases, sessions and users in Cloud Firestore.
// Session transcripts live in the chat_history array of each session
// document.
package firestore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
)

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// New creates a Firestore store for projectID. credentialsFile is optional;
// without it Application Default Credentials (or FIRESTORE_EMULATOR_HOST)
// are used.
func New(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reads at most one case document.
func (s *Store) Ping(ctx context.Context) error {
	iter := s.client.Collection("cases").Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (s *Store) cases() *firestore.CollectionRef    { return s.client.Collection("cases") }
func (s *Store) sessions() *firestore.CollectionRef { return s.client.Collection("sessions") }
func (s *Store) users() *firestore.CollectionRef    { return s.client.Collection("users") }
func (s *Store) tokens() *firestore.CollectionRef   { return s.client.Collection("auth_tokens") }
func (s *Store) imported() *firestore.CollectionRef { return s.client.Collection("imported_files") }

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// ─────────────────────────────────────────
// Cases
// ─────────────────────────────────────────

// ListCases reads the whole collection and orders it by created_at in
// memory. Documents without created_at sort first.
func (s *Store) ListCases(ctx context.Context) ([]model.Case, error) {
	iter := s.cases().Documents(ctx)
	defer iter.Stop()

	var stored []storedCase
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListCases: %w", err)
		}
		var doc caseDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode caseDoc %s: %w", snap.Ref.ID, err)
		}
		stored = append(stored, storedCase{id: snap.Ref.ID, doc: doc})
	}
	return orderCases(stored), nil
}

func (s *Store) GetCase(ctx context.Context, id string) (model.Case, error) {
	snap, err := s.cases().Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return model.Case{}, fmt.Errorf("case %s: %w", id, model.ErrNotFound)
		}
		return model.Case{}, fmt.Errorf("firestore GetCase: %w", err)
	}
	var doc caseDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Case{}, fmt.Errorf("decode caseDoc %s: %w", id, err)
	}
	return doc.toModel(id), nil
}

func (s *Store) AddCase(ctx context.Context, c model.Case) (string, error) {
	if c.CaseType == "" {
		c.CaseType = model.CasePredefined
	}
	ref := s.cases().NewDoc()
	if c.ID != "" {
		ref = s.cases().Doc(c.ID)
	}
	if _, err := ref.Create(ctx, toCaseDoc(c, s.now().UTC())); err != nil {
		return "", fmt.Errorf("firestore AddCase: %w", err)
	}
	return ref.ID, nil
}

// ─────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, sess model.Session) (string, error) {
	ref := s.sessions().NewDoc()
	if sess.ID != "" {
		ref = s.sessions().Doc(sess.ID)
	}
	if _, err := ref.Create(ctx, toSessionDoc(sess)); err != nil {
		return "", fmt.Errorf("firestore CreateSession: %w", err)
	}
	return ref.ID, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	snap, err := s.sessions().Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("firestore GetSession: %w", err)
	}
	return decodeSession(snap)
}

// AppendTurn appends to chat_history with ArrayUnion inside a transaction
// that re-reads the session status.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, t model.Turn) error {
	ref := s.sessions().Doc(sessionID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
			}
			return err
		}
		st, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		if st == string(model.StatusCompleted) {
			return model.ErrSessionCompleted
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "chat_history", Value: firestore.ArrayUnion(toTurnDoc(t))},
		})
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrSessionCompleted) {
			return err
		}
		return fmt.Errorf("firestore AppendTurn: %w", err)
	}
	return nil
}

func (s *Store) FinalizeSession(ctx context.Context, sessionID string, sub model.Submission) error {
	_, err := s.sessions().Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "diagnosis", Value: sub.Diagnosis},
		{Path: "treatment", Value: sub.Treatment},
		{Path: "score", Value: int64(sub.Score)},
		{Path: "feedback", Value: sub.Feedback},
		{Path: "status", Value: string(model.StatusCompleted)},
		{Path: "completed_at", Value: sub.CompletedAt.UTC()},
	})
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
		}
		return fmt.Errorf("firestore FinalizeSession: %w", err)
	}
	return nil
}

// ListSessionsByUser runs the plain equality query; it needs no composite
// index.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]model.Session, error) {
	return s.querySessions(ctx, s.sessions().Where("user_id", "==", userID))
}

// ListSessionsByUserNewestFirst needs a composite index on
// (user_id, started_at desc). Without it Firestore answers
// FailedPrecondition, reported as model.ErrOrderingUnavailable.
func (s *Store) ListSessionsByUserNewestFirst(ctx context.Context, userID string) ([]model.Session, error) {
	q := s.sessions().Where("user_id", "==", userID).OrderBy("started_at", firestore.Desc)
	out, err := s.querySessions(ctx, q)
	if status.Code(err) == codes.FailedPrecondition {
		slog.WarnContext(ctx, "composite index for sessions(user_id, started_at) missing", "error", err)
		return nil, model.ErrOrderingUnavailable
	}
	return out, err
}

// AllSessions returns every session, oldest first.
func (s *Store) AllSessions(ctx context.Context) ([]model.Session, error) {
	return s.querySessions(ctx, s.sessions().OrderBy("started_at", firestore.Asc))
}

func (s *Store) querySessions(ctx context.Context, q firestore.Query) ([]model.Session, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []model.Session
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query sessions: %w", err)
		}
		sess, err := decodeSession(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeSession(snap *firestore.DocumentSnapshot) (model.Session, error) {
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Session{}, fmt.Errorf("decode sessionDoc %s: %w", snap.Ref.ID, err)
	}
	return doc.toModel(snap.Ref.ID), nil
}

// Leaderboard ranks users from their completed sessions.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	completed, err := s.querySessions(ctx, s.sessions().Where("status", "==", string(model.StatusCompleted)))
	if err != nil {
		return nil, err
	}
	users, err := s.userIndex(ctx)
	if err != nil {
		return nil, err
	}
	return session.Rank(completed, func(id string) string {
		if u, ok := users[id]; ok {
			return u.DisplayName()
		}
		return id
	}, limit), nil
}

// ExportSessions returns every session joined with its case and user email.
func (s *Store) ExportSessions(ctx context.Context) (*model.SessionExport, error) {
	all, err := s.AllSessions(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.userIndex(ctx)
	if err != nil {
		return nil, err
	}
	return session.BuildExport(ctx, all, s, func(id string) string {
		if u, ok := users[id]; ok {
			return u.Email
		}
		return ""
	}, s.now().UTC())
}

// ─────────────────────────────────────────
// Users
// ─────────────────────────────────────────

// CreateUser stores a user. Password accounts are checked for a duplicate
// email inside the same transaction that creates the document.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	ref := s.users().Doc(u.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if u.AuthProvider == model.AuthPassword {
			q := s.users().
				Where("email_lower", "==", strings.ToLower(u.Email)).
				Where("auth_provider", "==", string(model.AuthPassword)).
				Limit(1)
			docs, err := tx.Documents(q).GetAll()
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				return model.ErrEmailTaken
			}
		}
		return tx.Create(ref, toUserDoc(u))
	})
	if err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return "", err
		}
		return "", fmt.Errorf("firestore CreateUser: %w", err)
	}
	slog.InfoContext(ctx, "created user", "id", u.ID, "email", u.Email, "provider", u.AuthProvider)
	return u.ID, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, s.users().
		Where("email_lower", "==", strings.ToLower(email)).
		Where("auth_provider", "==", string(model.AuthPassword)))
}

func (s *Store) GetUserByProviderUID(ctx context.Context, uid string) (*model.User, error) {
	if uid == "" {
		return nil, nil
	}
	return s.findUser(ctx, s.users().Where("provider_uid", "==", uid))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	snap, err := s.users().Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore GetUserByID: %w", err)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode userDoc %s: %w", id, err)
	}
	return doc.toModel(id), nil
}

func (s *Store) findUser(ctx context.Context, q firestore.Query) (*model.User, error) {
	iter := q.Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore find user: %w", err)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode userDoc %s: %w", snap.Ref.ID, err)
	}
	return doc.toModel(snap.Ref.ID), nil
}

func (s *Store) userIndex(ctx context.Context) (map[string]*model.User, error) {
	iter := s.users().Documents(ctx)
	defer iter.Stop()
	out := make(map[string]*model.User)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list users: %w", err)
		}
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode userDoc %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toModel(snap.Ref.ID)
	}
}

// ─────────────────────────────────────────
// Auth tokens and import ledger
// ─────────────────────────────────────────

func (s *Store) CreateAuthToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	now := s.now().UTC()
	_, err := s.tokens().Doc(token).Create(ctx, tokenDoc{UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return "", fmt.Errorf("firestore CreateAuthToken: %w", err)
	}
	return token, nil
}

func (s *Store) GetAuthToken(ctx context.Context, token string) (*model.AuthToken, error) {
	snap, err := s.tokens().Doc(token).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore GetAuthToken: %w", err)
	}
	var doc tokenDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode tokenDoc: %w", err)
	}
	if s.now().After(doc.ExpiresAt) {
		_, _ = snap.Ref.Delete(ctx)
		return nil, nil
	}
	return &model.AuthToken{Token: token, UserID: doc.UserID, CreatedAt: doc.CreatedAt, ExpiresAt: doc.ExpiresAt}, nil
}

func (s *Store) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	iter := s.tokens().Where("expires_at", "<", s.now().UTC()).Documents(ctx)
	defer iter.Stop()
	var n int64
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("firestore list expired tokens: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return n, fmt.Errorf("firestore delete token: %w", err)
		}
		n++
	}
}

// importedID maps a file path to a valid document id.
func importedID(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:])
}

func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	snap, err := s.imported().Doc(importedID(path)).Get(ctx)
	if err != nil {
		if notFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("firestore GetImportedFileHash: %w", err)
	}
	var doc importedFileDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("decode importedFileDoc: %w", err)
	}
	return doc.Hash, nil
}

func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.imported().Doc(importedID(path)).Set(ctx, importedFileDoc{
		Path: path, Hash: hash, ImportedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("firestore SetImportedFileHash: %w", err)
	}
	return nil
}
