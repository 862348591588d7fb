package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pavelanni/prognosis/internal/model"
)

const sessionColumns = `id, user_id, case_id, status, diagnosis, treatment, score, feedback, started_at, completed_at`

func scanSession(row scanner) (model.Session, error) {
	var (
		sess        model.Session
		diagnosis   sql.NullString
		treatment   sql.NullString
		score       sql.NullInt64
		feedback    sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CaseID, &sess.Status,
		&diagnosis, &treatment, &score, &feedback, &sess.StartedAt, &completedAt)
	if err != nil {
		return sess, err
	}
	if diagnosis.Valid {
		sess.Diagnosis = &diagnosis.String
	}
	if treatment.Valid {
		sess.Treatment = &treatment.String
	}
	if score.Valid {
		v := int(score.Int64)
		sess.Score = &v
	}
	if feedback.Valid {
		sess.Feedback = &feedback.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return sess, nil
}

// CreateSession inserts a new session without turns.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = model.StatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, case_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CaseID, sess.Status, sess.StartedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return sess.ID, nil
}

// GetSession returns a session with its turns, or model.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Session{}, err
	}

	turns, err := s.queryTurns(ctx, `WHERE session_id = ?`, id)
	if err != nil {
		return model.Session{}, err
	}
	sess.Turns = turns[id]
	if sess.Turns == nil {
		sess.Turns = []model.Turn{}
	}
	return sess, nil
}

// AppendTurn inserts a turn only while the session is active. The status
// check and the insert are a single statement.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, t model.Turn) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, user_input, ai_response, created_at)
		 SELECT id, ?, ?, ? FROM sessions WHERE id = ? AND status = ?`,
		t.UserInput, t.AIResponse, t.Timestamp.UTC(), sessionID, model.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var status model.SessionStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return model.ErrSessionCompleted
}

// FinalizeSession records the submission and marks the session completed.
// Calling it again overwrites the previous submission.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, sub model.Submission) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, diagnosis = ?, treatment = ?, score = ?, feedback = ?, completed_at = ?
		 WHERE id = ?`,
		model.StatusCompleted, sub.Diagnosis, sub.Treatment, sub.Score, sub.Feedback,
		sub.CompletedAt.UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	return nil
}

// ListSessionsByUser returns the user's sessions in insertion order.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]model.Session, error) {
	return s.listSessions(ctx, userID, `rowid`)
}

// ListSessionsByUserNewestFirst returns the user's sessions ordered by
// started_at descending, using idx_sessions_user_started.
func (s *Store) ListSessionsByUserNewestFirst(ctx context.Context, userID string) ([]model.Session, error) {
	return s.listSessions(ctx, userID, `started_at DESC, id`)
}

// AllSessions returns every session, oldest first.
func (s *Store) AllSessions(ctx context.Context) ([]model.Session, error) {
	return s.listSessions(ctx, "", `started_at, id`)
}

// listSessions loads the sessions of one user (all users if userID is
// empty), then their turns with a second query.
func (s *Store) listSessions(ctx context.Context, userID, orderBy string) ([]model.Session, error) {
	var (
		where, turnWhere string
		args             []any
	)
	if userID != "" {
		where = `WHERE user_id = ?`
		turnWhere = `WHERE session_id IN (SELECT id FROM sessions WHERE user_id = ?)`
		args = []any{userID}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions `+where+` ORDER BY `+orderBy, args...)
	if err != nil {
		return nil, err
	}
	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	turns, err := s.queryTurns(ctx, turnWhere, args...)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Turns = turns[sessions[i].ID]
		if sessions[i].Turns == nil {
			sessions[i].Turns = []model.Turn{}
		}
	}
	return sessions, nil
}

// queryTurns returns turns grouped by session id, each group in append order.
func (s *Store) queryTurns(ctx context.Context, where string, args ...any) (map[string][]model.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_input, ai_response, created_at FROM turns `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]model.Turn)
	for rows.Next() {
		var (
			sessionID string
			t         model.Turn
		)
		if err := rows.Scan(&sessionID, &t.UserInput, &t.AIResponse, &t.Timestamp); err != nil {
			return nil, err
		}
		out[sessionID] = append(out[sessionID], t)
	}
	return out, rows.Err()
}
