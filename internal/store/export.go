package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/prognosis/internal/model"
)

// ExportSessions builds export-ready results from all sessions, oldest
// first, with per-user session numbers.
func (s *Store) ExportSessions(ctx context.Context) (*model.SessionExport, error) {
	sessions, err := s.AllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	cases := make(map[string]model.Case)
	emails := make(map[string]string)
	userSessionCount := make(map[string]int)

	results := make([]model.SessionResult, 0, len(sessions))
	for _, sess := range sessions {
		c, ok := cases[sess.CaseID]
		if !ok {
			c, err = s.GetCase(ctx, sess.CaseID)
			if errors.Is(err, model.ErrNotFound) {
				slog.Warn("export: skipping session with missing case", "session", sess.ID, "case", sess.CaseID)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get case for session %s: %w", sess.ID, err)
			}
			cases[sess.CaseID] = c
		}

		email, ok := emails[sess.UserID]
		if !ok {
			user, err := s.GetUserByID(ctx, sess.UserID)
			if err != nil {
				return nil, fmt.Errorf("get user %s: %w", sess.UserID, err)
			}
			if user != nil {
				email = user.Email
			}
			emails[sess.UserID] = email
		}

		userSessionCount[sess.UserID]++
		results = append(results, model.SessionResult{
			SessionID:        sess.ID,
			UserID:           sess.UserID,
			Email:            email,
			SessionNumber:    userSessionCount[sess.UserID],
			Status:           sess.Status,
			StartedAt:        sess.StartedAt,
			CompletedAt:      sess.CompletedAt,
			Case:             c.Public(),
			CorrectDiagnosis: c.CorrectDiagnosis,
			CorrectTreatment: c.CorrectTreatment,
			Conversation:     sess.Turns,
			Diagnosis:        sess.Diagnosis,
			Treatment:        sess.Treatment,
			Score:            sess.Score,
			Feedback:         sess.Feedback,
		})
	}

	return &model.SessionExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(results),
		Results:    results,
	}, nil
}
