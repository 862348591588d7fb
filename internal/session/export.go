package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavelanni/prognosis/internal/model"
)

// BuildExport joins sessions (oldest first) with their cases and user
// emails. SessionNumber counts each user's attempts from 1. Sessions whose
// case is missing are skipped.
func BuildExport(ctx context.Context, sessions []model.Session, cases CaseRepository,
	email func(userID string) string, now time.Time) (*model.SessionExport, error) {
	attempts := make(map[string]int)
	results := make([]model.SessionResult, 0, len(sessions))
	for _, sess := range sessions {
		c, err := cases.GetCase(ctx, sess.CaseID)
		if err != nil {
			slog.WarnContext(ctx, "export: skipping session with unavailable case",
				"session_id", sess.ID, "case_id", sess.CaseID, "error", err)
			continue
		}
		attempts[sess.UserID]++
		turns := sess.Turns
		if turns == nil {
			turns = []model.Turn{}
		}
		results = append(results, model.SessionResult{
			SessionID:        sess.ID,
			UserID:           sess.UserID,
			Email:            email(sess.UserID),
			SessionNumber:    attempts[sess.UserID],
			Status:           sess.Status,
			StartedAt:        sess.StartedAt,
			CompletedAt:      sess.CompletedAt,
			Case:             c.Public(),
			CorrectDiagnosis: c.CorrectDiagnosis,
			CorrectTreatment: c.CorrectTreatment,
			Conversation:     turns,
			Diagnosis:        sess.Diagnosis,
			Treatment:        sess.Treatment,
			Score:            sess.Score,
			Feedback:         sess.Feedback,
		})
	}
	return &model.SessionExport{
		ExportedAt: now,
		Count:      len(results),
		Results:    results,
	}, nil
}
