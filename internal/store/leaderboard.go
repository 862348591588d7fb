package store

import (
	"context"

	"github.com/pavelanni/prognosis/internal/model"
)

// Leaderboard ranks users by best completed score, then average score, then
// number of completed sessions. A non-positive limit returns all users.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.user_id, COALESCE(u.name, ''), COALESCE(u.email, ''),
		        MAX(s.score), ROUND(AVG(s.score), 1), COUNT(*)
		 FROM sessions s
		 LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.status = 'completed' AND s.score IS NOT NULL
		 GROUP BY s.user_id
		 ORDER BY 4 DESC, 5 DESC, 6 DESC, s.user_id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		var (
			e           model.LeaderboardEntry
			name, email string
		)
		if err := rows.Scan(&e.UserID, &name, &email, &e.BestScore, &e.AverageScore, &e.Completed); err != nil {
			return nil, err
		}
		e.Name = model.User{Name: name, Email: email}.DisplayName()
		if e.Name == "" {
			e.Name = e.UserID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
