package session

import (
	"cmp"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/pavelanni/prognosis/internal/model"
)

// Rank builds leaderboard entries from completed sessions, ordered by best
// score, then average score, then number of completed attempts. Active
// sessions are ignored. A non-positive limit returns every entry.
func Rank(sessions []model.Session, displayName func(userID string) string, limit int) []model.LeaderboardEntry {
	completed := lo.Filter(sessions, func(s model.Session, _ int) bool {
		return s.Status == model.StatusCompleted && s.Score != nil
	})
	byUser := lo.GroupBy(completed, func(s model.Session) string { return s.UserID })

	entries := make([]model.LeaderboardEntry, 0, len(byUser))
	for userID, list := range byUser {
		scores := lo.Map(list, func(s model.Session, _ int) float64 { return float64(*s.Score) })
		entries = append(entries, model.LeaderboardEntry{
			UserID:       userID,
			Name:         displayName(userID),
			BestScore:    int(lo.Max(scores)),
			AverageScore: math.Round(lo.Mean(scores)*10) / 10,
			Completed:    len(scores),
		})
	}
	SortLeaderboard(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// SortLeaderboard orders entries best first; ties fall back to user id so
// the order is stable across stores.
func SortLeaderboard(entries []model.LeaderboardEntry) {
	slices.SortFunc(entries, func(a, b model.LeaderboardEntry) int {
		return cmp.Or(
			cmp.Compare(b.BestScore, a.BestScore),
			cmp.Compare(b.AverageScore, a.AverageScore),
			cmp.Compare(b.Completed, a.Completed),
			cmp.Compare(a.UserID, b.UserID),
		)
	})
}
