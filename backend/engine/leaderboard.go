package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/backend/progression"
	"github.com/jghoshh/habittree/backend/storage/persistent"
)

// LeaderboardSize is the number of top entries returned.
const LeaderboardSize = 10

// Leaderboard ranks the user and their linked friends by total XP, highest first,
// ties broken by user id. Scores come from the leaderboard cache; users the cache has
// not seen yet are ranked by their stored Stats. When the user is outside the top
// entries their own row is appended with its real rank.
func (s *Service) Leaderboard(ctx context.Context, userID string) ([]models.LeaderboardEntry, error) {
	friends, err := s.cache.Friends(ctx, userID)
	if err != nil {
		s.logger.Error("failed to read friends", "user_id", userID, "error", err)
		return nil, errors.Wrap(err, "leaderboard friends")
	}
	ids := append([]string{userID}, friends...)

	scores, err := s.cache.Scores(ctx, ids)
	if err != nil {
		s.logger.Error("failed to read leaderboard scores", "user_id", userID, "error", err)
		return nil, errors.Wrap(err, "leaderboard scores")
	}

	entries := make([]models.LeaderboardEntry, 0, len(ids))
	for _, id := range ids {
		xp, ok := scores[id]
		if !ok {
			xp, err = s.storedXP(ctx, id)
			if err != nil {
				return nil, err
			}
		}
		p := progression.Describe(xp)
		entries = append(entries, models.LeaderboardEntry{
			UserID:        id,
			Level:         p.Level,
			TotalXP:       max(xp, 0),
			TreeStage:     p.TreeStage,
			IsCurrentUser: id == userID,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalXP != entries[j].TotalXP {
			return entries[i].TotalXP > entries[j].TotalXP
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	if len(entries) <= LeaderboardSize {
		return entries, nil
	}
	top := append([]models.LeaderboardEntry(nil), entries[:LeaderboardSize]...)
	for _, e := range entries[LeaderboardSize:] {
		if e.IsCurrentUser {
			top = append(top, e)
			break
		}
	}
	return top, nil
}

// storedXP reads a user's XP from the store without reconciling it. Users without a
// Stats record have none.
func (s *Service) storedXP(ctx context.Context, userID string) (int, error) {
	stats, _, err := s.store.FindStats(ctx, userID)
	if errors.Is(err, persistent.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, s.storeError("find_stats", err, "user_id", userID)
	}
	if stats.SchemaVersion < models.CurrentSchemaVersion {
		return 0, nil
	}
	return max(stats.TotalXP, 0), nil
}
