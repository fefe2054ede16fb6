package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/backend/progression"
	"github.com/jghoshh/habittree/backend/storage/persistent"
)

// ToggleResult is the outcome of a successful completion toggle.
type ToggleResult struct {
	Habit     models.Habit         `json:"habit"`
	Stats     models.Stats         `json:"stats"`
	XP        int                  `json:"xp"`
	Progress  progression.Progress `json:"progress"`
	LeveledUp bool                 `json:"leveled_up"`
}

// ToggleCompletion flips the completion status of a habit for today and merges
// the resulting delta into the owner's Stats.
//
// The habit write and the Stats write are both attempted even when the first one
// fails, and their failures are returned together; with transactions enabled they
// commit or abort as one. On error nothing has been published and the caller should
// discard any optimistic state.
func (s *Service) ToggleCompletion(ctx context.Context, userID, habitID string) (ToggleResult, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	now, today := s.today()

	habit, err := s.findHabit(ctx, userID, habitID)
	if err != nil {
		return ToggleResult{}, err
	}
	stats, err := s.loadStats(ctx, userID, today)
	if err != nil {
		return ToggleResult{}, err
	}

	completion, err := progression.ToggleCompletion(*habit, today, now)
	if err != nil {
		return ToggleResult{}, err
	}
	next, update, err := progression.ApplyDelta(stats, completion.Delta, today)
	if err != nil {
		return ToggleResult{}, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		var habitErr, statsErr error
		if _, err := s.store.UpdateHabit(ctx, userID, habitID, completion.Update); err != nil {
			if errors.Is(err, persistent.ErrNotFound) {
				habitErr = err
			} else {
				habitErr = s.storeError("update_habit", err, "user_id", userID, "habit_id", habitID)
			}
		}
		if err := s.store.ApplyStatsUpdate(ctx, userID, update); err != nil {
			statsErr = s.storeError("apply_stats_update", err, "user_id", userID, "habit_id", habitID)
		}
		return joinErrors(habitErr, statsErr)
	})
	s.metrics.RecordToggle(completion.Completed, completion.XP, err)
	if err != nil {
		return ToggleResult{}, err
	}

	before := progression.LevelFromTotalXP(stats.TotalXP)
	progress := progression.Describe(next.TotalXP)
	result := ToggleResult{
		Habit:     completion.Habit,
		Stats:     next,
		XP:        completion.XP,
		Progress:  progress,
		LeveledUp: progress.Level > before,
	}
	if result.LeveledUp {
		s.metrics.RecordLevelUp()
		s.logger.Info("level up", "user_id", userID, "level", progress.Level, "tree_stage", progress.TreeStage)
	}

	s.publishProgress(ctx, next)

	return result, nil
}

// publishProgress announces the progression of a freshly written Stats record.
func (s *Service) publishProgress(ctx context.Context, stats models.Stats) {
	progress := progression.Describe(stats.TotalXP)
	s.publish(ctx, models.ProgressEvent{
		ID:         uuid.NewString(),
		UserID:     stats.UserID,
		TotalXP:    stats.TotalXP,
		Level:      progress.Level,
		TreeStage:  progress.TreeStage,
		OccurredAt: s.clock().UTC(),
	})
}

// publish announces an event. The toggle has already been stored, so a failure
// only delays the leaderboard until the user's next toggle.
func (s *Service) publish(ctx context.Context, event models.ProgressEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProgress(ctx, event); err != nil {
		s.logger.Warn("failed to publish progress event", "user_id", event.UserID, "event_id", event.ID, "error", err)
		s.metrics.RecordProgressEvent("unpublished")
	}
}
