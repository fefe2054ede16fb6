package engine

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/backend/progression"
	"github.com/jghoshh/habittree/backend/storage/persistent"
)

// Snapshot is a reconciled Stats record together with the progression it implies.
type Snapshot struct {
	Stats models.Stats `json:"stats"`
	progression.Progress
}

func newSnapshot(stats models.Stats) Snapshot {
	return Snapshot{Stats: stats, Progress: progression.Describe(stats.TotalXP)}
}

// Stats loads the user's Stats record ready for display: created with defaults when
// missing, migrated, repaired and reset for the current day as needed. Every
// correction is also written back.
func (s *Service) Stats(ctx context.Context, userID string) (Snapshot, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	_, today := s.today()
	stats, err := s.loadStats(ctx, userID, today)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(stats), nil
}

// loadStats reads and reconciles the Stats of userID. Callers hold the user lock.
func (s *Service) loadStats(ctx context.Context, userID, today string) (models.Stats, error) {
	stored, legacy, err := s.store.FindStats(ctx, userID)
	if errors.Is(err, persistent.ErrNotFound) {
		fresh := models.DefaultStats(userID, today)
		if _, err := s.store.CreateStats(ctx, &fresh); err != nil {
			return models.Stats{}, s.storeError("create_stats", err, "user_id", userID)
		}
		// Another process may have created the record first; read whichever won.
		stored, legacy, err = s.store.FindStats(ctx, userID)
	}
	if err != nil {
		return models.Stats{}, s.storeError("find_stats", err, "user_id", userID)
	}

	if legacy {
		if err := s.store.NormalizeStats(ctx, *stored); err != nil {
			return models.Stats{}, s.storeError("normalize_stats", err, "user_id", userID)
		}
		s.logger.Info("normalized legacy stats document", "user_id", userID)
	}

	r := progression.Reconcile(*stored, today)
	if !r.Changed() {
		return r.Stats, nil
	}
	if err := s.correct(ctx, userID, today, r); err != nil {
		return models.Stats{}, err
	}
	return r.Stats, nil
}

// correct writes the corrections a reconciliation made. Each write is conditional,
// so repeating it, or racing the nightly reset job, leaves the same record.
func (s *Service) correct(ctx context.Context, userID, today string, r progression.Reconciliation) error {
	s.metrics.RecordReconcile(r.Actions())
	s.logger.Info("reconciled stats", "user_id", userID, "actions", r.Actions())

	if r.Migrated {
		replaced, err := s.store.MigrateStats(ctx, r.Stats)
		if err != nil {
			return s.storeError("migrate_stats", err, "user_id", userID)
		}
		if replaced {
			// Migration discards progression; the leaderboard must drop the old score too.
			s.publishProgress(ctx, r.Stats)
		}
		return nil
	}
	if r.Repaired {
		if err := s.store.RepairStats(ctx, userID); err != nil {
			return s.storeError("repair_stats", err, "user_id", userID)
		}
	}
	if r.Reset {
		if _, err := s.store.ResetStatsDay(ctx, userID, today); err != nil {
			return s.storeError("reset_stats_day", err, "user_id", userID)
		}
	}
	return nil
}

// WatchProgress streams a reconciled snapshot of the user's Stats, starting with the
// current one and then after every write, until ctx is done. A snapshot that needs
// correcting triggers the corrective write; a record being migrated is skipped
// because the migration itself produces the next snapshot.
func (s *Service) WatchProgress(ctx context.Context, userID string) (<-chan Snapshot, error) {
	updates, err := s.store.WatchStats(ctx, userID)
	if err != nil {
		return nil, s.storeError("watch_stats", err, "user_id", userID)
	}
	initial, err := s.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot, 1)
	out <- initial

	go func() {
		defer close(out)
		for {
			select {
			case stats, ok := <-updates:
				if !ok {
					return
				}
				snapshot, emit := s.reconcileUpdate(ctx, userID, stats)
				if !emit {
					continue
				}
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) reconcileUpdate(ctx context.Context, userID string, stats models.Stats) (Snapshot, bool) {
	_, today := s.today()
	r := progression.Reconcile(stats, today)
	if r.Changed() {
		unlock := s.locks.lock(userID)
		err := s.correct(ctx, userID, today, r)
		unlock()
		if err != nil {
			return Snapshot{}, false
		}
	}
	if r.Migrated {
		return Snapshot{}, false
	}
	return newSnapshot(r.Stats), true
}

// Verification compares the stored Stats with a rescan of the user's daily habits.
type Verification struct {
	Stored models.Stats              `json:"stored"`
	Rescan progression.RescanSummary `json:"rescan"`
	Drift  []progression.Drift       `json:"drift"`
}

// VerifyStats rescans the user's daily habits and reports where the stored daily
// counters disagree. It never writes Stats.
func (s *Service) VerifyStats(ctx context.Context, userID string) (Verification, error) {
	var (
		snapshot Snapshot
		habits   []models.Habit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot, err = s.Stats(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		habits, err = s.store.FindHabits(gctx, userID, models.CategoryDaily)
		if err != nil {
			return s.storeError("find_habits", err, "user_id", userID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Verification{}, err
	}

	_, today := s.today()
	rescan := progression.Rescan(habits, today)
	drift := rescan.Drift(snapshot.Stats)
	if len(drift) > 0 {
		s.logger.Warn("stats drift detected", "user_id", userID, "fields", len(drift))
	}
	return Verification{Stored: snapshot.Stats, Rescan: rescan, Drift: drift}, nil
}
