// Package engine runs the progression rules against the document store. It owns
// every write to a user's Stats record and serializes the writes of one user
// within the process.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/jghoshh/habittree/backend/metrics"
	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/backend/storage/cache"
	"github.com/jghoshh/habittree/backend/storage/persistent"
	"github.com/jghoshh/habittree/lib/utils"
)

// DefaultColor is the display color of habits created without one.
const DefaultColor = "#10b981"

var (
	// ErrInvalidHabit is returned for habits with an empty title or unknown category.
	ErrInvalidHabit = errors.New("invalid habit")
	// ErrInvalidDate is returned for malformed calendar dates.
	ErrInvalidDate = utils.ErrInvalidDate
	// ErrFutureDate is returned when editing the history of a day that has not happened yet.
	ErrFutureDate = errors.New("date is in the future")
	// ErrInvalidFriend is returned when linking a user to nobody or to themselves.
	ErrInvalidFriend = errors.New("invalid friend")
)

// ProgressPublisher announces a user's progression after a toggle.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event models.ProgressEvent) error
}

// Options holds the dependencies of a Service. Store is required; the rest
// fall back to in-process defaults.
type Options struct {
	Store     persistent.StorageInterface
	Cache     cache.CacheInterface
	Publisher ProgressPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Clock     utils.Clock
	// Location decides which calendar day "today" is.
	Location *time.Location
}

// Service implements the habit and progression operations for authenticated users.
type Service struct {
	store     persistent.StorageInterface
	cache     cache.CacheInterface
	publisher ProgressPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     utils.Clock
	location  *time.Location

	locks userLocks
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: a store is required")
	}
	s := &Service{
		store:     opts.Store,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		clock:     opts.Clock,
		location:  opts.Location,
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryCache()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.location == nil {
		s.location = time.UTC
	}
	s.locks.locks = make(map[string]*userLock)
	return s, nil
}

// today returns the current instant and its calendar date.
func (s *Service) today() (time.Time, string) {
	now := s.clock()
	return now, utils.DateString(now, s.location)
}

// NewHabit is the user-supplied part of a habit.
type NewHabit struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    models.Category `json:"category"`
	Color       string          `json:"color"`
}

// AddHabit validates and stores a new habit. Daily habits also raise the user's
// count of habits due today.
func (s *Service) AddHabit(ctx context.Context, userID string, in NewHabit) (*models.Habit, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.Wrap(ErrInvalidHabit, "title is required")
	}
	category := in.Category
	if category == "" {
		category = models.CategoryDaily
	}
	if !category.Valid() {
		return nil, errors.Wrapf(ErrInvalidHabit, "unknown category %q", category)
	}
	color := in.Color
	if color == "" {
		color = DefaultColor
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	now, today := s.today()
	if _, err := s.loadStats(ctx, userID, today); err != nil {
		return nil, err
	}

	habit := &models.Habit{
		UserID:            userID,
		Title:             title,
		Description:       strings.TrimSpace(in.Description),
		Category:          category,
		Color:             color,
		CreatedAt:         now.UTC(),
		CompletionHistory: models.History{},
	}

	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.store.AddHabit(ctx, habit); err != nil {
			if errors.Is(err, persistent.ErrDuplicate) {
				return err
			}
			return s.storeError("add_habit", err, "user_id", userID)
		}
		if category == models.CategoryDaily {
			if err := s.store.AdjustHabitCount(ctx, userID, 1); err != nil {
				return s.storeError("adjust_habit_count", err, "user_id", userID, "habit_id", habit.ID.Hex())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// ListHabits returns a user's habits, oldest first. An empty category lists all of them.
func (s *Service) ListHabits(ctx context.Context, userID string, category models.Category) ([]models.Habit, error) {
	if category != "" && !category.Valid() {
		return nil, errors.Wrapf(ErrInvalidHabit, "unknown category %q", category)
	}
	habits, err := s.store.FindHabits(ctx, userID, category)
	if err != nil {
		return nil, s.storeError("find_habits", err, "user_id", userID)
	}
	return habits, nil
}

// DeleteHabit removes a habit. Deleting a daily habit lowers the count of habits
// due today; the other Stats counters keep what the habit contributed.
func (s *Service) DeleteHabit(ctx context.Context, userID, habitID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	habit, err := s.findHabit(ctx, userID, habitID)
	if err != nil {
		return err
	}

	return s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.store.DeleteHabit(ctx, userID, habitID); err != nil {
			if errors.Is(err, persistent.ErrNotFound) {
				return err
			}
			return s.storeError("delete_habit", err, "user_id", userID, "habit_id", habitID)
		}
		if habit.Category == models.CategoryDaily {
			if err := s.store.AdjustHabitCount(ctx, userID, -1); err != nil {
				return s.storeError("adjust_habit_count", err, "user_id", userID, "habit_id", habitID)
			}
		}
		return nil
	})
}

// SetHistoryDate records whether a habit was completed on a past or current date.
// It is a manual correction of the history only: streak, points and Stats are not
// recomputed, though a corrected yesterday does decide whether the next completion
// continues the streak.
func (s *Service) SetHistoryDate(ctx context.Context, userID, habitID, date string, completed bool) error {
	day, err := utils.ParseDate(date)
	if err != nil {
		return err
	}
	_, today := s.today()
	if day.Format(utils.DateLayout) > today {
		return errors.Wrapf(ErrFutureDate, "%s", date)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	_, err = s.store.SetHabitHistory(ctx, userID, habitID, day.Format(utils.DateLayout), completed)
	if err != nil {
		if errors.Is(err, persistent.ErrNotFound) || errors.Is(err, persistent.ErrInvalidID) {
			return err
		}
		return s.storeError("set_habit_history", err, "user_id", userID, "habit_id", habitID)
	}
	return nil
}

// LinkFriend makes two users appear on each other's leaderboard.
func (s *Service) LinkFriend(ctx context.Context, userID, friendID string) error {
	friendID = strings.TrimSpace(friendID)
	if friendID == "" || friendID == userID {
		return ErrInvalidFriend
	}
	if err := s.cache.AddFriend(ctx, userID, friendID); err != nil {
		s.logger.Error("failed to link friends", "user_id", userID, "friend_id", friendID, "error", err)
		return errors.Wrap(err, "link friend")
	}
	return nil
}

func (s *Service) findHabit(ctx context.Context, userID, habitID string) (*models.Habit, error) {
	habit, err := s.store.FindHabit(ctx, userID, habitID)
	if err != nil {
		if errors.Is(err, persistent.ErrNotFound) || errors.Is(err, persistent.ErrInvalidID) {
			return nil, err
		}
		return nil, s.storeError("find_habit", err, "user_id", userID, "habit_id", habitID)
	}
	return habit, nil
}

// storeError logs and counts a failed store operation and wraps err with op.
func (s *Service) storeError(op string, err error, attrs ...any) error {
	s.metrics.RecordStoreError(op)
	s.logger.Error("store operation failed", append([]any{"op", op, "error", err}, attrs...)...)
	return errors.Wrap(err, op)
}

// joinErrors combines the failures of writes that were all attempted.
func joinErrors(errs ...error) error {
	return multierr.Combine(errs...)
}

type userLock struct {
	sync.Mutex
	refs int
}

// userLocks hands out one mutex per user, dropping it once nobody holds or waits for it.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
