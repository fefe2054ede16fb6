package persistent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jghoshh/habittree/backend/models"
)

// watchBuffer is the number of snapshots a slow watcher may fall behind before
// further snapshots are dropped for it.
const watchBuffer = 16

// MemoryStorage is an in-process StorageInterface used when no MongoDB URI is
// configured and by tests. Every method copies values in and out, so callers
// never share maps with the store.
type MemoryStorage struct {
	mu       sync.Mutex
	habits   map[primitive.ObjectID]models.Habit
	stats    map[string]models.Stats
	watchers map[string]map[chan models.Stats]struct{}
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		habits:   make(map[primitive.ObjectID]models.Habit),
		stats:    make(map[string]models.Stats),
		watchers: make(map[string]map[chan models.Stats]struct{}),
	}
}

// Disconnect is a no-op.
func (m *MemoryStorage) Disconnect() error {
	return nil
}

// WithTransaction runs fn directly.
func (m *MemoryStorage) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MemoryStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if habit.UserID == "" {
		return nil, errors.New("habit has no owner")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.habits {
		if h.UserID == habit.UserID && h.Title == habit.Title {
			return nil, errors.Wrapf(ErrDuplicate, "%q", habit.Title)
		}
	}

	habit.ID = primitive.NewObjectID()
	if habit.CompletionHistory == nil {
		habit.CompletionHistory = models.History{}
	}
	stored := *habit
	stored.CompletionHistory = habit.CompletionHistory.Clone()
	m.habits[habit.ID] = stored
	return habit, nil
}

func (m *MemoryStorage) FindHabit(ctx context.Context, userID, habitID string) (*models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, err := m.lookupHabit(userID, habitID)
	if err != nil {
		return nil, err
	}
	out := copyHabit(habit)
	return &out, nil
}

func (m *MemoryStorage) FindHabits(ctx context.Context, userID string, category models.Category) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habits := []models.Habit{}
	for _, h := range m.habits {
		if h.UserID != userID || (category != "" && h.Category != category) {
			continue
		}
		habits = append(habits, copyHabit(h))
	}
	sort.Slice(habits, func(i, j int) bool {
		if habits[i].CreatedAt.Equal(habits[j].CreatedAt) {
			return habits[i].ID.Hex() < habits[j].ID.Hex()
		}
		return habits[i].CreatedAt.Before(habits[j].CreatedAt)
	})
	return habits, nil
}

func (m *MemoryStorage) UpdateHabit(ctx context.Context, userID, habitID string, update models.HabitUpdate) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, err := m.lookupHabit(userID, habitID)
	if err != nil {
		return nil, err
	}
	update.Apply(&habit)
	m.habits[habit.ID] = habit
	return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (m *MemoryStorage) SetHabitHistory(ctx context.Context, userID, habitID, date string, completed bool) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, err := m.lookupHabit(userID, habitID)
	if err != nil {
		return nil, err
	}
	if habit.CompletionHistory == nil {
		habit.CompletionHistory = models.History{}
	}
	habit.CompletionHistory[date] = completed
	m.habits[habit.ID] = habit
	return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (m *MemoryStorage) DeleteHabit(ctx context.Context, userID, habitID string) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, err := m.lookupHabit(userID, habitID)
	if err != nil {
		return nil, err
	}
	delete(m.habits, habit.ID)
	return &DeleteResult{DeletedCount: 1}, nil
}

// lookupHabit returns the stored habit itself; callers hold m.mu.
func (m *MemoryStorage) lookupHabit(userID, habitID string) (models.Habit, error) {
	id, err := primitive.ObjectIDFromHex(habitID)
	if err != nil {
		return models.Habit{}, errors.Wrapf(ErrInvalidID, "%q", habitID)
	}
	habit, ok := m.habits[id]
	if !ok || habit.UserID != userID {
		return models.Habit{}, ErrNotFound
	}
	return habit, nil
}

// FindStats never reports a legacy shape since the memory store only holds typed records.
func (m *MemoryStorage) FindStats(ctx context.Context, userID string) (*models.Stats, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[userID]
	if !ok {
		return nil, false, ErrNotFound
	}
	return &stats, false, nil
}

func (m *MemoryStorage) CreateStats(ctx context.Context, stats *models.Stats) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stats[stats.UserID]; ok {
		return false, nil
	}
	m.putStats(*stats)
	return true, nil
}

func (m *MemoryStorage) ApplyStatsUpdate(ctx context.Context, userID string, update models.StatsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsOrDefault(userID)
	update.Apply(&stats)
	m.putStats(stats)
	return nil
}

func (m *MemoryStorage) AdjustHabitCount(ctx context.Context, userID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsOrDefault(userID)
	stats.TotalHabitsToday = max(stats.TotalHabitsToday+delta, 0)
	stats.HealthBarPercentage = models.HealthBar(stats.HabitsCompletedToday, stats.TotalHabitsToday)
	m.putStats(stats)
	return nil
}

func (m *MemoryStorage) MigrateStats(ctx context.Context, stats models.Stats) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.stats[stats.UserID]
	if !ok || current.SchemaVersion >= stats.SchemaVersion {
		return false, nil
	}
	m.putStats(stats)
	return true, nil
}

func (m *MemoryStorage) RepairStats(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[userID]
	if !ok {
		return nil
	}
	for _, field := range []*int{
		&stats.TotalXP, &stats.TotalPoints, &stats.CurrentStreak, &stats.LongestStreak,
		&stats.HabitsCompletedToday, &stats.TotalHabitsToday,
	} {
		*field = max(*field, 0)
	}
	for day := range stats.WeeklyXP {
		stats.WeeklyXP[day] = max(stats.WeeklyXP[day], 0)
	}
	stats.LongestStreak = max(stats.LongestStreak, stats.CurrentStreak)
	stats.HealthBarPercentage = models.HealthBar(stats.HabitsCompletedToday, stats.TotalHabitsToday)
	m.putStats(stats)
	return nil
}

func (m *MemoryStorage) ResetStatsDay(ctx context.Context, userID, today string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[userID]
	if !ok || stats.LastResetDate == today {
		return false, nil
	}
	stats.HabitsCompletedToday = 0
	stats.HealthBarPercentage = 0
	stats.LastResetDate = today
	m.putStats(stats)
	return true, nil
}

func (m *MemoryStorage) NormalizeStats(ctx context.Context, stats models.Stats) error {
	return nil
}

// WatchStats registers a watcher for userID. Snapshots are delivered without
// blocking writers; a watcher that falls more than watchBuffer snapshots behind
// misses the extra ones. The channel is closed when ctx is done.
func (m *MemoryStorage) WatchStats(ctx context.Context, userID string) (<-chan models.Stats, error) {
	ch := make(chan models.Stats, watchBuffer)

	m.mu.Lock()
	if m.watchers[userID] == nil {
		m.watchers[userID] = make(map[chan models.Stats]struct{})
	}
	m.watchers[userID][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[userID], ch)
		if len(m.watchers[userID]) == 0 {
			delete(m.watchers, userID)
		}
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *MemoryStorage) statsOrDefault(userID string) models.Stats {
	stats, ok := m.stats[userID]
	if !ok {
		stats = models.Stats{UserID: userID, SchemaVersion: models.CurrentSchemaVersion}
	}
	return stats
}

// putStats stores stats and fans the snapshot out to watchers; callers hold m.mu.
func (m *MemoryStorage) putStats(stats models.Stats) {
	stats.UpdatedAt = time.Now().UTC()
	m.stats[stats.UserID] = stats
	for ch := range m.watchers[stats.UserID] {
		select {
		case ch <- stats:
		default:
		}
	}
}

func copyHabit(h models.Habit) models.Habit {
	h.CompletionHistory = h.CompletionHistory.Clone()
	if h.LastCompletedAt != nil {
		t := *h.LastCompletedAt
		h.LastCompletedAt = &t
	}
	return h
}
