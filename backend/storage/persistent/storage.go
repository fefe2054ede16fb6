package persistent

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/models"
)

var (
	// ErrNotFound is returned when the requested habit or stats document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidID is returned for habit ids that are not valid object ids.
	ErrInvalidID = errors.New("invalid document id")
	// ErrDuplicate is returned when a user already has a habit with the same title.
	ErrDuplicate = errors.New("duplicate habit title")
)

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult represents the result of an update operation,
// specifically the count of documents matched and modified.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement. Each user owns a collection of habits and a
// single stats document; every method is scoped to one user.
type StorageInterface interface {
	// Disconnects from the storage backend.
	Disconnect() error
	// Runs fn inside a transaction when the backend supports and enables them, otherwise runs it directly.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Adds a new habit and returns it with its id set.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds one habit of a user.
	FindHabit(ctx context.Context, userID, habitID string) (*models.Habit, error)
	// Finds a user's habits ordered by creation time; an empty category matches all.
	FindHabits(ctx context.Context, userID string, category models.Category) ([]models.Habit, error)
	// Writes the progression fields of a completion toggle.
	UpdateHabit(ctx context.Context, userID, habitID string, update models.HabitUpdate) (*UpdateResult, error)
	// Writes a single completion history date.
	SetHabitHistory(ctx context.Context, userID, habitID, date string, completed bool) (*UpdateResult, error)
	// Deletes one habit of a user.
	DeleteHabit(ctx context.Context, userID, habitID string) (*DeleteResult, error)

	// Finds the stats document of a user. The returned flag is true when the stored
	// document used a legacy shape and should be rewritten with NormalizeStats.
	FindStats(ctx context.Context, userID string) (*models.Stats, bool, error)
	// Inserts stats if the user has no stats document yet and reports whether it did.
	CreateStats(ctx context.Context, stats *models.Stats) (bool, error)
	// Atomically merges an update into a user's stats, clamping counters at zero.
	// A missing document is created from defaults first.
	ApplyStatsUpdate(ctx context.Context, userID string, update models.StatsUpdate) error
	// Atomically changes the number of daily habits, clamping at zero.
	AdjustHabitCount(ctx context.Context, userID string, delta int) error
	// Replaces a stats document whose schema version is older than stats.SchemaVersion.
	MigrateStats(ctx context.Context, stats models.Stats) (bool, error)
	// Clamps every negative counter of a user's stats to zero.
	RepairStats(ctx context.Context, userID string) error
	// Zeroes today's completion count unless the reset already happened on today.
	ResetStatsDay(ctx context.Context, userID, today string) (bool, error)
	// Rewrites a legacy-shaped stats document in canonical form.
	NormalizeStats(ctx context.Context, stats models.Stats) error
	// Streams every stats document written for a user until ctx is done.
	WatchStats(ctx context.Context, userID string) (<-chan models.Stats, error)
}

// Options configures NewStorage.
type Options struct {
	URI             string
	DBName          string
	UseTransactions bool
}

// NewStorage creates a new StorageInterface. With a URI it connects to MongoDB,
// otherwise it returns an in-memory store.
func NewStorage(opts Options) (StorageInterface, error) {
	if opts.URI == "" {
		return NewMemoryStorage(), nil
	}
	storage := NewMongoStorage(opts.UseTransactions)
	err := storage.Connect(opts.DBName, opts.URI)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize storage")
	}
	return storage, nil
}
