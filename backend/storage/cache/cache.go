package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// processedTTL is how long a processed-event marker is kept. Redeliveries older than
// this are not expected from the broker.
const processedTTL = 72 * time.Hour

// Key layout shared by the implementations.
const (
	processedKeyPrefix = "progress_event:"
	leaderboardKey     = "leaderboard:xp"
	leaderboardAtKey   = "leaderboard:at"
	friendsKeyPrefix   = "friends:"
)

// CacheInterface defines the set of methods that need to be implemented to
// be used as a cache storage.
type CacheInterface interface {
	Connect(url string) error
	Disconnect() error
	// MarkProcessed records that the event with the given id has been handled.
	// Returns false if it was already marked.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	// RecordScore sets the leaderboard score of userID unless a score observed at a later
	// instant is already recorded. Returns false if the score was stale.
	RecordScore(ctx context.Context, userID string, totalXP int, at time.Time) (bool, error)
	// Scores returns the recorded scores of the given users; users without one are omitted.
	Scores(ctx context.Context, userIDs []string) (map[string]int, error)
	// AddFriend links two users in both directions.
	AddFriend(ctx context.Context, userID, friendID string) error
	// Friends returns the ids linked to userID, sorted.
	Friends(ctx context.Context, userID string) ([]string, error)
}

// NewCache creates a new CacheInterface. With a URL it connects to Redis,
// otherwise it returns an in-memory cache.
func NewCache(url string) (CacheInterface, error) {
	if url == "" {
		return NewMemoryCache(), nil
	}
	cache := NewRedisCache()
	err := cache.Connect(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cache")
	}
	return cache, nil
}
