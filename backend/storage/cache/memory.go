package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type score struct {
	xp int
	at time.Time
}

// MemoryCache is an in-process CacheInterface. Processed markers never expire.
type MemoryCache struct {
	mu        sync.Mutex
	processed map[string]struct{}
	scores    map[string]score
	friends   map[string]map[string]struct{}
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		processed: make(map[string]struct{}),
		scores:    make(map[string]score),
		friends:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryCache) Connect(string) error { return nil }

func (m *MemoryCache) Disconnect() error { return nil }

func (m *MemoryCache) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; ok {
		return false, nil
	}
	m.processed[eventID] = struct{}{}
	return true, nil
}

func (m *MemoryCache) RecordScore(ctx context.Context, userID string, totalXP int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same millisecond resolution as the Redis script.
	at = at.Truncate(time.Millisecond)
	if prev, ok := m.scores[userID]; ok && prev.at.After(at) {
		return false, nil
	}
	m.scores[userID] = score{xp: totalXP, at: at}
	return true, nil
}

func (m *MemoryCache) Scores(ctx context.Context, userIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scores := make(map[string]int, len(userIDs))
	for _, id := range userIDs {
		if s, ok := m.scores[id]; ok {
			scores[id] = s.xp
		}
	}
	return scores, nil
}

func (m *MemoryCache) AddFriend(ctx context.Context, userID, friendID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.link(userID, friendID)
	m.link(friendID, userID)
	return nil
}

func (m *MemoryCache) link(from, to string) {
	if m.friends[from] == nil {
		m.friends[from] = make(map[string]struct{})
	}
	m.friends[from][to] = struct{}{}
}

func (m *MemoryCache) Friends(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	friends := make([]string, 0, len(m.friends[userID]))
	for id := range m.friends[userID] {
		friends = append(friends, id)
	}
	sort.Strings(friends)
	return friends, nil
}
