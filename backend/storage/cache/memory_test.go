package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheWithoutURL(t *testing.T) {
	c, err := NewCache("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
}

func TestMarkProcessedOnce(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	first, err := c.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := c.MarkProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRecordScoreKeepsNewest(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	at := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	ok, err := c.RecordScore(ctx, "alice", 100, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RecordScore(ctx, "alice", 50, at.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "an older observation must not overwrite a newer one")

	ok, err = c.RecordScore(ctx, "alice", 85, at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	scores, err := c.Scores(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 85}, scores)
}

func TestFriendsAreMutual(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.AddFriend(ctx, "alice", "carol"))
	require.NoError(t, c.AddFriend(ctx, "alice", "bob"))
	require.NoError(t, c.AddFriend(ctx, "bob", "alice"))

	friends, err := c.Friends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, friends)

	friends, err = c.Friends(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, friends)

	friends, err = c.Friends(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, friends)
}
