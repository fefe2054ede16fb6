package cache

import (
	"context"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// recordScoreScript writes a leaderboard score only when it is not older than the one
// already stored, so consumers handling a user's events out of order keep the newest.
// KEYS: sorted set, hash of observation times. ARGV: member, score, observed-at millis.
var recordScoreScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[2], ARGV[1])
if prev and tonumber(prev) > tonumber(ARGV[3]) then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// RedisCache is a struct representing a Redis cache instance.
// Processed-event markers are plain keys with a TTL, leaderboard scores live in a
// sorted set and friend links in one set per user.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new instance of RedisCache.
// This function doesn't establish a connection to the Redis server.
// To connect to the server, use the Connect method of the returned RedisCache instance.
func NewRedisCache() *RedisCache {
	return &RedisCache{}
}

// Connect establishes a connection to the Redis backend.
func (r *RedisCache) Connect(redisURL string) error {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return errors.Wrap(err, "invalid redis url")
	}

	r.client = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Disconnect closes the connection to the Redis server.
func (r *RedisCache) Disconnect() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// MarkProcessed sets the marker key of eventID if it does not exist yet.
// The marker expires after 72 hours.
func (r *RedisCache) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return r.client.SetNX(ctx, processedKeyPrefix+eventID, 1, processedTTL).Result()
}

func (r *RedisCache) RecordScore(ctx context.Context, userID string, totalXP int, at time.Time) (bool, error) {
	res, err := recordScoreScript.Run(ctx, r.client,
		[]string{leaderboardKey, leaderboardAtKey},
		userID, totalXP, at.UnixMilli(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Scores reads the score of every user in a single round trip.
func (r *RedisCache) Scores(ctx context.Context, userIDs []string) (map[string]int, error) {
	cmds := make([]*redis.FloatCmd, len(userIDs))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = pipe.ZScore(ctx, leaderboardKey, id)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	scores := make(map[string]int, len(userIDs))
	for i, cmd := range cmds {
		score, err := cmd.Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}
		scores[userIDs[i]] = int(score)
	}
	return scores, nil
}

func (r *RedisCache) AddFriend(ctx context.Context, userID, friendID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, friendsKeyPrefix+userID, friendID)
		pipe.SAdd(ctx, friendsKeyPrefix+friendID, userID)
		return nil
	})
	return err
}

func (r *RedisCache) Friends(ctx context.Context, userID string) ([]string, error) {
	friends, err := r.client.SMembers(ctx, friendsKeyPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(friends)
	return friends, nil
}

