package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/teranos/nexus/errors"
)

// KeyPrefix namespaces lock keys in a shared Redis
const KeyPrefix = "nexus:engine-lock:"

// releaseScript deletes the key only while it still carries our token, so a
// holder whose TTL lapsed cannot free a slot someone else has since taken.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares execution slots between processes through Redis.
// Each slot expires after ttl so a crashed holder cannot wedge an engine.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker creates a locker on an existing client
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// DialRedis connects and pings, so misconfiguration surfaces at startup
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", addr)
	}
	return rdb, nil
}

// TryLock sets the key if absent. Redis errors are storage failures.
func (r *RedisLocker) TryLock(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, KeyPrefix+key, token, r.ttl).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Mark(errors.Wrap(err, "acquire engine lock"), errors.ErrTimeout)
		}
		return nil, errors.WrapStorage(err, "acquire engine lock")
	}
	if !ok {
		return nil, alreadyRunning(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released after the run context may have expired
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.client, []string{KeyPrefix + key}, token).Err()
		})
	}, nil
}
