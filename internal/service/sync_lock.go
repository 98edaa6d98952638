package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SyncLocker serializes sync runs. TryLock never waits: ok is false when
// another run holds the lock.
type SyncLocker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// releaseLockScript deletes the key only if this holder still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisSyncLocker holds a lock key shared by every server instance.
// The TTL bounds how long a crashed holder can block later runs.
type RedisSyncLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSyncLocker(client *redis.Client, key string, ttl time.Duration) *RedisSyncLocker {
	return &RedisSyncLocker{client: client, key: key, ttl: ttl}
}

func (l *RedisSyncLocker) TryLock(ctx context.Context) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		if err := releaseLockScript.Run(context.Background(), l.client, []string{l.key}, owner).Err(); err != nil {
			log.Warn().Err(err).Str("key", l.key).Msg("failed to release sync lock, it will expire")
		}
	}
	return release, true, nil
}

// LocalSyncLocker serializes runs within one process.
type LocalSyncLocker struct {
	mu sync.Mutex
}

func NewLocalSyncLocker() *LocalSyncLocker {
	return &LocalSyncLocker{}
}

func (l *LocalSyncLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}
