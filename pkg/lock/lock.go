package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpurelay/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultTTL         = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
	lockExtendInterval = 10 * time.Second
)

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`

// DistributedLock guards work that only one coordinator instance should do at a time
type DistributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisDistributedLock SET NX based lock with owner token and background renewal
type RedisDistributedLock struct {
	client    *redis.Client
	key       string
	token     string
	ttl       time.Duration
	held      bool
	stopRenew chan struct{}
	mu        sync.Mutex
}

// NewRedisDistributedLock creates a lock on key. A nil client means single-instance mode: the lock always succeeds.
func NewRedisDistributedLock(client *redis.Client, key string) *RedisDistributedLock {
	return &RedisDistributedLock{
		client: client,
		key:    key,
		token:  fmt.Sprintf("%s-%s", key, uuid.NewString()),
		ttl:    defaultTTL,
	}
}

// TryLock attempts to acquire the lock without waiting
func (l *RedisDistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		logger.Warn("redis client is nil, skipping distributed lock")
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s already held by another instance", l.key)
		return false, nil
	}

	l.mu.Lock()
	l.held = true
	// A fresh channel per acquisition supports repeated TryLock/Unlock cycles
	l.stopRenew = make(chan struct{})
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renew(ctx, stop)

	logger.DebugCtx(ctx, "lock %s acquired", l.key)
	return true, nil
}

// Unlock releases the lock if this instance still owns it
func (l *RedisDistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	if l.stopRenew != nil {
		close(l.stopRenew)
		l.stopRenew = nil
	}
	l.mu.Unlock()

	if l.client == nil {
		return nil
	}

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 1 {
		logger.DebugCtx(ctx, "lock %s released", l.key)
	} else {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.key)
	}
	return nil
}

// IsHeld reports whether this instance believes it holds the lock
func (l *RedisDistributedLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisDistributedLock) renew(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(lockExtendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.token, int(l.ttl.Seconds())).Int64()
			if err != nil || result == 0 {
				logger.WarnCtx(ctx, "lock %s lost during renewal: %v", l.key, err)
				l.mu.Lock()
				l.held = false
				l.mu.Unlock()
				return
			}
		}
	}
}
