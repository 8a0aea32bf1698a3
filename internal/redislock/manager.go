// Package redislock provides a scheduler.LockManager shared between
// processes through Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Options tunes lock behaviour.
type Options struct {
	// Prefix namespaces the lock keys.
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	// Logger reports keys that could not be released.
	Logger *slog.Logger
}

// Manager acquires one Redis key per resource with SET NX PX.
type Manager struct {
	client redis.UniversalClient
	opts   Options
}

// New returns a manager over client.
func New(client redis.UniversalClient, opts Options) *Manager {
	if opts.Prefix == "" {
		opts.Prefix = "scheduler:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{client: client, opts: opts}
}

// Acquire implements scheduler.LockManager. Keys are taken in
// scheduler.LockOrder; on failure the ones already held are released.
func (m *Manager) Acquire(ctx context.Context, resourceIDs []string) (func(), error) {
	token := uuid.NewString()
	keys := scheduler.LockOrder(resourceIDs)
	held := make([]string, 0, len(keys))

	for _, id := range keys {
		key := m.opts.Prefix + id
		if err := m.acquireOne(ctx, key, token); err != nil {
			m.unlock(held, token)
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: resource %s", scheduler.ErrLockTimeout, id)
			}
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(func() { m.unlock(held, token) }) }, nil
}

func (m *Manager) acquireOne(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(m.opts.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := m.client.SetNX(ctx, key, token, m.opts.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// unlock runs detached from the caller's context so a cancelled request
// still frees its keys. A key that cannot be deleted stays until its TTL.
func (m *Manager) unlock(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		deleted, err := unlockScript.Run(ctx, m.client, []string{keys[i]}, token).Int()
		switch {
		case err != nil:
			m.opts.Logger.Warn("redis lock release failed", "key", keys[i], "ttl", m.opts.TTL, "error", err)
		case deleted == 0:
			m.opts.Logger.Warn("redis lock expired before release", "key", keys[i], "ttl", m.opts.TTL)
		}
	}
}

var _ scheduler.LockManager = (*Manager)(nil)
