package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a key stays held past the wait budget.
var ErrLockTimeout = errors.New("lock: timed out waiting for key")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const retryInterval = 25 * time.Millisecond

// Locker serializes work per key. The returned release func is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type redisLocker struct {
	client *redis.Client
	script *redis.Script
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock: key is empty")
	}
	fullKey := l.prefix + ":" + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			return func() {
				rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer rcancel()
				_ = l.script.Run(rctx, l.client, []string{fullKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrLockTimeout
			}
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

type memoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory returns a process-local keyed locker.
func NewMemory(wait time.Duration) Locker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &memoryLocker{slots: make(map[string]*slot), wait: wait}
}

func (l *memoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock: key is empty")
	}

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

func (l *memoryLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// New builds a Redis locker and falls back to in-memory on failure.
func New(addr, pass string, db int, ttl, wait time.Duration) (Locker, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if addr == "" {
		return NewMemory(wait), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return NewMemory(wait), err
	}

	return NewRedis(client, ttl, wait), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: "payment:lock",
		ttl:    ttl,
		wait:   wait,
	}
}
