package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter limita los intentos fallidos de autenticación por username.
// Solo los fallos cuentan: el autosave del cliente autentica en cada guardado.
type LoginLimiter interface {
	Allow(key string) bool
	RecordFailure(key string)
}

// Por encima de esta cantidad de claves, RecordFailure barre las vencidas.
const limiterSweepThreshold = 1024

type memoryLoginLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	failures map[string][]time.Time
}

// NewLoginLimiter crea un limiter en memoria.
func NewLoginLimiter(window time.Duration, max int) LoginLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memoryLoginLimiter{
		window:   window,
		max:      max,
		failures: make(map[string][]time.Time),
	}
}

func (l *memoryLoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.prune(key, time.Now().UTC())
	return len(kept) < l.max
}

func (l *memoryLoginLimiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	if len(l.failures) >= limiterSweepThreshold {
		l.sweep(now)
	}
	kept := l.prune(key, now)
	l.failures[key] = append(kept, now)
}

func (l *memoryLoginLimiter) sweep(now time.Time) {
	for key := range l.failures {
		l.prune(key, now)
	}
}

func (l *memoryLoginLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	entries := l.failures[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = kept
	return kept
}

const redisLoginFailureScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisCounter interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisLoginLimiter struct {
	client redisCounter
	window time.Duration
	max    int
	prefix string
}

func NewRedisLoginLimiter(client *redis.Client, window time.Duration, max int) LoginLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisLoginLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "med-eval:login:",
	}
}

// Allow falla abierto si Redis no responde.
func (l *redisLoginLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	count, err := l.client.Get(ctx, l.prefix+normalizedKey).Int()
	if err != nil {
		return true
	}
	return count < l.max
}

func (l *redisLoginLimiter) RecordFailure(key string) {
	if l == nil || l.client == nil {
		return
	}
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	_ = l.client.Eval(ctx, redisLoginFailureScript, []string{l.prefix + normalizedKey}, seconds).Err()
}
