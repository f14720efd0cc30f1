package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// RefreshTokenStore lleva las sesiones vigentes: un jti por refresh token emitido,
// agrupados por sujeto (evaluador o administrador).
type RefreshTokenStore interface {
	Store(jti, subjectID string, ttl time.Duration) error
	Exists(jti string) (bool, error)
	Revoke(jti string) error
	// RevokeAll cierra todas las sesiones del sujeto.
	RevokeAll(subjectID string) error
}

type session struct {
	subjectID string
	expiresAt time.Time
}

type memoryRefreshTokenStore struct {
	mu        sync.Mutex
	sessions  map[string]session
	bySubject map[string]map[string]struct{}
	now       func() time.Time
}

func NewMemoryRefreshTokenStore() RefreshTokenStore {
	return &memoryRefreshTokenStore{
		sessions:  make(map[string]session),
		bySubject: make(map[string]map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryRefreshTokenStore) Store(jti, subjectID string, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[jti] = session{subjectID: subjectID, expiresAt: s.now().Add(ttl)}
	jtis, ok := s.bySubject[subjectID]
	if !ok {
		jtis = make(map[string]struct{})
		s.bySubject[subjectID] = jtis
	}
	jtis[jti] = struct{}{}
	return nil
}

func (s *memoryRefreshTokenStore) Exists(jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[jti]
	if !ok {
		return false, nil
	}
	if s.now().After(sess.expiresAt) {
		s.drop(jti, sess.subjectID)
		return false, nil
	}
	return true, nil
}

func (s *memoryRefreshTokenStore) Revoke(jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[jti]; ok {
		s.drop(jti, sess.subjectID)
	}
	return nil
}

func (s *memoryRefreshTokenStore) RevokeAll(subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti := range s.bySubject[subjectID] {
		delete(s.sessions, jti)
	}
	delete(s.bySubject, subjectID)
	return nil
}

func (s *memoryRefreshTokenStore) drop(jti, subjectID string) {
	delete(s.sessions, jti)
	if jtis, ok := s.bySubject[subjectID]; ok {
		delete(jtis, jti)
		if len(jtis) == 0 {
			delete(s.bySubject, subjectID)
		}
	}
}

// sessionRedis es el subconjunto de *redis.Client que usa el store.
type sessionRedis interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// redisRefreshTokenStore guarda cada sesión en med-eval:session:<jti> (valor: sujeto)
// y el índice del sujeto en el set med-eval:subject:<id>.
type redisRefreshTokenStore struct {
	client        sessionRedis
	sessionPrefix string
	subjectPrefix string
	timeout       time.Duration
}

func NewRedisRefreshTokenStore(client *redis.Client) RefreshTokenStore {
	if client == nil {
		return nil
	}
	return newRedisRefreshTokenStore(client)
}

func newRedisRefreshTokenStore(client sessionRedis) *redisRefreshTokenStore {
	return &redisRefreshTokenStore{
		client:        client,
		sessionPrefix: "med-eval:session:",
		subjectPrefix: "med-eval:subject:",
		timeout:       500 * time.Millisecond,
	}
}

func (s *redisRefreshTokenStore) Store(jti, subjectID string, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.sessionPrefix+jti, subjectID, ttl).Err(); err != nil {
		return err
	}
	subjectKey := s.subjectPrefix + subjectID
	if err := s.client.SAdd(ctx, subjectKey, jti).Err(); err != nil {
		return err
	}
	// El índice vive tanto como la sesión más nueva.
	return s.client.Expire(ctx, subjectKey, ttl).Err()
}

func (s *redisRefreshTokenStore) Exists(jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.client.Exists(ctx, s.sessionPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisRefreshTokenStore) Revoke(jti string) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	subjectID, err := s.client.Get(ctx, s.sessionPrefix+jti).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err := s.client.Del(ctx, s.sessionPrefix+jti).Err(); err != nil {
		return err
	}
	if subjectID == "" {
		return nil
	}
	return s.client.SRem(ctx, s.subjectPrefix+subjectID, jti).Err()
}

func (s *redisRefreshTokenStore) RevokeAll(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	subjectKey := s.subjectPrefix + subjectID
	jtis, err := s.client.SMembers(ctx, subjectKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(jtis)+1)
	for _, jti := range jtis {
		keys = append(keys, s.sessionPrefix+jti)
	}
	keys = append(keys, subjectKey)
	return s.client.Del(ctx, keys...).Err()
}
