package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeSessionRedis guarda strings y sets en memoria; failOn hace fallar un comando.
type fakeSessionRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	sets   map[string]map[string]struct{}
	failOn string
}

func newFakeSessionRedis() *fakeSessionRedis {
	return &fakeSessionRedis{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		sets:   make(map[string]map[string]struct{}),
	}
}

var errRedisDown = errors.New("redis down")

func (f *fakeSessionRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.failOn == "set" {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeSessionRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.failOn == "get" {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	v, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeSessionRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.failOn == "exists" {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeSessionRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.failOn == "del" {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
		delete(f.ttls, k)
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeSessionRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	for _, m := range members {
		set[m.(string)] = struct{}{}
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeSessionRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	if len(f.sets[key]) == 0 {
		delete(f.sets, key)
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeSessionRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	if f.failOn == "smembers" {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	cmd.SetVal(members)
	return cmd
}

func (f *fakeSessionRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	f.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func mustExist(t *testing.T, store RefreshTokenStore, jti string, want bool) {
	t.Helper()
	ok, err := store.Exists(jti)
	if err != nil {
		t.Fatalf("exists %s: %v", jti, err)
	}
	if ok != want {
		t.Fatalf("session %s: expected exists=%v, got %v", jti, want, ok)
	}
}

func TestRefreshTokenStore_RevokeAllClosesOnlyThatSubject(t *testing.T) {
	stores := map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  newRedisRefreshTokenStore(newFakeSessionRedis()),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			for _, jti := range []string{"a1", "a2"} {
				if err := store.Store(jti, "alice", time.Hour); err != nil {
					t.Fatalf("store %s: %v", jti, err)
				}
			}
			if err := store.Store("b1", "bob", time.Hour); err != nil {
				t.Fatalf("store b1: %v", err)
			}

			if err := store.RevokeAll("alice"); err != nil {
				t.Fatalf("revoke all: %v", err)
			}
			mustExist(t, store, "a1", false)
			mustExist(t, store, "a2", false)
			mustExist(t, store, "b1", true)

			// Una sesión nueva después del cierre es independiente.
			if err := store.Store("a3", "alice", time.Hour); err != nil {
				t.Fatalf("store a3: %v", err)
			}
			mustExist(t, store, "a3", true)
			if err := store.RevokeAll("nobody"); err != nil {
				t.Fatalf("revoke all for unknown subject: %v", err)
			}
		})
	}
}

func TestRefreshTokenStore_RevokeSingleSession(t *testing.T) {
	stores := map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  newRedisRefreshTokenStore(newFakeSessionRedis()),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_ = store.Store("a1", "alice", time.Hour)
			_ = store.Store("a2", "alice", time.Hour)
			if err := store.Revoke("a1"); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			mustExist(t, store, "a1", false)
			mustExist(t, store, "a2", true)
			if err := store.Revoke("unknown"); err != nil {
				t.Fatalf("revoke unknown jti: %v", err)
			}
			if err := store.Store("  ", "alice", time.Hour); err != nil {
				t.Fatalf("blank jti should be ignored, got %v", err)
			}
		})
	}
}

func TestMemoryRefreshTokenStore_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRefreshTokenStore().(*memoryRefreshTokenStore)
	store.now = func() time.Time { return now }

	_ = store.Store("a1", "alice", time.Minute)
	mustExist(t, store, "a1", true)

	now = now.Add(2 * time.Minute)
	mustExist(t, store, "a1", false)
	if _, ok := store.bySubject["alice"]; ok {
		t.Fatalf("expected expired session removed from subject index")
	}
}

func TestRedisRefreshTokenStore_Keys(t *testing.T) {
	fake := newFakeSessionRedis()
	store := newRedisRefreshTokenStore(fake)

	if err := store.Store(" j1 ", "alice", 0); err != nil {
		t.Fatalf("store: %v", err)
	}
	if fake.values["med-eval:session:j1"] != "alice" {
		t.Fatalf("expected session key with subject, got %+v", fake.values)
	}
	if fake.ttls["med-eval:session:j1"] != defaultRefreshTTL || fake.ttls["med-eval:subject:alice"] != defaultRefreshTTL {
		t.Fatalf("expected default TTL on both keys, got %+v", fake.ttls)
	}
	if _, ok := fake.sets["med-eval:subject:alice"]["j1"]; !ok {
		t.Fatalf("expected jti indexed under subject, got %+v", fake.sets)
	}

	if err := store.Revoke("j1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(fake.values) != 0 || len(fake.sets) != 0 {
		t.Fatalf("expected no keys left, values=%+v sets=%+v", fake.values, fake.sets)
	}
}

func TestRedisRefreshTokenStore_Errors(t *testing.T) {
	cases := []struct {
		failOn string
		run    func(RefreshTokenStore) error
	}{
		{"set", func(s RefreshTokenStore) error { return s.Store("j1", "alice", time.Minute) }},
		{"exists", func(s RefreshTokenStore) error { _, err := s.Exists("j1"); return err }},
		{"get", func(s RefreshTokenStore) error { return s.Revoke("j1") }},
		{"smembers", func(s RefreshTokenStore) error { return s.RevokeAll("alice") }},
		{"del", func(s RefreshTokenStore) error { return s.RevokeAll("alice") }},
	}
	for _, tc := range cases {
		t.Run(tc.failOn, func(t *testing.T) {
			fake := newFakeSessionRedis()
			fake.failOn = tc.failOn
			if err := tc.run(newRedisRefreshTokenStore(fake)); !errors.Is(err, errRedisDown) {
				t.Fatalf("expected redis error, got %v", err)
			}
		})
	}
}
