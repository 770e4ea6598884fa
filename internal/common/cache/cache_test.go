package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestTokenLockSingleOwner(t *testing.T) {
	rc, mr := newTestCache(t)
	lock := NewTokenLock(rc)
	ctx := context.Background()

	token, err := lock.TryLock(ctx, "judge:lock:s1", time.Minute)
	if err != nil || token == "" {
		t.Fatalf("expected lock, got token=%q err=%v", token, err)
	}
	second, err := lock.TryLock(ctx, "judge:lock:s1", time.Minute)
	if err != nil || second != "" {
		t.Fatalf("expected contention, got token=%q err=%v", second, err)
	}

	released, err := lock.Unlock(ctx, "judge:lock:s1", "someone-else")
	if err != nil || released {
		t.Fatalf("foreign token must not release, released=%v err=%v", released, err)
	}
	released, err = lock.Unlock(ctx, "judge:lock:s1", token)
	if err != nil || !released {
		t.Fatalf("owner should release, released=%v err=%v", released, err)
	}
	if mr.Exists("judge:lock:s1") {
		t.Fatal("lock key should be gone")
	}
}

func TestTokenLockExpires(t *testing.T) {
	rc, mr := newTestCache(t)
	lock := NewTokenLock(rc)
	ctx := context.Background()

	if _, err := lock.TryLock(ctx, "k", time.Second); err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)
	token, err := lock.TryLock(ctx, "k", time.Second)
	if err != nil || token == "" {
		t.Fatalf("expected relock after expiry, got %q %v", token, err)
	}
}

func TestTokenLockRefresh(t *testing.T) {
	rc, mr := newTestCache(t)
	lock := NewTokenLock(rc)
	ctx := context.Background()

	token, err := lock.TryLock(ctx, "k", time.Second)
	if err != nil || token == "" {
		t.Fatalf("lock: %q %v", token, err)
	}
	if ok, err := lock.Refresh(ctx, "k", "someone-else", time.Minute); err != nil || ok {
		t.Fatalf("foreign token must not refresh, ok=%v err=%v", ok, err)
	}
	ok, err := lock.Refresh(ctx, "k", token, time.Minute)
	if err != nil || !ok {
		t.Fatalf("owner should refresh, ok=%v err=%v", ok, err)
	}
	mr.FastForward(30 * time.Second)
	if !mr.Exists("k") {
		t.Fatal("refreshed lease expired early")
	}

	mr.FastForward(time.Minute)
	if ok, err := lock.Refresh(ctx, "k", token, time.Minute); err != nil || ok {
		t.Fatalf("expired lease must not be revived, ok=%v err=%v", ok, err)
	}
}

type cachedProblem struct {
	Code string `json:"code"`
}

func TestGetWithCached(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (*cachedProblem, error) {
		calls++
		return &cachedProblem{Code: "P1"}, nil
	}
	get := func() (*cachedProblem, error) {
		return GetWithCached(ctx, rc, "problem:P1", time.Minute, time.Second,
			func(p *cachedProblem) bool { return p == nil },
			func(p *cachedProblem) (string, error) {
				b, err := json.Marshal(p)
				return string(b), err
			},
			func(s string) (*cachedProblem, error) {
				var p cachedProblem
				return &p, json.Unmarshal([]byte(s), &p)
			},
			fetch)
	}

	for i := 0; i < 3; i++ {
		p, err := get()
		if err != nil || p == nil || p.Code != "P1" {
			t.Fatalf("unexpected result %v %v", p, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
}

func TestGetWithCachedCachesAbsence(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	for i := 0; i < 2; i++ {
		v, err := GetWithCached(ctx, rc, "missing", time.Minute, time.Minute,
			func(s string) bool { return s == "" },
			func(s string) (string, error) { return s, nil },
			func(s string) (string, error) { return s, nil },
			func(context.Context) (string, error) { calls++; return "", nil })
		if err != nil || v != "" {
			t.Fatalf("unexpected %q %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
	got, _ := mr.Get("missing")
	if got != NullCacheValue {
		t.Fatalf("expected null marker, got %q", got)
	}
}

func TestGetWithCachedPropagatesFetchError(t *testing.T) {
	rc, _ := newTestCache(t)
	boom := errors.New("db down")
	_, err := GetWithCached(context.Background(), rc, "k", time.Minute, time.Minute,
		func(s string) bool { return s == "" },
		func(s string) (string, error) { return s, nil },
		func(s string) (string, error) { return s, nil },
		func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}
