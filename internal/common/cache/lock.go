package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// unlockScript deletes the key only while it still holds the caller's token.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// refreshScript extends the lease only while it still holds the caller's token.
const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// TokenLock is a single-owner lease stored in redis.
type TokenLock struct {
	cache Cache
}

func NewTokenLock(cache Cache) *TokenLock {
	return &TokenLock{cache: cache}
}

// TryLock acquires key for ttl. It returns the owner token, or "" when already held.
func (l *TokenLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Unlock releases key when token still owns it; a lease that expired and was
// taken by someone else is left untouched.
func (l *TokenLock) Unlock(ctx context.Context, key, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := l.cache.Eval(ctx, unlockScript, []string{key}, token)
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Refresh extends the lease on key to ttl while token still owns it. It
// reports false when the lease expired or moved to another owner.
func (l *TokenLock) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := l.cache.Eval(ctx, refreshScript, []string{key}, token, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}
