package queue

import (
	"context"
	"strconv"

	"ojudge/internal/common/cache"
	appErr "ojudge/pkg/errors"
)

// Job counter fields.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Stats is a point-in-time view of job counters.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// moveScript shifts one job between counters, never letting the source go negative.
const moveScript = `
if ARGV[1] ~= "" then
  local v = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
  if v > 0 then
    redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
  end
end
if ARGV[2] ~= "" then
  redis.call("HINCRBY", KEYS[1], ARGV[2], 1)
end
return 1
`

// StatsStore keeps job counters in a redis hash so every worker shares them.
type StatsStore struct {
	cache cache.Cache
	key   string
}

// NewStatsStore creates counters under key.
func NewStatsStore(cacheClient cache.Cache, key string) *StatsStore {
	if key == "" {
		key = "judge:queue:stats"
	}
	return &StatsStore{cache: cacheClient, key: key}
}

// Move transfers one job from one state to another. Empty from only increments to.
func (s *StatsStore) Move(ctx context.Context, from, to string) error {
	if s == nil || s.cache == nil {
		return nil
	}
	if _, err := s.cache.Eval(ctx, moveScript, []string{s.key}, from, to); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "update queue stats failed")
	}
	return nil
}

// Snapshot reads the counters.
func (s *StatsStore) Snapshot(ctx context.Context) (Stats, error) {
	if s == nil || s.cache == nil {
		return Stats{}, appErr.New(appErr.ServiceUnavailable).WithMessage("queue stats are not configured")
	}
	raw, err := s.cache.HGetAll(ctx, s.key)
	if err != nil {
		return Stats{}, appErr.Wrapf(err, appErr.CacheError, "read queue stats failed")
	}
	return Stats{
		Waiting:   parseCounter(raw[StateWaiting]),
		Active:    parseCounter(raw[StateActive]),
		Completed: parseCounter(raw[StateCompleted]),
		Failed:    parseCounter(raw[StateFailed]),
	}, nil
}

func parseCounter(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
