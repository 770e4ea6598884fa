package repository

import (
	"context"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/common/db"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// LeaderboardKey is the redis sorted set mirroring leaderboard points.
const LeaderboardKey = "leaderboard"

// Credit is one award of points for an accepted submission.
type Credit struct {
	SubmissionID string
	UserID       string
	ProblemCode  string
	Points       int
}

// LeaderboardRepository awards points.
type LeaderboardRepository interface {
	// Credit adds points once per submission. It reports false when the
	// submission was already credited.
	Credit(ctx context.Context, credit Credit) (bool, error)
}

// SQLLeaderboardRepository keeps totals in SQL and mirrors them into redis.
type SQLLeaderboardRepository struct {
	db    *db.Database
	cache cache.Cache
	now   func() time.Time
}

// NewLeaderboardRepository creates a leaderboard repository. cache may be nil.
func NewLeaderboardRepository(database *db.Database, cacheClient cache.Cache) *SQLLeaderboardRepository {
	return &SQLLeaderboardRepository{db: database, cache: cacheClient, now: time.Now}
}

func (r *SQLLeaderboardRepository) Credit(ctx context.Context, c Credit) (bool, error) {
	if c.SubmissionID == "" || c.UserID == "" {
		return false, appErr.ValidationError("credit", "submission id and user id are required")
	}
	if c.Points <= 0 {
		return false, appErr.ValidationError("points", "must be positive")
	}

	err := r.db.Transaction(ctx, func(q db.Querier) error {
		_, err := q.ExecContext(ctx,
			"INSERT INTO leaderboard_credits (submission_id, user_id, problem_code, points, credited_at) VALUES (?, ?, ?, ?, ?)",
			c.SubmissionID, c.UserID, c.ProblemCode, c.Points, r.now().UTC())
		if err != nil {
			if _, dup := db.UniqueViolation(err); dup {
				return appErr.New(appErr.AlreadyCredited).WithDetail("submission_id", c.SubmissionID)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "record leaderboard credit failed")
		}
		if _, err := q.ExecContext(ctx, r.upsertQuery(), c.UserID, c.Points); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "update leaderboard failed")
		}
		return nil
	})
	if appErr.Is(err, appErr.AlreadyCredited) {
		logger.Info(ctx, "submission already credited", zap.String("submission_id", c.SubmissionID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if r.cache != nil {
		if _, err := r.cache.ZIncrBy(ctx, LeaderboardKey, float64(c.Points), c.UserID); err != nil {
			logger.Warn(ctx, "mirror leaderboard points failed",
				zap.String("user_id", c.UserID), zap.Int("points", c.Points), zap.Error(err))
		}
	}
	return true, nil
}

func (r *SQLLeaderboardRepository) upsertQuery() string {
	if r.db.Dialect() == db.DialectPostgres {
		return "INSERT INTO leaderboard (user_id, points) VALUES (?, ?) " +
			"ON CONFLICT (user_id) DO UPDATE SET points = leaderboard.points + EXCLUDED.points"
	}
	return "INSERT INTO leaderboard (user_id, points) VALUES (?, ?) " +
		"ON DUPLICATE KEY UPDATE points = points + VALUES(points)"
}
