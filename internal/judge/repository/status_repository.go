package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/judge/model"
	appErr "ojudge/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRepository keeps the live judging status of submissions in redis.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns the cached status. A miss is reported as NotFound.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.StatusView, error) {
	if submissionID == "" {
		return model.StatusView{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.StatusView{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return model.StatusView{}, appErr.Wrapf(err, appErr.CacheError, "read status failed")
	}
	if val == "" {
		return model.StatusView{}, appErr.New(appErr.NotFound).WithMessage("submission status not found")
	}
	var view model.StatusView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		return model.StatusView{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return view, nil
}

// Save stores status.
func (r *StatusRepository) Save(ctx context.Context, view model.StatusView) error {
	if view.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if view.UpdatedAt == 0 {
		view.UpdatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+view.SubmissionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}
