package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/judge/model"
	"ojudge/internal/judge/sandbox/profile"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submit:idempotency:"
	processingMarker     = "processing"

	defaultMaxCodeBytes   = 64 * 1024
	defaultIdempotencyTTL = 10 * time.Minute
)

// SubmissionCreator persists new submissions.
type SubmissionCreator interface {
	Create(ctx context.Context, submission *model.Submission) error
}

// ProblemLookup loads problems.
type ProblemLookup interface {
	GetByCode(ctx context.Context, code string) (model.Problem, error)
}

// LanguageResolver maps a client language id to a registered language.
type LanguageResolver interface {
	Resolve(id string) (profile.LanguageSpec, error)
}

// JobEnqueuer hands judge jobs to the workers.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job model.JudgeJob) error
}

// StatusWriter seeds the live status cache.
type StatusWriter interface {
	Save(ctx context.Context, view model.StatusView) error
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB    time.Duration
	Cache time.Duration
	MQ    time.Duration
}

// Config holds submit service dependencies and settings.
type Config struct {
	Submissions SubmissionCreator
	Problems    ProblemLookup
	Languages   LanguageResolver
	Jobs        JobEnqueuer
	// Status and Cache are optional.
	Status StatusWriter
	Cache  cache.Cache

	MaxCodeBytes   int
	IdempotencyTTL time.Duration
	Timeouts       TimeoutConfig
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	submissions SubmissionCreator
	problems    ProblemLookup
	languages   LanguageResolver
	jobs        JobEnqueuer
	status      StatusWriter
	cache       cache.Cache

	maxCodeBytes   int
	idempotencyTTL time.Duration
	timeouts       TimeoutConfig
	newID          func() string
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	UserID         string
	ProblemCode    string
	Language       string
	Code           string
	ContestID      string
	IsPractice     bool
	IdempotencyKey string
}

// Receipt is returned to the client once the job is queued.
type Receipt struct {
	SubmissionID string       `json:"submissionId"`
	Status       model.Status `json:"status"`
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem lookup is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &SubmitService{
		submissions:    cfg.Submissions,
		problems:       cfg.Problems,
		languages:      cfg.Languages,
		jobs:           cfg.Jobs,
		status:         cfg.Status,
		cache:          cfg.Cache,
		maxCodeBytes:   cfg.MaxCodeBytes,
		idempotencyTTL: cfg.IdempotencyTTL,
		timeouts:       cfg.Timeouts,
		newID:          uuid.NewString,
	}, nil
}

// Submit creates a pending submission and queues it for judging.
// A failed enqueue leaves the row pending and reports JudgeQueueFull.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (Receipt, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.ProblemCode = strings.TrimSpace(input.ProblemCode)
	input.ContestID = strings.TrimSpace(input.ContestID)
	if err := s.validateInput(input); err != nil {
		return Receipt{}, err
	}
	lang, err := s.languages.Resolve(input.Language)
	if err != nil {
		return Receipt{}, err
	}
	if err := s.checkProblem(ctx, input.ProblemCode, input.IsPractice); err != nil {
		return Receipt{}, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return Receipt{}, err
	}
	if existingID != "" {
		logger.Info(ctx, "idempotent submission replayed", zap.String("submission_id", existingID))
		return Receipt{SubmissionID: existingID, Status: model.StatusPending}, nil
	}

	submission := &model.Submission{
		ID:          s.newID(),
		UserID:      input.UserID,
		ProblemCode: input.ProblemCode,
		Language:    lang.ID,
		Code:        input.Code,
		Status:      model.StatusPending,
	}
	if input.ContestID != "" {
		contestID := input.ContestID
		submission.ContestID = &contestID
	}
	if err := s.createSubmission(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return Receipt{}, err
	}
	s.seedStatus(ctx, submission.ID)

	job := model.JudgeJob{SubmissionID: submission.ID, ProblemCode: submission.ProblemCode, IsPractice: input.IsPractice}
	if err := s.enqueue(ctx, job); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return Receipt{}, err
	}
	s.finalizeIdempotency(ctx, input.IdempotencyKey, submission.ID, acquired)

	logger.Info(ctx, "submission queued",
		zap.String("submission_id", submission.ID),
		zap.String("problem_code", submission.ProblemCode),
		zap.String("language", submission.Language),
		zap.Bool("practice", input.IsPractice))
	return Receipt{SubmissionID: submission.ID, Status: model.StatusPending}, nil
}

func (s *SubmitService) validateInput(input SubmitInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.UserID, validation.Required, validation.Length(1, 64)),
		validation.Field(&input.ProblemCode, validation.Required, validation.Length(1, 64)),
		validation.Field(&input.Language, validation.Required),
		validation.Field(&input.ContestID, validation.Length(0, 64)),
	)
	if err != nil {
		return appErr.New(appErr.ValidationFailed).WithMessage(err.Error())
	}
	if strings.TrimSpace(input.Code) == "" {
		return appErr.ValidationError("code", "required")
	}
	if len(input.Code) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLong).WithMessagef("source code exceeds %d bytes", s.maxCodeBytes)
	}
	return nil
}

// checkProblem rejects unknown problems before a row is written. Practice
// intake only admits problems flagged for practice; others look absent.
func (s *SubmitService) checkProblem(ctx context.Context, code string, practice bool) error {
	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	defer cancel()
	problem, err := s.problems.GetByCode(ctxDB, code)
	if err != nil {
		return err
	}
	if practice && !problem.IsPractice {
		return appErr.New(appErr.ProblemNotFound).WithMessagef("practice problem %s not found", code)
	}
	return nil
}

func (s *SubmitService) createSubmission(ctx context.Context, submission *model.Submission) error {
	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	defer cancel()
	return s.submissions.Create(ctxDB, submission)
}

func (s *SubmitService) seedStatus(ctx context.Context, submissionID string) {
	if s.status == nil {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	view := model.StatusView{SubmissionID: submissionID, Status: model.StatusPending}
	if err := s.status.Save(ctxCache, view); err != nil {
		logger.Warn(ctx, "seed submission status failed", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func (s *SubmitService) enqueue(ctx context.Context, job model.JudgeJob) error {
	ctxMQ, cancel := withTimeout(ctx, s.timeouts.MQ)
	defer cancel()
	if err := s.jobs.Enqueue(ctxMQ, job); err != nil {
		if appErr.Is(err, appErr.JudgeQueueFull) {
			return err
		}
		return appErr.Wrapf(err, appErr.JudgeQueueFull, "enqueue judge job failed")
	}
	return nil
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.cache == nil {
		return false, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()

	ok, err := s.cache.SetNX(ctxCache, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := s.cache.Get(ctxCache, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	if !acquired {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.cache.Set(ctxCache, idempotencyKeyPrefix+strings.TrimSpace(key), submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if !acquired {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.cache.Del(ctxCache, idempotencyKeyPrefix+strings.TrimSpace(key)); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
