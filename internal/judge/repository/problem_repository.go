package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/common/db"
	"ojudge/internal/common/storage"
	"ojudge/internal/judge/model"
	appErr "ojudge/pkg/errors"
)

const problemKeyPrefix = "judge:problem:"

// ProblemRepository loads problems with their ordered test cases.
type ProblemRepository interface {
	GetByCode(ctx context.Context, code string) (model.Problem, error)
}

// ProblemRepositoryConfig configures caching and blob resolution.
type ProblemRepositoryConfig struct {
	CacheTTL      time.Duration
	EmptyCacheTTL time.Duration
	// Bucket holds test-case objects referenced by input_key / output_key.
	Bucket string
	// MaxBlobBytes caps one decoded test-case object.
	MaxBlobBytes int64
}

// SQLProblemRepository reads problems from SQL, caches them in redis and
// resolves object-stored test data.
type SQLProblemRepository struct {
	db      *db.Database
	cache   cache.Cache
	storage storage.ObjectStorage
	cfg     ProblemRepositoryConfig
}

// NewProblemRepository creates a problem repository. cache and store may be nil.
func NewProblemRepository(database *db.Database, cacheClient cache.Cache, store storage.ObjectStorage, cfg ProblemRepositoryConfig) *SQLProblemRepository {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.EmptyCacheTTL <= 0 {
		cfg.EmptyCacheTTL = 30 * time.Second
	}
	if cfg.MaxBlobBytes <= 0 {
		cfg.MaxBlobBytes = 64 << 20
	}
	return &SQLProblemRepository{db: database, cache: cacheClient, storage: store, cfg: cfg}
}

// GetByCode returns the problem with test data resolved to text.
func (r *SQLProblemRepository) GetByCode(ctx context.Context, code string) (model.Problem, error) {
	if code == "" {
		return model.Problem{}, appErr.ValidationError("problem_code", "required")
	}
	var (
		problem model.Problem
		err     error
	)
	if r.cache != nil {
		problem, err = cache.GetWithCached(ctx, r.cache, problemKeyPrefix+code,
			r.cfg.CacheTTL, r.cfg.EmptyCacheTTL,
			func(p model.Problem) bool { return p.Code == "" },
			marshalProblem, unmarshalProblem,
			func(ctx context.Context) (model.Problem, error) { return r.load(ctx, code) },
		)
	} else {
		problem, err = r.load(ctx, code)
	}
	if err != nil {
		return model.Problem{}, err
	}
	if problem.Code == "" {
		return model.Problem{}, appErr.New(appErr.ProblemNotFound).WithDetail("problem_code", code)
	}
	if err := r.resolveBlobs(ctx, &problem); err != nil {
		return model.Problem{}, err
	}
	return problem, nil
}

// Invalidate drops the cached copy of a problem.
func (r *SQLProblemRepository) Invalidate(ctx context.Context, code string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, problemKeyPrefix+code)
}

// load returns a zero Problem when the code does not exist so the miss is cached.
func (r *SQLProblemRepository) load(ctx context.Context, code string) (model.Problem, error) {
	q := r.db.Querier()
	var p model.Problem
	err := q.GetContext(ctx, &p, "SELECT code, title, points, is_practice FROM problems WHERE code = ?", code)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Problem{}, nil
		}
		return model.Problem{}, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	err = q.SelectContext(ctx, &p.TestCases,
		"SELECT id, problem_code, ordinal, input, expected_output, input_key, output_key, hidden FROM test_cases WHERE problem_code = ? ORDER BY ordinal, id",
		code)
	if err != nil {
		return model.Problem{}, appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
	}
	return p, nil
}

// resolveBlobs fills Input / ExpectedOutput from object storage when only keys are set.
func (r *SQLProblemRepository) resolveBlobs(ctx context.Context, p *model.Problem) error {
	for i := range p.TestCases {
		tc := &p.TestCases[i]
		if tc.Input == "" && tc.InputKey != "" {
			data, err := r.readBlob(ctx, tc.InputKey)
			if err != nil {
				return err
			}
			tc.Input = data
		}
		if tc.ExpectedOutput == "" && tc.OutputKey != "" {
			data, err := r.readBlob(ctx, tc.OutputKey)
			if err != nil {
				return err
			}
			tc.ExpectedOutput = data
		}
	}
	return nil
}

func (r *SQLProblemRepository) readBlob(ctx context.Context, key string) (string, error) {
	if r.storage == nil {
		return "", appErr.New(appErr.TestCaseInvalid).WithMessagef("test case references %s but object storage is not configured", key)
	}
	data, err := storage.ReadBlob(ctx, r.storage, r.cfg.Bucket, key, r.cfg.MaxBlobBytes)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", appErr.New(appErr.TestCaseNotFound).WithDetail("key", key)
		}
		if errors.Is(err, storage.ErrBlobTooLarge) {
			return "", appErr.New(appErr.TestCaseInvalid).WithMessagef("test case object %s is too large", key)
		}
		return "", appErr.Wrapf(err, appErr.StorageError, "read test case %s failed", key)
	}
	return string(data), nil
}

func marshalProblem(p model.Problem) (string, error) {
	b, err := json.Marshal(p)
	return string(b), err
}

func unmarshalProblem(s string) (model.Problem, error) {
	var p model.Problem
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}
