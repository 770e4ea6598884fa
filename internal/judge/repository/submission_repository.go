package repository

import (
	"context"
	"time"

	"ojudge/internal/common/db"
	"ojudge/internal/judge/model"
	appErr "ojudge/pkg/errors"
)

// SubmissionRepository persists submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	Get(ctx context.Context, id string) (model.Submission, error)
	// Finalize writes a terminal outcome. It only succeeds while the row is pending,
	// so duplicate deliveries cannot overwrite a frozen result.
	Finalize(ctx context.Context, id string, outcome model.JudgeOutcome) error
}

const submissionColumns = "id, user_id, problem_code, language, code, status, passed_test_cases, total_test_cases, contest_id, created_at, updated_at"

// SQLSubmissionRepository stores submissions in the submissions table.
type SQLSubmissionRepository struct {
	db  *db.Database
	now func() time.Time
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database *db.Database) *SQLSubmissionRepository {
	return &SQLSubmissionRepository{db: database, now: time.Now}
}

func (r *SQLSubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	if s == nil || s.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	now := r.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = model.StatusPending
	}
	_, err := r.db.Querier().ExecContext(ctx,
		"INSERT INTO submissions ("+submissionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.ID, s.UserID, s.ProblemCode, s.Language, s.Code, s.Status,
		s.PassedTestCases, s.TotalTestCases, s.ContestID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.New(appErr.RecordAlreadyExists).WithMessagef("submission %s already exists", s.ID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	return nil
}

func (r *SQLSubmissionRepository) Get(ctx context.Context, id string) (model.Submission, error) {
	var s model.Submission
	err := r.db.Querier().GetContext(ctx, &s, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return s, nil
}

func (r *SQLSubmissionRepository) Finalize(ctx context.Context, id string, outcome model.JudgeOutcome) error {
	if !outcome.Status.IsTerminal() {
		return appErr.ValidationError("status", "must be terminal")
	}
	if outcome.Passed < 0 || outcome.Passed > outcome.Total {
		return appErr.ValidationError("passed_test_cases", "out of range")
	}
	res, err := r.db.Querier().ExecContext(ctx,
		"UPDATE submissions SET status = ?, passed_test_cases = ?, total_test_cases = ?, updated_at = ? WHERE id = ? AND status = ?",
		outcome.Status, outcome.Passed, outcome.Total, r.now().UTC(), id, model.StatusPending,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	if affected == 1 {
		return nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return appErr.New(appErr.SubmissionNotPending).
		WithDetail("submission_id", id).
		WithDetail("status", string(current.Status))
}
