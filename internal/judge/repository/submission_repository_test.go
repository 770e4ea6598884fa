package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"ojudge/internal/common/db"
	"ojudge/internal/judge/model"
	appErr "ojudge/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestFinalizeUpdatesPendingSubmission(t *testing.T) {
	database, mock := newMockDB(t, db.DialectMySQL)
	repo := NewSubmissionRepository(database)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET status = ?, passed_test_cases = ?, total_test_cases = ?, updated_at = ? WHERE id = ? AND status = ?")).
		WithArgs(model.StatusPartiallyAccepted, 2, 5, fixed, "s1", model.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Finalize(context.Background(), "s1", model.JudgeOutcome{Status: model.StatusPartiallyAccepted, Passed: 2, Total: 5})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFinalizeRejectsFrozenSubmission(t *testing.T) {
	database, mock := newMockDB(t, db.DialectPostgres)
	repo := NewSubmissionRepository(database)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"id", "user_id", "problem_code", "language", "code", "status",
		"passed_test_cases", "total_test_cases", "contest_id", "created_at", "updated_at"}).
		AddRow("s1", "u1", "A1", "python", "print(1)", "Accepted", 1, 1, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id")).WithArgs("s1").WillReturnRows(rows)

	err := repo.Finalize(context.Background(), "s1", model.JudgeOutcome{Status: model.StatusWrongAnswer, Passed: 0, Total: 1})
	if !appErr.Is(err, appErr.SubmissionNotPending) {
		t.Fatalf("expected SubmissionNotPending, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFinalizeValidatesCounts(t *testing.T) {
	database, _ := newMockDB(t, db.DialectMySQL)
	repo := NewSubmissionRepository(database)
	err := repo.Finalize(context.Background(), "s1", model.JudgeOutcome{Status: model.StatusAccepted, Passed: 3, Total: 2})
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = repo.Finalize(context.Background(), "s1", model.JudgeOutcome{Status: model.StatusPending})
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error for pending, got %v", err)
	}
}

func TestGetMissingSubmission(t *testing.T) {
	database, mock := newMockDB(t, db.DialectMySQL)
	repo := NewSubmissionRepository(database)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id")).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), "nope")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestCreateSubmissionDefaultsToPending(t *testing.T) {
	database, mock := newMockDB(t, db.DialectMySQL)
	repo := NewSubmissionRepository(database)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WithArgs("s1", "u1", "A1", "python", "print(1)", model.StatusPending, 0, 0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := &model.Submission{ID: "s1", UserID: "u1", ProblemCode: "A1", Language: "python", Code: "print(1)"}
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != model.StatusPending || s.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
