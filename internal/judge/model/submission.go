package model

import "time"

// Submission is one user attempt at a problem.
type Submission struct {
	ID              string    `db:"id" json:"submissionId"`
	UserID          string    `db:"user_id" json:"userId"`
	ProblemCode     string    `db:"problem_code" json:"problemCode"`
	Language        string    `db:"language" json:"language"`
	Code            string    `db:"code" json:"-"`
	Status          Status    `db:"status" json:"status"`
	PassedTestCases int       `db:"passed_test_cases" json:"passedTestCases"`
	TotalTestCases  int       `db:"total_test_cases" json:"totalTestCases"`
	ContestID       *string   `db:"contest_id" json:"contestId,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// JudgeOutcome is the aggregate written back onto a submission.
type JudgeOutcome struct {
	Status Status
	Passed int
	Total  int
}

// StatusView is what clients see when polling a submission.
type StatusView struct {
	SubmissionID    string `json:"submissionId"`
	Status          Status `json:"status"`
	PassedTestCases int    `json:"passedTestCases"`
	TotalTestCases  int    `json:"totalTestCases"`
	Progress        int    `json:"progress"`
	UpdatedAt       int64  `json:"updatedAt,omitempty"`
}

// StatusEvent is published once a submission reaches a terminal status.
type StatusEvent struct {
	SubmissionID string `json:"submissionId"`
	UserID       string `json:"userId,omitempty"`
	ProblemCode  string `json:"problemCode,omitempty"`
	Status       Status `json:"status"`
	Passed       int    `json:"passed"`
	Total        int    `json:"total"`
	FinishedAt   int64  `json:"finishedAt"`
}
