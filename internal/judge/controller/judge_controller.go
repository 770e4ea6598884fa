package controller

import (
	"context"

	"ojudge/internal/judge/model"
	"ojudge/internal/judge/queue"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/logger"
	"ojudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusReader reads the live status cache.
type StatusReader interface {
	Get(ctx context.Context, submissionID string) (model.StatusView, error)
}

// SubmissionReader loads persisted submissions.
type SubmissionReader interface {
	Get(ctx context.Context, id string) (model.Submission, error)
}

// StatsReader exposes queue counters.
type StatsReader interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// JudgeController handles judge status requests.
type JudgeController struct {
	status      StatusReader
	submissions SubmissionReader
	stats       StatsReader
}

// NewJudgeController creates a new controller.
func NewJudgeController(status StatusReader, submissions SubmissionReader, stats StatsReader) *JudgeController {
	return &JudgeController{status: status, submissions: submissions, stats: stats}
}

// GetStatus returns status for one submission. The cache holds progress while
// judging; the database row is authoritative once the cache entry is gone.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	ctx := c.Request.Context()
	view, err := h.status.Get(ctx, submissionID)
	if err == nil {
		response.Success(c, view)
		return
	}
	if !appErr.Is(err, appErr.NotFound) {
		logger.Warn(ctx, "status cache read failed, using database", zap.String("submission_id", submissionID), zap.Error(err))
	}
	sub, err := h.submissions.Get(ctx, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, viewFromSubmission(sub))
}

// QueueStats returns job counters shared by all workers.
func (h *JudgeController) QueueStats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

func viewFromSubmission(sub model.Submission) model.StatusView {
	view := model.StatusView{
		SubmissionID:    sub.ID,
		Status:          sub.Status,
		PassedTestCases: sub.PassedTestCases,
		TotalTestCases:  sub.TotalTestCases,
		UpdatedAt:       sub.UpdatedAt.Unix(),
	}
	if sub.Status.IsTerminal() {
		view.Progress = 100
	}
	return view
}
