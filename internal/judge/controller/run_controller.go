package controller

import (
	"context"

	"ojudge/internal/judge/service"
	"ojudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// CodeRunner executes code once against custom input.
type CodeRunner interface {
	Run(ctx context.Context, input service.RunInput) (service.RunResult, error)
}

// RunController handles ad-hoc runs.
type RunController struct {
	runner CodeRunner
}

// NewRunController creates a new controller.
func NewRunController(runner CodeRunner) *RunController {
	return &RunController{runner: runner}
}

// Run executes the posted code synchronously and returns its output.
func (h *RunController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.runner.Run(c.Request.Context(), service.RunInput{
		Language: req.Language,
		Code:     req.Code,
		Input:    req.Input,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// RunRequest defines the ad-hoc run payload.
type RunRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}
