package controller

import (
	"strings"

	"ojudge/internal/submit/service"
	"ojudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Create queues a submission and answers before judging starts.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	h.submit(c, req, req.ProblemCode, false)
}

// CreatePractice queues a submission against a practice problem.
func (h *SubmitController) CreatePractice(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	h.submit(c, req, c.Param("problemCode"), true)
}

func (h *SubmitController) submit(c *gin.Context, req SubmitRequest, problemCode string, practice bool) {
	receipt, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		UserID:         req.UserID,
		ProblemCode:    problemCode,
		Language:       req.Language,
		Code:           req.Code,
		ContestID:      req.ContestID,
		IsPractice:     practice,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyHeader)),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, receipt)
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	UserID      string `json:"userId"`
	ProblemCode string `json:"problemCode"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	ContestID   string `json:"contestId"`
}
