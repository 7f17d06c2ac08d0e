package controller

import (
	"github.com/gin-gonic/gin"

	"codemate/internal/judge/model"
	"codemate/internal/judge/service"
	"codemate/pkg/utils/response"
)

// JudgeController handles judging HTTP endpoints.
type JudgeController struct {
	judgeService *service.Service
}

// NewJudgeController creates a new JudgeController.
func NewJudgeController(judgeService *service.Service) *JudgeController {
	return &JudgeController{judgeService: judgeService}
}

// RegisterRoutes mounts the judging endpoints on the router group.
func (h *JudgeController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/submissions", h.Submit)
	rg.GET("/submissions/:id", h.GetSubmission)
	rg.POST("/run", h.Run)
	rg.POST("/execute", h.Execute)
	rg.GET("/languages", h.Languages)
}

type submitRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	ProblemID  int64  `json:"problem_id" binding:"required"`
	LanguageID string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

type submitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// Submit enqueues a full judging run against the problem's test data.
func (h *JudgeController) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	sub, err := h.judgeService.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:     req.UserID,
		ProblemID:  req.ProblemID,
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submitResponse{
		SubmissionID: sub.ID,
		Status:       sub.Status,
	})
}

type submissionResponse struct {
	model.Submission
	Verdict *model.Verdict `json:"verdict,omitempty"`
}

// GetSubmission returns the stored submission and cached verdict detail.
func (h *JudgeController) GetSubmission(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, verdict, err := h.judgeService.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submissionResponse{Submission: sub, Verdict: verdict})
}

type runRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	LanguageID string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// Run evaluates the source against the problem's sample cases synchronously.
func (h *JudgeController) Run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	verdict, err := h.judgeService.RunSamples(c.Request.Context(), service.RunRequest{
		ProblemID:  req.ProblemID,
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, verdict)
}

type executeRequest struct {
	LanguageID     string  `json:"language" binding:"required"`
	SourceCode     string  `json:"source_code" binding:"required"`
	Stdin          string  `json:"stdin"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

type executeResponse struct {
	Stdout         string  `json:"stdout"`
	Stderr         string  `json:"stderr"`
	ExitCode       int     `json:"exit_code"`
	ElapsedSeconds float64 `json:"time"`
	PeakMemoryKB   int64   `json:"memory_kb"`
	Outcome        string  `json:"outcome"`
}

// Execute runs the source once against caller-provided stdin.
func (h *JudgeController) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	res, err := h.judgeService.Execute(c.Request.Context(), service.ExecuteRequest{
		LanguageID:     req.LanguageID,
		SourceCode:     req.SourceCode,
		Stdin:          req.Stdin,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, executeResponse{
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		ExitCode:       res.ExitCode,
		ElapsedSeconds: res.ElapsedSeconds,
		PeakMemoryKB:   res.PeakMemoryKB,
		Outcome:        string(res.Outcome),
	})
}

type languageInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	NeedsBuild  bool   `json:"needs_build"`
}

// Languages lists the supported language profiles.
func (h *JudgeController) Languages(c *gin.Context) {
	profiles := h.judgeService.Languages()
	out := make([]languageInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, languageInfo{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			NeedsBuild:  p.NeedsCompile(),
		})
	}
	response.Success(c, out)
}
