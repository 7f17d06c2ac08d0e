package model

import "time"

// Submission status vocabulary. A submission moves queued -> running -> one
// terminal status, and a terminal status is written exactly once.
const (
	StatusQueued              = "queued"
	StatusRunning             = "running"
	StatusAccepted            = "accepted"
	StatusWrongAnswer         = "wrong_answer"
	StatusTimeLimitExceeded   = "time_limit_exceeded"
	StatusMemoryLimitExceeded = "memory_limit_exceeded"
	StatusRuntimeError        = "runtime_error"
	StatusCompileError        = "compile_error"
	StatusSystemError         = "system_error"
)

// IsTerminalStatus reports whether the status ends the submission lifecycle.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusQueued, StatusRunning:
		return false
	default:
		return true
	}
}

// Submission is one judging request and its recorded outcome.
type Submission struct {
	ID         string `json:"id"`
	UserID     int64  `json:"user_id"`
	ProblemID  int64  `json:"problem_id"`
	LanguageID string `json:"language"`

	// SourceKey locates the archived source in object storage.
	SourceKey string `json:"-"`

	Status               string  `json:"status"`
	ExecutionTimeSeconds float64 `json:"execution_time"`
	MemoryUsedKB         int64   `json:"memory_used_kb"`
	TestCasesPassed      int     `json:"test_cases_passed"`
	TotalTestCases       int     `json:"total_test_cases"`
	ErrorMessage         string  `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
