package model

// CaseResult reports one executed test case.
// Input and expected output are blanked for hidden cases before the
// verdict leaves the service.
type CaseResult struct {
	TestCaseID int64  `json:"test_case_id"`
	OrderIndex int    `json:"order"`
	Passed     bool   `json:"passed"`
	Status     string `json:"status"`

	Input          string `json:"input,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ActualOutput   string `json:"actual_output,omitempty"`
	Stderr         string `json:"stderr,omitempty"`

	TimeSeconds float64 `json:"time"`
	MemoryKB    int64   `json:"memory_kb"`
}

// Verdict is the aggregate evaluation outcome for one source/problem pair.
type Verdict struct {
	Status string `json:"status"`

	TotalTests    int `json:"total_tests"`
	ExecutedTests int `json:"executed_tests"`
	PassedTests   int `json:"passed_tests"`

	// TimeSeconds sums run time over executed cases; PeakMemoryKB is the max.
	TimeSeconds  float64 `json:"time"`
	PeakMemoryKB int64   `json:"peak_memory_kb"`

	ErrorMessage string       `json:"error_message,omitempty"`
	Cases        []CaseResult `json:"cases,omitempty"`
}

// Accepted reports whether every declared test passed.
func (v Verdict) Accepted() bool {
	return v.Status == StatusAccepted
}
