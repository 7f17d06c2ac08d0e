// Package result defines sandbox execution outcomes.
package result

// Outcome classifies a single sandbox execution.
type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeCompileError        Outcome = "compile_error"
	OutcomeRuntimeError        Outcome = "runtime_error"
	OutcomeTimeLimitExceeded   Outcome = "time_limit_exceeded"
	OutcomeMemoryLimitExceeded Outcome = "memory_limit_exceeded"
	OutcomeSystemError         Outcome = "system_error"
)

// IsTerminalFailure reports whether the outcome rules out further test runs
// for the same submission regardless of evaluation mode.
func (o Outcome) IsTerminalFailure() bool {
	return o == OutcomeCompileError || o == OutcomeSystemError
}

// ExecutionResult is the typed outcome of one compile+run cycle.
// The runner never surfaces panics or raw engine errors to callers;
// everything is folded into this struct.
type ExecutionResult struct {
	Outcome Outcome

	Stdout        string
	Stderr        string
	CompileOutput string

	// ElapsedSeconds covers the run phase only; compile time is excluded.
	ElapsedSeconds float64
	PeakMemoryKB   int64
	ExitCode       int

	// Message carries the operational detail for system errors.
	Message string
}

// Ok reports whether the program ran to completion with exit code 0.
func (r ExecutionResult) Ok() bool {
	return r.Outcome == OutcomeAccepted
}
