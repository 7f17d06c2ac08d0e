package service

import (
	"context"
	"sync"
	"testing"

	"codemate/internal/judge/model"
	"codemate/internal/judge/sandbox/result"
	"codemate/internal/judge/sandbox/runner"
	appErr "codemate/pkg/errors"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runner.ExecutionRequest
	results []result.ExecutionResult
	errs    []error
}

func (f *fakeRunner) Execute(_ context.Context, req runner.ExecutionRequest) (result.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, req)

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var res result.ExecutionResult
	switch {
	case i < len(f.results):
		res = f.results[i]
	case len(f.results) > 0:
		res = f.results[len(f.results)-1]
	}
	return res, err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func accepted(stdout string) result.ExecutionResult {
	return result.ExecutionResult{Outcome: result.OutcomeAccepted, Stdout: stdout, ElapsedSeconds: 0.1, PeakMemoryKB: 1024}
}

func testCases(expected ...string) []model.TestCase {
	cases := make([]model.TestCase, 0, len(expected))
	for i, exp := range expected {
		cases = append(cases, model.TestCase{
			ID:             int64(i + 1),
			OrderIndex:     i + 1,
			Input:          "in",
			ExpectedOutput: exp,
		})
	}
	return cases
}

func TestNormalizeOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims outer whitespace", "  hello \n", "hello"},
		{"preserves inner spacing", "a \t b\n c  d ", "a \t b\n c  d"},
		{"folds boolean case", "True\nFALSE", "true\nfalse"},
		{"folds boolean tokens between words", "ans True done", "ans true done"},
		{"keeps non boolean tokens", "Truth FALSEHOOD", "Truth FALSEHOOD"},
		{"empty", "   \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeOutput(tt.in)
			if got != tt.want {
				t.Fatalf("NormalizeOutput(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := NormalizeOutput(got); again != got {
				t.Fatalf("normalization is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestOutputsMatchBooleanTokens(t *testing.T) {
	t.Parallel()

	if !OutputsMatch("True", "true") {
		t.Fatalf("boolean tokens should compare case-insensitively")
	}
	if OutputsMatch("truely", "True") {
		t.Fatalf("only exact boolean tokens fold")
	}
}

func TestOutputsMatchInnerSpacingIsSignificant(t *testing.T) {
	t.Parallel()

	if OutputsMatch("1  2", "1 2") {
		t.Fatalf("double space should not match single space")
	}
	if OutputsMatch("a\t\tb", "a b") {
		t.Fatalf("tabs should not match a single space")
	}
	if !OutputsMatch(" 1 2 \n", "1 2") {
		t.Fatalf("outer whitespace should be trimmed")
	}
}

func TestEvaluateSubmitShortCircuits(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{
		accepted("1"),
		accepted("wrong"),
		accepted("3"),
	}}
	ev := NewEvaluator(r)

	verdict, err := ev.Evaluate(context.Background(), "sub", "python", "src", testCases("1", "2", "3"), Limits{TimeLimitSeconds: 2}, ModeSubmit)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Status != model.StatusWrongAnswer {
		t.Fatalf("status = %s, want wrong_answer", verdict.Status)
	}
	if r.callCount() != 2 {
		t.Fatalf("runner ran %d times, want 2 (stop at first failure)", r.callCount())
	}
	if verdict.TotalTests != 3 || verdict.ExecutedTests != 2 || verdict.PassedTests != 1 {
		t.Fatalf("counts total=%d executed=%d passed=%d", verdict.TotalTests, verdict.ExecutedTests, verdict.PassedTests)
	}
}

func TestEvaluateSampleRunsAllCases(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{
		accepted("1"),
		{Outcome: result.OutcomeRuntimeError, Stderr: "boom", ExitCode: 1, ElapsedSeconds: 0.2},
		accepted("3"),
	}}
	ev := NewEvaluator(r)

	verdict, err := ev.Evaluate(context.Background(), "sub", "python", "src", testCases("1", "2", "3"), Limits{}, ModeSample)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if r.callCount() != 3 {
		t.Fatalf("runner ran %d times, want all 3", r.callCount())
	}
	if verdict.Status != model.StatusRuntimeError {
		t.Fatalf("overall status = %s, want runtime_error from first failure", verdict.Status)
	}
	if verdict.ExecutedTests != 3 || verdict.PassedTests != 2 {
		t.Fatalf("executed=%d passed=%d", verdict.ExecutedTests, verdict.PassedTests)
	}
	if len(verdict.Cases) != 3 {
		t.Fatalf("want 3 case results, got %d", len(verdict.Cases))
	}
	if verdict.ErrorMessage != "boom" {
		t.Fatalf("error message = %q", verdict.ErrorMessage)
	}
}

func TestEvaluateCompileErrorStopsEverything(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{
		{Outcome: result.OutcomeCompileError, CompileOutput: "syntax error"},
	}}
	ev := NewEvaluator(r)

	verdict, err := ev.Evaluate(context.Background(), "sub", "cpp", "src", testCases("1", "2"), Limits{}, ModeSample)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Status != model.StatusCompileError {
		t.Fatalf("status = %s", verdict.Status)
	}
	if verdict.ErrorMessage != "syntax error" {
		t.Fatalf("error message = %q", verdict.ErrorMessage)
	}
	if r.callCount() != 1 {
		t.Fatalf("compile error should stop after the first case, ran %d", r.callCount())
	}
	if verdict.ExecutedTests != 0 {
		t.Fatalf("executed = %d, want 0", verdict.ExecutedTests)
	}
}

func TestEvaluateSystemErrorSurfacesAsRetryable(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{
		{Outcome: result.OutcomeSystemError, Message: "docker daemon unreachable"},
	}}
	ev := NewEvaluator(r)

	_, err := ev.Evaluate(context.Background(), "sub", "python", "src", testCases("1"), Limits{}, ModeSubmit)
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
}

func TestEvaluateAggregatesTimeAndMemory(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{
		{Outcome: result.OutcomeAccepted, Stdout: "1", ElapsedSeconds: 0.5, PeakMemoryKB: 2048},
		{Outcome: result.OutcomeAccepted, Stdout: "2", ElapsedSeconds: 0.3, PeakMemoryKB: 8192},
	}}
	ev := NewEvaluator(r)

	verdict, err := ev.Evaluate(context.Background(), "sub", "python", "src", testCases("1", "2"), Limits{}, ModeSubmit)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Status != model.StatusAccepted {
		t.Fatalf("status = %s", verdict.Status)
	}
	if verdict.TimeSeconds < 0.79 || verdict.TimeSeconds > 0.81 {
		t.Fatalf("time = %v, want sum 0.8", verdict.TimeSeconds)
	}
	if verdict.PeakMemoryKB != 8192 {
		t.Fatalf("peak memory = %d, want max 8192", verdict.PeakMemoryKB)
	}
}

func TestEvaluateHidesHiddenCaseData(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{accepted("42")}}
	ev := NewEvaluator(r)

	cases := []model.TestCase{{
		ID: 1, OrderIndex: 1, Input: "secret in", ExpectedOutput: "42", IsHidden: true,
	}}
	verdict, err := ev.Evaluate(context.Background(), "sub", "python", "src", cases, Limits{}, ModeSubmit)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	cr := verdict.Cases[0]
	if cr.Input != "" || cr.ExpectedOutput != "" || cr.ActualOutput != "" {
		t.Fatalf("hidden case leaked data: %+v", cr)
	}
	if !cr.Passed {
		t.Fatalf("hidden case should still be judged")
	}
}

func TestEvaluateUsesCaseLimitOverrides(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{results: []result.ExecutionResult{accepted("1"), accepted("2")}}
	ev := NewEvaluator(r)

	cases := testCases("1", "2")
	cases[1].TimeLimitSeconds = 7
	cases[1].MemoryLimitMB = 128

	if _, err := ev.Evaluate(context.Background(), "sub", "python", "src", cases, Limits{TimeLimitSeconds: 2, MemoryLimitMB: 256}, ModeSubmit); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := r.calls[0].TimeoutSeconds; got != 2 {
		t.Fatalf("case 1 timeout = %v, want problem default 2", got)
	}
	if got := r.calls[1].TimeoutSeconds; got != 7 {
		t.Fatalf("case 2 timeout = %v, want override 7", got)
	}
	if got := r.calls[1].MemoryLimitMB; got != 128 {
		t.Fatalf("case 2 memory = %v, want override 128", got)
	}
}

func TestEvaluateNoCases(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator(&fakeRunner{})
	_, err := ev.Evaluate(context.Background(), "sub", "python", "src", nil, Limits{}, ModeSubmit)
	if !appErr.Is(err, appErr.TestCaseNotFound) {
		t.Fatalf("expected TestCaseNotFound, got %v", err)
	}
}
