package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"codemate/internal/judge/model"
	"codemate/internal/judge/sandbox/result"
	"codemate/internal/judge/sandbox/runner"
	appErr "codemate/pkg/errors"
)

// Mode selects the evaluation policy.
type Mode int

const (
	// ModeSubmit stops at the first failing case; only the verdict matters.
	ModeSubmit Mode = iota
	// ModeSample runs every case and reports each result for display.
	ModeSample
)

// Limits are the problem-level defaults applied when a case has no override.
type Limits struct {
	TimeLimitSeconds float64
	MemoryLimitMB    int64
}

// Evaluator runs a program against a set of test cases and produces a verdict.
type Evaluator struct {
	runner runner.Runner
}

func NewEvaluator(r runner.Runner) *Evaluator {
	return &Evaluator{runner: r}
}

// Evaluate executes the cases in order. Infrastructure failures inside the
// sandbox surface as a JudgeSystemError so the caller can retry the whole
// evaluation; everything else folds into the verdict.
func (e *Evaluator) Evaluate(ctx context.Context, runID, languageID, source string, cases []model.TestCase, limits Limits, mode Mode) (model.Verdict, error) {
	if len(cases) == 0 {
		return model.Verdict{}, appErr.New(appErr.TestCaseNotFound).WithMessage("no test cases to evaluate")
	}

	verdict := model.Verdict{
		Status:     model.StatusAccepted,
		TotalTests: len(cases),
	}

	for i, tc := range cases {
		res, err := e.runner.Execute(ctx, runner.ExecutionRequest{
			RunID:          fmt.Sprintf("%s-c%d", runID, i+1),
			LanguageID:     languageID,
			SourceCode:     source,
			Stdin:          tc.Input,
			TimeoutSeconds: caseTimeout(tc, limits),
			MemoryLimitMB:  caseMemoryMB(tc, limits),
		})
		if err != nil {
			return model.Verdict{}, err
		}
		if res.Outcome.IsTerminalFailure() {
			if res.Outcome == result.OutcomeSystemError {
				return model.Verdict{}, appErr.Newf(appErr.JudgeSystemError, "sandbox failure on test %d: %s", tc.OrderIndex, res.Message)
			}
			// Compilation does not depend on the case; further runs would
			// fail identically.
			verdict.Status = model.StatusCompileError
			verdict.ErrorMessage = res.CompileOutput
			return verdict, nil
		}

		caseRes := buildCaseResult(tc, res)
		verdict.ExecutedTests++
		verdict.TimeSeconds += caseRes.TimeSeconds
		if caseRes.MemoryKB > verdict.PeakMemoryKB {
			verdict.PeakMemoryKB = caseRes.MemoryKB
		}

		if caseRes.Passed {
			verdict.PassedTests++
		} else if verdict.Status == model.StatusAccepted {
			verdict.Status = caseRes.Status
			verdict.ErrorMessage = failureMessage(res)
		}

		verdict.Cases = append(verdict.Cases, caseRes)

		if !caseRes.Passed && mode == ModeSubmit {
			break
		}
	}
	return verdict, nil
}

func buildCaseResult(tc model.TestCase, res result.ExecutionResult) model.CaseResult {
	caseRes := model.CaseResult{
		TestCaseID:  tc.ID,
		OrderIndex:  tc.OrderIndex,
		Status:      statusFromOutcome(res.Outcome),
		TimeSeconds: res.ElapsedSeconds,
		MemoryKB:    res.PeakMemoryKB,
	}

	if res.Ok() {
		if OutputsMatch(res.Stdout, tc.ExpectedOutput) {
			caseRes.Passed = true
		} else {
			caseRes.Status = model.StatusWrongAnswer
		}
	}

	if !tc.IsHidden {
		caseRes.Input = tc.Input
		caseRes.ExpectedOutput = tc.ExpectedOutput
		caseRes.ActualOutput = res.Stdout
		caseRes.Stderr = res.Stderr
	}
	return caseRes
}

func failureMessage(res result.ExecutionResult) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Message
}

func statusFromOutcome(outcome result.Outcome) string {
	switch outcome {
	case result.OutcomeAccepted:
		return model.StatusAccepted
	case result.OutcomeCompileError:
		return model.StatusCompileError
	case result.OutcomeRuntimeError:
		return model.StatusRuntimeError
	case result.OutcomeTimeLimitExceeded:
		return model.StatusTimeLimitExceeded
	case result.OutcomeMemoryLimitExceeded:
		return model.StatusMemoryLimitExceeded
	default:
		return model.StatusSystemError
	}
}

func caseTimeout(tc model.TestCase, limits Limits) float64 {
	if tc.TimeLimitSeconds > 0 {
		return tc.TimeLimitSeconds
	}
	return limits.TimeLimitSeconds
}

func caseMemoryMB(tc model.TestCase, limits Limits) int64 {
	if tc.MemoryLimitMB > 0 {
		return tc.MemoryLimitMB
	}
	return limits.MemoryLimitMB
}

// OutputsMatch compares program output to the expected output after
// normalization: outer whitespace is trimmed and whitespace-delimited
// true/false tokens compare case-insensitively. Spacing inside the output
// is otherwise significant.
func OutputsMatch(actual, expected string) bool {
	return NormalizeOutput(actual) == NormalizeOutput(expected)
}

// NormalizeOutput produces the canonical form used for comparison.
func NormalizeOutput(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		token := s[start:end]
		if strings.EqualFold(token, "true") {
			token = "true"
		} else if strings.EqualFold(token, "false") {
			token = "false"
		}
		b.WriteString(token)
		start = -1
	}
	for i, r := range s {
		if unicode.IsSpace(r) {
			flush(i)
			b.WriteRune(r)
		} else if start < 0 {
			start = i
		}
	}
	flush(len(s))
	return b.String()
}
