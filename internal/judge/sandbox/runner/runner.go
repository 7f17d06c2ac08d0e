// Package runner turns source code plus stdin into a typed execution result.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"

	"codemate/internal/judge/sandbox/engine"
	"codemate/internal/judge/sandbox/profile"
	"codemate/internal/judge/sandbox/result"
	appErr "codemate/pkg/errors"
)

const (
	containerWorkDir = "/work"
	sourceBaseName   = "solution"
	binaryName       = "solution"
	inputFileName    = "input.txt"

	oomExitCode = 137
)

var javaClassPattern = regexp.MustCompile(`public\s+class\s+(\w+)`)

// Runner executes one program against one stdin payload.
type Runner interface {
	Execute(ctx context.Context, req ExecutionRequest) (result.ExecutionResult, error)
}

// ExecutionRequest describes a single sandboxed execution.
type ExecutionRequest struct {
	// RunID names the scratch dir and containers; usually the submission ID.
	RunID      string
	LanguageID string
	SourceCode string
	Stdin      string

	// TimeoutSeconds is the wall budget for the run phase.
	// Zero means the configured default; values above the configured
	// maximum are clamped down.
	TimeoutSeconds float64

	// MemoryLimitMB overrides the language profile limit when positive.
	MemoryLimitMB int64
}

// Config holds runner limits and defaults.
type Config struct {
	WorkRoot              string        `yaml:"workRoot"`
	CompileTimeout        time.Duration `yaml:"compileTimeout"`
	DefaultTimeoutSeconds float64       `yaml:"defaultTimeoutSeconds"`
	MaxTimeoutSeconds     float64       `yaml:"maxTimeoutSeconds"`
	MaxMemoryMB           int64         `yaml:"maxMemoryMB"`
}

func (c *Config) setDefaults() {
	if c.WorkRoot == "" {
		c.WorkRoot = os.TempDir()
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = 10 * time.Second
	}
	if c.DefaultTimeoutSeconds <= 0 {
		c.DefaultTimeoutSeconds = 5
	}
	if c.MaxTimeoutSeconds <= 0 {
		c.MaxTimeoutSeconds = 10
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = 512
	}
}

// SandboxRunner implements Runner on top of a container engine.
type SandboxRunner struct {
	eng      engine.Engine
	registry *profile.Registry
	cfg      Config
}

// NewRunner creates a runner backed by the given engine.
func NewRunner(eng engine.Engine, registry *profile.Registry, cfg Config) (*SandboxRunner, error) {
	if eng == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("engine is required")
	}
	if registry == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("language registry is required")
	}
	cfg.setDefaults()
	return &SandboxRunner{eng: eng, registry: registry, cfg: cfg}, nil
}

// Execute compiles (when the language requires it) and runs the program.
// Only invalid requests surface as errors; every sandbox failure mode is
// folded into the ExecutionResult so the caller always gets a verdict.
func (r *SandboxRunner) Execute(ctx context.Context, req ExecutionRequest) (result.ExecutionResult, error) {
	if strings.TrimSpace(req.SourceCode) == "" {
		return result.ExecutionResult{}, appErr.ValidationError("source_code", "required")
	}
	prof, err := r.registry.Resolve(req.LanguageID)
	if err != nil {
		return result.ExecutionResult{}, err
	}

	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "judge-")
	if err != nil {
		return systemError(fmt.Sprintf("create scratch dir failed: %v", err)), nil
	}
	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	className := ""
	sourceFile := sourceBaseName + prof.SourceFileExt
	if prof.ID == "java" {
		className = javaClassName(req.SourceCode)
		sourceFile = className + prof.SourceFileExt
	}
	if err := os.WriteFile(filepath.Join(workDir, sourceFile), []byte(req.SourceCode), 0644); err != nil {
		return systemError(fmt.Sprintf("write source file failed: %v", err)), nil
	}

	memoryMB := r.effectiveMemoryMB(prof, req.MemoryLimitMB)

	if prof.NeedsCompile() {
		res, done := r.compile(ctx, req, prof, workDir, sourceFile, className, memoryMB)
		if done {
			return res, nil
		}
	}

	timeout := r.effectiveTimeout(req.TimeoutSeconds)
	return r.run(ctx, req, prof, workDir, sourceFile, className, memoryMB, timeout), nil
}

// compile runs the compile phase. The bool result reports whether execution
// should stop with the returned result.
func (r *SandboxRunner) compile(ctx context.Context, req ExecutionRequest, prof profile.LanguageProfile, workDir, sourceFile, className string, memoryMB int64) (result.ExecutionResult, bool) {
	cmd, err := expandCommand(prof.CompileCmdTpl, sourceFile, className)
	if err != nil {
		return systemError(fmt.Sprintf("compile command template: %v", err)), true
	}

	runRes, err := r.eng.Run(ctx, engine.ContainerSpec{
		Name:    containerName(req.RunID, "compile"),
		Image:   prof.Image,
		Cmd:     cmd,
		WorkDir: containerWorkDir,
		Binds: []engine.Bind{{
			HostPath:      workDir,
			ContainerPath: containerWorkDir,
			ReadOnly:      false,
		}},
		MemoryBytes: memoryMB << 20,
		CPUQuota:    prof.CPUQuota,
		PidsLimit:   prof.PidsLimit,
		WallTimeout: r.cfg.CompileTimeout,
	})
	if err != nil {
		return systemError(fmt.Sprintf("compile sandbox failed: %v", err)), true
	}
	if runRes.TimedOut || runRes.ExitCode != 0 {
		out := runRes.Stderr
		if out == "" {
			out = runRes.Stdout
		}
		if runRes.TimedOut {
			out = "compilation timed out"
		}
		return result.ExecutionResult{
			Outcome:       result.OutcomeCompileError,
			CompileOutput: out,
			ExitCode:      runRes.ExitCode,
		}, true
	}
	return result.ExecutionResult{}, false
}

func (r *SandboxRunner) run(ctx context.Context, req ExecutionRequest, prof profile.LanguageProfile, workDir, sourceFile, className string, memoryMB int64, timeout float64) result.ExecutionResult {
	cmd, err := expandCommand(prof.RunCmdTpl, sourceFile, className)
	if err != nil {
		return systemError(fmt.Sprintf("run command template: %v", err))
	}

	if req.Stdin != "" {
		if err := os.WriteFile(filepath.Join(workDir, inputFileName), []byte(req.Stdin), 0644); err != nil {
			return systemError(fmt.Sprintf("write stdin file failed: %v", err))
		}
		redirect := strings.Join(cmd, " ") + " < " + filepath.Join(containerWorkDir, inputFileName)
		cmd = []string{"sh", "-c", redirect}
	}

	runRes, err := r.eng.Run(ctx, engine.ContainerSpec{
		Name:    containerName(req.RunID, "run"),
		Image:   prof.Image,
		Cmd:     cmd,
		WorkDir: containerWorkDir,
		Binds: []engine.Bind{{
			HostPath:      workDir,
			ContainerPath: containerWorkDir,
			ReadOnly:      true,
		}},
		MemoryBytes: memoryMB << 20,
		CPUQuota:    prof.CPUQuota,
		PidsLimit:   prof.PidsLimit,
		WallTimeout: time.Duration(timeout * float64(time.Second)),
	})
	if err != nil {
		return systemError(fmt.Sprintf("run sandbox failed: %v", err))
	}
	return mapRunOutcome(runRes, timeout)
}

func mapRunOutcome(res engine.ContainerResult, timeout float64) result.ExecutionResult {
	out := result.ExecutionResult{
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		ExitCode:       res.ExitCode,
		ElapsedSeconds: res.Elapsed.Seconds(),
		PeakMemoryKB:   res.PeakMemoryKB,
	}
	switch {
	case res.TimedOut:
		out.Outcome = result.OutcomeTimeLimitExceeded
		// The program was killed at the deadline; report the full budget.
		out.ElapsedSeconds = timeout
	case res.OOMKilled || res.ExitCode == oomExitCode:
		out.Outcome = result.OutcomeMemoryLimitExceeded
	case res.ExitCode != 0:
		out.Outcome = result.OutcomeRuntimeError
	default:
		out.Outcome = result.OutcomeAccepted
	}
	return out
}

func (r *SandboxRunner) effectiveTimeout(requested float64) float64 {
	timeout := requested
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeoutSeconds
	}
	if timeout > r.cfg.MaxTimeoutSeconds {
		timeout = r.cfg.MaxTimeoutSeconds
	}
	return timeout
}

func (r *SandboxRunner) effectiveMemoryMB(prof profile.LanguageProfile, override int64) int64 {
	memory := prof.MemoryLimitMB
	if override > 0 {
		memory = override
	}
	if memory > r.cfg.MaxMemoryMB {
		memory = r.cfg.MaxMemoryMB
	}
	return memory
}

// javaClassName derives the source file name from the public class,
// falling back to Solution when the declaration is missing.
func javaClassName(source string) string {
	m := javaClassPattern.FindStringSubmatch(source)
	if len(m) == 2 {
		return m[1]
	}
	return "Solution"
}

func expandCommand(tpl, sourceFile, className string) ([]string, error) {
	expanded := strings.ReplaceAll(tpl, "{src}", filepath.Join(containerWorkDir, sourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(containerWorkDir, binaryName))
	expanded = strings.ReplaceAll(expanded, "{dir}", containerWorkDir)
	expanded = strings.ReplaceAll(expanded, "{class}", className)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func containerName(runID, phase string) string {
	if runID == "" {
		return ""
	}
	return "judge-" + runID + "-" + phase
}

func systemError(message string) result.ExecutionResult {
	return result.ExecutionResult{
		Outcome: result.OutcomeSystemError,
		Message: message,
	}
}
