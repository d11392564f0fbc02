package runner

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	inputName      = "input.txt"
	outputName     = "output.txt"
	runtimeLogName = "runtime.log"
	compileLogName = "compile.log"
	compileOutName = "compile.out"
)

// DefaultRunner implements sandbox.Executor on top of the sandbox engine.
type DefaultRunner struct {
	eng           engine.Engine
	compileLimits spec.ResourceLimit
	runDefaults   spec.ResourceLimit
}

// Option customizes a DefaultRunner.
type Option func(*DefaultRunner)

// WithCompileLimits overrides the limits applied to compilers.
func WithCompileLimits(l spec.ResourceLimit) Option {
	return func(r *DefaultRunner) { r.compileLimits = mergeLimits(r.compileLimits, l) }
}

// WithRunDefaults sets limits used when a request leaves a field at zero.
func WithRunDefaults(l spec.ResourceLimit) Option {
	return func(r *DefaultRunner) { r.runDefaults = mergeLimits(r.runDefaults, l) }
}

// NewRunner creates a new runner backed by the sandbox engine.
func NewRunner(eng engine.Engine, opts ...Option) *DefaultRunner {
	r := &DefaultRunner{
		eng: eng,
		compileLimits: spec.ResourceLimit{
			CPUTimeMs:  10000,
			WallTimeMs: 20000,
			MemoryMB:   1024,
			OutputMB:   16,
			PIDs:       64,
		},
		runDefaults: spec.ResourceLimit{
			CPUTimeMs: 1000,
			MemoryMB:  256,
			StackMB:   64,
			OutputMB:  16,
			PIDs:      32,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *DefaultRunner) Compile(ctx context.Context, req sandbox.CompileRequest) (result.CompileResult, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileResult{}, err
	}
	if err := prepareDir(req.ArtifactDir); err != nil {
		return result.CompileResult{}, err
	}
	srcPath := filepath.Join(req.ArtifactDir, req.Language.SourceFile)
	if err := os.WriteFile(srcPath, []byte(req.Source), 0644); err != nil {
		return result.CompileResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}
	if !req.Language.CompileEnabled {
		return result.CompileResult{OK: true, ArtifactDir: req.ArtifactDir}, nil
	}

	limits := mergeLimits(r.compileLimits, req.Limits)
	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language, req.ArtifactDir, limits)
	if err != nil {
		return result.CompileResult{}, err
	}
	runSpec := spec.RunSpec{
		RunID:      req.RunID + "-compile",
		WorkDir:    req.ArtifactDir,
		Cmd:        cmd,
		Env:        req.Language.Env,
		StdoutPath: filepath.Join(req.ArtifactDir, compileOutName),
		StderrPath: filepath.Join(req.ArtifactDir, compileLogName),
		Limits:     limits,
	}

	runRes, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		return result.CompileResult{}, err
	}
	compileRes := result.CompileResult{
		OK:          runRes.ExitCode == 0 && !runRes.TimedOut && !runRes.OutOfMemory,
		ExitCode:    runRes.ExitCode,
		TimeMs:      runRes.CPUTimeMs,
		MemoryKB:    runRes.MemoryKB,
		ArtifactDir: req.ArtifactDir,
	}
	if !compileRes.OK {
		compileRes.Log = compileLog(runRes)
		logger.Debug(ctx, "compile failed",
			zap.String("language", req.Language.ID),
			zap.Int("exit_code", runRes.ExitCode),
			zap.Bool("timed_out", runRes.TimedOut),
		)
	}
	return compileRes, nil
}

func (r *DefaultRunner) Execute(ctx context.Context, req sandbox.ExecuteRequest) (result.ExecutionResult, error) {
	if err := validateExecuteRequest(req); err != nil {
		return result.ExecutionResult{}, err
	}
	if err := prepareDir(req.CaseDir); err != nil {
		return result.ExecutionResult{}, err
	}
	inputPath := filepath.Join(req.CaseDir, inputName)
	if err := os.WriteFile(inputPath, []byte(req.Input), 0644); err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "write input failed")
	}

	limits := applyMultipliers(mergeLimits(r.runDefaults, req.Limits), req.Language)
	cmd, err := buildCommand(req.Language.RunCmdTpl, req.Language, req.ArtifactDir, limits)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	runSpec := spec.RunSpec{
		RunID:        req.RunID,
		WorkDir:      req.CaseDir,
		Cmd:          cmd,
		Env:          req.Language.Env,
		StdinPath:    inputPath,
		StdoutPath:   filepath.Join(req.CaseDir, outputName),
		StderrPath:   filepath.Join(req.CaseDir, runtimeLogName),
		Limits:       limits,
		AddressSpace: req.Language.AddressSpaceLimit,
	}

	res, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	if !res.OutOfMemory && res.ExitCode != 0 && hasOOMMarker(res.Stderr, req.Language.OOMMarkers) {
		res.OutOfMemory = true
	}
	return res, nil
}

func validateCompileRequest(req sandbox.CompileRequest) error {
	if req.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if req.ArtifactDir == "" {
		return appErr.ValidationError("artifact_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language", "required")
	}
	if req.Language.SourceFile == "" {
		return appErr.ValidationError("source_file", "required")
	}
	return nil
}

func validateExecuteRequest(req sandbox.ExecuteRequest) error {
	if req.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if req.ArtifactDir == "" {
		return appErr.ValidationError("artifact_dir", "required")
	}
	if req.CaseDir == "" {
		return appErr.ValidationError("case_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language", "required")
	}
	return nil
}

func buildCommand(tpl string, lang profile.LanguageSpec, artifactDir string, limits spec.ResourceLimit) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.Newf(appErr.JudgeSystemError, "command template for %s is empty", lang.ID)
	}
	replacer := strings.NewReplacer(
		"{src}", filepath.Join(artifactDir, lang.SourceFile),
		"{bin}", filepath.Join(artifactDir, lang.BinaryFile),
		"{dir}", artifactDir,
		"{memMB}", strconv.FormatInt(maxInt64(limits.MemoryMB, 16), 10),
	)
	fields, err := shlex.Split(replacer.Replace(tpl))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func mergeLimits(base, override spec.ResourceLimit) spec.ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.OutputMB > 0 {
		base.OutputMB = override.OutputMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

func applyMultipliers(limits spec.ResourceLimit, lang profile.LanguageSpec) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, lang.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, lang.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, lang.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func hasOOMMarker(stderr string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

func compileLog(res result.ExecutionResult) string {
	log := strings.TrimSpace(res.Stderr + "\n" + res.Stdout)
	switch {
	case res.TimedOut:
		log = strings.TrimSpace(log + "\ncompilation timed out")
	case res.OutOfMemory:
		log = strings.TrimSpace(log + "\ncompilation ran out of memory")
	}
	return log
}

func prepareDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "create dir %s failed", dir)
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

var _ sandbox.Executor = (*DefaultRunner)(nil)
