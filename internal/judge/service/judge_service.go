package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	problemModel "codearena/internal/problem/model"
	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultMaxSourceBytes = 64 << 10

// Request describes one judging job.
type Request struct {
	SubmissionID string
	Language     string
	Source       string
	Problem      problemModel.Problem
	// RunAllCases keeps executing after the first failing case.
	RunAllCases bool
	// SamplesOnly restricts execution to the problem's sample cases.
	SamplesOnly bool
}

// Service compiles a submission and runs it against a problem's cases.
type Service struct {
	executor       sandbox.Executor
	languages      *profile.Registry
	workRoot       string
	maxSourceBytes int
}

// Config holds service dependencies and settings.
type Config struct {
	Executor       sandbox.Executor
	Languages      *profile.Registry
	WorkRoot       string
	MaxSourceBytes int
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0755); err != nil {
		return nil, fmt.Errorf("create work root failed: %w", err)
	}
	maxSource := cfg.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = defaultMaxSourceBytes
	}
	return &Service{
		executor:       cfg.Executor,
		languages:      cfg.Languages,
		workRoot:       cfg.WorkRoot,
		maxSourceBytes: maxSource,
	}, nil
}

// Validate checks a request without running anything.
func (s *Service) Validate(ctx context.Context, language, source string) error {
	if strings.TrimSpace(source) == "" {
		return appErr.ValidationError("source", "required")
	}
	if len(source) > s.maxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxSourceBytes)
	}
	_, err := s.languages.GetLanguageSpec(ctx, language)
	return err
}

// Judge runs req to a verdict.
// Judging outcomes are reported in the result. A non-nil error means the
// result carries VerdictInternalError and the caller may retry.
func (s *Service) Judge(ctx context.Context, req Request) (result.JudgeResult, error) {
	res := result.JudgeResult{
		SubmissionID: req.SubmissionID,
		Language:     req.Language,
		Summary:      result.Summary{FailedIndex: -1},
	}
	if err := s.Validate(ctx, req.Language, req.Source); err != nil {
		res.Verdict = result.VerdictInternalError
		return res, err
	}
	lang, err := s.languages.GetLanguageSpec(ctx, req.Language)
	if err != nil {
		res.Verdict = result.VerdictInternalError
		return res, err
	}

	cases := selectCases(req.Problem, req.SamplesOnly)
	if len(cases) == 0 {
		res.Verdict = result.VerdictInternalError
		return res, appErr.Newf(appErr.NoSampleTestCase, "problem %s has no cases to run", req.Problem.ID)
	}

	runID := req.SubmissionID
	if runID == "" {
		runID = "run"
	}
	root, err := os.MkdirTemp(s.workRoot, sanitizeRunID(runID)+"-")
	if err != nil {
		res.Verdict = result.VerdictInternalError
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "create work dir failed")
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			logger.Warn(ctx, "remove work dir failed", zap.String("dir", root), zap.Error(err))
		}
	}()

	compileRes, err := s.executor.Compile(ctx, sandbox.CompileRequest{
		RunID:       runID,
		Language:    lang,
		Source:      req.Source,
		ArtifactDir: filepath.Join(root, "artifact"),
	})
	if err != nil {
		res.Verdict = result.VerdictInternalError
		return res, asSystemError(err, "compile failed")
	}
	res.Compile = &compileRes
	if !compileRes.OK {
		res.Verdict = result.VerdictCompileError
		return res, nil
	}

	limits := spec.ResourceLimit{
		CPUTimeMs: req.Problem.TimeLimitMs,
		MemoryMB:  req.Problem.MemoryLimitMB,
	}
	res.Verdict = result.VerdictAccepted
	res.Summary.Total = len(cases)
	res.Tests = make([]result.TestcaseResult, 0, len(cases))
	for _, tc := range cases {
		execRes, err := s.executor.Execute(ctx, sandbox.ExecuteRequest{
			RunID:       runID + "-case-" + strconv.Itoa(tc.Index),
			Language:    lang,
			ArtifactDir: compileRes.ArtifactDir,
			CaseDir:     filepath.Join(root, "case-"+strconv.Itoa(tc.Index)),
			Input:       tc.Input,
			Limits:      limits,
		})
		if err != nil {
			res.Verdict = result.VerdictInternalError
			return res, asSystemError(err, "execute failed")
		}

		caseRes := evaluateCase(tc, execRes)
		res.Tests = append(res.Tests, caseRes)
		accumulate(&res.Summary, caseRes)
		if caseRes.Passed {
			continue
		}
		if res.Verdict == result.VerdictAccepted {
			res.Verdict = caseRes.Verdict
			res.Summary.FailedIndex = tc.Index
		}
		if !req.RunAllCases {
			break
		}
	}
	return res, nil
}

func selectCases(p problemModel.Problem, samplesOnly bool) []problemModel.TestCase {
	if samplesOnly {
		return p.SampleCases()
	}
	return append([]problemModel.TestCase(nil), p.Tests...)
}

// evaluateCase applies TLE > MLE > RE > WA precedence.
func evaluateCase(tc problemModel.TestCase, exec result.ExecutionResult) result.TestcaseResult {
	out := result.TestcaseResult{
		Index:    tc.Index,
		Sample:   tc.Sample,
		TimeMs:   exec.WallTimeMs,
		MemoryKB: exec.MemoryKB,
		ExitCode: exec.ExitCode,
	}
	switch {
	case exec.TimedOut:
		out.Verdict = result.VerdictTimeLimitExceeded
	case exec.OutOfMemory:
		out.Verdict = result.VerdictMemoryLimitExceeded
	case exec.ExitCode != 0 || exec.Signal != "" || exec.OutputTruncated:
		out.Verdict = result.VerdictRuntimeError
	case !OutputMatches(exec.Stdout, tc.Expected):
		out.Verdict = result.VerdictWrongAnswer
	default:
		out.Verdict = result.VerdictAccepted
		out.Passed = true
	}
	if tc.Sample {
		out.Input = tc.Input
		out.Expected = tc.Expected
		out.Actual = exec.Stdout
		out.Stderr = exec.Stderr
	}
	return out
}

func accumulate(sum *result.Summary, tc result.TestcaseResult) {
	if tc.Passed {
		sum.Passed++
	}
	sum.TotalTimeMs += tc.TimeMs
	if tc.TimeMs > sum.MaxTimeMs {
		sum.MaxTimeMs = tc.TimeMs
	}
	if tc.MemoryKB > sum.MaxMemoryKB {
		sum.MaxMemoryKB = tc.MemoryKB
	}
}

// asSystemError tags raw executor faults as JudgeSystemError and keeps
// errors that already carry a code.
func asSystemError(err error, msg string) error {
	var coded *appErr.Error
	if stderrors.As(err, &coded) {
		return err
	}
	return appErr.Wrapf(err, appErr.JudgeSystemError, "%s", msg)
}

func sanitizeRunID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
