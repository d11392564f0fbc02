// Package sandbox defines the executor interface used by the judge.
package sandbox

import (
	"context"

	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
)

// Executor compiles and runs untrusted code under resource limits.
// Concurrent calls are independent; implementations hold no per-run state.
type Executor interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Execute(ctx context.Context, req ExecuteRequest) (result.ExecutionResult, error)
}

// CompileRequest prepares an artifact directory for one submission.
// Interpreted languages only get their source written.
type CompileRequest struct {
	RunID       string
	Language    profile.LanguageSpec
	Source      string
	ArtifactDir string
	Limits      spec.ResourceLimit
}

// ExecuteRequest runs a prepared artifact against one input.
// CaseDir is a fresh scratch directory used as the working directory.
type ExecuteRequest struct {
	RunID       string
	Language    profile.LanguageSpec
	ArtifactDir string
	CaseDir     string
	Input       string
	Limits      spec.ResourceLimit
}
