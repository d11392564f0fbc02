package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	problemModel "codearena/internal/problem/model"
	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
)

// fakeExecutor answers by case input.
type fakeExecutor struct {
	mu         sync.Mutex
	compile    result.CompileResult
	compileErr error
	outputs    map[string]result.ExecutionResult
	execErr    error
	executed   []string
	dirs       []string
}

func (f *fakeExecutor) Compile(ctx context.Context, req sandbox.CompileRequest) (result.CompileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, req.ArtifactDir)
	res := f.compile
	res.ArtifactDir = req.ArtifactDir
	return res, f.compileErr
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.ExecuteRequest) (result.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req.Input)
	if f.execErr != nil {
		return result.ExecutionResult{}, f.execErr
	}
	return f.outputs[req.Input], nil
}

func (f *fakeExecutor) inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func newTestService(t *testing.T, exec *fakeExecutor) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Executor:  exec,
		Languages: profile.NewRegistry(profile.DefaultLanguages()),
		WorkRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func threeCaseProblem() problemModel.Problem {
	return problemModel.Problem{
		ID:            "P1",
		TimeLimitMs:   1000,
		MemoryLimitMB: 256,
		Tests: []problemModel.TestCase{
			{Index: 1, Input: "t1", Expected: "1\n", Sample: true},
			{Index: 2, Input: "t2", Expected: "2\n", Sample: true},
			{Index: 3, Input: "t3", Expected: "3\n"},
		},
	}
}

func TestJudgeFailFastStopsAtFirstMismatch(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{
		compile: result.CompileResult{OK: true},
		outputs: map[string]result.ExecutionResult{
			"t1": {Stdout: "1\n"},
			"t2": {Stdout: "wrong\n"},
			"t3": {Stdout: "3\n"},
		},
	}
	svc := newTestService(t, exec)

	res, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-1",
		Language:     "cpp",
		Source:       "int main(){}",
		Problem:      threeCaseProblem(),
	})
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if res.Verdict != result.VerdictWrongAnswer {
		t.Fatalf("expected WrongAnswer, got %s", res.Verdict)
	}
	got := exec.inputs()
	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Fatalf("expected exactly t1,t2 executed, got %v", got)
	}
	if res.Summary.FailedIndex != 2 {
		t.Fatalf("expected failed index 2, got %d", res.Summary.FailedIndex)
	}
}

func TestJudgeSampleRunReportsEveryCase(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{
		compile: result.CompileResult{OK: true},
		outputs: map[string]result.ExecutionResult{
			"t1": {Stdout: "bad\n"},
			"t2": {Stdout: "2\r\n\r\n"},
		},
	}
	svc := newTestService(t, exec)

	res, err := svc.Judge(context.Background(), Request{
		Language:    "python",
		Source:      "print(1)",
		Problem:     threeCaseProblem(),
		RunAllCases: true,
		SamplesOnly: true,
	})
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if len(res.Tests) != 2 {
		t.Fatalf("expected 2 sample results, got %d", len(res.Tests))
	}
	if res.Tests[0].Passed || !res.Tests[1].Passed {
		t.Fatalf("unexpected pass flags: %+v", res.Tests)
	}
	if res.Tests[0].Actual != "bad\n" || res.Tests[0].Expected != "1\n" {
		t.Fatalf("expected sample io to be reported, got %+v", res.Tests[0])
	}
	for _, in := range exec.inputs() {
		if in == "t3" {
			t.Fatalf("hidden case must not run in sample mode")
		}
	}
}

func TestJudgeCompileErrorShortCircuits(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{compile: result.CompileResult{OK: false, Log: "error: expected ';'"}}
	svc := newTestService(t, exec)

	res, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-2",
		Language:     "java",
		Source:       "class Main {",
		Problem:      threeCaseProblem(),
	})
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if res.Verdict != result.VerdictCompileError {
		t.Fatalf("expected CompileError, got %s", res.Verdict)
	}
	if len(exec.inputs()) != 0 {
		t.Fatalf("expected no executions, got %v", exec.inputs())
	}
	if res.Compile == nil || res.Compile.Log == "" {
		t.Fatalf("expected compile log")
	}
}

func TestJudgeCasePrecedence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		exec result.ExecutionResult
		want result.Verdict
	}{
		{"tle beats wrong output", result.ExecutionResult{TimedOut: true, OutOfMemory: true, ExitCode: 137, Stdout: "x"}, result.VerdictTimeLimitExceeded},
		{"mle beats runtime error", result.ExecutionResult{OutOfMemory: true, ExitCode: 1}, result.VerdictMemoryLimitExceeded},
		{"runtime error beats wrong answer", result.ExecutionResult{ExitCode: 1, Stdout: "x"}, result.VerdictRuntimeError},
		{"signal is runtime error", result.ExecutionResult{Signal: "SIGSEGV", Stdout: "1"}, result.VerdictRuntimeError},
		{"wrong answer", result.ExecutionResult{Stdout: "2"}, result.VerdictWrongAnswer},
		{"accepted", result.ExecutionResult{Stdout: "1  \n"}, result.VerdictAccepted},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := evaluateCase(problemModel.TestCase{Index: 1, Expected: "1"}, tt.exec)
			if got.Verdict != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.Verdict)
			}
		})
	}
}

func TestJudgeExecutorFaultIsInternalError(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{
		compile: result.CompileResult{OK: true},
		execErr: errors.New("fork failed"),
	}
	svc := newTestService(t, exec)

	res, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-3",
		Language:     "cpp",
		Source:       "int main(){}",
		Problem:      threeCaseProblem(),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
	if res.Verdict != result.VerdictInternalError {
		t.Fatalf("expected InternalError, got %s", res.Verdict)
	}
}

func TestAsSystemError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want appErr.ErrorCode
	}{
		{name: "raw fault", err: errors.New("fork failed"), want: appErr.JudgeSystemError},
		{name: "coded", err: appErr.New(appErr.ProblemNotFound), want: appErr.ProblemNotFound},
		{name: "coded behind wrap", err: fmt.Errorf("run: %w", appErr.New(appErr.JudgeQueueClosed)), want: appErr.JudgeQueueClosed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := appErr.GetCode(asSystemError(tt.err, "run case failed")); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestJudgeRemovesWorkDir(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{
		compile: result.CompileResult{OK: true},
		outputs: map[string]result.ExecutionResult{"t1": {Stdout: "1"}, "t2": {Stdout: "2"}, "t3": {Stdout: "3"}},
	}
	svc := newTestService(t, exec)
	res, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub/../4",
		Language:     "cpp",
		Source:       "int main(){}",
		Problem:      threeCaseProblem(),
	})
	if err != nil || res.Verdict != result.VerdictAccepted {
		t.Fatalf("expected Accepted, got %s (%v)", res.Verdict, err)
	}
	if res.Summary.Passed != 3 || res.Summary.FailedIndex != -1 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}
	if _, err := os.Stat(exec.dirs[0]); !os.IsNotExist(err) {
		t.Fatalf("expected work dir removed, stat err %v", err)
	}
}

func TestJudgeRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &fakeExecutor{})
	ctx := context.Background()

	if err := svc.Validate(ctx, "cobol", "x"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	big := make([]byte, defaultMaxSourceBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := svc.Validate(ctx, "cpp", string(big)); !appErr.Is(err, appErr.CodeTooLarge) {
		t.Fatalf("expected CodeTooLarge, got %v", err)
	}
}

func TestNormalizeOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		actual   string
		expected string
		match    bool
	}{
		{"crlf", "1 2\r\n3\r\n", "1 2\n3\n", true},
		{"trailing spaces", "1 2   \n3\t\n", "1 2\n3", true},
		{"trailing blank lines", "ok\n\n\n", "ok", true},
		{"lone cr", "a\rb", "a\nb", true},
		{"leading space matters", " 1", "1", false},
		{"inner blank line matters", "a\n\nb", "a\nb", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := OutputMatches(tt.actual, tt.expected); got != tt.match {
				t.Fatalf("expected %v, got %v", tt.match, got)
			}
		})
	}
}

func TestComputeBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := ComputeBackoff(tt.retry, 100*time.Millisecond, time.Second); got != tt.want {
			t.Fatalf("retry %d: expected %s, got %s", tt.retry, tt.want, got)
		}
	}
}
