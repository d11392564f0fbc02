// Package result defines sandbox execution results and verdicts.
package result

// Verdict represents the final outcome of judging.
type Verdict string

const (
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictCompileError        Verdict = "CompileError"
	VerdictInternalError       Verdict = "InternalError"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAccepted, VerdictWrongAnswer, VerdictRuntimeError, VerdictTimeLimitExceeded,
		VerdictMemoryLimitExceeded, VerdictCompileError, VerdictInternalError:
		return true
	}
	return false
}

// ExecutionResult captures raw data of one sandboxed process.
type ExecutionResult struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exitCode"`
	Signal          string `json:"signal,omitempty"`
	WallTimeMs      int64  `json:"wallTimeMs"`
	CPUTimeMs       int64  `json:"cpuTimeMs"`
	MemoryKB        int64  `json:"memoryKB"`
	OutputKB        int64  `json:"outputKB"`
	TimedOut        bool   `json:"timedOut"`
	OutOfMemory     bool   `json:"outOfMemory"`
	OutputTruncated bool   `json:"outputTruncated"`
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK          bool   `json:"ok"`
	ExitCode    int    `json:"exitCode"`
	TimeMs      int64  `json:"timeMs"`
	MemoryKB    int64  `json:"memoryKB"`
	Log         string `json:"log,omitempty"`
	ArtifactDir string `json:"-"`
}

// TestcaseResult contains per-testcase outcomes.
// Input, Expected and Actual are only filled for sample cases.
type TestcaseResult struct {
	Index    int     `json:"index"`
	Sample   bool    `json:"sample"`
	Verdict  Verdict `json:"verdict"`
	Passed   bool    `json:"passed"`
	TimeMs   int64   `json:"timeMs"`
	MemoryKB int64   `json:"memoryKB"`
	ExitCode int     `json:"exitCode"`
	Input    string  `json:"input,omitempty"`
	Expected string  `json:"expected,omitempty"`
	Actual   string  `json:"actual,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
}

// Summary captures aggregate statistics across testcases.
type Summary struct {
	Passed      int   `json:"passed"`
	Total       int   `json:"total"`
	TotalTimeMs int64 `json:"totalTimeMs"`
	MaxTimeMs   int64 `json:"maxTimeMs"`
	MaxMemoryKB int64 `json:"maxMemoryKB"`
	// FailedIndex is the index of the first failing case, -1 when none failed.
	FailedIndex int `json:"failedIndex"`
}

// JudgeResult is the unified outcome of judging one submission.
type JudgeResult struct {
	SubmissionID string           `json:"submissionId"`
	Verdict      Verdict          `json:"verdict"`
	Language     string           `json:"language"`
	Compile      *CompileResult   `json:"compile,omitempty"`
	Tests        []TestcaseResult `json:"tests"`
	Summary      Summary          `json:"summary"`
}
