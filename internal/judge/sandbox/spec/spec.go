// Package spec defines the execution specification and resource limits.
package spec

import "time"

// ResourceLimit describes hard limits enforced by the sandbox.
type ResourceLimit struct {
	CPUTimeMs  int64 `yaml:"cpuTimeMs" json:"CPUTimeMs"`
	WallTimeMs int64 `yaml:"wallTimeMs" json:"WallTimeMs"`
	MemoryMB   int64 `yaml:"memoryMB" json:"MemoryMB"`
	StackMB    int64 `yaml:"stackMB" json:"StackMB"`
	OutputMB   int64 `yaml:"outputMB" json:"OutputMB"`
	PIDs       int64 `yaml:"pids" json:"PIDs"`
}

// WallLimit returns the wall clock budget, falling back to the CPU budget.
func (l ResourceLimit) WallLimit() time.Duration {
	ms := l.WallTimeMs
	if ms <= 0 {
		ms = l.CPUTimeMs
	}
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// RunSpec is the unified execution specification for one process.
// All paths are host paths; WorkDir is a scratch directory owned by this run.
type RunSpec struct {
	RunID      string
	WorkDir    string
	Cmd        []string
	Env        []string
	StdinPath  string
	StdoutPath string
	StderrPath string
	Limits     ResourceLimit
	// AddressSpace applies RLIMIT_AS from Limits.MemoryMB. Runtimes that reserve
	// large virtual ranges (the JVM) must run without it.
	AddressSpace bool
}
