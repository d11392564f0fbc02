package engine

import (
	"context"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
//
// A non-nil error means the process could not be started or supervised and is
// always a system fault. A program that crashes, loops or exhausts memory is
// reported through the ExecutionResult instead.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.ExecutionResult, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	// HelperPath points at the sandbox-init binary. Empty selects direct mode,
	// where limits are applied with prlimit after start and seccomp is unavailable.
	HelperPath     string        `yaml:"helperPath"`
	SeccompProfile string        `yaml:"seccompProfile"`
	CgroupRoot     string        `yaml:"cgroupRoot"`
	KillGrace      time.Duration `yaml:"killGrace"`
	// StdoutStderrMaxBytes caps how much of each stream is read back.
	StdoutStderrMaxBytes int64 `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        bool  `yaml:"enableSeccomp"`
	EnableCgroup         bool  `yaml:"enableCgroup"`
	EnableNamespaces     bool  `yaml:"enableNamespaces"`
}

const (
	defaultStdoutStderrMaxBytes int64 = 64 * 1024
	defaultKillGrace                  = 500 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.StdoutStderrMaxBytes <= 0 {
		c.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	return c
}
