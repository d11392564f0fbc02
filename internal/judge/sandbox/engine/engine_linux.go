//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const maxInitRequestBytes = 60 * 1024

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	if cfg.EnableSeccomp && cfg.HelperPath == "" {
		return nil, fmt.Errorf("seccomp requires the sandbox-init helper")
	}
	if cfg.HelperPath != "" {
		path, err := exec.LookPath(cfg.HelperPath)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox helper: %w", err)
		}
		cfg.HelperPath = path
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.ExecutionResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.ExecutionResult{}, err
	}

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		var err error
		cg, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.RunID, runSpec.Limits)
		if err != nil {
			return result.ExecutionResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "prepare cgroup failed")
		}
		defer cg.cleanup(ctx)
	}

	proc, err := e.prepare(runSpec, cg)
	if err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "prepare sandbox process failed")
	}
	defer proc.closeFiles()

	start := time.Now()
	if err := proc.cmd.Start(); err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "start sandbox process failed")
	}
	proc.closeChildFiles()
	pid := proc.cmd.Process.Pid

	if e.cfg.HelperPath == "" {
		if err := applyPrlimits(pid, runSpec); err != nil {
			killProcessGroup(pid)
			_ = proc.cmd.Wait()
			return result.ExecutionResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "apply rlimits failed")
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wall := runSpec.Limits.WallLimit(); wall > 0 {
			timer := time.NewTimer(wall + e.cfg.KillGrace)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			killProcessGroup(pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(pid)
		case <-done:
		}
	}()

	setupFailure := proc.readStatus()
	waitErr := proc.cmd.Wait()
	close(done)
	wall := time.Since(start)

	if setupFailure != "" {
		return result.ExecutionResult{}, appErr.Newf(appErr.JudgeSystemError, "sandbox setup failed: %s", setupFailure)
	}
	state := proc.cmd.ProcessState
	if state == nil {
		return result.ExecutionResult{}, appErr.Wrapf(waitErr, appErr.JudgeSystemError, "wait sandbox process failed")
	}
	if ctx.Err() != nil && !timedOut.Load() {
		return result.ExecutionResult{}, appErr.Wrapf(ctx.Err(), appErr.JudgeSystemError, "sandbox run cancelled")
	}

	res := result.ExecutionResult{
		ExitCode:   state.ExitCode(),
		WallTimeMs: wall.Milliseconds(),
		CPUTimeMs:  cpuTimeMs(state),
		MemoryKB:   cg.memoryPeakKB(state),
		OutputKB:   fileSizeKB(runSpec.StdoutPath),
	}
	var stdoutCut bool
	res.Stdout, stdoutCut = readLimitedFile(runSpec.StdoutPath, e.stdoutCap(runSpec.Limits))
	res.Stderr, _ = readLimitedFile(runSpec.StderrPath, e.cfg.StdoutStderrMaxBytes)

	sig := terminationSignal(state)
	if sig != 0 {
		res.Signal = unix.SignalName(sig)
	}
	limits := runSpec.Limits
	wallLimit := limits.WallLimit()
	res.TimedOut = timedOut.Load() ||
		(wallLimit > 0 && wall > wallLimit) ||
		(limits.CPUTimeMs > 0 && res.CPUTimeMs > limits.CPUTimeMs) ||
		sig == syscall.SIGXCPU
	res.OutOfMemory = cg.oomKilled() ||
		(limits.MemoryMB > 0 && res.MemoryKB > limits.MemoryMB*1024)
	res.OutputTruncated = stdoutCut ||
		(limits.OutputMB > 0 && res.OutputKB > limits.OutputMB*1024) ||
		sig == syscall.SIGXFSZ

	if proc.helperStderr.Len() > 0 {
		logger.Debug(ctx, "sandbox helper stderr", zap.String("run_id", runSpec.RunID), zap.String("stderr", proc.helperStderr.String()))
	}
	return res, nil
}

// stdoutCap reads the whole permitted output so it can be compared in full.
// The file may hold one byte more (see rlimitsFor); reading it marks the cut.
func (e *linuxEngine) stdoutCap(limits spec.ResourceLimit) int64 {
	if limits.OutputMB > 0 {
		return limits.OutputMB << 20
	}
	return e.cfg.StdoutStderrMaxBytes
}

// process bundles a prepared command with the descriptors that must be
// closed on the parent side once it has started.
type process struct {
	cmd          *exec.Cmd
	childFiles   []*os.File
	parentFiles  []*os.File
	statusReader *os.File
	helperStderr bytes.Buffer
}

func (p *process) closeChildFiles() {
	for _, f := range p.childFiles {
		_ = f.Close()
	}
	p.childFiles = nil
}

func (p *process) closeFiles() {
	p.closeChildFiles()
	for _, f := range p.parentFiles {
		_ = f.Close()
	}
	p.parentFiles = nil
}

// readStatus blocks until the helper execs the program or exits.
func (p *process) readStatus() string {
	if p.statusReader == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(p.statusReader, 4096))
	return string(bytes.TrimSpace(data))
}

func (e *linuxEngine) prepare(runSpec spec.RunSpec, cg *runCgroup) (*process, error) {
	p := &process{}
	attr := buildSysProcAttr(e.cfg.EnableNamespaces)
	if cg != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = cg.fd()
	}

	if e.cfg.HelperPath != "" {
		req := initRequest{
			RunSpec:        runSpec,
			SeccompProfile: e.cfg.SeccompProfile,
			EnableSeccomp:  e.cfg.EnableSeccomp,
		}
		stdin, err := jsonToPipe(req)
		if err != nil {
			return nil, err
		}
		statusR, statusW, err := os.Pipe()
		if err != nil {
			_ = stdin.Close()
			return nil, fmt.Errorf("create status pipe: %w", err)
		}
		cmd := exec.Command(e.cfg.HelperPath)
		cmd.Stdin = stdin
		cmd.Stdout = io.Discard
		cmd.Stderr = &p.helperStderr
		cmd.ExtraFiles = []*os.File{statusW}
		cmd.SysProcAttr = attr
		p.cmd = cmd
		p.childFiles = []*os.File{stdin, statusW}
		p.parentFiles = []*os.File{statusR}
		p.statusReader = statusR
		return p, nil
	}

	stdin, stdout, stderr, err := openStdio(runSpec)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Env = buildEnv(runSpec.Env)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = attr
	p.cmd = cmd
	p.childFiles = []*os.File{stdin, stdout, stderr}
	return p, nil
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if runSpec.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if len(runSpec.Cmd) == 0 {
		return appErr.ValidationError("cmd", "required")
	}
	return nil
}

// jsonToPipe writes req into a pipe and returns the read end. The payload must
// fit in the pipe buffer because nothing drains it before the helper starts.
func jsonToPipe(req initRequest) (*os.File, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode init request: %w", err)
	}
	if len(data) > maxInitRequestBytes {
		return nil, fmt.Errorf("init request too large: %d bytes", len(data))
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create init pipe: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("write init request: %w", err)
	}
	_ = w.Close()
	return r, nil
}

func openStdio(runSpec spec.RunSpec) (*os.File, *os.File, *os.File, error) {
	stdinPath := runSpec.StdinPath
	if stdinPath == "" {
		stdinPath = os.DevNull
	}
	stdin, err := os.Open(stdinPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := createOutput(runSpec.StdoutPath)
	if err != nil {
		_ = stdin.Close()
		return nil, nil, nil, fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := createOutput(runSpec.StderrPath)
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, nil, nil, fmt.Errorf("open stderr: %w", err)
	}
	return stdin, stdout, stderr, nil
}

func createOutput(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func buildSysProcAttr(enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}
	attr.Cloneflags = uintptr(syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET | syscall.CLONE_NEWIPC |
		syscall.CLONE_NEWUTS | syscall.CLONE_NEWPID)
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return attr
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func terminationSignal(state *os.ProcessState) syscall.Signal {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0
	}
	return ws.Signal()
}
