//go:build linux

// Command sandbox-init prepares a process for untrusted code and execs it.
//
// It reads one JSON request on stdin, applies rlimits, redirects stdio,
// loads a seccomp filter and replaces itself with the target program.
// Setup failures are written to fd 3, which is close-on-exec, so the
// engine can tell them apart from the program's own failures.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

const statusFD = 3

func main() {
	unix.CloseOnExec(statusFD)
	if err := run(); err != nil {
		status := os.NewFile(statusFD, "status")
		if status == nil || writeStatus(status, err) != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

func writeStatus(w io.Writer, err error) error {
	_, werr := fmt.Fprintln(w, err.Error())
	return werr
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.RunSpec.Limits, req.RunSpec.AddressSpace); err != nil {
		return err
	}
	env := buildEnv(req.RunSpec.Env)
	cmdPath, err := lookPath(req.RunSpec.Cmd[0], env)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	if err := redirectIO(req.RunSpec); err != nil {
		return err
	}
	if req.EnableSeccomp && req.SeccompProfile != "" {
		if err := applySeccomp(req.SeccompProfile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.RunSpec.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req initRequest) error {
	if len(req.RunSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if req.RunSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

// lookPath resolves name against the PATH the program will run with.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			if err := os.Setenv("PATH", strings.TrimPrefix(kv, "PATH=")); err != nil {
				return "", err
			}
			break
		}
	}
	return exec.LookPath(name)
}

func applyRlimits(limits resourceLimit, addressSpace bool) error {
	set := func(resource int, name string, value uint64) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", name, err)
		}
		return nil
	}
	if limits.CPUTimeMs > 0 {
		if err := set(unix.RLIMIT_CPU, "cpu", uint64((limits.CPUTimeMs+999)/1000)+1); err != nil {
			return err
		}
	}
	if limits.OutputMB > 0 {
		if err := set(unix.RLIMIT_FSIZE, "fsize", uint64(limits.OutputMB)<<20+1); err != nil {
			return err
		}
	}
	if limits.StackMB > 0 {
		if err := set(unix.RLIMIT_STACK, "stack", uint64(limits.StackMB)<<20); err != nil {
			return err
		}
	}
	if limits.PIDs > 0 {
		if err := set(unix.RLIMIT_NPROC, "nproc", uint64(limits.PIDs)); err != nil {
			return err
		}
	}
	if addressSpace && limits.MemoryMB > 0 {
		if err := set(unix.RLIMIT_AS, "as", uint64(limits.MemoryMB+64)<<20); err != nil {
			return err
		}
	}
	return nil
}

func redirectIO(spec runSpec) error {
	open := func(path string, flag int) (*os.File, error) {
		if path == "" {
			path = os.DevNull
		}
		return os.OpenFile(path, flag, 0644)
	}
	targets := []struct {
		name string
		path string
		flag int
		fd   int
	}{
		{"stdin", spec.StdinPath, os.O_RDONLY, 0},
		{"stdout", spec.StdoutPath, os.O_CREATE | os.O_WRONLY | os.O_TRUNC, 1},
		{"stderr", spec.StderrPath, os.O_CREATE | os.O_WRONLY | os.O_TRUNC, 2},
	}
	for _, t := range targets {
		f, err := open(t.path, t.flag)
		if err != nil {
			return fmt.Errorf("open %s: %w", t.name, err)
		}
		if err := unix.Dup2(int(f.Fd()), t.fd); err != nil {
			_ = f.Close()
			return fmt.Errorf("dup %s: %w", t.name, err)
		}
		_ = f.Close()
	}
	return nil
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Unknown on this architecture.
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

// initRequest mirrors the engine's request document.
type initRequest struct {
	RunSpec        runSpec `json:"RunSpec"`
	SeccompProfile string  `json:"SeccompProfile"`
	EnableSeccomp  bool    `json:"EnableSeccomp"`
}

type runSpec struct {
	RunID        string        `json:"RunID"`
	WorkDir      string        `json:"WorkDir"`
	Cmd          []string      `json:"Cmd"`
	Env          []string      `json:"Env"`
	StdinPath    string        `json:"StdinPath"`
	StdoutPath   string        `json:"StdoutPath"`
	StderrPath   string        `json:"StderrPath"`
	Limits       resourceLimit `json:"Limits"`
	AddressSpace bool          `json:"AddressSpace"`
}

type resourceLimit struct {
	CPUTimeMs  int64 `json:"CPUTimeMs"`
	WallTimeMs int64 `json:"WallTimeMs"`
	MemoryMB   int64 `json:"MemoryMB"`
	StackMB    int64 `json:"StackMB"`
	OutputMB   int64 `json:"OutputMB"`
	PIDs       int64 `json:"PIDs"`
}
