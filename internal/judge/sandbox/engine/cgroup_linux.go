//go:build linux

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codearena/internal/judge/sandbox/spec"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// runCgroup is a cgroup v2 leaf created for a single run.
// All methods are safe on a nil receiver, which means cgroups are disabled.
type runCgroup struct {
	path string
	dir  *os.File
}

func createRunCgroup(root, runID string, limits spec.ResourceLimit) (*runCgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	name := fmt.Sprintf("%s-%d", sanitizeCgroupName(runID), time.Now().UnixNano())
	cgroupPath := filepath.Join(root, name)
	if err := os.Mkdir(cgroupPath, 0750); err != nil {
		return nil, fmt.Errorf("create cgroup path: %w", err)
	}
	cg := &runCgroup{path: cgroupPath}
	if err := applyCgroupLimits(cgroupPath, limits); err != nil {
		_ = os.Remove(cgroupPath)
		return nil, err
	}
	dir, err := os.Open(cgroupPath)
	if err != nil {
		_ = os.Remove(cgroupPath)
		return nil, fmt.Errorf("open cgroup dir: %w", err)
	}
	cg.dir = dir
	return cg, nil
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryMB<<20, 10)); err != nil {
			return err
		}
		// Not every host has swap accounting.
		_ = writeCgroupValue(cgroupPath, "memory.swap.max", "0")
	}
	return nil
}

func (c *runCgroup) fd() int {
	if c == nil || c.dir == nil {
		return -1
	}
	return int(c.dir.Fd())
}

// cleanup kills anything left in the cgroup and removes it.
func (c *runCgroup) cleanup(ctx context.Context) {
	if c == nil {
		return
	}
	_ = writeCgroupValue(c.path, "cgroup.kill", "1")
	if c.dir != nil {
		_ = c.dir.Close()
	}
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = os.Remove(c.path); err == nil || errors.Is(err, os.ErrNotExist) {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	logger.Warn(ctx, "remove cgroup failed", zap.String("cgroup", c.path), zap.Error(err))
}

func (c *runCgroup) oomKilled() bool {
	if c == nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func (c *runCgroup) memoryPeakKB(state *os.ProcessState) int64 {
	if c != nil {
		if val, err := readCgroupInt(c.path, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	return maxRSSKB(state)
}

func sanitizeCgroupName(runID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, runID)
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
