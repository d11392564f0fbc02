//go:build linux

package engine

import (
	"fmt"

	"codearena/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

type rlimitSetting struct {
	resource int
	name     string
	value    uint64
}

// rlimitsFor converts limits into rlimit settings. The CPU limit is rounded up
// to whole seconds plus one so the wall timer stays the primary enforcement.
func rlimitsFor(limits spec.ResourceLimit, addressSpace bool) []rlimitSetting {
	var out []rlimitSetting
	if limits.CPUTimeMs > 0 {
		seconds := uint64((limits.CPUTimeMs+999)/1000) + 1
		out = append(out, rlimitSetting{unix.RLIMIT_CPU, "cpu", seconds})
	}
	if limits.OutputMB > 0 {
		// One byte past the limit, so a breach is visible in the file size
		// even when the process ignores SIGXFSZ.
		out = append(out, rlimitSetting{unix.RLIMIT_FSIZE, "fsize", uint64(limits.OutputMB)<<20 + 1})
	}
	if limits.StackMB > 0 {
		out = append(out, rlimitSetting{unix.RLIMIT_STACK, "stack", uint64(limits.StackMB) << 20})
	}
	if limits.PIDs > 0 {
		out = append(out, rlimitSetting{unix.RLIMIT_NPROC, "nproc", uint64(limits.PIDs)})
	}
	if addressSpace && limits.MemoryMB > 0 {
		// Headroom for the loader and libc mappings.
		out = append(out, rlimitSetting{unix.RLIMIT_AS, "as", uint64(limits.MemoryMB+64) << 20})
	}
	return out
}

func applyPrlimits(pid int, runSpec spec.RunSpec) error {
	for _, r := range rlimitsFor(runSpec.Limits, runSpec.AddressSpace) {
		lim := unix.Rlimit{Cur: r.value, Max: r.value}
		if err := unix.Prlimit(pid, r.resource, &lim, nil); err != nil {
			return fmt.Errorf("prlimit %s: %w", r.name, err)
		}
	}
	return nil
}
