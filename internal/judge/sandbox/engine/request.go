package engine

import "codearena/internal/judge/sandbox/spec"

// initRequest is the JSON document sandbox-init reads from stdin.
// Field names are shared with cmd/sandbox-init.
type initRequest struct {
	RunSpec        spec.RunSpec
	SeccompProfile string
	EnableSeccomp  bool
}

// statusFD is the descriptor sandbox-init reports setup failures on.
// It is close-on-exec, so EOF without data means the program was exec'd.
const statusFD = 3
