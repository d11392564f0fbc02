package model

import "time"

// Policy controls how verdicts turn into score and penalty.
type Policy struct {
	// PenaltyPerWrong is charged for each counted attempt before the first Accepted.
	PenaltyPerWrong time.Duration
	// CountSolveTime adds the minutes from contest start to the Accepted submission.
	CountSolveTime bool
	// CountCompileErrors makes CompileError a counted attempt.
	CountCompileErrors bool
}

// DefaultPolicy is classic ICPC scoring: 20 minutes per wrong attempt plus
// solve time, compile errors free.
func DefaultPolicy() Policy {
	return Policy{
		PenaltyPerWrong: 20 * time.Minute,
		CountSolveTime:  true,
	}
}

// SolvePenalty returns the penalty in minutes for a problem solved at
// solvedAt after wrong counted attempts. A zero start skips solve time.
func (p Policy) SolvePenalty(wrong int, start, solvedAt time.Time) int64 {
	minutes := int64(wrong) * int64(p.PenaltyPerWrong/time.Minute)
	if p.CountSolveTime && !start.IsZero() {
		if elapsed := solvedAt.Sub(start); elapsed > 0 {
			minutes += int64(elapsed / time.Minute)
		}
	}
	return minutes
}
