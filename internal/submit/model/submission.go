package model

import (
	"time"

	"codearena/internal/judge/sandbox/result"
)

// State is the lifecycle position of a submission. It only moves forward.
type State string

const (
	StateQueued  State = "Queued"
	StateJudging State = "Judging"
	StateDone    State = "Done"
)

func (s State) rank() int {
	switch s {
	case StateQueued:
		return 1
	case StateJudging:
		return 2
	case StateDone:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the order.
func (s State) CanAdvanceTo(next State) bool {
	return next.rank() >= s.rank() && next.rank() > 0
}

// Submission is the immutable request to judge one source file.
type Submission struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ContestID   string    `json:"contestId"`
	ProblemID   string    `json:"problemId"`
	Language    string    `json:"language"`
	Source      string    `json:"source,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Status is the live view of a submission.
// Verdict is set only when State is Done and the submission was not cancelled.
type Status struct {
	SubmissionID string              `json:"submissionId"`
	UserID       string              `json:"userId"`
	ContestID    string              `json:"contestId"`
	ProblemID    string              `json:"problemId"`
	Language     string              `json:"language"`
	State        State               `json:"state"`
	Cancelled    bool                `json:"cancelled,omitempty"`
	Attempts     int                 `json:"attempts"`
	Verdict      result.Verdict      `json:"verdict,omitempty"`
	Result       *result.JudgeResult `json:"result,omitempty"`
	SubmittedAt  time.Time           `json:"submittedAt"`
	StartedAt    time.Time           `json:"startedAt,omitempty"`
	FinishedAt   time.Time           `json:"finishedAt,omitempty"`
}

// Done reports whether the submission reached a terminal state.
func (s Status) Done() bool {
	return s.State == StateDone
}

// NewQueuedStatus builds the initial status of sub.
func NewQueuedStatus(sub Submission) Status {
	return Status{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		ProblemID:    sub.ProblemID,
		Language:     sub.Language,
		State:        StateQueued,
		SubmittedAt:  sub.SubmittedAt,
	}
}

// VerdictRecord is the persisted, write-once outcome of a submission.
// Seq orders records within the verdict log and drives replay.
type VerdictRecord struct {
	Seq          int64               `json:"seq"`
	SubmissionID string              `json:"submissionId"`
	UserID       string              `json:"userId"`
	ContestID    string              `json:"contestId"`
	ProblemID    string              `json:"problemId"`
	Verdict      result.Verdict      `json:"verdict"`
	Attempts     int                 `json:"attempts"`
	SubmittedAt  time.Time           `json:"submittedAt"`
	JudgedAt     time.Time           `json:"judgedAt"`
	Result       *result.JudgeResult `json:"result,omitempty"`
}

// HistoryItem is one row of a user's submission history.
type HistoryItem struct {
	Submission Submission `json:"submission"`
	Status     Status     `json:"status"`
}
