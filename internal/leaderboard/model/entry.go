// Package model defines leaderboard entries, snapshots and scoring policy.
package model

import (
	"time"
)

// ProblemResult is a user's standing on one problem.
type ProblemResult struct {
	ProblemID string `json:"problemId"`
	// Attempts counts judged attempts up to and including the first Accepted.
	Attempts int       `json:"attempts"`
	Solved   bool      `json:"solved"`
	SolvedAt time.Time `json:"solvedAt,omitempty"`
	Points   int       `json:"points"`
	// Penalty is in minutes and is zero until the problem is solved.
	Penalty int64 `json:"penalty"`
}

// Entry is one user's row on a contest leaderboard.
//
// Entries reachable from a published Snapshot are never modified; the board
// copies Solved and Problems before changing an entry.
type Entry struct {
	UserID         string                   `json:"userId"`
	Rank           int                      `json:"rank"`
	Score          int                      `json:"score"`
	Penalty        int64                    `json:"penalty"`
	Solved         []string                 `json:"solved"`
	LastAcceptedAt time.Time                `json:"lastAcceptedAt,omitempty"`
	Submissions    int                      `json:"submissions"`
	Problems       map[string]ProblemResult `json:"problems"`
}

// Compare orders entries by score desc, penalty asc and last accepted time
// asc. User id breaks full ties for display only.
func Compare(a, b *Entry) int {
	if c := compareRank(a, b); c != 0 {
		return c
	}
	switch {
	case a.UserID < b.UserID:
		return -1
	case a.UserID > b.UserID:
		return 1
	}
	return 0
}

// Tied reports whether a and b share a rank.
func Tied(a, b *Entry) bool {
	return compareRank(a, b) == 0
}

func compareRank(a, b *Entry) int {
	switch {
	case a.Score != b.Score:
		if a.Score > b.Score {
			return -1
		}
		return 1
	case a.Penalty != b.Penalty:
		if a.Penalty < b.Penalty {
			return -1
		}
		return 1
	case !a.LastAcceptedAt.Equal(b.LastAcceptedAt):
		if a.LastAcceptedAt.Before(b.LastAcceptedAt) {
			return -1
		}
		return 1
	}
	return 0
}

// Snapshot is an immutable, ranked view of one contest.
type Snapshot struct {
	ContestID string    `json:"contestId"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Entries   []Entry   `json:"entries"`
}

// Find returns the entry for userID.
func (s *Snapshot) Find(userID string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return Entry{}, false
}
