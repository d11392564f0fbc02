package model

import "time"

// DefaultDuration applies to contests configured without a duration.
const DefaultDuration = 3 * time.Hour

// Contest is a timed window in which submissions count toward a leaderboard.
// Its duration is fixed once the contest has started.
type Contest struct {
	ID       string        `json:"id" yaml:"id"`
	Title    string        `json:"title" yaml:"title"`
	StartAt  time.Time     `json:"startAt" yaml:"startAt"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Problems restricts submissions to these problem ids. Empty allows the whole catalog.
	Problems []string `json:"problems,omitempty" yaml:"problems"`
}

// EndAt returns the first instant after the contest.
func (c Contest) EndAt() time.Time {
	return c.StartAt.Add(c.Duration)
}

// ActiveAt reports whether start <= t < end.
func (c Contest) ActiveAt(t time.Time) bool {
	return !t.Before(c.StartAt) && t.Before(c.EndAt())
}

// EndedAt reports whether the contest is over at t.
func (c Contest) EndedAt(t time.Time) bool {
	return !t.Before(c.EndAt())
}

// HasProblem reports whether problemID may be submitted in this contest.
func (c Contest) HasProblem(problemID string) bool {
	if len(c.Problems) == 0 {
		return true
	}
	for _, id := range c.Problems {
		if id == problemID {
			return true
		}
	}
	return false
}

// Session is a user's membership in a contest. Leaving deactivates it;
// joining again reactivates the same session.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ContestID string    `json:"contestId"`
	UserID    string    `json:"userId"`
	JoinedAt  time.Time `json:"joinedAt"`
	LeftAt    time.Time `json:"leftAt,omitempty"`
	Active    bool      `json:"active"`
}

// Stats summarizes a user's judged submissions.
type Stats struct {
	UserID       string  `json:"userId"`
	Total        int     `json:"total"`
	Accepted     int     `json:"accepted"`
	SuccessRate  float64 `json:"successRate"`
	UniqueSolved int     `json:"uniqueSolved"`
	Pending      int     `json:"pending"`
}
