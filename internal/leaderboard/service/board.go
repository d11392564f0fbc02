package service

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/leaderboard/model"
	submitModel "codearena/internal/submit/model"
	"codearena/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

type message struct {
	records []submitModel.VerdictRecord
	done    chan struct{}
}

// board owns the leaderboard of one contest. Only its run goroutine writes
// entries; readers load the published snapshot.
type board struct {
	contestID string
	start     time.Time
	policy    model.Policy
	points    PointsTable

	inbox chan message

	entries map[string]*model.Entry
	order   []*model.Entry
	applied mapset.Set[string]
	version uint64

	snap atomic.Pointer[model.Snapshot]

	subMu  sync.Mutex
	subs   map[chan model.Snapshot]struct{}
	closed bool
}

func newBoard(contestID string, start time.Time, policy model.Policy, points PointsTable, inboxSize int) *board {
	b := &board{
		contestID: contestID,
		start:     start,
		policy:    policy,
		points:    points,
		inbox:     make(chan message, inboxSize),
		entries:   make(map[string]*model.Entry),
		applied:   mapset.NewThreadUnsafeSet[string](),
		subs:      make(map[chan model.Snapshot]struct{}),
	}
	b.snap.Store(&model.Snapshot{ContestID: contestID, Entries: []model.Entry{}})
	return b
}

func (b *board) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.inbox:
			changed := b.handle(ctx, msg)
			// Drain whatever is already queued before publishing once.
		drain:
			for {
				select {
				case next := <-b.inbox:
					if b.handle(ctx, next) {
						changed = true
					}
				default:
					break drain
				}
			}
			if changed {
				b.publish()
			}
		}
	}
}

func (b *board) handle(ctx context.Context, msg message) bool {
	changed := false
	for _, rec := range msg.records {
		if b.apply(ctx, rec) {
			changed = true
		}
	}
	if msg.done != nil {
		if changed {
			b.publish()
			changed = false
		}
		close(msg.done)
	}
	return changed
}

// apply folds one verdict into the board and reports whether anything changed.
func (b *board) apply(ctx context.Context, rec submitModel.VerdictRecord) bool {
	if b.applied.Contains(rec.SubmissionID) {
		return false
	}
	points, ok := b.points.Points(rec.ProblemID)
	if !ok {
		logger.Error(logger.WithSubmission(ctx, rec.SubmissionID, rec.ContestID, rec.UserID),
			"leaderboard update skipped: unknown problem", zap.String("problem_id", rec.ProblemID))
		return false
	}
	b.applied.Add(rec.SubmissionID)

	prev, exists := b.entries[rec.UserID]
	var next model.Entry
	if exists {
		next = *prev
		next.Problems = maps.Clone(prev.Problems)
		next.Solved = slices.Clone(prev.Solved)
		b.remove(prev)
	} else {
		next = model.Entry{UserID: rec.UserID, Problems: make(map[string]model.ProblemResult), Solved: []string{}}
	}

	next.Submissions++
	pr, seen := next.Problems[rec.ProblemID]
	if !seen {
		pr = model.ProblemResult{ProblemID: rec.ProblemID, Points: points}
	}
	if !pr.Solved {
		switch {
		case rec.Verdict == result.VerdictAccepted:
			pr.Attempts++
			pr.Solved = true
			pr.SolvedAt = rec.SubmittedAt
			pr.Penalty = b.policy.SolvePenalty(pr.Attempts-1, b.start, rec.SubmittedAt)
			next.Score += pr.Points
			next.Penalty += pr.Penalty
			next.Solved = append(next.Solved, rec.ProblemID)
			if rec.SubmittedAt.After(next.LastAcceptedAt) {
				next.LastAcceptedAt = rec.SubmittedAt
			}
		case b.counts(rec.Verdict):
			pr.Attempts++
		}
	}
	next.Problems[rec.ProblemID] = pr

	b.entries[rec.UserID] = &next
	b.insert(&next)
	return true
}

func (b *board) counts(v result.Verdict) bool {
	switch v {
	case result.VerdictInternalError:
		return false
	case result.VerdictCompileError:
		return b.policy.CountCompileErrors
	default:
		return true
	}
}

func (b *board) remove(e *model.Entry) {
	i, found := slices.BinarySearchFunc(b.order, e, model.Compare)
	if found && b.order[i] == e {
		b.order = slices.Delete(b.order, i, i+1)
		return
	}
	// Compare is a total order over distinct user ids, so this only runs if
	// an entry was mutated in place.
	if i = slices.Index(b.order, e); i >= 0 {
		b.order = slices.Delete(b.order, i, i+1)
	}
}

func (b *board) insert(e *model.Entry) {
	i, _ := slices.BinarySearchFunc(b.order, e, model.Compare)
	b.order = slices.Insert(b.order, i, e)
}

// publish rebuilds ranks and swaps in a new snapshot.
func (b *board) publish() {
	b.version++
	entries := make([]model.Entry, len(b.order))
	for i, e := range b.order {
		e.Rank = i + 1
		if i > 0 && model.Tied(b.order[i-1], e) {
			e.Rank = b.order[i-1].Rank
		}
		entries[i] = *e
	}
	snap := &model.Snapshot{
		ContestID: b.contestID,
		Version:   b.version,
		UpdatedAt: time.Now(),
		Entries:   entries,
	}
	b.snap.Store(snap)
	b.notify(*snap)
}

func (b *board) snapshot() model.Snapshot {
	return *b.snap.Load()
}

func (b *board) subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, 1)
	b.subMu.Lock()
	ch <- b.snapshot()
	if b.closed {
		close(ch)
	} else {
		b.subs[ch] = struct{}{}
	}
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, ch)
			b.subMu.Unlock()
		})
	}
}

// closeSubscribers closes every subscriber channel. Later subscribers get
// the last snapshot on an already closed channel.
func (b *board) closeSubscribers() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// notify hands snap to every subscriber, replacing a snapshot it has not read yet.
func (b *board) notify(snap model.Snapshot) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
