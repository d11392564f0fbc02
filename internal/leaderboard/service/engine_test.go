package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/leaderboard/model"
	submitModel "codearena/internal/submit/model"
)

var contestStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type pointsMap map[string]int

func (p pointsMap) Points(id string) (int, bool) {
	v, ok := p[id]
	return v, ok
}

type fixedClock struct{}

func (fixedClock) StartTime(string) (time.Time, bool) { return contestStart, true }

var testPoints = pointsMap{"P1": 100, "P2": 200, "P3": 300}

func newTestEngine(t *testing.T, policy model.Policy) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Points: testPoints, Clock: fixedClock{}, Policy: policy})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

var seq int64

var seqMu sync.Mutex

func verdict(user, problem string, v result.Verdict, minute int) submitModel.VerdictRecord {
	seqMu.Lock()
	seq++
	n := seq
	seqMu.Unlock()
	return submitModel.VerdictRecord{
		Seq:          n,
		SubmissionID: fmt.Sprintf("s-%d", n),
		UserID:       user,
		ContestID:    "c1",
		ProblemID:    problem,
		Verdict:      v,
		SubmittedAt:  contestStart.Add(time.Duration(minute) * time.Minute),
	}
}

func replay(t *testing.T, e *Engine, recs ...submitModel.VerdictRecord) []model.Entry {
	t.Helper()
	if err := e.Replay(context.Background(), "c1", recs); err != nil {
		t.Fatalf("replay: %v", err)
	}
	return e.Snapshot("c1")
}

func TestEngineCountsScoreOnce(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	entries := replay(t, e,
		verdict("alice", "P1", result.VerdictWrongAnswer, 10),
		verdict("alice", "P1", result.VerdictAccepted, 30),
		verdict("alice", "P1", result.VerdictAccepted, 40),
		verdict("alice", "P1", result.VerdictWrongAnswer, 50),
	)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Score != 100 {
		t.Fatalf("expected score 100, got %d", got.Score)
	}
	if got.Penalty != 50 {
		t.Fatalf("expected penalty 50, got %d", got.Penalty)
	}
	if len(got.Solved) != 1 || got.Solved[0] != "P1" {
		t.Fatalf("unexpected solved list %v", got.Solved)
	}
	if got.Submissions != 4 || got.Problems["P1"].Attempts != 2 {
		t.Fatalf("unexpected counts: submissions=%d attempts=%d", got.Submissions, got.Problems["P1"].Attempts)
	}
	if !got.LastAcceptedAt.Equal(contestStart.Add(30 * time.Minute)) {
		t.Fatalf("expected first accepted time, got %s", got.LastAcceptedAt)
	}
}

func TestEnginePenaltyOnlyWhenSolved(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	entries := replay(t, e,
		verdict("bob", "P2", result.VerdictWrongAnswer, 5),
		verdict("bob", "P2", result.VerdictTimeLimitExceeded, 6),
		verdict("bob", "P2", result.VerdictCompileError, 7),
		verdict("bob", "P2", result.VerdictInternalError, 8),
	)
	got := entries[0]
	if got.Score != 0 || got.Penalty != 0 {
		t.Fatalf("expected zero score and penalty, got %d/%d", got.Score, got.Penalty)
	}
	if got.Problems["P2"].Attempts != 2 {
		t.Fatalf("expected 2 counted attempts, got %d", got.Problems["P2"].Attempts)
	}
}

func TestEngineCompileErrorPolicy(t *testing.T) {
	t.Parallel()
	policy := model.DefaultPolicy()
	policy.CountCompileErrors = true
	policy.CountSolveTime = false
	e := newTestEngine(t, policy)
	entries := replay(t, e,
		verdict("carol", "P1", result.VerdictCompileError, 1),
		verdict("carol", "P1", result.VerdictAccepted, 2),
	)
	if entries[0].Penalty != 20 {
		t.Fatalf("expected penalty 20, got %d", entries[0].Penalty)
	}
}

func TestEngineRanksTiesEqually(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	entries := replay(t, e,
		verdict("dave", "P1", result.VerdictAccepted, 10),
		verdict("erin", "P1", result.VerdictAccepted, 10),
		verdict("frank", "P1", result.VerdictAccepted, 11),
		verdict("grace", "P2", result.VerdictAccepted, 50),
	)
	want := []struct {
		user string
		rank int
	}{{"grace", 1}, {"dave", 2}, {"erin", 2}, {"frank", 4}}
	for i, w := range want {
		if entries[i].UserID != w.user || entries[i].Rank != w.rank {
			t.Fatalf("expected %s at rank %d in position %d, got %s at %d", w.user, w.rank, i, entries[i].UserID, entries[i].Rank)
		}
	}
}

func TestEngineIsIdempotentPerSubmission(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	recs := []submitModel.VerdictRecord{
		verdict("heidi", "P1", result.VerdictWrongAnswer, 3),
		verdict("heidi", "P1", result.VerdictAccepted, 4),
	}
	first := replay(t, e, recs...)
	second := replay(t, e, recs...)
	e.OnVerdict(context.Background(), recs[1])
	third := replay(t, e)
	for _, entries := range [][]model.Entry{second, third} {
		if entries[0].Score != first[0].Score || entries[0].Submissions != first[0].Submissions {
			t.Fatalf("expected unchanged entry %+v, got %+v", first[0], entries[0])
		}
	}
}

func TestEngineSkipsUnknownProblem(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	replay(t, e, verdict("ivan", "P1", result.VerdictAccepted, 1))
	entries := replay(t, e, verdict("ivan", "P9", result.VerdictAccepted, 2))
	if entries[0].Score != 100 || entries[0].Submissions != 1 {
		t.Fatalf("expected entry left unchanged, got %+v", entries[0])
	}
}

func TestEngineOrderingHoldsForRandomSequences(t *testing.T) {
	t.Parallel()
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	problems := []string{"P1", "P2", "P3"}
	verdicts := []result.Verdict{
		result.VerdictAccepted, result.VerdictWrongAnswer, result.VerdictRuntimeError,
		result.VerdictTimeLimitExceeded, result.VerdictCompileError, result.VerdictInternalError,
	}
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		e := newTestEngine(t, model.DefaultPolicy())
		firstAC := map[string]map[string]bool{}
		for step := 0; step < 60; step++ {
			rec := verdict(users[rng.Intn(len(users))], problems[rng.Intn(len(problems))],
				verdicts[rng.Intn(len(verdicts))], step)
			if rec.Verdict == result.VerdictAccepted {
				if firstAC[rec.UserID] == nil {
					firstAC[rec.UserID] = map[string]bool{}
				}
				firstAC[rec.UserID][rec.ProblemID] = true
			}
			entries := replay(t, e, rec)
			assertRanked(t, seed, entries)
			for _, entry := range entries {
				want := 0
				for p := range firstAC[entry.UserID] {
					want += testPoints[p]
				}
				if entry.Score != want {
					t.Fatalf("seed %d: expected %s score %d, got %d", seed, entry.UserID, want, entry.Score)
				}
			}
		}
	}
}

func assertRanked(t *testing.T, seed int64, entries []model.Entry) {
	t.Helper()
	for i := range entries {
		if i == 0 {
			if entries[0].Rank != 1 {
				t.Fatalf("seed %d: expected first rank 1, got %d", seed, entries[0].Rank)
			}
			continue
		}
		prev, cur := &entries[i-1], &entries[i]
		if model.Compare(prev, cur) >= 0 {
			t.Fatalf("seed %d: entries out of order at %d: %+v then %+v", seed, i, prev, cur)
		}
		switch {
		case model.Tied(prev, cur) && cur.Rank != prev.Rank:
			t.Fatalf("seed %d: tied entries ranked %d and %d", seed, prev.Rank, cur.Rank)
		case !model.Tied(prev, cur) && cur.Rank != i+1:
			t.Fatalf("seed %d: expected rank %d, got %d", seed, i+1, cur.Rank)
		}
	}
}

func TestEngineSubscribeReceivesUpdates(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	ch, stop := e.Subscribe("c1")
	defer stop()

	initial := <-ch
	if len(initial.Entries) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d entries", len(initial.Entries))
	}
	e.OnVerdict(context.Background(), verdict("judy", "P3", result.VerdictAccepted, 5))
	select {
	case snap := <-ch:
		if entry, ok := snap.Find("judy"); !ok || entry.Score != 300 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
}

func TestEngineCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	ch, stop := e.Subscribe("c1")
	defer stop()
	<-ch

	e.Close()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for subscription to close")
	}

	late, lateStop := e.Subscribe("c1")
	defer lateStop()
	if _, ok := <-late; !ok {
		t.Fatalf("expected last snapshot before close")
	}
	if _, ok := <-late; ok {
		t.Fatalf("expected late subscription to be closed")
	}
}

type fakeVerdictLog struct {
	records map[string][]submitModel.VerdictRecord
}

func (f fakeVerdictLog) ListVerdictContests(context.Context) ([]string, error) {
	var ids []string
	for id := range f.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f fakeVerdictLog) ListVerdicts(_ context.Context, contestID string) ([]submitModel.VerdictRecord, error) {
	return f.records[contestID], nil
}

func TestEngineReplayAllRebuildsEveryContest(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	log := fakeVerdictLog{records: map[string][]submitModel.VerdictRecord{}}
	for _, contestID := range []string{"c1", "c2", "c3"} {
		rec := verdict("kim", "P2", result.VerdictAccepted, 1)
		rec.ContestID = contestID
		log.records[contestID] = []submitModel.VerdictRecord{rec}
	}
	if err := e.ReplayAll(context.Background(), log); err != nil {
		t.Fatalf("replay all: %v", err)
	}
	for contestID := range log.records {
		entries := e.Snapshot(contestID)
		if len(entries) != 1 || entries[0].Score != 200 {
			t.Fatalf("unexpected board for %s: %+v", contestID, entries)
		}
	}
}

type fakeStore struct {
	mu    sync.Mutex
	saved []model.Snapshot
}

func (f *fakeStore) Save(_ context.Context, snap model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return nil
}

func TestFlusherWritesChangedBoardsOnly(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, model.DefaultPolicy())
	store := &fakeStore{}
	flusher := NewFlusher(e, store, time.Hour)

	replay(t, e, verdict("leo", "P1", result.VerdictAccepted, 1))
	if n := flusher.Flush(context.Background()); n != 1 {
		t.Fatalf("expected 1 flushed board, got %d", n)
	}
	if n := flusher.Flush(context.Background()); n != 0 {
		t.Fatalf("expected nothing to flush, got %d", n)
	}
	replay(t, e, verdict("mia", "P1", result.VerdictAccepted, 2))
	if n := flusher.Flush(context.Background()); n != 1 {
		t.Fatalf("expected 1 flushed board, got %d", n)
	}
	if last := store.saved[len(store.saved)-1]; len(last.Entries) != 2 {
		t.Fatalf("expected 2 entries in flushed snapshot, got %d", len(last.Entries))
	}
}
