package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	contestModel "codearena/internal/contest/model"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/sandbox/result"
	lbModel "codearena/internal/leaderboard/model"
	problemModel "codearena/internal/problem/model"
	submitModel "codearena/internal/submit/model"
	submitRepo "codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
)

var sprintStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeProblems map[string]problemModel.Problem

func (f fakeProblems) Get(_ context.Context, id string) (problemModel.Problem, error) {
	p, ok := f[id]
	if !ok {
		return problemModel.Problem{}, appErr.New(appErr.ProblemNotFound)
	}
	return p, nil
}

type fakeJudge struct {
	mu       sync.Mutex
	requests []judgeService.Request
}

func (f *fakeJudge) Validate(_ context.Context, language, source string) error {
	if language != "python" {
		return appErr.Newf(appErr.LanguageNotSupported, "language %s", language)
	}
	if source == "" {
		return appErr.ValidationError("source", "required")
	}
	return nil
}

func (f *fakeJudge) Judge(_ context.Context, req judgeService.Request) (result.JudgeResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	res := result.JudgeResult{SubmissionID: req.SubmissionID, Verdict: result.VerdictAccepted}
	for _, tc := range req.Problem.Tests {
		if req.SamplesOnly && !tc.Sample {
			continue
		}
		res.Tests = append(res.Tests, result.TestcaseResult{Index: tc.Index, Sample: tc.Sample, Verdict: result.VerdictAccepted, Passed: true})
	}
	return res, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	subs []submitModel.Submission
	live map[string]submitModel.Status
}

func (q *fakeQueue) Enqueue(_ context.Context, sub submitModel.Submission) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, sub)
	return sub.ID, nil
}

func (q *fakeQueue) Status(id string) (submitModel.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.live[id]
	return st, ok
}

type fakeRankings map[string]lbModel.Snapshot

func (f fakeRankings) Board(id string) (lbModel.Snapshot, bool) {
	snap, ok := f[id]
	return snap, ok
}

func (f fakeRankings) Subscribe(id string) (<-chan lbModel.Snapshot, func()) {
	ch := make(chan lbModel.Snapshot, 1)
	ch <- f[id]
	return ch, func() {}
}

type arenaFixture struct {
	svc   *Service
	now   time.Time
	judge *fakeJudge
	queue *fakeQueue
	subs  *submitRepo.MemorySubmissionRepository
}

func newArenaFixture(t *testing.T) *arenaFixture {
	t.Helper()
	ctx := context.Background()
	contests := contestRepo.NewMemoryContestRepository()
	if err := contests.Upsert(ctx, contestModel.Contest{
		ID: "sprint", StartAt: sprintStart, Duration: time.Hour, Problems: []string{"P1"},
	}); err != nil {
		t.Fatalf("seed contest: %v", err)
	}
	f := &arenaFixture{
		now:   sprintStart.Add(10 * time.Minute),
		judge: &fakeJudge{},
		queue: &fakeQueue{live: map[string]submitModel.Status{}},
		subs:  submitRepo.NewMemorySubmissionRepository(),
	}
	clock := func() time.Time { return f.now }
	manager, err := contestService.NewManager(contestService.Config{
		Contests: contests,
		Sessions: contestRepo.NewMemorySessionRepository(),
		History:  f.subs,
		Live:     f.queue,
		Secret:   []byte("arena-test"),
		Issuer:   "codearena",
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	problems := fakeProblems{
		"P1": {ID: "P1", Tests: []problemModel.TestCase{
			{Index: 1, Input: "1", Expected: "1", Sample: true},
			{Index: 2, Input: "2", Expected: "2", Sample: true},
			{Index: 3, Input: "3", Expected: "3"},
		}},
		"P2": {ID: "P2", Tests: []problemModel.TestCase{{Index: 1, Input: "x", Expected: "x"}}},
	}
	svc, err := NewService(Config{
		Sessions:    manager,
		Problems:    problems,
		Judge:       f.judge,
		Queue:       f.queue,
		Submissions: f.subs,
		Rankings:    fakeRankings{"live": {ContestID: "live", Version: 3}},
		Now:         clock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func TestSubmitCodeQueuesForSessionUser(t *testing.T) {
	t.Parallel()
	f := newArenaFixture(t)
	ctx := context.Background()
	session, err := f.svc.JoinContest(ctx, "sprint", "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	id, err := f.svc.SubmitCode(ctx, session, SubmitInput{ProblemID: "P1", Language: "python", Source: "print(1)"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.queue.subs) != 1 {
		t.Fatalf("expected one queued submission, got %d", len(f.queue.subs))
	}
	sub := f.queue.subs[0]
	if sub.ID != id || sub.UserID != "alice" || sub.ContestID != "sprint" || !sub.SubmittedAt.Equal(f.now) {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestSubmitCodeRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    SubmitInput
		shift time.Duration
		want  appErr.ErrorCode
	}{
		{name: "problem outside contest", in: SubmitInput{ProblemID: "P2", Language: "python", Source: "x"}, want: appErr.ProblemNotFound},
		{name: "unknown language", in: SubmitInput{ProblemID: "P1", Language: "cobol", Source: "x"}, want: appErr.LanguageNotSupported},
		{name: "empty source", in: SubmitInput{ProblemID: "P1", Language: "python"}, want: appErr.ValidationFailed},
		{name: "other contest", in: SubmitInput{ContestID: "other", ProblemID: "P1", Language: "python", Source: "x"}, want: appErr.Forbidden},
		{name: "after end", in: SubmitInput{ProblemID: "P1", Language: "python", Source: "x"}, shift: time.Hour, want: appErr.ContestEnded},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newArenaFixture(t)
			session, err := f.svc.JoinContest(context.Background(), "sprint", "bob")
			if err != nil {
				t.Fatalf("join: %v", err)
			}
			f.now = f.now.Add(tt.shift)
			_, err = f.svc.SubmitCode(context.Background(), session, tt.in)
			if appErr.GetCode(err) != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(f.queue.subs) != 0 {
				t.Fatalf("expected nothing queued, got %d", len(f.queue.subs))
			}
		})
	}
}

func TestRunSampleRunsEverySampleCase(t *testing.T) {
	t.Parallel()
	f := newArenaFixture(t)
	res, err := f.svc.RunSample(context.Background(), "carol", "P1", "python", "print(1)")
	if err != nil {
		t.Fatalf("run sample: %v", err)
	}
	if len(res.Tests) != 2 {
		t.Fatalf("expected 2 sample results, got %d", len(res.Tests))
	}
	req := f.judge.requests[0]
	if !req.RunAllCases || !req.SamplesOnly || !strings.HasPrefix(req.SubmissionID, "run-") {
		t.Fatalf("unexpected judge request %+v", req)
	}
	if len(f.queue.subs) != 0 {
		t.Fatalf("expected sample run to bypass the queue")
	}

	if _, err := f.svc.RunSample(context.Background(), "carol", "P2", "python", "x"); !appErr.Is(err, appErr.NoSampleTestCase) {
		t.Fatalf("expected no sample test case, got %v", err)
	}
}

func TestGetSubmissionFallsBackToStore(t *testing.T) {
	t.Parallel()
	f := newArenaFixture(t)
	ctx := context.Background()
	sub := submitModel.Submission{ID: "s1", UserID: "dave", ContestID: "sprint", ProblemID: "P1", SubmittedAt: sprintStart}
	if err := f.subs.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	st, err := f.svc.GetSubmission(ctx, "s1")
	if err != nil || st.State != submitModel.StateQueued {
		t.Fatalf("expected stored queued status, got %+v (%v)", st, err)
	}

	if _, err := f.subs.SaveVerdict(ctx, submitModel.VerdictRecord{
		SubmissionID: "s1", UserID: "dave", ContestID: "sprint", ProblemID: "P1",
		Verdict: result.VerdictWrongAnswer, Attempts: 1, SubmittedAt: sprintStart, JudgedAt: sprintStart,
	}); err != nil {
		t.Fatalf("save verdict: %v", err)
	}
	st, err = f.svc.GetSubmission(ctx, "s1")
	if err != nil || st.State != submitModel.StateDone || st.Verdict != result.VerdictWrongAnswer {
		t.Fatalf("expected stored verdict, got %+v (%v)", st, err)
	}

	f.queue.live["s1"] = submitModel.Status{SubmissionID: "s1", State: submitModel.StateJudging}
	if st, _ := f.svc.GetSubmission(ctx, "s1"); st.State != submitModel.StateJudging {
		t.Fatalf("expected live status to win, got %s", st.State)
	}

	if _, err := f.svc.GetSubmission(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected submission not found, got %v", err)
	}
}

func TestGetLeaderboard(t *testing.T) {
	t.Parallel()
	f := newArenaFixture(t)
	ctx := context.Background()

	snap, err := f.svc.GetLeaderboard(ctx, "live")
	if err != nil || snap.Version != 3 {
		t.Fatalf("expected live board, got %+v (%v)", snap, err)
	}
	snap, err = f.svc.GetLeaderboard(ctx, "sprint")
	if err != nil || snap.ContestID != "sprint" || len(snap.Entries) != 0 {
		t.Fatalf("expected empty board, got %+v (%v)", snap, err)
	}
	if _, err := f.svc.GetLeaderboard(ctx, "missing"); !appErr.Is(err, appErr.ContestNotFound) {
		t.Fatalf("expected contest not found, got %v", err)
	}
}
