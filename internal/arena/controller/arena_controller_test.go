package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codearena/internal/arena/service"
	contestModel "codearena/internal/contest/model"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/sandbox/result"
	lbModel "codearena/internal/leaderboard/model"
	lbService "codearena/internal/leaderboard/service"
	problemModel "codearena/internal/problem/model"
	submitModel "codearena/internal/submit/model"
	submitRepo "codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type stubProblems struct{}

func (stubProblems) Get(_ context.Context, id string) (problemModel.Problem, error) {
	if id != "P1" {
		return problemModel.Problem{}, appErr.New(appErr.ProblemNotFound)
	}
	return problemModel.Problem{ID: "P1", Points: 100, Tests: []problemModel.TestCase{{Index: 1, Sample: true}}}, nil
}

func (stubProblems) Points(id string) (int, bool) {
	if id != "P1" {
		return 0, false
	}
	return 100, true
}

type acceptAll struct{}

func (acceptAll) Validate(context.Context, string, string) error { return nil }

func (acceptAll) Judge(_ context.Context, req judgeService.Request) (result.JudgeResult, error) {
	return result.JudgeResult{SubmissionID: req.SubmissionID, Verdict: result.VerdictAccepted,
		Tests: []result.TestcaseResult{{Index: 1, Sample: true, Verdict: result.VerdictAccepted, Passed: true}}}, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	subs []submitModel.Submission
}

func (q *recordingQueue) Enqueue(_ context.Context, sub submitModel.Submission) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, sub)
	return sub.ID, nil
}

func (q *recordingQueue) Status(string) (submitModel.Status, bool) { return submitModel.Status{}, false }

type testServer struct {
	router *gin.Engine
	queue  *recordingQueue
	engine *lbService.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)
	contests := contestRepo.NewMemoryContestRepository()
	if err := contests.Upsert(ctx, contestModel.Contest{ID: "daily", StartAt: start, Duration: time.Hour}); err != nil {
		t.Fatalf("seed contest: %v", err)
	}
	subs := submitRepo.NewMemorySubmissionRepository()
	queue := &recordingQueue{}
	manager, err := contestService.NewManager(contestService.Config{
		Contests: contests,
		Sessions: contestRepo.NewMemorySessionRepository(),
		History:  subs,
		Secret:   []byte("controller-test"),
		Issuer:   "codearena",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	engine, err := lbService.NewEngine(lbService.Config{
		Points: stubProblems{},
		Clock:  contestService.StartTimes{Contests: contests},
		Policy: lbModel.DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	arena, err := service.NewService(service.Config{
		Sessions:    manager,
		Problems:    stubProblems{},
		Judge:       acceptAll{},
		Queue:       queue,
		Submissions: subs,
		Rankings:    engine,
	})
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}

	r := gin.New()
	NewArenaController(arena, nil, RateLimits{}, NewLeaderboardStream(arena, StreamConfig{PingInterval: time.Second})).
		Register(r.Group("/api/v1"))
	return &testServer{router: r, queue: queue, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var envelope map[string]json.RawMessage
	_ = json.Unmarshal(w.Body.Bytes(), &envelope)
	return w, envelope
}

func (s *testServer) join(t *testing.T, user string) contestModel.Session {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/contests/daily/join", "", JoinRequest{UserID: user})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on join, got %d: %s", w.Code, w.Body.String())
	}
	var session contestModel.Session
	if err := json.Unmarshal(env["data"], &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func TestSubmitFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	session := s.join(t, "alice")
	if session.Token == "" {
		t.Fatalf("expected a session token")
	}

	payload := SubmitRequest{ProblemID: "P1", Language: "Python", Source: "print(1)"}
	w, env := s.do(t, http.MethodPost, "/api/v1/contests/daily/submissions", session.Token, payload)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(env["data"], &resp); err != nil || resp.SubmissionID == "" {
		t.Fatalf("expected submission id, got %s (%v)", env["data"], err)
	}
	if len(s.queue.subs) != 1 || s.queue.subs[0].UserID != "alice" || s.queue.subs[0].Language != "python" {
		t.Fatalf("unexpected queued submissions %+v", s.queue.subs)
	}

	if w, _ := s.do(t, http.MethodPost, "/api/v1/contests/daily/submissions", "", payload); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/api/v1/contests/other/submissions", session.Token, payload); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another contest, got %d", w.Code)
	}
}

func TestLeaveRejectsLaterSubmissions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	session := s.join(t, "bob")
	if w, _ := s.do(t, http.MethodPost, "/api/v1/sessions/leave", session.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on leave, got %d: %s", w.Code, w.Body.String())
	}
	w, _ := s.do(t, http.MethodPost, "/api/v1/contests/daily/submissions", session.Token,
		SubmitRequest{ProblemID: "P1", Language: "python", Source: "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after leave, got %d", w.Code)
	}
}

func TestRunSampleEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	session := s.join(t, "carol")
	w, env := s.do(t, http.MethodPost, "/api/v1/problems/P1/run", session.Token, RunRequest{Language: "python", Source: "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res result.JudgeResult
	if err := json.Unmarshal(env["data"], &res); err != nil || len(res.Tests) != 1 {
		t.Fatalf("expected one sample result, got %s (%v)", env["data"], err)
	}
	if len(s.queue.subs) != 0 {
		t.Fatalf("expected no queued submission")
	}
}

func TestLeaderboardEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	if w, _ := s.do(t, http.MethodGet, "/api/v1/contests/nope/leaderboard", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, "/api/v1/contests/daily/leaderboard", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, "/api/v1/users/dave/submissions?page=x", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", w.Code)
	}
}

func TestLeaderboardWebsocket(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/contests/daily/leaderboard/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap lbModel.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if snap.ContestID != "daily" || len(snap.Entries) != 0 {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}

	s.engine.OnVerdict(context.Background(), submitModel.VerdictRecord{
		SubmissionID: "s1", UserID: "erin", ContestID: "daily", ProblemID: "P1",
		Verdict: result.VerdictAccepted, SubmittedAt: time.Now(), JudgedAt: time.Now(),
	})
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].UserID != "erin" || snap.Entries[0].Score != 100 {
		t.Fatalf("unexpected update %+v", snap)
	}
}
