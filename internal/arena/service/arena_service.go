// Package service exposes the contest-facing operations of the arena:
// joining, submitting, running samples and reading results.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	contestModel "codearena/internal/contest/model"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/sandbox/result"
	lbModel "codearena/internal/leaderboard/model"
	problemModel "codearena/internal/problem/model"
	submitModel "codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
	"codearena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSampleSlots   = 4
	defaultSampleTimeout = 30 * time.Second
)

// Sessions is the contest session manager.
type Sessions interface {
	Contest(ctx context.Context, contestID string) (contestModel.Contest, error)
	Join(ctx context.Context, contestID, userID string) (contestModel.Session, error)
	Leave(ctx context.Context, token string) (contestModel.Session, error)
	Authorize(ctx context.Context, token string) (contestModel.Session, error)
	History(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]submitModel.HistoryItem, error)
	Stats(ctx context.Context, userID string) (contestModel.Stats, error)
}

// Problems resolves catalog entries.
type Problems interface {
	Get(ctx context.Context, id string) (problemModel.Problem, error)
}

// Judge validates and runs code.
type Judge interface {
	Validate(ctx context.Context, language, source string) error
	Judge(ctx context.Context, req judgeService.Request) (result.JudgeResult, error)
}

// Queue is the submission scheduler.
type Queue interface {
	Enqueue(ctx context.Context, sub submitModel.Submission) (string, error)
	Status(submissionID string) (submitModel.Status, bool)
}

// SubmissionStore is the durable submission record.
type SubmissionStore interface {
	Get(ctx context.Context, submissionID string) (submitModel.Submission, error)
	GetVerdict(ctx context.Context, submissionID string) (submitModel.VerdictRecord, error)
}

// Rankings serves live leaderboards.
type Rankings interface {
	Board(contestID string) (lbModel.Snapshot, bool)
	Subscribe(contestID string) (<-chan lbModel.Snapshot, func())
}

// SnapshotReader serves leaderboards persisted by another instance.
type SnapshotReader interface {
	Load(ctx context.Context, contestID string) (lbModel.Snapshot, bool, error)
}

// Config holds arena dependencies.
type Config struct {
	Sessions    Sessions
	Problems    Problems
	Judge       Judge
	Queue       Queue
	Submissions SubmissionStore
	Rankings    Rankings
	// Snapshots is optional.
	Snapshots SnapshotReader

	// SampleSlots bounds concurrent sample runs, which execute inline.
	SampleSlots   int
	SampleTimeout time.Duration
	Now           func() time.Time
}

// Service implements the arena operations on top of the domain services.
type Service struct {
	cfg     Config
	samples chan struct{}
}

// NewService creates a new arena service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, fmt.Errorf("session manager is required")
	case cfg.Problems == nil:
		return nil, fmt.Errorf("problem catalog is required")
	case cfg.Judge == nil:
		return nil, fmt.Errorf("judge is required")
	case cfg.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case cfg.Submissions == nil:
		return nil, fmt.Errorf("submission store is required")
	case cfg.Rankings == nil:
		return nil, fmt.Errorf("rankings are required")
	}
	if cfg.SampleSlots <= 0 {
		cfg.SampleSlots = defaultSampleSlots
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = defaultSampleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg, samples: make(chan struct{}, cfg.SampleSlots)}, nil
}

// SubmitInput is a graded submission.
type SubmitInput struct {
	ContestID string
	ProblemID string
	Language  string
	Source    string
}

// JoinContest registers userID in a contest and returns its session.
func (s *Service) JoinContest(ctx context.Context, contestID, userID string) (contestModel.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return contestModel.Session{}, appErr.ValidationError("user_id", "required")
	}
	return s.cfg.Sessions.Join(ctx, contestID, userID)
}

// LeaveContest ends the session behind token.
func (s *Service) LeaveContest(ctx context.Context, token string) (contestModel.Session, error) {
	return s.cfg.Sessions.Leave(ctx, token)
}

// SubmitCode queues source for judging in the session's contest and
// returns the new submission id. The verdict arrives asynchronously.
func (s *Service) SubmitCode(ctx context.Context, session contestModel.Session, in SubmitInput) (string, error) {
	if in.ContestID != "" && in.ContestID != session.ContestID {
		return "", appErr.New(appErr.Forbidden).WithMessage("session belongs to another contest")
	}
	contest, err := s.cfg.Sessions.Contest(ctx, session.ContestID)
	if err != nil {
		return "", err
	}
	now := s.cfg.Now()
	if !contest.ActiveAt(now) {
		if contest.EndedAt(now) {
			return "", appErr.New(appErr.ContestEnded).WithDetail("contest_id", contest.ID)
		}
		return "", appErr.New(appErr.ContestNotActive).WithDetail("contest_id", contest.ID)
	}
	if !contest.HasProblem(in.ProblemID) {
		return "", appErr.Newf(appErr.ProblemNotFound, "problem %s is not part of contest %s", in.ProblemID, contest.ID)
	}
	if _, err := s.cfg.Problems.Get(ctx, in.ProblemID); err != nil {
		return "", err
	}
	if err := s.cfg.Judge.Validate(ctx, in.Language, in.Source); err != nil {
		return "", err
	}
	return s.cfg.Queue.Enqueue(ctx, submitModel.Submission{
		ID:          uuid.NewString(),
		UserID:      session.UserID,
		ContestID:   session.ContestID,
		ProblemID:   in.ProblemID,
		Language:    in.Language,
		Source:      in.Source,
		SubmittedAt: now,
	})
}

// RunSample judges source against the problem's sample cases only and
// reports every case. Nothing is recorded.
func (s *Service) RunSample(ctx context.Context, userID, problemID, language, source string) (result.JudgeResult, error) {
	problem, err := s.cfg.Problems.Get(ctx, problemID)
	if err != nil {
		return result.JudgeResult{}, err
	}
	if len(problem.SampleCases()) == 0 {
		return result.JudgeResult{}, appErr.Newf(appErr.NoSampleTestCase, "problem %s has no sample cases", problemID)
	}
	if err := s.cfg.Judge.Validate(ctx, language, source); err != nil {
		return result.JudgeResult{}, err
	}

	select {
	case s.samples <- struct{}{}:
		defer func() { <-s.samples }()
	case <-ctx.Done():
		return result.JudgeResult{}, appErr.Wrap(ctx.Err(), appErr.Timeout)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.SampleTimeout)
	defer cancel()
	runID := "run-" + uuid.NewString()
	res, err := s.cfg.Judge.Judge(runCtx, judgeService.Request{
		SubmissionID: runID,
		Language:     language,
		Source:       source,
		Problem:      problem,
		RunAllCases:  true,
		SamplesOnly:  true,
	})
	if err != nil {
		logger.Error(ctx, "sample run failed", zap.String("run_id", runID), zap.String("user_id", userID),
			zap.String("problem_id", problemID), zap.Error(err))
		return res, err
	}
	return res, nil
}

// GetSubmission returns the live status of a submission, falling back to
// the stored record once the scheduler no longer tracks it.
func (s *Service) GetSubmission(ctx context.Context, submissionID string) (submitModel.Status, error) {
	if status, ok := s.cfg.Queue.Status(submissionID); ok {
		return status, nil
	}
	sub, err := s.cfg.Submissions.Get(ctx, submissionID)
	if err != nil {
		return submitModel.Status{}, err
	}
	status := submitModel.NewQueuedStatus(sub)
	rec, err := s.cfg.Submissions.GetVerdict(ctx, submissionID)
	switch {
	case err == nil:
		status.State = submitModel.StateDone
		status.Verdict = rec.Verdict
		status.Attempts = rec.Attempts
		status.Result = rec.Result
		status.FinishedAt = rec.JudgedAt
	case appErr.Is(err, appErr.RecordNotFound):
	default:
		return submitModel.Status{}, err
	}
	return status, nil
}

// GetSubmissionHistory lists userID's submissions newest first.
func (s *Service) GetSubmissionHistory(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]submitModel.HistoryItem, error) {
	return s.cfg.Sessions.History(ctx, userID, opts)
}

// GetStats summarizes userID's results.
func (s *Service) GetStats(ctx context.Context, userID string) (contestModel.Stats, error) {
	return s.cfg.Sessions.Stats(ctx, userID)
}

// GetContest returns contest metadata.
func (s *Service) GetContest(ctx context.Context, contestID string) (contestModel.Contest, error) {
	return s.cfg.Sessions.Contest(ctx, contestID)
}

// GetLeaderboard returns the latest snapshot of a contest's ranking.
// A contest nobody has scored in yet has an empty board.
func (s *Service) GetLeaderboard(ctx context.Context, contestID string) (lbModel.Snapshot, error) {
	if snap, ok := s.cfg.Rankings.Board(contestID); ok {
		return snap, nil
	}
	if s.cfg.Snapshots != nil {
		snap, ok, err := s.cfg.Snapshots.Load(ctx, contestID)
		if err != nil {
			logger.Warn(ctx, "load cached leaderboard failed", zap.String("contest_id", contestID), zap.Error(err))
		} else if ok {
			return snap, nil
		}
	}
	if _, err := s.cfg.Sessions.Contest(ctx, contestID); err != nil {
		return lbModel.Snapshot{}, err
	}
	return lbModel.Snapshot{ContestID: contestID, Entries: []lbModel.Entry{}}, nil
}

// WatchLeaderboard streams snapshots of a known contest until cancel is called.
func (s *Service) WatchLeaderboard(ctx context.Context, contestID string) (<-chan lbModel.Snapshot, func(), error) {
	if _, err := s.cfg.Sessions.Contest(ctx, contestID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.cfg.Rankings.Subscribe(contestID)
	return ch, cancel, nil
}

// Authorize resolves a session token.
func (s *Service) Authorize(ctx context.Context, token string) (contestModel.Session, error) {
	return s.cfg.Sessions.Authorize(ctx, token)
}
