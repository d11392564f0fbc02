package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/sandbox/result"
	problemModel "codearena/internal/problem/model"
	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultPoolSize     = 4
	defaultBackoffBase  = 200 * time.Millisecond
	defaultBackoffMax   = 5 * time.Second
	defaultStoreTimeout = 3 * time.Second
)

// Judger runs one judging job.
type Judger interface {
	Judge(ctx context.Context, req judgeService.Request) (result.JudgeResult, error)
}

// ProblemSource resolves problems by id.
type ProblemSource interface {
	Get(ctx context.Context, id string) (problemModel.Problem, error)
}

// VerdictSink receives every recorded verdict exactly once.
type VerdictSink interface {
	OnVerdict(ctx context.Context, rec model.VerdictRecord)
}

// Config holds scheduler dependencies and settings.
type Config struct {
	Judger      Judger
	Problems    ProblemSource
	Submissions repository.SubmissionRepository

	// Optional collaborators. Failures are logged and never affect judging.
	StatusMirror *repository.StatusRepository
	Events       repository.VerdictEventPublisher
	Archive      *repository.SourceArchive
	Sinks        []VerdictSink

	PoolSize     int
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	JudgeTimeout time.Duration
	StoreTimeout time.Duration
}

type task struct {
	sub model.Submission
}

// Scheduler admits submissions and judges them on a bounded worker pool.
//
// Each user has at most one submission in flight; their queue is FIFO and
// users are served round-robin in order of arrival.
type Scheduler struct {
	cfg Config

	// ring holds every user with queued or in-flight work, in arrival order.
	mu       sync.Mutex
	queues   map[string][]*task
	ring     []string
	cursor   int
	inflight map[string]bool
	closed   bool

	statuses *xsync.MapOf[string, model.Status]
	sem      chan struct{}
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler and starts its dispatch loop.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Judger == nil {
		return nil, fmt.Errorf("judger is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem source is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		queues:   make(map[string][]*task),
		inflight: make(map[string]bool),
		statuses: xsync.NewMapOf[string, model.Status](),
		sem:      make(chan struct{}, cfg.PoolSize),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.loop.Add(1)
	go s.dispatch()
	return s, nil
}

// Enqueue records sub and queues it for judging. It returns without waiting
// for judging to start.
func (s *Scheduler) Enqueue(ctx context.Context, sub model.Submission) (string, error) {
	if sub.UserID == "" {
		return "", appErr.ValidationError("user_id", "required")
	}
	if sub.ProblemID == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", appErr.New(appErr.JudgeQueueClosed)
	}

	if err := s.cfg.Submissions.Create(ctx, sub); err != nil {
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "store submission failed")
	}
	s.admit(ctx, sub)
	return sub.ID, nil
}

// Resume queues submissions that were stored but never judged, for example
// after a restart. They keep their original ids and timestamps.
func (s *Scheduler) Resume(ctx context.Context, subs []model.Submission) int {
	n := 0
	for _, sub := range subs {
		if _, known := s.statuses.Load(sub.ID); known {
			continue
		}
		s.admit(ctx, sub)
		n++
	}
	return n
}

func (s *Scheduler) admit(ctx context.Context, sub model.Submission) {
	status := model.NewQueuedStatus(sub)
	s.statuses.Store(sub.ID, status)

	s.mu.Lock()
	if !s.inflight[sub.UserID] && len(s.queues[sub.UserID]) == 0 {
		s.ring = append(s.ring, sub.UserID)
	}
	s.queues[sub.UserID] = append(s.queues[sub.UserID], &task{sub: sub})
	s.mu.Unlock()

	logger.Info(logger.WithSubmission(ctx, sub.ID, sub.ContestID, sub.UserID), "submission queued",
		zap.String("problem_id", sub.ProblemID), zap.String("language", sub.Language))
	s.mirror(ctx, status)
	if s.cfg.Archive != nil {
		s.wg.Add(1)
		go s.archive(sub)
	}
	s.signal()
}

// Status returns the live status of a submission without blocking.
func (s *Scheduler) Status(submissionID string) (model.Status, bool) {
	return s.statuses.Load(submissionID)
}

// CancelQueued drops the queued submissions userID made in contestID that
// have not started. Work queued for other contests and in-flight work are
// left alone. It returns the number dropped.
func (s *Scheduler) CancelQueued(ctx context.Context, userID, contestID string) int {
	s.mu.Lock()
	var dropped, kept []*task
	for _, t := range s.queues[userID] {
		if t.sub.ContestID == contestID {
			dropped = append(dropped, t)
		} else {
			kept = append(kept, t)
		}
	}
	if len(kept) > 0 {
		s.queues[userID] = kept
	} else {
		delete(s.queues, userID)
	}
	s.dropIdleLocked(userID)
	s.mu.Unlock()

	now := time.Now()
	for _, t := range dropped {
		status, _ := s.statuses.Compute(t.sub.ID, func(old model.Status, loaded bool) (model.Status, bool) {
			old.State = model.StateDone
			old.Cancelled = true
			old.FinishedAt = now
			return old, false
		})
		storeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		if err := s.cfg.Submissions.MarkCancelled(storeCtx, t.sub.ID); err != nil {
			logger.Warn(ctx, "persist cancellation failed", zap.String("submission_id", t.sub.ID), zap.Error(err))
		}
		cancel()
		s.mirror(ctx, status)
	}
	if len(dropped) > 0 {
		logger.Info(ctx, "queued submissions cancelled", zap.String("user_id", userID),
			zap.String("contest_id", contestID), zap.Int("count", len(dropped)))
	}
	return len(dropped)
}

// QueueDepth returns the number of queued, not yet started submissions.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Shutdown stops dispatching and waits for in-flight submissions.
// Queued submissions stay queued and are picked up by Resume on next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.loop.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	defer s.loop.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			select {
			case s.sem <- struct{}{}:
			case <-s.ctx.Done():
				return
			}
			s.mu.Lock()
			t := s.nextLocked()
			s.mu.Unlock()
			if t == nil {
				<-s.sem
				break
			}
			s.wg.Add(1)
			go s.run(t)
		}
	}
}

// nextLocked pops the head of the next eligible user's queue, continuing
// after the user served last.
func (s *Scheduler) nextLocked() *task {
	n := len(s.ring)
	if n == 0 {
		return nil
	}
	start := s.cursor % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		user := s.ring[idx]
		queue := s.queues[user]
		if s.inflight[user] || len(queue) == 0 {
			continue
		}
		s.inflight[user] = true
		if len(queue) == 1 {
			delete(s.queues, user)
		} else {
			s.queues[user] = queue[1:]
		}
		s.cursor = idx + 1
		return queue[0]
	}
	return nil
}

// dropIdleLocked removes userID from the ring once it has no work left.
func (s *Scheduler) dropIdleLocked(userID string) {
	if s.inflight[userID] || len(s.queues[userID]) > 0 {
		return
	}
	for i, u := range s.ring {
		if u != userID {
			continue
		}
		s.ring = append(s.ring[:i], s.ring[i+1:]...)
		if i < s.cursor {
			s.cursor--
		}
		return
	}
}

func (s *Scheduler) run(t *task) {
	holding := true
	defer func() {
		if holding {
			<-s.sem
		}
		s.mu.Lock()
		delete(s.inflight, t.sub.UserID)
		s.dropIdleLocked(t.sub.UserID)
		s.mu.Unlock()
		s.wg.Done()
		s.signal()
	}()

	sub := t.sub
	ctx := logger.WithSubmission(context.Background(), sub.ID, sub.ContestID, sub.UserID)
	started := time.Now()
	s.update(ctx, sub.ID, func(st *model.Status) {
		st.State = model.StateJudging
		st.StartedAt = started
	})

	for attempt := 0; ; attempt++ {
		s.update(ctx, sub.ID, func(st *model.Status) { st.Attempts = attempt + 1 })
		res, err := s.judgeOnce(ctx, sub)
		if err == nil {
			s.finish(ctx, sub, res, attempt+1)
			return
		}
		if !retryable(err) || attempt >= s.cfg.MaxRetries {
			if retryable(err) {
				err = appErr.Wrapf(err, appErr.JudgeRetryExhausted, "gave up after %d attempts", attempt+1)
			}
			logger.Error(ctx, "judging failed, reporting internal error",
				zap.Int("attempts", attempt+1), zap.Error(err))
			res.Verdict = result.VerdictInternalError
			s.finish(ctx, sub, res, attempt+1)
			return
		}

		delay := judgeService.ComputeBackoff(attempt, s.cfg.BackoffBase, s.cfg.BackoffMax)
		logger.Warn(ctx, "judging failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		// The pool slot is free during backoff; the user stays in flight.
		<-s.sem
		holding = false
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			// No verdict was stored, so Resume picks it up on next start.
			logger.Warn(ctx, "scheduler stopped during retry backoff, submission left pending",
				zap.Int("attempts", attempt+1))
			return
		}
		s.sem <- struct{}{}
		holding = true
	}
}

// judgeOnce isolates panics to the submission being judged.
func (s *Scheduler) judgeOnce(ctx context.Context, sub model.Submission) (res result.JudgeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = result.JudgeResult{SubmissionID: sub.ID, Verdict: result.VerdictInternalError}
			err = appErr.Newf(appErr.JudgeSystemError, "judge panicked: %v", r)
		}
	}()

	problem, err := s.cfg.Problems.Get(ctx, sub.ProblemID)
	if err != nil {
		return result.JudgeResult{SubmissionID: sub.ID, Verdict: result.VerdictInternalError}, err
	}
	judgeCtx := ctx
	if s.cfg.JudgeTimeout > 0 {
		var cancel context.CancelFunc
		judgeCtx, cancel = context.WithTimeout(ctx, s.cfg.JudgeTimeout)
		defer cancel()
	}
	return s.cfg.Judger.Judge(judgeCtx, judgeService.Request{
		SubmissionID: sub.ID,
		Language:     sub.Language,
		Source:       sub.Source,
		Problem:      problem,
	})
}

// retryable reports whether another attempt could change the outcome.
func retryable(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.ValidationFailed, appErr.InvalidParams, appErr.LanguageNotSupported,
		appErr.CodeTooLarge, appErr.ProblemNotFound, appErr.NoSampleTestCase:
		return false
	default:
		return true
	}
}

func (s *Scheduler) finish(ctx context.Context, sub model.Submission, res result.JudgeResult, attempts int) {
	now := time.Now()
	res.SubmissionID = sub.ID
	rec := model.VerdictRecord{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		ProblemID:    sub.ProblemID,
		Verdict:      res.Verdict,
		Attempts:     attempts,
		SubmittedAt:  sub.SubmittedAt,
		JudgedAt:     now,
		Result:       &res,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	saved, err := s.cfg.Submissions.SaveVerdict(storeCtx, rec)
	cancel()
	if err != nil {
		if appErr.Is(err, appErr.VerdictAlreadyRecorded) {
			logger.Warn(ctx, "verdict already recorded, dropping duplicate", zap.String("verdict", string(rec.Verdict)))
			if existing, getErr := s.cfg.Submissions.GetVerdict(ctx, sub.ID); getErr == nil {
				s.statuses.Store(sub.ID, doneStatus(sub, existing))
			}
			return
		}
		logger.Error(ctx, "persist verdict failed", zap.Error(err))
	} else {
		rec = saved
	}

	status, _ := s.statuses.Compute(sub.ID, func(old model.Status, loaded bool) (model.Status, bool) {
		done := doneStatus(sub, rec)
		if loaded {
			done.StartedAt = old.StartedAt
		}
		return done, false
	})
	logger.Info(ctx, "submission judged",
		zap.String("verdict", string(rec.Verdict)), zap.Int("attempts", attempts),
		zap.Duration("elapsed", now.Sub(sub.SubmittedAt)))

	s.mirror(ctx, status)
	if s.cfg.Events != nil {
		pubCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		if err := s.cfg.Events.PublishFinal(pubCtx, rec); err != nil {
			logger.Warn(ctx, "publish verdict event failed", zap.Error(err))
		}
		cancel()
	}
	for _, sink := range s.cfg.Sinks {
		sink.OnVerdict(ctx, rec)
	}
}

func (s *Scheduler) update(ctx context.Context, submissionID string, fn func(*model.Status)) {
	status, _ := s.statuses.Compute(submissionID, func(old model.Status, loaded bool) (model.Status, bool) {
		next := old
		fn(&next)
		if !old.State.CanAdvanceTo(next.State) {
			return old, false
		}
		return next, false
	})
	s.mirror(ctx, status)
}

func (s *Scheduler) mirror(ctx context.Context, status model.Status) {
	if s.cfg.StatusMirror == nil {
		return
	}
	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.cfg.StatusMirror.Save(mirrorCtx, status); err != nil {
		logger.Warn(ctx, "mirror submission status failed", zap.String("submission_id", status.SubmissionID), zap.Error(err))
	}
}

func (s *Scheduler) archive(sub model.Submission) {
	defer s.wg.Done()
	ctx := logger.WithSubmission(context.Background(), sub.ID, sub.ContestID, sub.UserID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.cfg.Archive.Put(ctx, sub); err != nil {
		logger.Warn(ctx, "archive source failed", zap.Error(err))
	}
}

func doneStatus(sub model.Submission, rec model.VerdictRecord) model.Status {
	st := model.NewQueuedStatus(sub)
	st.State = model.StateDone
	st.Verdict = rec.Verdict
	st.Attempts = rec.Attempts
	st.Result = rec.Result
	st.FinishedAt = rec.JudgedAt
	return st
}
