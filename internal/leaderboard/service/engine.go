package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"codearena/internal/leaderboard/model"
	submitModel "codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInboxSize      = 256
	defaultReplayParallel = 4
)

// PointsTable resolves the points a problem is worth.
type PointsTable interface {
	Points(problemID string) (int, bool)
}

// ContestClock resolves contest start times for solve-time penalty.
type ContestClock interface {
	StartTime(contestID string) (time.Time, bool)
}

// VerdictLog is the persisted verdict stream used for recovery.
type VerdictLog interface {
	ListVerdictContests(ctx context.Context) ([]string, error)
	ListVerdicts(ctx context.Context, contestID string) ([]submitModel.VerdictRecord, error)
}

// Config holds engine dependencies and settings.
type Config struct {
	Points PointsTable
	Clock  ContestClock
	Policy model.Policy

	InboxSize      int
	ReplayParallel int
}

// Engine maintains one single-writer board per contest.
type Engine struct {
	cfg    Config
	boards *xsync.MapOf[string, *board]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Boards are started lazily on first use.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Points == nil {
		return nil, fmt.Errorf("points table is required")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.ReplayParallel <= 0 {
		cfg.ReplayParallel = defaultReplayParallel
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		boards: xsync.NewMapOf[string, *board](),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (e *Engine) board(contestID string) *board {
	b, _ := e.boards.LoadOrCompute(contestID, func() *board {
		var start time.Time
		if e.cfg.Clock != nil {
			start, _ = e.cfg.Clock.StartTime(contestID)
		}
		b := newBoard(contestID, start, e.cfg.Policy, e.cfg.Points, e.cfg.InboxSize)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			b.run(e.ctx)
		}()
		return b
	})
	return b
}

// OnVerdict queues rec for its contest board. It blocks only while the
// board's inbox is full.
func (e *Engine) OnVerdict(ctx context.Context, rec submitModel.VerdictRecord) {
	if rec.ContestID == "" {
		return
	}
	rec.Result = nil
	b := e.board(rec.ContestID)
	select {
	case b.inbox <- message{records: []submitModel.VerdictRecord{rec}}:
	case <-e.ctx.Done():
		logger.Error(ctx, "leaderboard closed, verdict dropped", zap.String("submission_id", rec.SubmissionID),
			zap.Error(appErr.New(appErr.RankingUpdateLost)))
	case <-ctx.Done():
		logger.Error(ctx, "leaderboard update abandoned", zap.String("submission_id", rec.SubmissionID),
			zap.Error(appErr.Wrap(ctx.Err(), appErr.RankingUpdateLost)))
	}
}

// Replay applies records to the contest board in Seq order and waits until
// the resulting snapshot is published. Already applied submissions are skipped.
func (e *Engine) Replay(ctx context.Context, contestID string, records []submitModel.VerdictRecord) error {
	if contestID == "" {
		return appErr.ValidationError("contest_id", "required")
	}
	batch := make([]submitModel.VerdictRecord, 0, len(records))
	for _, rec := range records {
		if rec.ContestID != contestID {
			continue
		}
		rec.Result = nil
		batch = append(batch, rec)
	}
	slices.SortStableFunc(batch, func(a, b submitModel.VerdictRecord) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	b := e.board(contestID)
	done := make(chan struct{})
	select {
	case b.inbox <- message{records: batch, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return appErr.New(appErr.ServiceUnavailable).WithMessage("leaderboard closed")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return appErr.New(appErr.ServiceUnavailable).WithMessage("leaderboard closed")
	}
}

// ReplayAll rebuilds every contest found in the verdict log concurrently.
func (e *Engine) ReplayAll(ctx context.Context, log VerdictLog) error {
	contests, err := log.ListVerdictContests(ctx)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list verdict contests failed")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ReplayParallel)
	for _, contestID := range contests {
		contestID := contestID
		g.Go(func() error {
			records, err := log.ListVerdicts(gctx, contestID)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "list verdicts for %s failed", contestID)
			}
			if err := e.Replay(gctx, contestID, records); err != nil {
				return err
			}
			logger.Info(gctx, "leaderboard replayed",
				zap.String("contest_id", contestID), zap.Int("verdicts", len(records)))
			return nil
		})
	}
	return g.Wait()
}

// Snapshot returns the ranked entries of a contest. It never blocks on writers.
func (e *Engine) Snapshot(contestID string) []model.Entry {
	snap, _ := e.Board(contestID)
	return snap.Entries
}

// Board returns the latest published snapshot and whether the contest has a board.
func (e *Engine) Board(contestID string) (model.Snapshot, bool) {
	b, ok := e.boards.Load(contestID)
	if !ok {
		return model.Snapshot{ContestID: contestID, Entries: []model.Entry{}}, false
	}
	return b.snapshot(), true
}

// Boards returns the latest snapshot of every contest.
func (e *Engine) Boards() []model.Snapshot {
	var out []model.Snapshot
	e.boards.Range(func(_ string, b *board) bool {
		out = append(out, b.snapshot())
		return true
	})
	return out
}

// Subscribe streams snapshots of a contest, starting with the current one.
// A slow reader only sees the newest snapshot. Call the returned func to stop.
func (e *Engine) Subscribe(contestID string) (<-chan model.Snapshot, func()) {
	return e.board(contestID).subscribe()
}

// Close stops every board and closes all subscriber channels.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.boards.Range(func(_ string, b *board) bool {
		b.closeSubscribers()
		return true
	})
}
