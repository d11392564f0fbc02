package service

import (
	"context"
	"time"

	"codearena/internal/leaderboard/model"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultFlushInterval = 15 * time.Second

// SnapshotStore persists published snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap model.Snapshot) error
}

// Flusher periodically writes boards that changed since the last flush.
type Flusher struct {
	engine   *Engine
	store    SnapshotStore
	interval time.Duration
	flushed  map[string]uint64
}

func NewFlusher(engine *Engine, store SnapshotStore, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{
		engine:   engine,
		store:    store,
		interval: interval,
		flushed:  make(map[string]uint64),
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			f.Flush(finalCtx)
			cancel()
			return
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush writes every changed board and returns how many were written.
// It is not safe for concurrent use.
func (f *Flusher) Flush(ctx context.Context) int {
	written := 0
	for _, snap := range f.engine.Boards() {
		if snap.Version == 0 || f.flushed[snap.ContestID] == snap.Version {
			continue
		}
		if err := f.store.Save(ctx, snap); err != nil {
			logger.Warn(ctx, "flush leaderboard snapshot failed",
				zap.String("contest_id", snap.ContestID), zap.Uint64("version", snap.Version), zap.Error(err))
			continue
		}
		f.flushed[snap.ContestID] = snap.Version
		written++
	}
	return written
}
