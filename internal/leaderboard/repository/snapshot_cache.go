package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/leaderboard/model"
	appErr "codearena/pkg/errors"
)

const (
	snapshotKeyPrefix  = "arena:leaderboard:"
	scoreKeyPrefix     = "arena:leaderboard:score:"
	defaultSnapshotTTL = 24 * time.Hour
)

// SnapshotCache stores ranked leaderboard snapshots in redis.
// The JSON document is authoritative; the sorted set indexes scores for
// cheap top-N reads by other services.
type SnapshotCache struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewSnapshotCache(cacheClient cache.Cache, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{cache: cacheClient, ttl: ttl}
}

// Save replaces the cached snapshot of a contest.
func (c *SnapshotCache) Save(ctx context.Context, snap model.Snapshot) error {
	if c == nil || c.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("snapshot cache is not configured")
	}
	if snap.ContestID == "" {
		return appErr.ValidationError("contest_id", "required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode leaderboard snapshot failed")
	}
	members := make([]cache.ZMember, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		members = append(members, cache.ZMember{Score: float64(e.Score), Member: e.UserID})
	}
	scoreKey := scoreKeyPrefix + snap.ContestID
	err = c.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Set(snapshotKeyPrefix+snap.ContestID, string(payload), c.ttl); err != nil {
			return err
		}
		if err := pipe.Del(scoreKey); err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		if err := pipe.ZAdd(scoreKey, members...); err != nil {
			return err
		}
		return pipe.Expire(scoreKey, c.ttl)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store leaderboard snapshot failed")
	}
	return nil
}

// Load returns the cached snapshot of a contest, if any.
func (c *SnapshotCache) Load(ctx context.Context, contestID string) (model.Snapshot, bool, error) {
	if c == nil || c.cache == nil {
		return model.Snapshot{}, false, nil
	}
	raw, err := c.cache.Get(ctx, snapshotKeyPrefix+contestID)
	if err != nil {
		return model.Snapshot{}, false, appErr.Wrapf(err, appErr.CacheError, "load leaderboard snapshot failed")
	}
	if raw == "" {
		return model.Snapshot{}, false, nil
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return model.Snapshot{}, false, appErr.Wrapf(err, appErr.CacheError, "decode leaderboard snapshot failed")
	}
	return snap, true, nil
}

// TopScores returns up to n (user, score) pairs from the score index.
func (c *SnapshotCache) TopScores(ctx context.Context, contestID string, n int) ([]cache.ZMember, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive")
	}
	members, err := c.cache.ZRevRangeWithScores(ctx, scoreKeyPrefix+contestID, 0, int64(n-1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read leaderboard scores failed")
	}
	return members, nil
}
