package repository

import (
	"context"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/leaderboard/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSnapshotCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return NewSnapshotCache(c, time.Hour), mr
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	t.Parallel()
	sc, mr := newSnapshotCache(t)
	ctx := context.Background()
	snap := model.Snapshot{
		ContestID: "weekly-1",
		Version:   3,
		Entries: []model.Entry{
			{UserID: "alice", Rank: 1, Score: 300, Penalty: 42, Solved: []string{"P1", "P2"}},
			{UserID: "bob", Rank: 2, Score: 100, Penalty: 10, Solved: []string{"P1"}},
		},
	}
	if err := sc.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := sc.Load(ctx, "weekly-1")
	if err != nil || !ok {
		t.Fatalf("expected cached snapshot, got ok=%v err=%v", ok, err)
	}
	if got.Version != 3 || len(got.Entries) != 2 || got.Entries[0].UserID != "alice" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	top, err := sc.TopScores(ctx, "weekly-1", 1)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	if len(top) != 1 || top[0].Member != "alice" || top[0].Score != 300 {
		t.Fatalf("unexpected top scores %+v", top)
	}
	if ttl := mr.TTL(snapshotKeyPrefix + "weekly-1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", ttl)
	}
}

func TestSnapshotCacheReplacesScores(t *testing.T) {
	t.Parallel()
	sc, _ := newSnapshotCache(t)
	ctx := context.Background()
	first := model.Snapshot{ContestID: "c", Version: 1, Entries: []model.Entry{{UserID: "gone", Score: 500}}}
	second := model.Snapshot{ContestID: "c", Version: 2, Entries: []model.Entry{{UserID: "alice", Score: 100}}}
	for _, snap := range []model.Snapshot{first, second} {
		if err := sc.Save(ctx, snap); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	top, err := sc.TopScores(ctx, "c", 10)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	if len(top) != 1 || top[0].Member != "alice" {
		t.Fatalf("expected only alice, got %+v", top)
	}
}

func TestSnapshotCacheMissingContest(t *testing.T) {
	t.Parallel()
	sc, _ := newSnapshotCache(t)
	_, ok, err := sc.Load(context.Background(), "absent")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}
