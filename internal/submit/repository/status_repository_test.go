package repository

import (
	"context"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestStatusRepositoryRoundTrip(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	repo := NewStatusRepository(c, time.Hour)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "s1"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
	want := model.Status{SubmissionID: "s1", UserID: "alice", State: model.StateDone, Verdict: result.VerdictAccepted, Attempts: 1}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Verdict != result.VerdictAccepted || got.State != model.StateDone {
		t.Fatalf("unexpected status: %+v", got)
	}
	if ttl := mr.TTL(statusKeyPrefix + "s1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", ttl)
	}
}
