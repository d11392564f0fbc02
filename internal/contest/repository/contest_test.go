package repository

import (
	"context"
	"testing"
	"time"

	"codearena/internal/contest/model"
	appErr "codearena/pkg/errors"
)

func TestContestWindowFixedAfterStart(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryContestRepository()
	start := time.Now().Add(-time.Minute)
	if err := repo.Upsert(ctx, model.Contest{ID: "live", StartAt: start, Duration: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	err := repo.Upsert(ctx, model.Contest{ID: "live", StartAt: start, Duration: 2 * time.Hour})
	if !appErr.Is(err, appErr.ContestInvalid) {
		t.Fatalf("expected contest invalid, got %v", err)
	}
	if err := repo.Upsert(ctx, model.Contest{ID: "live", Title: "renamed", StartAt: start, Duration: time.Hour}); err != nil {
		t.Fatalf("expected title change to be allowed, got %v", err)
	}

	future := time.Now().Add(time.Hour)
	if err := repo.Upsert(ctx, model.Contest{ID: "later", StartAt: future, Duration: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, model.Contest{ID: "later", StartAt: future, Duration: 3 * time.Hour}); err != nil {
		t.Fatalf("expected change before start to be allowed, got %v", err)
	}
}

func TestContestValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		contest model.Contest
	}{
		{name: "no id", contest: model.Contest{StartAt: time.Now(), Duration: time.Hour}},
		{name: "no start", contest: model.Contest{ID: "x", Duration: time.Hour}},
		{name: "no duration", contest: model.Contest{ID: "x", StartAt: time.Now()}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := NewMemoryContestRepository().Upsert(context.Background(), tt.contest); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestContestGetMissing(t *testing.T) {
	t.Parallel()
	_, err := NewMemoryContestRepository().Get(context.Background(), "nope")
	if !appErr.Is(err, appErr.ContestNotFound) {
		t.Fatalf("expected contest not found, got %v", err)
	}
}

func TestSessionUniquePerContestUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	s := model.Session{ID: "s1", ContestID: "c", UserID: "alice", JoinedAt: time.Now(), Active: true}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := s
	dup.ID = "s2"
	if err := repo.Create(ctx, dup); !appErr.Is(err, appErr.RecordAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	s.Active = false
	s.UserID = "mallory"
	if err := repo.Update(ctx, s); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.GetByUser(ctx, "c", "alice")
	if err != nil {
		t.Fatalf("get by user: %v", err)
	}
	if got.Active || got.UserID != "alice" {
		t.Fatalf("unexpected session %+v", got)
	}
}
