package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := SetGlobal(NewWithZap(zap.New(core)))
	defer SetGlobal(prev)

	ctx := WithSubmission(context.Background(), "sub-1", "weekly-1", "alice")
	Info(ctx, "judged", zap.String("verdict", "Accepted"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for key, want := range map[string]string{
		"submission_id": "sub-1",
		"contest_id":    "weekly-1",
		"user_id":       "alice",
		"verdict":       "Accepted",
	} {
		if fields[key] != want {
			t.Fatalf("expected %s=%s, got %v", key, want, fields[key])
		}
	}
}

func TestNilGlobalIsNoop(t *testing.T) {
	prev := SetGlobal(nil)
	defer SetGlobal(prev)
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("expected nil sync error, got %v", err)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	t.Parallel()
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
