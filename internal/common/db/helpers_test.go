package db

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestDuplicateKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		wantKey string
		wantHit bool
	}{
		{
			name:    "duplicate verdict",
			err:     fmt.Errorf("exec failed: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'sub-1' for key 'arena_verdicts.uk_submission'"}),
			wantKey: "arena_verdicts.uk_submission",
			wantHit: true,
		},
		{
			name: "other mysql error",
			err:  &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"},
		},
		{
			name: "plain error",
			err:  sql.ErrConnDone,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, ok := DuplicateKey(tt.err)
			if ok != tt.wantHit {
				t.Fatalf("expected hit=%v, got %v", tt.wantHit, ok)
			}
			if key != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, key)
			}
		})
	}
}

func TestIsNoRowsThroughWrap(t *testing.T) {
	t.Parallel()
	if !IsNoRows(fmt.Errorf("scan failed: %w", sql.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to match")
	}
}
