package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

// scriptedDB answers Exec with execErr or an insert id, and every row read
// with sql.ErrNoRows.
type scriptedDB struct {
	mu      sync.Mutex
	execs   int
	execErr error
	lastID  int64
}

type scriptedResult struct{ id int64 }

func (r scriptedResult) LastInsertId() (int64, error) { return r.id, nil }
func (r scriptedResult) RowsAffected() (int64, error) { return 1, nil }

type noRow struct{}

func (noRow) Scan(...interface{}) error { return sql.ErrNoRows }

func (d *scriptedDB) Query(context.Context, string, ...interface{}) (db.Rows, error) {
	return nil, sql.ErrConnDone
}

func (d *scriptedDB) QueryRow(context.Context, string, ...interface{}) db.Row { return noRow{} }

func (d *scriptedDB) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs++
	if d.execErr != nil {
		return nil, d.execErr
	}
	return scriptedResult{id: d.lastID}, nil
}

func (d *scriptedDB) Transaction(context.Context, func(tx db.Transaction) error) error {
	return sql.ErrTxDone
}

func (d *scriptedDB) Ping(context.Context) error { return nil }
func (d *scriptedDB) Close() error { return nil }

func newCachedMySQLRepo(t *testing.T, database db.Database) *MySQLSubmissionRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return NewMySQLSubmissionRepository(database, c)
}

func TestMySQLSaveVerdictWarmsCache(t *testing.T) {
	t.Parallel()
	database := &scriptedDB{lastID: 7}
	repo := newCachedMySQLRepo(t, database)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)

	saved, err := repo.SaveVerdict(ctx, model.VerdictRecord{
		SubmissionID: "sub-1",
		UserID:       "alice",
		ContestID:    "weekly",
		ProblemID:    "P1",
		Verdict:      result.VerdictAccepted,
		Attempts:     1,
		SubmittedAt:  now,
		JudgedAt:     now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("save verdict: %v", err)
	}
	if saved.Seq != 7 {
		t.Fatalf("expected seq 7, got %d", saved.Seq)
	}

	// The database has no row, so a hit can only come from the cache.
	got, err := repo.GetVerdict(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get verdict: %v", err)
	}
	if got.Seq != 7 || got.Verdict != result.VerdictAccepted || got.UserID != "alice" {
		t.Fatalf("unexpected cached verdict %+v", got)
	}
}

func TestMySQLSaveVerdictDuplicate(t *testing.T) {
	t.Parallel()
	database := &scriptedDB{execErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'sub-1' for key 'arena_verdicts.uk_submission'"}}
	repo := newCachedMySQLRepo(t, database)

	_, err := repo.SaveVerdict(context.Background(), model.VerdictRecord{
		SubmissionID: "sub-1",
		Verdict:      result.VerdictWrongAnswer,
	})
	if !appErr.Is(err, appErr.VerdictAlreadyRecorded) {
		t.Fatalf("expected VerdictAlreadyRecorded, got %v", err)
	}
	if _, err := repo.GetVerdict(context.Background(), "sub-1"); !appErr.Is(err, appErr.RecordNotFound) {
		t.Fatalf("expected nothing cached for a rejected verdict, got %v", err)
	}
}
