package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/contest/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

const (
	defaultContestCacheTTL      = 10 * time.Minute
	defaultContestCacheEmptyTTL = 30 * time.Second
	contestCacheKeyPrefix       = "arena:contest:"
)

// MySQLContestRepository implements ContestRepository with MySQL and an
// optional read-through cache.
type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewMySQLContestRepository(database db.Database, cacheClient cache.Cache) *MySQLContestRepository {
	return &MySQLContestRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultContestCacheTTL,
		emptyTTL: defaultContestCacheEmptyTTL,
	}
}

const contestColumns = "id, title, start_at, duration_ms, problems"

func (r *MySQLContestRepository) Get(ctx context.Context, contestID string) (model.Contest, error) {
	c, err := cache.GetWithCached[*model.Contest](
		ctx,
		r.cache,
		contestCacheKeyPrefix+contestID,
		r.ttl,
		r.emptyTTL,
		func(c *model.Contest) bool { return c == nil },
		marshalContest,
		unmarshalContest,
		func(ctx context.Context) (*model.Contest, error) {
			return r.getFromDB(ctx, nil, contestID)
		},
	)
	if err != nil {
		return model.Contest{}, err
	}
	if c == nil {
		return model.Contest{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.ContestNotFound)
	}
	return *c, nil
}

func (r *MySQLContestRepository) getFromDB(ctx context.Context, tx db.Transaction, contestID string) (*model.Contest, error) {
	query := "SELECT " + contestColumns + " FROM arena_contests WHERE id = ? LIMIT 1"
	if tx != nil {
		query += " FOR UPDATE"
	}
	c, err := scanContest(db.QuerierFor(r.db, tx).QueryRow(ctx, query, contestID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	return &c, nil
}

func (r *MySQLContestRepository) List(ctx context.Context) ([]model.Contest, error) {
	rows, err := r.db.Query(ctx, "SELECT "+contestColumns+" FROM arena_contests ORDER BY start_at ASC")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contests failed")
	}
	defer rows.Close()
	var out []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan contest failed")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate contests failed")
	}
	return out, nil
}

func (r *MySQLContestRepository) Upsert(ctx context.Context, contest model.Contest) error {
	if err := validateContest(contest); err != nil {
		return err
	}
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		existing, err := r.getFromDB(ctx, tx, contest.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := checkDurationChange(*existing, contest); err != nil {
				return err
			}
		}
		query := `
			INSERT INTO arena_contests (id, title, start_at, duration_ms, problems)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE title = VALUES(title), start_at = VALUES(start_at),
				duration_ms = VALUES(duration_ms), problems = VALUES(problems)
		`
		_, err = tx.Exec(ctx, query, contest.ID, contest.Title, contest.StartAt.UTC(),
			contest.Duration.Milliseconds(), strings.Join(contest.Problems, ","))
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "upsert contest failed")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, contestCacheKeyPrefix+contest.ID)
	}
	return nil
}

func scanContest(row scanner) (model.Contest, error) {
	var (
		c          model.Contest
		durationMs int64
		problems   string
	)
	if err := row.Scan(&c.ID, &c.Title, &c.StartAt, &durationMs, &problems); err != nil {
		return model.Contest{}, err
	}
	c.Duration = time.Duration(durationMs) * time.Millisecond
	if problems != "" {
		c.Problems = strings.Split(problems, ",")
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func marshalContest(c *model.Contest) string {
	if c == nil {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalContest(raw string) (*model.Contest, error) {
	var c model.Contest
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
