package repository

import (
	"context"
	"database/sql"
	"time"

	"codearena/internal/common/db"
	"codearena/internal/contest/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

// MySQLSessionRepository implements SessionRepository with MySQL.
// Tokens are derived from session fields and are not stored.
type MySQLSessionRepository struct {
	db db.Database
}

func NewMySQLSessionRepository(database db.Database) *MySQLSessionRepository {
	return &MySQLSessionRepository{db: database}
}

const sessionColumns = "id, contest_id, user_id, joined_at, left_at, active"

func (r *MySQLSessionRepository) Create(ctx context.Context, session model.Session) error {
	if session.ID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	query := `
		INSERT INTO arena_sessions (id, contest_id, user_id, joined_at, left_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query, session.ID, session.ContestID, session.UserID,
		session.JoinedAt.UTC(), nullTime(session.LeftAt), session.Active)
	if err != nil {
		if _, dup := db.DuplicateKey(err); dup {
			return appErr.Wrap(pkgrepo.ErrAlreadyExists, appErr.RecordAlreadyExists)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert session failed")
	}
	return nil
}

func (r *MySQLSessionRepository) Update(ctx context.Context, session model.Session) error {
	res, err := r.db.Exec(ctx, "UPDATE arena_sessions SET left_at = ?, active = ? WHERE id = ?",
		nullTime(session.LeftAt), session.Active, session.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update session failed")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero rows when nothing changed, so confirm existence.
		if _, getErr := r.Get(ctx, session.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (r *MySQLSessionRepository) Get(ctx context.Context, sessionID string) (model.Session, error) {
	query := "SELECT " + sessionColumns + " FROM arena_sessions WHERE id = ? LIMIT 1"
	return r.getOne(ctx, query, sessionID)
}

func (r *MySQLSessionRepository) GetByUser(ctx context.Context, contestID, userID string) (model.Session, error) {
	query := "SELECT " + sessionColumns + " FROM arena_sessions WHERE contest_id = ? AND user_id = ? LIMIT 1"
	return r.getOne(ctx, query, contestID, userID)
}

func (r *MySQLSessionRepository) getOne(ctx context.Context, query string, args ...interface{}) (model.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Session{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.SessionNotFound)
		}
		return model.Session{}, appErr.Wrapf(err, appErr.DatabaseError, "get session failed")
	}
	return s, nil
}

func (r *MySQLSessionRepository) ListByContest(ctx context.Context, contestID string) ([]model.Session, error) {
	query := "SELECT " + sessionColumns + " FROM arena_sessions WHERE contest_id = ? ORDER BY joined_at ASC"
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list sessions failed")
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan session failed")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate sessions failed")
	}
	return out, nil
}

func scanSession(row scanner) (model.Session, error) {
	var (
		s      model.Session
		leftAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ContestID, &s.UserID, &s.JoinedAt, &leftAt, &s.Active); err != nil {
		return model.Session{}, err
	}
	if leftAt.Valid {
		s.LeftAt = leftAt.Time
	}
	return s, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
