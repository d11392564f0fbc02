package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// erDupEntry is MySQL's ER_DUP_ENTRY.
const erDupEntry = 1062

// Querier is implemented by both Database and Transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// QuerierFor runs statements inside tx when one is open.
func QuerierFor(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

// IsNoRows reports whether err wraps sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// DuplicateKey reports the unique index a failed insert collided on.
// Verdict and session rows are write-once, so callers map a hit to
// an already-exists error instead of retrying.
func DuplicateKey(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != erDupEntry {
		return "", false
	}
	return indexName(myErr.Message), true
}

// indexName pulls `idx` out of "Duplicate entry 'v' for key 'idx'".
func indexName(message string) string {
	_, after, found := strings.Cut(message, "for key ")
	if !found {
		return ""
	}
	return strings.Trim(strings.TrimSpace(after), " `\"'")
}
