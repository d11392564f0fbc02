package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

const (
	defaultVerdictCacheTTL      = 30 * time.Minute
	defaultVerdictCacheEmptyTTL = 10 * time.Second
	verdictCacheKeyPrefix       = "arena:verdict:"
)

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
// Verdicts are immutable once written, so reads go through the cache.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewMySQLSubmissionRepository creates a submission repository with defaults.
// cacheClient may be nil.
func NewMySQLSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultVerdictCacheTTL,
		emptyTTL: defaultVerdictCacheEmptyTTL,
	}
}

const submissionColumns = "s.id, s.user_id, s.contest_id, s.problem_id, s.language, s.source, s.submitted_at"

func (r *MySQLSubmissionRepository) Create(ctx context.Context, sub model.Submission) error {
	if sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	query := `
		INSERT INTO arena_submissions
		(id, user_id, contest_id, problem_id, language, source, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query, sub.ID, sub.UserID, sub.ContestID, sub.ProblemID, sub.Language, sub.Source, sub.SubmittedAt.UTC())
	if err != nil {
		if _, dup := db.DuplicateKey(err); dup {
			return appErr.Wrap(pkgrepo.ErrAlreadyExists, appErr.RecordAlreadyExists)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	return nil
}

func (r *MySQLSubmissionRepository) Get(ctx context.Context, submissionID string) (model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM arena_submissions s WHERE s.id = ? LIMIT 1"
	var sub model.Submission
	err := r.db.QueryRow(ctx, query, submissionID).Scan(
		&sub.ID, &sub.UserID, &sub.ContestID, &sub.ProblemID, &sub.Language, &sub.Source, &sub.SubmittedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.SubmissionNotFound)
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return sub, nil
}

func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]model.HistoryItem, error) {
	if err := opts.Validate(); err != nil {
		return nil, appErr.Wrap(err, appErr.InvalidParams)
	}
	query := "SELECT " + submissionColumns + `, s.cancelled,
		v.seq, v.verdict, v.attempts, v.judged_at, v.result
		FROM arena_submissions s
		LEFT JOIN arena_verdicts v ON v.submission_id = s.id
		WHERE s.user_id = ?
		ORDER BY s.submitted_at DESC, s.seq DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.Query(ctx, query, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	defer rows.Close()

	var items []model.HistoryItem
	for rows.Next() {
		var (
			sub       model.Submission
			cancelled bool
			seq       sql.NullInt64
			verdict   sql.NullString
			attempts  sql.NullInt64
			judgedAt  sql.NullTime
			detail    sql.NullString
		)
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.ContestID, &sub.ProblemID, &sub.Language, &sub.Source, &sub.SubmittedAt,
			&cancelled, &seq, &verdict, &attempts, &judgedAt, &detail,
		); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
		}
		var rec *model.VerdictRecord
		if seq.Valid {
			rec = &model.VerdictRecord{
				Seq:      seq.Int64,
				Verdict:  result.Verdict(verdict.String),
				Attempts: int(attempts.Int64),
				JudgedAt: judgedAt.Time,
				Result:   decodeResult(detail),
			}
		}
		items = append(items, model.HistoryItem{Submission: sub, Status: persistedStatus(sub, rec, cancelled)})
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions failed")
	}
	return items, nil
}

func (r *MySQLSubmissionRepository) ListPending(ctx context.Context) ([]model.Submission, error) {
	query := "SELECT " + submissionColumns + `
		FROM arena_submissions s
		LEFT JOIN arena_verdicts v ON v.submission_id = s.id
		WHERE v.seq IS NULL AND s.cancelled = 0
		ORDER BY s.seq ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list pending submissions failed")
	}
	defer rows.Close()
	var out []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ContestID, &sub.ProblemID, &sub.Language, &sub.Source, &sub.SubmittedAt); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions failed")
	}
	return out, nil
}

func (r *MySQLSubmissionRepository) MarkCancelled(ctx context.Context, submissionID string) error {
	res, err := r.db.Exec(ctx, "UPDATE arena_submissions SET cancelled = 1 WHERE id = ?", submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "cancel submission failed")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErr.Wrap(pkgrepo.ErrNotFound, appErr.SubmissionNotFound)
	}
	return nil
}

func (r *MySQLSubmissionRepository) SaveVerdict(ctx context.Context, rec model.VerdictRecord) (model.VerdictRecord, error) {
	if rec.SubmissionID == "" {
		return model.VerdictRecord{}, appErr.ValidationError("submission_id", "required")
	}
	if !rec.Verdict.Valid() {
		return model.VerdictRecord{}, appErr.ValidationError("verdict", "unknown verdict")
	}
	detail, err := encodeResult(rec.Result)
	if err != nil {
		return model.VerdictRecord{}, appErr.Wrapf(err, appErr.InternalServerError, "encode verdict detail failed")
	}
	query := `
		INSERT INTO arena_verdicts
		(submission_id, user_id, contest_id, problem_id, verdict, attempts, submitted_at, judged_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Exec(ctx, query,
		rec.SubmissionID, rec.UserID, rec.ContestID, rec.ProblemID, string(rec.Verdict), rec.Attempts,
		rec.SubmittedAt.UTC(), rec.JudgedAt.UTC(), detail,
	)
	if err != nil {
		if _, dup := db.DuplicateKey(err); dup {
			return model.VerdictRecord{}, appErr.Wrap(pkgrepo.ErrConflict, appErr.VerdictAlreadyRecorded)
		}
		return model.VerdictRecord{}, appErr.Wrapf(err, appErr.DatabaseError, "insert verdict failed")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.VerdictRecord{}, appErr.Wrapf(err, appErr.DatabaseError, "read verdict sequence failed")
	}
	rec.Seq = seq
	if r.cache != nil {
		_ = r.cache.Set(ctx, verdictCacheKey(rec.SubmissionID), marshalVerdict(&rec), cache.JitterTTL(r.ttl))
	}
	return rec, nil
}

func (r *MySQLSubmissionRepository) GetVerdict(ctx context.Context, submissionID string) (model.VerdictRecord, error) {
	rec, err := cache.GetWithCached[*model.VerdictRecord](
		ctx,
		r.cache,
		verdictCacheKey(submissionID),
		r.ttl,
		r.emptyTTL,
		func(rec *model.VerdictRecord) bool { return rec == nil },
		marshalVerdict,
		unmarshalVerdict,
		func(ctx context.Context) (*model.VerdictRecord, error) {
			return r.getVerdictFromDB(ctx, submissionID)
		},
	)
	if err != nil {
		return model.VerdictRecord{}, err
	}
	if rec == nil {
		return model.VerdictRecord{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.RecordNotFound)
	}
	return *rec, nil
}

const verdictColumns = "seq, submission_id, user_id, contest_id, problem_id, verdict, attempts, submitted_at, judged_at, result"

func (r *MySQLSubmissionRepository) getVerdictFromDB(ctx context.Context, submissionID string) (*model.VerdictRecord, error) {
	query := "SELECT " + verdictColumns + " FROM arena_verdicts WHERE submission_id = ? LIMIT 1"
	rec, err := scanVerdict(r.db.QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get verdict failed")
	}
	return &rec, nil
}

func (r *MySQLSubmissionRepository) ListVerdicts(ctx context.Context, contestID string) ([]model.VerdictRecord, error) {
	query := "SELECT " + verdictColumns + " FROM arena_verdicts WHERE contest_id = ? ORDER BY seq ASC"
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list verdicts failed")
	}
	defer rows.Close()
	var out []model.VerdictRecord
	for rows.Next() {
		rec, err := scanVerdict(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan verdict failed")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate verdicts failed")
	}
	return out, nil
}

func (r *MySQLSubmissionRepository) ListVerdictContests(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, "SELECT DISTINCT contest_id FROM arena_verdicts ORDER BY contest_id")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list verdict contests failed")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan contest id failed")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVerdict(row scanner) (model.VerdictRecord, error) {
	var (
		rec     model.VerdictRecord
		verdict string
		detail  sql.NullString
	)
	if err := row.Scan(
		&rec.Seq, &rec.SubmissionID, &rec.UserID, &rec.ContestID, &rec.ProblemID,
		&verdict, &rec.Attempts, &rec.SubmittedAt, &rec.JudgedAt, &detail,
	); err != nil {
		return model.VerdictRecord{}, err
	}
	rec.Verdict = result.Verdict(verdict)
	rec.Result = decodeResult(detail)
	return rec, nil
}

func encodeResult(res *result.JudgeResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeResult(detail sql.NullString) *result.JudgeResult {
	if !detail.Valid || detail.String == "" {
		return nil
	}
	var res result.JudgeResult
	if err := json.Unmarshal([]byte(detail.String), &res); err != nil {
		return nil
	}
	return &res
}

func verdictCacheKey(submissionID string) string {
	return verdictCacheKeyPrefix + submissionID
}

func marshalVerdict(rec *model.VerdictRecord) string {
	if rec == nil {
		return ""
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalVerdict(data string) (*model.VerdictRecord, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var rec model.VerdictRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
