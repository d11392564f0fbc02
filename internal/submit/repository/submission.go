package repository

import (
	"context"
	"sort"
	"sync"

	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

// SubmissionRepository stores the append-only submission history and the
// write-once verdict log.
type SubmissionRepository interface {
	Create(ctx context.Context, sub model.Submission) error
	Get(ctx context.Context, submissionID string) (model.Submission, error)
	// ListByUser returns the user's submissions newest first with their persisted status.
	ListByUser(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]model.HistoryItem, error)
	// ListPending returns submissions with neither a verdict nor a cancellation, oldest first.
	ListPending(ctx context.Context) ([]model.Submission, error)
	MarkCancelled(ctx context.Context, submissionID string) error

	// SaveVerdict records the outcome and assigns its sequence number.
	// A second call for the same submission fails with VerdictAlreadyRecorded.
	SaveVerdict(ctx context.Context, rec model.VerdictRecord) (model.VerdictRecord, error)
	GetVerdict(ctx context.Context, submissionID string) (model.VerdictRecord, error)
	// ListVerdicts returns a contest's verdict log in sequence order.
	ListVerdicts(ctx context.Context, contestID string) ([]model.VerdictRecord, error)
	ListVerdictContests(ctx context.Context) ([]string, error)
}

// MemorySubmissionRepository keeps everything in process memory.
type MemorySubmissionRepository struct {
	mu        sync.RWMutex
	subs      map[string]model.Submission
	order     []string
	cancelled map[string]bool
	verdicts  map[string]model.VerdictRecord
	log       []model.VerdictRecord
}

// NewMemorySubmissionRepository creates an empty repository.
func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return &MemorySubmissionRepository{
		subs:      make(map[string]model.Submission),
		cancelled: make(map[string]bool),
		verdicts:  make(map[string]model.VerdictRecord),
	}
}

func (r *MemorySubmissionRepository) Create(ctx context.Context, sub model.Submission) error {
	if sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[sub.ID]; exists {
		return appErr.Wrap(pkgrepo.ErrAlreadyExists, appErr.RecordAlreadyExists)
	}
	r.subs[sub.ID] = sub
	r.order = append(r.order, sub.ID)
	return nil
}

func (r *MemorySubmissionRepository) Get(ctx context.Context, submissionID string) (model.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[submissionID]
	if !ok {
		return model.Submission{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.SubmissionNotFound)
	}
	return sub, nil
}

func (r *MemorySubmissionRepository) ListByUser(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]model.HistoryItem, error) {
	if err := opts.Validate(); err != nil {
		return nil, appErr.Wrap(err, appErr.InvalidParams)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var mine []model.Submission
	for i := len(r.order) - 1; i >= 0; i-- {
		if sub := r.subs[r.order[i]]; sub.UserID == userID {
			mine = append(mine, sub)
		}
	}
	sortNewestFirst(mine)
	start, end := opts.Window(len(mine))
	items := make([]model.HistoryItem, 0, end-start)
	for _, sub := range mine[start:end] {
		var rec *model.VerdictRecord
		if v, ok := r.verdicts[sub.ID]; ok {
			rec = &v
		}
		items = append(items, model.HistoryItem{
			Submission: sub,
			Status:     persistedStatus(sub, rec, r.cancelled[sub.ID]),
		})
	}
	return items, nil
}

func (r *MemorySubmissionRepository) ListPending(ctx context.Context) ([]model.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []model.Submission
	for _, id := range r.order {
		if _, judged := r.verdicts[id]; judged || r.cancelled[id] {
			continue
		}
		pending = append(pending, r.subs[id])
	}
	return pending, nil
}

func (r *MemorySubmissionRepository) MarkCancelled(ctx context.Context, submissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[submissionID]; !ok {
		return appErr.Wrap(pkgrepo.ErrNotFound, appErr.SubmissionNotFound)
	}
	if _, judged := r.verdicts[submissionID]; judged {
		return appErr.Wrap(pkgrepo.ErrConflict, appErr.VerdictAlreadyRecorded)
	}
	r.cancelled[submissionID] = true
	return nil
}

func (r *MemorySubmissionRepository) SaveVerdict(ctx context.Context, rec model.VerdictRecord) (model.VerdictRecord, error) {
	if rec.SubmissionID == "" {
		return model.VerdictRecord{}, appErr.ValidationError("submission_id", "required")
	}
	if !rec.Verdict.Valid() {
		return model.VerdictRecord{}, appErr.ValidationError("verdict", "unknown verdict")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.verdicts[rec.SubmissionID]; exists {
		return model.VerdictRecord{}, appErr.Wrap(pkgrepo.ErrConflict, appErr.VerdictAlreadyRecorded)
	}
	rec.Seq = int64(len(r.log) + 1)
	r.verdicts[rec.SubmissionID] = rec
	r.log = append(r.log, rec)
	return rec, nil
}

func (r *MemorySubmissionRepository) GetVerdict(ctx context.Context, submissionID string) (model.VerdictRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.verdicts[submissionID]
	if !ok {
		return model.VerdictRecord{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.RecordNotFound)
	}
	return rec, nil
}

func (r *MemorySubmissionRepository) ListVerdicts(ctx context.Context, contestID string) ([]model.VerdictRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.VerdictRecord
	for _, rec := range r.log {
		if rec.ContestID == contestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemorySubmissionRepository) ListVerdictContests(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range r.log {
		if _, ok := seen[rec.ContestID]; ok {
			continue
		}
		seen[rec.ContestID] = struct{}{}
		out = append(out, rec.ContestID)
	}
	sort.Strings(out)
	return out, nil
}

// persistedStatus derives a status from stored data alone.
func persistedStatus(sub model.Submission, rec *model.VerdictRecord, cancelled bool) model.Status {
	st := model.NewQueuedStatus(sub)
	switch {
	case rec != nil:
		st.State = model.StateDone
		st.Verdict = rec.Verdict
		st.Attempts = rec.Attempts
		st.FinishedAt = rec.JudgedAt
		st.Result = rec.Result
	case cancelled:
		st.State = model.StateDone
		st.Cancelled = true
	}
	return st
}

func sortNewestFirst(subs []model.Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].SubmittedAt.After(subs[j].SubmittedAt)
	})
}

var _ SubmissionRepository = (*MemorySubmissionRepository)(nil)
