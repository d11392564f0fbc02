package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"codearena/internal/contest/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

// ContestRepository stores contest definitions.
type ContestRepository interface {
	Get(ctx context.Context, contestID string) (model.Contest, error)
	List(ctx context.Context) ([]model.Contest, error)
	// Upsert creates or replaces a contest. The duration of a started contest
	// cannot change.
	Upsert(ctx context.Context, contest model.Contest) error
}

// MemoryContestRepository is an in-process ContestRepository.
type MemoryContestRepository struct {
	mu       sync.RWMutex
	contests map[string]model.Contest
}

func NewMemoryContestRepository() *MemoryContestRepository {
	return &MemoryContestRepository{contests: make(map[string]model.Contest)}
}

func (r *MemoryContestRepository) Get(ctx context.Context, contestID string) (model.Contest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contests[contestID]
	if !ok {
		return model.Contest{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.ContestNotFound)
	}
	c.Problems = slices.Clone(c.Problems)
	return c, nil
}

func (r *MemoryContestRepository) List(ctx context.Context) ([]model.Contest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Contest, 0, len(r.contests))
	for _, c := range r.contests {
		c.Problems = slices.Clone(c.Problems)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (r *MemoryContestRepository) Upsert(ctx context.Context, contest model.Contest) error {
	if err := validateContest(contest); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.contests[contest.ID]; ok {
		if err := checkDurationChange(existing, contest); err != nil {
			return err
		}
	}
	contest.Problems = slices.Clone(contest.Problems)
	r.contests[contest.ID] = contest
	return nil
}

func validateContest(c model.Contest) error {
	if c.ID == "" {
		return appErr.ValidationError("contest_id", "required")
	}
	if c.StartAt.IsZero() {
		return appErr.Newf(appErr.ContestInvalid, "contest %s has no start time", c.ID)
	}
	if c.Duration <= 0 {
		return appErr.Newf(appErr.ContestInvalid, "contest %s has non-positive duration", c.ID)
	}
	return nil
}

func checkDurationChange(existing, next model.Contest) error {
	if existing.Duration == next.Duration && existing.StartAt.Equal(next.StartAt) {
		return nil
	}
	if !nowFunc().Before(existing.StartAt) {
		return appErr.Newf(appErr.ContestInvalid, "contest %s already started, its window is fixed", existing.ID)
	}
	return nil
}
