package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"codearena/internal/contest/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

var nowFunc = time.Now

// SessionRepository stores contest sessions. A (contest, user) pair has at
// most one session.
type SessionRepository interface {
	// Create stores a new session and fails with RecordAlreadyExists when the
	// pair already has one.
	Create(ctx context.Context, session model.Session) error
	Update(ctx context.Context, session model.Session) error
	Get(ctx context.Context, sessionID string) (model.Session, error)
	GetByUser(ctx context.Context, contestID, userID string) (model.Session, error)
	ListByContest(ctx context.Context, contestID string) ([]model.Session, error)
}

// MemorySessionRepository is an in-process SessionRepository.
type MemorySessionRepository struct {
	mu     sync.RWMutex
	byID   map[string]model.Session
	byPair map[string]string
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		byID:   make(map[string]model.Session),
		byPair: make(map[string]string),
	}
}

func pairKey(contestID, userID string) string {
	return contestID + "\x00" + userID
}

func (r *MemorySessionRepository) Create(ctx context.Context, session model.Session) error {
	if session.ID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(session.ContestID, session.UserID)
	if _, ok := r.byPair[key]; ok {
		return appErr.Wrap(pkgrepo.ErrAlreadyExists, appErr.RecordAlreadyExists)
	}
	if _, ok := r.byID[session.ID]; ok {
		return appErr.Wrap(pkgrepo.ErrAlreadyExists, appErr.RecordAlreadyExists)
	}
	r.byID[session.ID] = session
	r.byPair[key] = session.ID
	return nil
}

func (r *MemorySessionRepository) Update(ctx context.Context, session model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[session.ID]
	if !ok {
		return appErr.Wrap(pkgrepo.ErrNotFound, appErr.SessionNotFound)
	}
	// Identity fields never change.
	session.ContestID = existing.ContestID
	session.UserID = existing.UserID
	r.byID[session.ID] = session
	return nil
}

func (r *MemorySessionRepository) Get(ctx context.Context, sessionID string) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return model.Session{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.SessionNotFound)
	}
	return s, nil
}

func (r *MemorySessionRepository) GetByUser(ctx context.Context, contestID, userID string) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey(contestID, userID)]
	if !ok {
		return model.Session{}, appErr.Wrap(pkgrepo.ErrNotFound, appErr.SessionNotFound)
	}
	return r.byID[id], nil
}

func (r *MemorySessionRepository) ListByContest(ctx context.Context, contestID string) ([]model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, s := range r.byID {
		if s.ContestID == contestID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}
