package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codearena/internal/contest/model"
	"codearena/internal/contest/repository"
	"codearena/internal/judge/sandbox/result"
	submitModel "codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
	"codearena/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const defaultTokenGrace = 24 * time.Hour

// HistorySource lists a user's stored submissions, newest first.
type HistorySource interface {
	ListByUser(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]submitModel.HistoryItem, error)
}

// LiveStatus exposes statuses of submissions still held by the scheduler.
type LiveStatus interface {
	Status(submissionID string) (submitModel.Status, bool)
}

// QueueCanceller drops a user's queued submissions.
type QueueCanceller interface {
	CancelQueued(ctx context.Context, userID, contestID string) int
}

// Config holds manager dependencies and settings.
type Config struct {
	Contests repository.ContestRepository
	Sessions repository.SessionRepository
	History  HistorySource
	Live     LiveStatus
	Queue    QueueCanceller

	Secret []byte
	Issuer string
	// TokenGrace keeps tokens valid after the contest ends so users can
	// still leave and read history.
	TokenGrace time.Duration
	Now        func() time.Time
}

// Manager tracks contest membership, contest windows and user history.
type Manager struct {
	cfg Config

	joinMu       sync.Mutex
	participants *xsync.MapOf[string, mapset.Set[string]]
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Contests == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("contest and session repositories are required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history source is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("session secret is required")
	}
	if cfg.TokenGrace <= 0 {
		cfg.TokenGrace = defaultTokenGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:          cfg,
		participants: xsync.NewMapOf[string, mapset.Set[string]](),
	}, nil
}

func (m *Manager) now() time.Time {
	return m.cfg.Now()
}

// Contest returns a contest definition.
func (m *Manager) Contest(ctx context.Context, contestID string) (model.Contest, error) {
	return m.cfg.Contests.Get(ctx, contestID)
}

// Join adds userID to a contest and returns its session. Joining again
// returns the same session, reactivating it after a leave.
func (m *Manager) Join(ctx context.Context, contestID, userID string) (model.Session, error) {
	if contestID == "" {
		return model.Session{}, appErr.ValidationError("contest_id", "required")
	}
	if userID == "" {
		return model.Session{}, appErr.ValidationError("user_id", "required")
	}
	contest, err := m.cfg.Contests.Get(ctx, contestID)
	if err != nil {
		return model.Session{}, err
	}
	now := m.now()
	if contest.EndedAt(now) {
		return model.Session{}, appErr.New(appErr.ContestEnded).WithDetail("contest_id", contestID)
	}

	m.joinMu.Lock()
	defer m.joinMu.Unlock()

	session, err := m.cfg.Sessions.GetByUser(ctx, contestID, userID)
	switch {
	case err == nil:
		if !session.Active {
			session.Active = true
			session.LeftAt = time.Time{}
			if err := m.cfg.Sessions.Update(ctx, session); err != nil {
				return model.Session{}, err
			}
			logger.Info(ctx, "contest session resumed", zap.String("contest_id", contestID), zap.String("user_id", userID))
		}
	case appErr.Is(err, appErr.SessionNotFound):
		session = model.Session{
			ID:        uuid.NewString(),
			ContestID: contestID,
			UserID:    userID,
			JoinedAt:  now,
			Active:    true,
		}
		if session.Token, err = m.signToken(session, contest); err != nil {
			return model.Session{}, err
		}
		if err := m.cfg.Sessions.Create(ctx, session); err != nil {
			return model.Session{}, err
		}
		logger.Info(ctx, "contest joined", zap.String("contest_id", contestID), zap.String("user_id", userID),
			zap.String("session_id", session.ID))
	default:
		return model.Session{}, err
	}

	if session.Token == "" {
		if session.Token, err = m.signToken(session, contest); err != nil {
			return model.Session{}, err
		}
	}
	m.participantSet(ctx, contestID).Add(userID)
	return session, nil
}

// Leave deactivates the session behind token and drops the user's queued
// submissions. History and leaderboard entries are kept.
func (m *Manager) Leave(ctx context.Context, token string) (model.Session, error) {
	claims, err := m.parseToken(token)
	if err != nil {
		return model.Session{}, err
	}

	m.joinMu.Lock()
	session, err := m.cfg.Sessions.Get(ctx, claims.ID)
	if err != nil {
		m.joinMu.Unlock()
		return model.Session{}, err
	}
	wasActive := session.Active
	if wasActive {
		session.Active = false
		session.LeftAt = m.now()
		if err := m.cfg.Sessions.Update(ctx, session); err != nil {
			m.joinMu.Unlock()
			return model.Session{}, err
		}
	}
	m.joinMu.Unlock()

	m.participantSet(ctx, session.ContestID).Remove(session.UserID)
	if wasActive && m.cfg.Queue != nil {
		dropped := m.cfg.Queue.CancelQueued(ctx, session.UserID, session.ContestID)
		logger.Info(ctx, "contest left", zap.String("contest_id", session.ContestID),
			zap.String("user_id", session.UserID), zap.Int("cancelled", dropped))
	}
	session.Token = token
	return session, nil
}

// Authorize validates token and returns its active session. The contest
// must be running.
func (m *Manager) Authorize(ctx context.Context, token string) (model.Session, error) {
	claims, err := m.parseToken(token)
	if err != nil {
		return model.Session{}, err
	}
	session, err := m.cfg.Sessions.Get(ctx, claims.ID)
	if err != nil {
		return model.Session{}, err
	}
	if session.UserID != claims.Subject || session.ContestID != claims.ContestID {
		return model.Session{}, appErr.New(appErr.TokenInvalid)
	}
	if !session.Active {
		return model.Session{}, appErr.New(appErr.SessionExpired).WithMessage("session was left")
	}
	contest, err := m.cfg.Contests.Get(ctx, session.ContestID)
	if err != nil {
		return model.Session{}, err
	}
	if !contest.ActiveAt(m.now()) {
		return model.Session{}, appErr.New(appErr.ContestNotActive).WithDetail("contest_id", contest.ID)
	}
	session.Token = token
	return session, nil
}

// IsActive reports whether the contest is running now. Unknown contests are inactive.
func (m *Manager) IsActive(ctx context.Context, contestID string) bool {
	contest, err := m.cfg.Contests.Get(ctx, contestID)
	if err != nil {
		return false
	}
	return contest.ActiveAt(m.now())
}

// StartTimes resolves contest start times straight from the repository.
// It lets the leaderboard be built before the manager exists.
type StartTimes struct {
	Contests repository.ContestRepository
}

func (s StartTimes) StartTime(contestID string) (time.Time, bool) {
	contest, err := s.Contests.Get(context.Background(), contestID)
	if err != nil {
		return time.Time{}, false
	}
	return contest.StartAt, true
}

// Participants returns the users with an active session in a contest.
func (m *Manager) Participants(ctx context.Context, contestID string) []string {
	return m.participantSet(ctx, contestID).ToSlice()
}

func (m *Manager) participantSet(ctx context.Context, contestID string) mapset.Set[string] {
	set, _ := m.participants.LoadOrCompute(contestID, func() mapset.Set[string] {
		set := mapset.NewSet[string]()
		sessions, err := m.cfg.Sessions.ListByContest(ctx, contestID)
		if err != nil {
			logger.Warn(ctx, "load contest participants failed", zap.String("contest_id", contestID), zap.Error(err))
			return set
		}
		for _, s := range sessions {
			if s.Active {
				set.Add(s.UserID)
			}
		}
		return set
	})
	return set
}

// History returns the user's submissions newest first, with live scheduler
// status overriding what has been stored so far.
func (m *Manager) History(ctx context.Context, userID string, opts pkgrepo.ListOptions) ([]submitModel.HistoryItem, error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	items, err := m.cfg.History.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	if m.cfg.Live == nil {
		return items, nil
	}
	for i := range items {
		if live, ok := m.cfg.Live.Status(items[i].Submission.ID); ok {
			items[i].Status = live
		}
	}
	return items, nil
}

// Stats summarizes every submission of userID.
func (m *Manager) Stats(ctx context.Context, userID string) (model.Stats, error) {
	stats := model.Stats{UserID: userID}
	solved := mapset.NewThreadUnsafeSet[string]()
	opts := pkgrepo.ListOptions{Limit: pkgrepo.MaxListLimit}
	for {
		page, err := m.History(ctx, userID, opts)
		if err != nil {
			return model.Stats{}, err
		}
		for _, item := range page {
			st := item.Status
			switch {
			case st.Cancelled:
			case !st.Done():
				stats.Pending++
			default:
				stats.Total++
				if st.Verdict == result.VerdictAccepted {
					stats.Accepted++
					solved.Add(item.Submission.ProblemID)
				}
			}
		}
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}
	stats.UniqueSolved = solved.Cardinality()
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Accepted) / float64(stats.Total)
	}
	return stats, nil
}
