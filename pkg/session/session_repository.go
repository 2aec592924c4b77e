package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound = errors.New("session does not exist")
	ErrSessionExists   = errors.New("session already exists")
)

// Repository stores accounting sessions. Closed sessions are kept for the
// store's retention period so they can still be listed.
type Repository interface {
	Create(ctx context.Context, session Session) (Session, error)
	Update(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userName string) ([]Session, error)
	CountOpen(ctx context.Context, userName string) (int, error)
}

const (
	defaultRetention       = 24 * time.Hour
	cleanupIntervalSeconds = 10
)

type inMemorySessionRepository struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	retention time.Duration
	logger    logrus.FieldLogger
}

func (sr *inMemorySessionRepository) Create(_ context.Context, session Session) (Session, error) {
	if session.ID == "" {
		return session, errors.New("session id is empty")
	}
	now := time.Now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.UpdatedAt = now
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if _, ok := sr.sessions[session.ID]; ok {
		return session, errors.Wrapf(ErrSessionExists, "session %s", session.ID)
	}
	sr.sessions[session.ID] = session
	return session, nil
}

func (sr *inMemorySessionRepository) Update(_ context.Context, session Session) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if _, ok := sr.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	sr.sessions[session.ID] = session
	return nil
}

func (sr *inMemorySessionRepository) Get(_ context.Context, id string) (Session, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if session, ok := sr.sessions[id]; ok {
		return session, nil
	}
	return Session{}, ErrSessionNotFound
}

func (sr *inMemorySessionRepository) Delete(_ context.Context, id string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if _, ok := sr.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(sr.sessions, id)
	return nil
}

func (sr *inMemorySessionRepository) ListByUser(_ context.Context, userName string) ([]Session, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	var res []Session
	for _, s := range sr.sessions {
		if s.UserName == userName {
			res = append(res, s)
		}
	}
	sortSessions(res)
	return res, nil
}

func (sr *inMemorySessionRepository) CountOpen(_ context.Context, userName string) (int, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	count := 0
	for _, s := range sr.sessions {
		if s.Open && s.UserName == userName {
			count++
		}
	}
	return count, nil
}

func (sr *inMemorySessionRepository) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(time.Second * cleanupIntervalSeconds)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sr.removeExpired(time.Now())
		}
	}
}

func (sr *inMemorySessionRepository) removeExpired(now time.Time) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for k, sess := range sr.sessions {
		if !sess.Open && now.Sub(sess.StoppedAt) > sr.retention {
			sr.logger.Debugf("delete session %s due to timeout", sess.ID)
			delete(sr.sessions, k)
		}
	}
}

// NewInMemorySessionRepository starts a cleanup goroutine that stops with ctx.
func NewInMemorySessionRepository(ctx context.Context, retention time.Duration) Repository {
	if retention <= 0 {
		retention = defaultRetention
	}
	repo := &inMemorySessionRepository{
		sessions:  make(map[string]Session),
		retention: retention,
		logger:    log.WithField("module", "session"),
	}
	go repo.cleanupExpired(ctx)
	return repo
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		return s[i].StartedAt.Before(s[j].StartedAt)
	})
}
