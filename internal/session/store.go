// File: internal/session/store.go
// Description: In-memory session store with TTL-based reaping. A session owns
// one browser tab and serializes its mutations through a per-session lock:
// concurrent calls against the same session fail fast as busy instead of
// queueing, because interleaved browser interactions on one tab are not
// meaningful.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Session is the per-workflow state the orchestrator mutates stage by stage.
// All fields except the identifiers are guarded by the store-issued lease.
type Session struct {
	ID   string
	Site string

	Stage       schemas.Stage
	Plan        schemas.ActionPlan
	LastResults []schemas.ProductRecord
	Selected    *schemas.ProductRecord

	Browser schemas.BrowserSession

	CreatedAt    time.Time
	LastActiveAt time.Time

	mu sync.Mutex
}

// Info snapshots the externally visible session state. Callers must hold the
// lease.
func (s *Session) Info() schemas.SessionInfo {
	return schemas.SessionInfo{
		SessionID:    s.ID,
		Site:         s.Site,
		Stage:        s.Stage,
		Products:     len(s.LastResults),
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
}

// Store holds live sessions and evicts the idle ones.
type Store struct {
	cfg    config.SessionConfig
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	reapStop chan struct{}
	reapDone chan struct{}
	stopOnce sync.Once
}

// NewStore creates the store and starts its background reaper.
func NewStore(cfg config.SessionConfig, logger *zap.Logger) *Store {
	st := &Store{
		cfg:      cfg,
		logger:   logger.Named("session_store"),
		sessions: make(map[string]*Session),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	go st.reapLoop()
	return st
}

// Create registers a new session for a browser tab. The ID encodes the site
// and creation time so operators can eyeball a session's origin in logs.
func (st *Store) Create(site string, plan schemas.ActionPlan, browser schemas.BrowserSession) *Session {
	now := time.Now()
	s := &Session{
		ID:           fmt.Sprintf("%s_%d", site, now.Unix()),
		Site:         site,
		Stage:        schemas.StageSearching,
		Plan:         plan,
		Browser:      browser,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	st.mu.Lock()
	// Sub-second collisions on the same site get a disambiguating suffix.
	for i := 2; ; i++ {
		if _, exists := st.sessions[s.ID]; !exists {
			break
		}
		s.ID = fmt.Sprintf("%s_%d_%d", site, now.Unix(), i)
	}
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.logger.Info("Session created.", zap.String("session_id", s.ID), zap.String("site", site))
	return s
}

// Acquire leases a session for exclusive use. A missing or closed session is
// SessionExpired; a session already leased by another request is SessionBusy.
// The returned release function must be called exactly once.
func (st *Store) Acquire(sessionID string) (*Session, func(), error) {
	st.mu.RLock()
	s, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return nil, nil, schemas.NewStageError(schemas.CodeSessionExpired, "session %q does not exist or has expired", sessionID)
	}

	if !s.mu.TryLock() {
		return nil, nil, schemas.NewStageError(schemas.CodeSessionBusy, "session %q is processing another request", sessionID)
	}
	if s.Stage == schemas.StageClosed {
		s.mu.Unlock()
		return nil, nil, schemas.NewStageError(schemas.CodeSessionExpired, "session %q is closed", sessionID)
	}

	s.LastActiveAt = time.Now()
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.LastActiveAt = time.Now()
			s.mu.Unlock()
		})
	}
	return s, release, nil
}

// Remove closes a session's browser and drops it from the store. Callers must
// hold the lease.
func (st *Store) Remove(ctx context.Context, s *Session) {
	s.Stage = schemas.StageClosed
	if s.Browser != nil {
		if err := s.Browser.Close(ctx); err != nil {
			st.logger.Warn("Error closing session browser.", zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	st.mu.Lock()
	delete(st.sessions, s.ID)
	st.mu.Unlock()
	st.logger.Info("Session removed.", zap.String("session_id", s.ID))
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Snapshot lists the current sessions without leasing them; stages may be
// mid-transition and are informational only.
func (st *Store) Snapshot() []schemas.SessionInfo {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]schemas.SessionInfo, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Close stops the reaper and tears down every remaining session.
func (st *Store) Close(ctx context.Context) {
	st.stopOnce.Do(func() {
		close(st.reapStop)
	})
	<-st.reapDone

	st.mu.Lock()
	remaining := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		remaining = append(remaining, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, s := range remaining {
		s.mu.Lock()
		s.Stage = schemas.StageClosed
		if s.Browser != nil {
			if err := s.Browser.Close(ctx); err != nil {
				st.logger.Warn("Error closing session browser during store shutdown.", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
		s.mu.Unlock()
	}
	st.logger.Info("Session store closed.", zap.Int("sessions_torn_down", len(remaining)))
}

// reapLoop periodically evicts sessions idle past the TTL. A session mid-lease
// is by definition active and is skipped via TryLock.
func (st *Store) reapLoop() {
	defer close(st.reapDone)
	ticker := time.NewTicker(st.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.reapStop:
			return
		case <-ticker.C:
			st.reapOnce()
		}
	}
}

func (st *Store) reapOnce() {
	cutoff := time.Now().Add(-st.cfg.TTL)

	st.mu.RLock()
	candidates := make([]*Session, 0)
	for _, s := range st.sessions {
		candidates = append(candidates, s)
	}
	st.mu.RUnlock()

	for _, s := range candidates {
		if !s.mu.TryLock() {
			continue
		}
		expired := s.LastActiveAt.Before(cutoff)
		if expired {
			s.Stage = schemas.StageClosed
			if s.Browser != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := s.Browser.Close(ctx); err != nil {
					st.logger.Warn("Error closing expired session browser.", zap.String("session_id", s.ID), zap.Error(err))
				}
				cancel()
			}
		}
		s.mu.Unlock()

		if expired {
			st.mu.Lock()
			delete(st.sessions, s.ID)
			st.mu.Unlock()
			st.logger.Info("Reaped idle session.", zap.String("session_id", s.ID), zap.Time("last_active", s.LastActiveAt))
		}
	}
}
