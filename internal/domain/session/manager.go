package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/monitoring"
)

// Manager owns the visitor session store. Sessions are created on first
// touch and expire after the configured idle TTL; no state survives the
// process (the upstream's sticky window expires on its own schedule).
type Manager struct {
	sessions sync.Map // session id -> *Session
	ttl      time.Duration
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// NewManager creates a session manager with the given idle TTL.
func NewManager(ttl time.Duration, logger *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// GetOrCreate returns the session for sessionID, creating it on first use.
func (m *Manager) GetOrCreate(sessionID string) *Session {
	if existing, ok := m.sessions.Load(sessionID); ok {
		s := existing.(*Session)
		s.Touch()
		return s
	}

	created := New(sessionID)
	actual, loaded := m.sessions.LoadOrStore(sessionID, created)
	s := actual.(*Session)
	if !loaded {
		if m.metrics != nil {
			m.metrics.SessionCreated()
		}
		m.logger.Debug("session created",
			zap.String("session_id", sessionID),
			zap.String("credential_id", s.CredentialID()),
		)
	}
	s.Touch()
	return s
}

// Get returns an existing session without creating one.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Destroy removes a session from the store.
func (m *Manager) Destroy(sessionID string) {
	if v, ok := m.sessions.LoadAndDelete(sessionID); ok {
		v.(*Session).deactivate()
		if m.metrics != nil {
			m.metrics.SessionDestroyed()
		}
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StartJanitor launches the background sweep that expires idle sessions.
func (m *Manager) StartJanitor(ctx context.Context, onExpire func(*Session)) {
	ctx, cancel := context.WithCancel(ctx)
	m.janitorCancel = cancel
	m.janitorDone = make(chan struct{})

	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		defer close(m.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(onExpire)
			}
		}
	}()
}

// StopJanitor stops the sweep goroutine and waits for it to exit.
func (m *Manager) StopJanitor() {
	if m.janitorCancel != nil {
		m.janitorCancel()
		<-m.janitorDone
	}
}

func (m *Manager) sweep(onExpire func(*Session)) {
	cutoff := time.Now().Add(-m.ttl)
	expired := 0
	m.sessions.Range(func(key, value any) bool {
		s := value.(*Session)
		if s.LastSeen().Before(cutoff) {
			m.sessions.Delete(key)
			s.deactivate()
			if onExpire != nil {
				onExpire(s)
			}
			if m.metrics != nil {
				m.metrics.SessionDestroyed()
			}
			expired++
		}
		return true
	})
	if expired > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", expired))
	}
}
