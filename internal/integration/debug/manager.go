package debug

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/dapper/internal/integration/debug/adapters"
	"github.com/dshills/dapper/internal/integration/debug/dap"
	"github.com/dshills/dapper/internal/integration/process"
)

// Manager owns every debug session of a process. Construct one and pass it
// to whatever needs it.
type Manager struct {
	logger     *slog.Logger
	opts       Options
	supervisor *process.Supervisor
	dial       dap.DialOptions
	connect    ConnectFunc
	events     *broadcaster

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionOptions sets the options of every created session.
func WithSessionOptions(opts Options) ManagerOption {
	return func(m *Manager) {
		m.opts = opts
	}
}

// WithSupervisor sets the supervisor adapter processes run under.
func WithSupervisor(sup *process.Supervisor) ManagerOption {
	return func(m *Manager) {
		m.supervisor = sup
	}
}

// WithDialOptions bounds connection retries to socket adapters.
func WithDialOptions(opts dap.DialOptions) ManagerOption {
	return func(m *Manager) {
		m.dial = opts
	}
}

// WithConnector replaces how sessions reach their adapter.
func WithConnector(connect ConnectFunc) ManagerOption {
	return func(m *Manager) {
		m.connect = connect
	}
}

// NewManager creates a session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:   slog.Default(),
		opts:     DefaultOptions(),
		dial:     dap.DefaultDialOptions(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "manager")
	if m.opts.Logger == nil {
		m.opts.Logger = m.logger
	}
	if m.supervisor == nil {
		m.supervisor = process.NewSupervisor(process.WithLogger(m.logger))
	}
	if m.connect == nil {
		m.connect = AdapterConnector(m.supervisor, m.dial, m.logger)
	}
	m.events = newBroadcaster(m.logger)
	return m
}

// Create registers a new idle session for cfg.
func (m *Manager) Create(cfg adapters.Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	id := uuid.NewString()
	s := NewSession(id, cfg, m.connect, m.opts)
	s.sink = m.events.publish
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id, "name", s.Name())
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove stops the session and forgets it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := s.Stop(ctx, true); err != nil {
		m.logger.Warn("stopping removed session", "session_id", id, "error", err)
	}
	return nil
}

// List returns every session, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].created.Equal(out[j].created) {
			return out[i].id < out[j].id
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

// Subscribe returns a subscription to the events of every session.
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.events.subscribe(buffer)
}

// StopAll stops every session concurrently, terminating debuggees. It
// returns when the slowest session has stopped. Failures are logged.
func (m *Manager) StopAll(ctx context.Context) {
	sessions := m.List()
	if len(sessions) == 0 {
		return
	}
	start := time.Now()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Stop(ctx, true); err != nil {
				m.logger.Warn("session did not stop cleanly", "session_id", s.ID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("all sessions stopped", "count", len(sessions), "elapsed", time.Since(start))
}

// Shutdown stops every session, reaps leftover adapter processes and
// refuses new sessions.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.StopAll(ctx)

	grace := m.opts.RestartGrace
	if grace <= 0 {
		grace = DefaultOptions().RestartGrace
	}
	m.supervisor.Shutdown(grace)
}
