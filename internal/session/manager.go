// Package session serializes turns per conversation and owns each
// conversation's memory.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/agent"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/summary"
)

// DefaultID is used when a caller supplies no session identifier.
const DefaultID = "default"

// DefaultAlertTimeout bounds one run of the alert hook.
const DefaultAlertTimeout = 30 * time.Second

// ID builds a session identifier from a platform and a user.
func ID(platform, userID string) string {
	if userID == "" {
		return DefaultID
	}
	if platform == "" {
		return userID
	}
	return platform + ":" + userID
}

// Normalize maps blank identifiers to DefaultID.
func Normalize(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return DefaultID
	}
	return id
}

type entry struct {
	mu  sync.Mutex // held for a whole turn
	mem *memory.Store

	// guarded by Manager.mu
	refs     int
	lastUsed time.Time
}

// AlertHook receives the alerts of every finished turn.
type AlertHook func(ctx context.Context, sessionID string, res *agent.Result)

// Manager owns one memory store and one turn lock per session.
type Manager struct {
	engine   *agent.Engine
	summary  *summary.Generator
	backends memory.BackendFactory

	onAlerts     AlertHook
	alertTimeout time.Duration
	hooks        sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates a Manager that opens memory through backends.
func NewManager(engine *agent.Engine, gen *summary.Generator, backends memory.BackendFactory, logger *zap.Logger) *Manager {
	return &Manager{
		engine:   engine,
		summary:  gen,
		backends: backends,

		alertTimeout: DefaultAlertTimeout,
		sessions:     make(map[string]*entry),
		now:          time.Now,
		logger:       logger,
	}
}

// OnAlerts registers a hook called after each turn that raised alerts. The
// hook runs in the background, detached from the turn's context and bounded
// by the alert timeout, so slow sinks never delay a reply.
func (m *Manager) OnAlerts(h AlertHook) { m.onAlerts = h }

// SetAlertTimeout overrides DefaultAlertTimeout.
func (m *Manager) SetAlertTimeout(d time.Duration) {
	if d > 0 {
		m.alertTimeout = d
	}
}

// Wait blocks until every alert hook started so far has returned.
func (m *Manager) Wait() { m.hooks.Wait() }

// acquire returns the session's entry with its turn lock held. The entry
// cannot be evicted until release.
func (m *Manager) acquire(ctx context.Context, id string) *entry {
	id = Normalize(id)
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		e = &entry{mem: memory.Open(ctx, m.backends(id), m.logger.With(zap.String("session", id)))}
		m.sessions[id] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return e
}

func (m *Manager) release(e *entry) {
	e.mu.Unlock()
	m.mu.Lock()
	e.refs--
	e.lastUsed = m.now()
	m.mu.Unlock()
}

// Reply runs one turn for session id. Turns for the same session never
// overlap; different sessions run in parallel.
func (m *Manager) Reply(ctx context.Context, id, utterance string) (*agent.Result, error) {
	id = Normalize(id)
	e := m.acquire(ctx, id)
	res, err := m.engine.Reply(ctx, e.mem, utterance)
	m.release(e)

	if res != nil && len(res.Alerts) > 0 && m.onAlerts != nil {
		hook := m.onAlerts
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.alertTimeout)
		m.hooks.Add(1)
		go func() {
			defer m.hooks.Done()
			defer cancel()
			hook(hctx, id, res)
		}()
	}
	return res, err
}

// Summary generates the caregiver summary for session id.
func (m *Manager) Summary(ctx context.Context, id string) summary.ParentSummary {
	e := m.acquire(ctx, id)
	defer m.release(e)
	return m.summary.Generate(ctx, e.mem)
}

// History returns the full turn history, oldest first.
func (m *Manager) History(ctx context.Context, id string) []memory.Turn {
	e := m.acquire(ctx, id)
	defer m.release(e)
	return e.mem.Turns()
}

// Facts returns the session's fact map.
func (m *Manager) Facts(ctx context.Context, id string) map[string]string {
	e := m.acquire(ctx, id)
	defer m.release(e)
	return e.mem.Facts()
}

// Clear wipes history and facts for session id.
func (m *Manager) Clear(ctx context.Context, id string) {
	e := m.acquire(ctx, id)
	defer m.release(e)
	e.mem.Clear(ctx)
	m.logger.Info("session cleared", zap.String("session", Normalize(id)))
}

// Active returns the IDs of sessions currently held in memory.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// EvictIdle drops sessions unused for at least idle and returns how many
// were dropped. Their state is already persisted, so the next use of the
// session reloads it from the backend.
func (m *Manager) EvictIdle(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	n := 0
	for id, e := range m.sessions {
		if e.refs == 0 && !e.lastUsed.After(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(idle); n > 0 {
				m.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}
