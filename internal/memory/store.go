// Package memory keeps one conversation's durable state: the ordered turn
// history and the learned fact map, always persisted together.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Turn is one utterance and the reply it received.
type Turn struct {
	User      string    `json:"user"`
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// snapshot is the persisted layout.
type snapshot struct {
	Context []Turn            `json:"context"`
	Facts   map[string]string `json:"facts"`
}

// Store is safe for concurrent use, but callers should still serialize
// whole turns per conversation so extraction and commit do not interleave.
type Store struct {
	mu      sync.RWMutex
	state   snapshot
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// Open loads state from backend. Missing or unreadable state starts empty.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) *Store {
	s := &Store{
		state:   emptySnapshot(),
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}

	data, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Debug("no saved memory, starting fresh")
	case err != nil:
		logger.Warn("memory unreadable, starting fresh", zap.Error(err))
	default:
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			logger.Warn("memory corrupt, starting fresh", zap.Error(err))
			break
		}
		if snap.Facts == nil {
			snap.Facts = make(map[string]string)
		}
		s.state = snap
		logger.Debug("memory loaded",
			zap.Int("turns", len(snap.Context)), zap.Int("facts", len(snap.Facts)))
	}
	return s
}

func emptySnapshot() snapshot {
	return snapshot{Context: []Turn{}, Facts: make(map[string]string)}
}

// SetClock overrides the timestamp source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AppendTurn records one exchange and persists the full state.
func (s *Store) AppendTurn(ctx context.Context, user, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Context = append(s.state.Context, Turn{
		User:      user,
		Agent:     agent,
		Timestamp: s.now().UTC().Round(0),
	})
	s.persistLocked(ctx)
}

// Facts returns a copy of the fact map.
func (s *Store) Facts() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.state.Facts))
	for k, v := range s.state.Facts {
		out[k] = v
	}
	return out
}

// FactKeys returns the fact keys sorted.
func (s *Store) FactKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.state.Facts))
	for k := range s.state.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddFact upserts one fact and persists.
func (s *Store) AddFact(ctx context.Context, key, value string) {
	s.MergeFacts(ctx, map[string]string{key: value})
}

// MergeFacts upserts every pair with last-write-wins and persists once.
// It returns how many keys changed; nothing is written when none did.
func (s *Store) MergeFacts(ctx context.Context, facts map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for k, v := range facts {
		if old, ok := s.state.Facts[k]; ok && old == v {
			continue
		}
		s.state.Facts[k] = v
		changed++
	}
	if changed > 0 {
		s.persistLocked(ctx)
	}
	return changed
}

// RecentTurns returns up to the last n turns, oldest first.
func (s *Store) RecentTurns(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []Turn{}
	}
	start := len(s.state.Context) - n
	if start < 0 {
		start = 0
	}
	return append([]Turn{}, s.state.Context[start:]...)
}

// Turns returns the full history, oldest first.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn{}, s.state.Context...)
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Context)
}

// Clear drops all turns and facts and persists the empty state.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = emptySnapshot()
	s.persistLocked(ctx)
}

// persistLocked writes the whole state. Failures are logged only; an
// in-flight commit finishes even if the caller's context is cancelled.
func (s *Store) persistLocked(ctx context.Context) {
	data, err := json.Marshal(s.state)
	if err != nil {
		s.logger.Error("marshal memory", zap.Error(err))
		return
	}
	if err := s.backend.Save(context.WithoutCancel(ctx), data); err != nil {
		s.logger.Error("persist memory", zap.Error(err))
	}
}
