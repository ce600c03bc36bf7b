package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/agent"
	"github.com/nidhogg/kid-companion/internal/knowledge"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/provider"
	"github.com/nidhogg/kid-companion/internal/summary"
)

// slowLLM counts concurrent reply calls.
type slowLLM struct {
	inflight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (s *slowLLM) Complete(ctx context.Context, system, user string, structured bool) (string, error) {
	if structured {
		return fmt.Sprintf(`{"fact_%d": "v"}`, s.calls.Add(1)), nil
	}
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "reply to " + user, nil
}

func newManager(t *testing.T, llm provider.Completer) *Manager {
	t.Helper()
	kb := knowledge.Load("../knowledge/testdata/knowledge.yaml", "../knowledge/testdata/diagnostics.yaml", zap.NewNop())
	engine := agent.NewEngine(agent.Config{Reply: llm, Extract: llm, Knowledge: kb}, zap.NewNop())
	gen := summary.NewGenerator(llm, zap.NewNop())
	return NewManager(engine, gen, memory.FileBackends(t.TempDir()), zap.NewNop())
}

func TestID(t *testing.T) {
	if ID("slack", "U1") != "slack:U1" || ID("", "x") != "x" || ID("slack", "") != DefaultID {
		t.Error("unexpected session ids")
	}
	if Normalize("  ") != DefaultID {
		t.Error("blank id should normalize to default")
	}
}

func TestSameSessionSerialized(t *testing.T) {
	llm := &slowLLM{}
	m := newManager(t, llm)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Reply(context.Background(), "kid", fmt.Sprintf("message %d", i)); err != nil {
				t.Errorf("reply: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if llm.peak.Load() != 1 {
		t.Errorf("peak concurrent turns for one session = %d, want 1", llm.peak.Load())
	}
	if n := len(m.History(context.Background(), "kid")); n != 8 {
		t.Errorf("history = %d turns, want 8", n)
	}
	// No lost fact updates.
	if n := len(m.Facts(context.Background(), "kid")); n != 8 {
		t.Errorf("facts = %d, want 8", n)
	}
}

func TestSessionsIsolatedAndParallel(t *testing.T) {
	llm := &slowLLM{}
	m := newManager(t, llm)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = m.Reply(context.Background(), id, "hi from "+id)
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		h := m.History(context.Background(), id)
		if len(h) != 1 || h[0].User != "hi from "+id {
			t.Errorf("session %s history = %+v", id, h)
		}
	}
	active := m.Active()
	sort.Strings(active)
	if len(active) != 4 {
		t.Errorf("active = %v", active)
	}
}

func TestAlertHookAndClear(t *testing.T) {
	m := newManager(t, &slowLLM{})
	var got []string
	m.OnAlerts(func(_ context.Context, id string, res *agent.Result) {
		got = append(got, fmt.Sprintf("%s:%s", id, res.Alerts[0].Category))
	})

	ctx := context.Background()
	_, _ = m.Reply(ctx, "", "Hi there!")
	_, _ = m.Reply(ctx, "", "I'm scared of the dark")
	m.Wait()
	if len(got) != 1 || got[0] != "default:MEDIUM" {
		t.Errorf("alert hook calls = %v", got)
	}

	m.Clear(ctx, DefaultID)
	if len(m.History(ctx, DefaultID)) != 0 || len(m.Facts(ctx, DefaultID)) != 0 {
		t.Error("Clear left state behind")
	}
}

func TestSlowAlertHookDoesNotDelayReply(t *testing.T) {
	m := newManager(t, &slowLLM{})
	m.SetAlertTimeout(200 * time.Millisecond)

	release := make(chan struct{})
	type hookCall struct {
		hasDeadline bool
		ctxErr      error
	}
	calls := make(chan hookCall, 1)
	m.OnAlerts(func(ctx context.Context, _ string, _ *agent.Result) {
		_, ok := ctx.Deadline()
		select {
		case <-release:
		case <-ctx.Done():
		}
		calls <- hookCall{hasDeadline: ok, ctxErr: ctx.Err()}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	res, err := m.Reply(ctx, "kid", "I'm scared of the dark")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Reply waited %v for the alert hook", elapsed)
	}
	if len(res.Alerts) == 0 {
		t.Fatal("expected an alert")
	}

	// The turn's own context ending must not cut the hook short; only the
	// alert timeout does.
	cancel()
	m.Wait()
	call := <-calls
	if !call.hasDeadline {
		t.Error("alert hook context should carry a deadline")
	}
	if call.ctxErr != context.DeadlineExceeded {
		t.Errorf("hook ctx err = %v, want deadline exceeded", call.ctxErr)
	}
	close(release)
}

func TestSummaryFallbackThroughManager(t *testing.T) {
	m := newManager(t, provider.CompleterFunc(func(context.Context, string, string, bool) (string, error) {
		return "definitely not json", nil
	}))
	s := m.Summary(context.Background(), "kid")
	if s.RecommendationNeeded || len(s.PotentialConcerns) == 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestEvictIdleReloadsFromBackend(t *testing.T) {
	m := newManager(t, &slowLLM{})
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = m.Reply(ctx, "old", "hello")
	now = now.Add(40 * time.Minute)
	_, _ = m.Reply(ctx, "fresh", "hello")
	now = now.Add(5 * time.Minute)

	if n := m.EvictIdle(30 * time.Minute); n != 1 {
		t.Fatalf("evicted %d sessions, want 1", n)
	}
	if active := m.Active(); len(active) != 1 || active[0] != "fresh" {
		t.Errorf("active after eviction = %v", active)
	}

	h := m.History(ctx, "old")
	if len(h) != 1 || h[0].User != "hello" {
		t.Errorf("evicted session lost history: %+v", h)
	}
}

func TestEvictIdleSkipsSessionInUse(t *testing.T) {
	m := newManager(t, &slowLLM{})
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	e := m.acquire(context.Background(), "busy")
	now = now.Add(time.Hour)
	if n := m.EvictIdle(time.Minute); n != 0 {
		t.Errorf("evicted %d sessions while a turn held the lock", n)
	}
	m.release(e)

	now = now.Add(time.Hour)
	if n := m.EvictIdle(time.Minute); n != 1 {
		t.Errorf("evicted %d sessions after release, want 1", n)
	}
}
