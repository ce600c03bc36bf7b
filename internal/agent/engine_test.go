package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/knowledge"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/provider"
)

type memBackend struct{ data []byte }

func (m *memBackend) Load(context.Context) ([]byte, error) {
	if m.data == nil {
		return nil, memory.ErrNotFound
	}
	return m.data, nil
}

func (m *memBackend) Save(_ context.Context, data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}

// fakeLLM answers structured calls with facts and free-text calls with reply.
type fakeLLM struct {
	mu       sync.Mutex
	facts    string
	reply    string
	replyErr error
	systems  []string
}

func (f *fakeLLM) Complete(_ context.Context, system, user string, structured bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if structured {
		return f.facts, nil
	}
	f.systems = append(f.systems, system)
	return f.reply, f.replyErr
}

func testKnowledge(t *testing.T) *knowledge.Base {
	t.Helper()
	return knowledge.Load("../knowledge/testdata/knowledge.yaml", "../knowledge/testdata/diagnostics.yaml", zap.NewNop())
}

func newEngine(t *testing.T, llm *fakeLLM) *Engine {
	t.Helper()
	return NewEngine(Config{
		Reply:     llm,
		Extract:   llm,
		Knowledge: testKnowledge(t),
		Persona:   DefaultPersona("Sandra"),
	}, zap.NewNop())
}

func newMemory() *memory.Store {
	return memory.Open(context.Background(), &memBackend{}, zap.NewNop())
}

func TestReplyGreeting(t *testing.T) {
	llm := &fakeLLM{facts: "{}", reply: "  Hey Sandra! What's up?  "}
	mem := newMemory()

	res, err := newEngine(t, llm).Reply(context.Background(), mem, "Hi there!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reply != "Hey Sandra! What's up?" {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(res.Alerts) != 0 {
		t.Errorf("alerts = %+v", res.Alerts)
	}
	if len(res.Facts) != 0 {
		t.Errorf("facts = %v", res.Facts)
	}
	if mem.Len() != 1 {
		t.Errorf("turns = %d, want 1", mem.Len())
	}
	if res.Fallback || !res.Trace.Has(StepCommit) {
		t.Errorf("trace = %+v", res.Trace.Steps)
	}
}

func TestReplySelfHarmAlert(t *testing.T) {
	llm := &fakeLLM{facts: "{}", reply: "I'm really glad you told me. Can we talk to a grown-up you trust right now?"}
	res, err := newEngine(t, llm).Reply(context.Background(), newMemory(), "I want to hurt myself, I don't want to live anymore.")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Alerts) != 1 {
		t.Fatalf("alerts = %+v", res.Alerts)
	}
	if res.Alerts[0].Category != knowledge.CategoryCritical || res.Alerts[0].Action != "Immediate emergency response." {
		t.Errorf("alert = %+v", res.Alerts[0])
	}
	if strings.Contains(res.Reply, "CRITICAL") || strings.Contains(res.Reply, "hurt") {
		t.Errorf("alert detail leaked into reply: %q", res.Reply)
	}
}

func TestReplyUsesFactsHistoryAndDiagnostic(t *testing.T) {
	llm := &fakeLLM{facts: `{"favorite_animal": "capybara"}`, reply: "ok"}
	mem := newMemory()
	e := newEngine(t, llm)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		mem.AppendTurn(ctx, "old message", "old reply")
	}
	mem.AppendTurn(ctx, "latest message", "latest reply")

	res, err := e.Reply(ctx, mem, "I love capybaras but I'm worried about my math test")
	if err != nil {
		t.Fatal(err)
	}
	if res.Facts["favorite_animal"] != "capybara" {
		t.Errorf("facts = %v", res.Facts)
	}

	system := llm.systems[len(llm.systems)-1]
	if !strings.Contains(system, "capybara") {
		t.Error("same-turn facts missing from reply prompt")
	}
	if strings.Count(system, "Sandra: ") != DefaultHistoryWindow {
		t.Errorf("history window: %d turns in prompt", strings.Count(system, "Sandra: "))
	}
	if !strings.Contains(system, "latest message") {
		t.Error("most recent turn missing from prompt")
	}
	if !strings.Contains(system, "Do you feel anxious? If so, what leads to that feeling") {
		t.Error("diagnostic question missing from prompt")
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Category != knowledge.CategoryMedium {
		t.Errorf("alerts = %+v", res.Alerts)
	}
}

func TestReplyFallbackOnServiceError(t *testing.T) {
	llm := &fakeLLM{
		facts:    "{}",
		replyErr: &provider.ServiceError{Provider: "p", Status: 500, Err: errors.New("upstream exploded")},
	}
	mem := newMemory()

	res, err := newEngine(t, llm).Reply(context.Background(), mem, "I feel hopeless")
	if err != nil {
		t.Fatalf("fallback must not return an error: %v", err)
	}
	if !res.Fallback || res.Reply == "" {
		t.Errorf("result = %+v", res)
	}
	if strings.Contains(res.Reply, "exploded") || strings.Contains(res.Reply, "500") {
		t.Errorf("error detail leaked: %q", res.Reply)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Category != knowledge.CategoryHigh {
		t.Errorf("alerts must still be computed: %+v", res.Alerts)
	}
	if mem.Len() != 1 || mem.Turns()[0].Agent != res.Reply {
		t.Error("fallback turn must be committed")
	}
}

func TestReplyEmptyModelOutputFallsBack(t *testing.T) {
	llm := &fakeLLM{facts: "{}", reply: "   "}
	res, err := newEngine(t, llm).Reply(context.Background(), newMemory(), "hello")
	if err != nil || !res.Fallback || strings.TrimSpace(res.Reply) == "" {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestReplyBadFactsStillReplies(t *testing.T) {
	llm := &fakeLLM{facts: "not json at all", reply: "Cool!"}
	mem := newMemory()
	res, err := newEngine(t, llm).Reply(context.Background(), mem, "My cat is named Luna")
	if err != nil || res.Reply != "Cool!" || res.Fallback {
		t.Errorf("res = %+v, err = %v", res, err)
	}
	if len(mem.Facts()) != 0 {
		t.Error("facts merged from unparseable output")
	}
}

func TestReplyAppliesGuardrails(t *testing.T) {
	llm := &fakeLLM{facts: "{}", reply: "Lots of people who Suffers From worry are okay. I can't diagnose you."}
	res, err := newEngine(t, llm).Reply(context.Background(), newMemory(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	want := "Lots of people who lives with worry are okay. I can't support and recommend professional help you."
	if res.Reply != want {
		t.Errorf("reply = %q\nwant    %q", res.Reply, want)
	}
	if !res.Trace.Has(StepGuardrail) {
		t.Error("guardrail step not traced")
	}
}

func TestReplyCancelledBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mem := newMemory()

	cancelling := provider.CompleterFunc(func(c context.Context, system, user string, structured bool) (string, error) {
		if structured {
			return "{}", nil
		}
		cancel()
		return "", &provider.ServiceError{Provider: "p", Err: c.Err()}
	})
	e := NewEngine(Config{Reply: cancelling, Extract: cancelling, Knowledge: testKnowledge(t)}, zap.NewNop())

	res, err := e.Reply(ctx, mem, "I want to die")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mem.Len() != 0 {
		t.Error("cancelled turn was committed")
	}
	if res == nil || len(res.Alerts) != 1 {
		t.Errorf("alerts must survive cancellation: %+v", res)
	}
}

func TestReplyWithoutKnowledge(t *testing.T) {
	llm := &fakeLLM{facts: "{}", reply: "hi"}
	e := NewEngine(Config{Reply: llm}, zap.NewNop())
	res, err := e.Reply(context.Background(), newMemory(), "I want to die")
	if err != nil || len(res.Alerts) != 0 {
		t.Errorf("empty knowledge base should never escalate: %+v, %v", res, err)
	}
}

func TestReplyAdaptsToAge(t *testing.T) {
	tests := []struct {
		name       string
		facts      string
		childAge   int
		guidance   string
		wantReply  string
		noGuidance bool
	}{
		{"young child from fact", `{"age": "5 years old"}`, 0,
			"Sandra is 5 (young_child). Use shorter questions", "That sounds hard and upset. Want to tell me more?", false},
		{"configured age", `{}`, 9,
			"Sandra is 9 (school_age). Balance directness", "That sounds difficult and frustrated. Want to tell me more?", false},
		{"stated age beats configured", `{"age": "14"}`, 9,
			"Sandra is 14 (adolescent). Respect autonomy", "That sounds difficult and frustrated. Want to tell me more?", false},
		{"unknown age", `{}`, 0, "", "That sounds difficult and frustrated. Want to tell me more?", true},
		{"unparseable age fact", `{"age": "old enough"}`, 0, "", "That sounds difficult and frustrated. Want to tell me more?", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{facts: tt.facts, reply: "That sounds difficult and frustrated. Want to tell me more?"}
			e := NewEngine(Config{
				Reply:     llm,
				Extract:   llm,
				Knowledge: testKnowledge(t),
				Persona:   DefaultPersona("Sandra"),
				ChildAge:  tt.childAge,
			}, zap.NewNop())

			res, err := e.Reply(context.Background(), newMemory(), "school was a lot today")
			if err != nil {
				t.Fatal(err)
			}
			system := llm.systems[len(llm.systems)-1]
			if tt.noGuidance {
				if strings.Contains(system, "Age guidance") {
					t.Errorf("unexpected age guidance in prompt:\n%s", system)
				}
			} else if !strings.Contains(system, "Age guidance: "+tt.guidance) {
				t.Errorf("prompt missing %q:\n%s", tt.guidance, system)
			}
			if res.Reply != tt.wantReply {
				t.Errorf("reply = %q, want %q", res.Reply, tt.wantReply)
			}
		})
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"8", 8, true},
		{"8 years old", 8, true},
		{"almost 11", 11, true},
		{"", 0, false},
		{"eight", 0, false},
		{"0", 0, false},
		{"45", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAge(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseAge(%q) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
