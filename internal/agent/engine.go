package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/diagnostic"
	"github.com/nidhogg/kid-companion/internal/facts"
	"github.com/nidhogg/kid-companion/internal/knowledge"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/provider"
	"github.com/nidhogg/kid-companion/internal/safety"
)

// DefaultHistoryWindow is how many recent turns go into the reply prompt.
const DefaultHistoryWindow = 5

// Config wires an Engine. Extract may be nil to skip fact extraction.
type Config struct {
	Reply         provider.Completer
	Extract       provider.Completer
	Knowledge     *knowledge.Base
	Persona       Persona
	HistoryWindow int
	FallbackSeed  uint64
	// ChildAge applies when no age fact is known. Zero means unknown.
	ChildAge int
}

// Engine produces one reply per utterance. It holds no per-conversation
// state; callers pass the conversation's memory and serialize turns.
type Engine struct {
	llm       provider.Completer
	extractor *facts.Extractor
	selector  *diagnostic.Selector
	analyzer  *safety.Analyzer
	guards    *Guardrails
	ages      *ageAdapter
	persona   Persona
	window    int
	fallback  *Picker
	logger    *zap.Logger
}

// Result is the outcome of one turn.
type Result struct {
	Reply    string            `json:"reply"`
	Alerts   []safety.Alert    `json:"alerts"`
	Facts    map[string]string `json:"facts"`
	Fallback bool              `json:"fallback"`
	Trace    *Trace            `json:"-"`
}

// NewEngine creates a new reply engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	kb := cfg.Knowledge
	if kb == nil {
		kb = &knowledge.Base{}
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	persona := cfg.Persona
	if persona.SystemPrompt == "" {
		persona = DefaultPersona(persona.ChildName)
	}

	e := &Engine{
		llm:      cfg.Reply,
		selector: diagnostic.NewSelector(kb.Diagnostics),
		analyzer: safety.NewAnalyzer(kb.Triggers),
		guards:   NewGuardrails(kb.Guardrails),
		ages:     newAgeAdapter(kb, cfg.ChildAge),
		persona:  persona,
		window:   window,
		fallback: NewPicker(cfg.FallbackSeed, nil),
		logger:   logger,
	}
	if cfg.Extract != nil {
		e.extractor = facts.NewExtractor(cfg.Extract, logger)
	}
	return e
}

// Reply runs one turn: extract facts, pick a follow-up, generate and filter
// the reply, analyze the utterance, then commit the turn to mem.
//
// Collaborator failures never surface: a fallback reply is used instead.
// If ctx is done by commit time the turn is not recorded; the Result is
// still returned together with the context error so alerts are not lost.
func (e *Engine) Reply(ctx context.Context, mem *memory.Store, utterance string) (*Result, error) {
	trace := newTrace()
	res := &Result{Trace: trace}

	// 1. Facts first, so this turn's facts can personalize the reply.
	if e.extractor != nil {
		n, err := e.extractor.ExtractInto(ctx, mem, utterance)
		if err != nil {
			e.logger.Warn("fact extraction skipped", zap.Error(err))
			trace.add(StepFactExtraction, "skipped: "+err.Error())
		} else {
			trace.add(StepFactExtraction, fmt.Sprintf("%d facts changed", n))
		}
	}

	// 2. Optional diagnostic follow-up.
	instruction := e.selector.Select(utterance)
	if instruction != "" {
		trace.add(StepDiagnostic, instruction)
	}

	// 3-4. Compose and generate.
	known := mem.Facts()
	age, ageRule, hasAge := e.ages.rule(known)
	ageGuidance := ""
	if hasAge {
		ageGuidance = fmt.Sprintf("%s is %d (%s). %s", e.persona.ChildName, age, ageRule.Context, ageRule.Rule)
	}
	system := e.buildSystemPrompt(known, mem.RecentTurns(e.window), ageGuidance, instruction)
	reply, err := e.generate(ctx, system, utterance)
	if err != nil {
		e.logger.Error("reply generation failed, using fallback", zap.Error(err))
		reply = e.fallback.Pick()
		res.Fallback = true
		trace.add(StepFallback, err.Error())
	} else {
		trace.add(StepReply, reply)
	}
	if filtered, changed := e.guards.Apply(reply); changed {
		reply = filtered
		trace.add(StepGuardrail, "rewrote avoided phrasing")
	}
	if hasAge {
		if simpler, changed := e.ages.simplifyReply(ageRule, reply); changed {
			reply = simpler
			trace.add(StepAgeAdapt, ageRule.Context)
		}
	}
	res.Reply = reply

	// 5. Escalation runs on the child's words, never the reply.
	res.Alerts = e.analyzer.Analyze(utterance)
	if len(res.Alerts) > 0 {
		trace.add(StepEscalation, string(safety.Highest(res.Alerts)))
	}

	// 6. Commit only a finished turn for a caller that is still there.
	if err := ctx.Err(); err != nil {
		res.Facts = mem.Facts()
		trace.finish()
		e.logger.Warn("turn abandoned before commit", append(trace.fields(), zap.Error(err))...)
		return res, fmt.Errorf("turn not committed: %w", err)
	}
	mem.AppendTurn(ctx, utterance, reply)
	trace.add(StepCommit, "")
	res.Facts = mem.Facts()

	trace.finish()
	e.logger.Debug("turn complete", trace.fields()...)
	return res, nil
}

func (e *Engine) generate(ctx context.Context, system, utterance string) (string, error) {
	if e.llm == nil {
		return "", &provider.ServiceError{Provider: "none", Err: fmt.Errorf("no reply model configured")}
	}
	out, err := e.llm.Complete(ctx, system, utterance, false)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return out, nil
}

// buildSystemPrompt layers persona, age guidance, known facts, recent history
// and the diagnostic instruction into one system message.
func (e *Engine) buildSystemPrompt(known map[string]string, recent []memory.Turn, ageGuidance, instruction string) string {
	var b strings.Builder
	b.WriteString(e.persona.SystemPrompt)

	if ageGuidance != "" {
		b.WriteString("\n\nAge guidance: ")
		b.WriteString(ageGuidance)
	}

	if len(known) > 0 {
		data, _ := json.MarshalIndent(known, "", "  ")
		fmt.Fprintf(&b, "\n\nWhat you know about %s:\n%s", e.persona.ChildName, data)
	}

	if len(recent) > 0 {
		b.WriteString("\n\nRecent conversation, oldest first:")
		for _, t := range recent {
			fmt.Fprintf(&b, "\n%s: %s\nYou: %s", e.persona.ChildName, t.User, t.Agent)
		}
	}

	if instruction != "" {
		b.WriteString("\n\nFollow-up for this reply: ")
		b.WriteString(instruction)
	}
	return b.String()
}
