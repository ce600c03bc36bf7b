package agent

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StepType identifies one stage of a turn.
type StepType string

const (
	StepFactExtraction StepType = "fact_extraction"
	StepDiagnostic     StepType = "diagnostic"
	StepReply          StepType = "reply"
	StepFallback       StepType = "fallback"
	StepGuardrail      StepType = "guardrail"
	StepAgeAdapt       StepType = "age_adapt"
	StepEscalation     StepType = "escalation"
	StepCommit         StepType = "commit"
)

// Trace records what happened during one turn, for logs only.
type Trace struct {
	ID        string        `json:"id"`
	Steps     []Step        `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Step is a single entry in a Trace.
type Step struct {
	Type      StepType  `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func newTrace() *Trace {
	return &Trace{ID: uuid.New().String(), StartedAt: time.Now()}
}

func (t *Trace) add(typ StepType, content string) {
	t.Steps = append(t.Steps, Step{Type: typ, Content: content, Timestamp: time.Now()})
}

// Has reports whether a step of typ was recorded.
func (t *Trace) Has(typ StepType) bool {
	for _, s := range t.Steps {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func (t *Trace) finish() { t.Duration = time.Since(t.StartedAt) }

func (t *Trace) fields() []zap.Field {
	types := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		types[i] = string(s.Type)
	}
	return []zap.Field{
		zap.String("turn", t.ID),
		zap.Strings("steps", types),
		zap.Duration("duration", t.Duration),
	}
}
