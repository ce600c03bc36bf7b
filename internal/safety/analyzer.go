package safety

import (
	"github.com/nidhogg/kid-companion/internal/knowledge"
)

// Alert is one matched escalation trigger. Matched lists the shared tokens
// and is meant for logs and caregiver notifications, never for the child.
type Alert struct {
	Trigger  string             `json:"trigger"`
	Category knowledge.Category `json:"category"`
	Action   string             `json:"action"`
	Matched  []string           `json:"matched"`
}

// Analyzer matches utterances against the configured escalation triggers.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	triggers []knowledge.Trigger
}

// NewAnalyzer returns an Analyzer over triggers in load order. Triggers
// built without NewTrigger get their token set computed here.
func NewAnalyzer(triggers []knowledge.Trigger) *Analyzer {
	ts := make([]knowledge.Trigger, len(triggers))
	for i, t := range triggers {
		if t.Tokens == nil {
			t.Tokens = knowledge.Tokenize(t.Criteria)
		}
		ts[i] = t
	}
	return &Analyzer{triggers: ts}
}

// Analyze reports every trigger whose criteria tokens intersect the
// utterance tokens, in load order. A nil result means nothing matched.
func (a *Analyzer) Analyze(text string) []Alert {
	if a == nil || len(a.triggers) == 0 {
		return nil
	}
	tokens := knowledge.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var alerts []Alert
	for _, t := range a.triggers {
		matched := tokens.Intersect(t.Tokens)
		if len(matched) == 0 {
			continue
		}
		alerts = append(alerts, Alert{
			Trigger:  t.Name,
			Category: t.Category,
			Action:   t.Action,
			Matched:  matched,
		})
	}
	return alerts
}

// Highest returns the most severe category among alerts, or "" if none.
func Highest(alerts []Alert) knowledge.Category {
	var top knowledge.Category
	for _, a := range alerts {
		if a.Category.Rank() > top.Rank() {
			top = a.Category
		}
	}
	return top
}
