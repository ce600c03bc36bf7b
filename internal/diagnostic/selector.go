package diagnostic

import (
	"fmt"
	"strings"

	"github.com/nidhogg/kid-companion/internal/knowledge"
)

// instructionFormat wraps the chosen follow-up question for the reply prompt.
const instructionFormat = "The child may be dealing with %s. Gently weave this question into your reply, in your own friendly words: \"%s\""

// Selector picks at most one follow-up question per utterance.
type Selector struct {
	rules []knowledge.DiagnosticRule
}

// NewSelector keeps rules in the given order; the first match wins.
func NewSelector(rules []knowledge.DiagnosticRule) *Selector {
	out := make([]knowledge.DiagnosticRule, 0, len(rules))
	for _, r := range rules {
		if len(r.Keywords) == 0 {
			for _, kw := range r.Triggers {
				if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
					r.Keywords = append(r.Keywords, kw)
				}
			}
		}
		if len(r.Keywords) == 0 || len(r.Questions) == 0 {
			continue
		}
		out = append(out, r)
	}
	return &Selector{rules: out}
}

// Match returns the first rule with a keyword appearing as a substring of
// the lowercased utterance.
func (s *Selector) Match(text string) (knowledge.DiagnosticRule, bool) {
	if s == nil {
		return knowledge.DiagnosticRule{}, false
	}
	lower := strings.ToLower(text)
	for _, r := range s.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r, true
			}
		}
	}
	return knowledge.DiagnosticRule{}, false
}

// Select returns the follow-up instruction for text, or "" when no rule applies.
func (s *Selector) Select(text string) string {
	r, ok := s.Match(text)
	if !ok {
		return ""
	}
	return Instruction(r)
}

// Instruction formats the rule's first question as a prompt instruction.
func Instruction(r knowledge.DiagnosticRule) string {
	return fmt.Sprintf(instructionFormat, strings.ToLower(r.Disorder), r.Questions[0])
}
