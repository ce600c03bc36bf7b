package agent

import (
	"regexp"

	"github.com/nidhogg/kid-companion/internal/knowledge"
)

type rewrite struct {
	re   *regexp.Regexp
	with string
}

// Guardrails rewrites avoided phrasing in generated replies.
type Guardrails struct {
	rules []rewrite
}

// NewGuardrails compiles case-insensitive matchers in load order.
func NewGuardrails(gs []knowledge.Guardrail) *Guardrails {
	g := &Guardrails{}
	for _, r := range gs {
		if r.AvoidPattern == "" {
			continue
		}
		g.rules = append(g.rules, rewrite{
			re:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(r.AvoidPattern)),
			with: r.BestPractice,
		})
	}
	return g
}

// Apply returns text with every avoided pattern replaced, and whether
// anything changed.
func (g *Guardrails) Apply(text string) (string, bool) {
	if g == nil {
		return text, false
	}
	out := text
	for _, r := range g.rules {
		out = r.re.ReplaceAllLiteralString(out, r.with)
	}
	return out, out != text
}
