package agent

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/nidhogg/kid-companion/internal/knowledge"
)

// AgeFactKey is the fact holding the child's age, when they have told us.
const AgeFactKey = "age"

var firstNumber = regexp.MustCompile(`\d+`)

// ParseAge reads the first whole number of an age fact such as "8" or
// "8 years old". Implausible values are rejected.
func ParseAge(s string) (int, bool) {
	m := firstNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	age, err := strconv.Atoi(m)
	if err != nil || age <= 0 || age > 21 {
		return 0, false
	}
	return age, true
}

// ageAdapter picks the age rule for a turn and simplifies replies for bands
// that ask for it.
type ageAdapter struct {
	kb         *knowledge.Base
	defaultAge int
	simplify   map[string]*Guardrails // by rule context
}

func newAgeAdapter(kb *knowledge.Base, defaultAge int) *ageAdapter {
	a := &ageAdapter{kb: kb, defaultAge: defaultAge, simplify: make(map[string]*Guardrails)}
	for _, r := range kb.AgeRules {
		if len(r.Simplify) == 0 {
			continue
		}
		words := make([]string, 0, len(r.Simplify))
		for w := range r.Simplify {
			words = append(words, w)
		}
		// Longest phrase first so "completely valid" wins over "valid".
		sort.Slice(words, func(i, j int) bool {
			if len(words[i]) != len(words[j]) {
				return len(words[i]) > len(words[j])
			}
			return words[i] < words[j]
		})
		gs := make([]knowledge.Guardrail, 0, len(words))
		for _, w := range words {
			gs = append(gs, knowledge.Guardrail{RuleType: "age_simplify", AvoidPattern: w, BestPractice: r.Simplify[w]})
		}
		a.simplify[r.Context] = NewGuardrails(gs)
	}
	return a
}

// rule returns the age and rule for a child. A stated age fact wins over the
// configured default.
func (a *ageAdapter) rule(known map[string]string) (int, knowledge.AgeRule, bool) {
	age, ok := ParseAge(known[AgeFactKey])
	if !ok {
		age = a.defaultAge
	}
	r, ok := a.kb.AgeRuleFor(age)
	return age, r, ok
}

// simplifyReply applies the band's word list, if any.
func (a *ageAdapter) simplifyReply(r knowledge.AgeRule, text string) (string, bool) {
	return a.simplify[r.Context].Apply(text)
}
