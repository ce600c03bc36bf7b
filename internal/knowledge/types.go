package knowledge

import "strings"

// Category ranks how urgently a trigger needs a trusted adult.
type Category string

const (
	CategoryCritical Category = "CRITICAL"
	CategoryHigh     Category = "HIGH"
	CategoryMedium   Category = "MEDIUM"
)

// ParseCategory normalizes a configured category name. ok is false for
// anything outside CRITICAL, HIGH and MEDIUM.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategoryCritical, CategoryHigh, CategoryMedium:
		return c, true
	}
	return "", false
}

// Rank orders categories so callers can compare severities. Higher is worse.
func (c Category) Rank() int {
	switch c {
	case CategoryCritical:
		return 3
	case CategoryHigh:
		return 2
	case CategoryMedium:
		return 1
	}
	return 0
}

// Trigger is a static escalation rule. Tokens is computed once at load time
// from Criteria with the same normalization applied to utterances.
type Trigger struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Criteria string   `json:"criteria"`
	Action   string   `json:"action"`
	Tokens   TokenSet `json:"-"`
}

// NewTrigger builds a Trigger with its criteria token set precomputed.
func NewTrigger(name string, category Category, criteria, action string) Trigger {
	return Trigger{
		Name:     name,
		Category: category,
		Criteria: criteria,
		Action:   action,
		Tokens:   Tokenize(criteria),
	}
}

// Guardrail rewrites stigmatizing or out-of-scope phrasing in generated replies.
type Guardrail struct {
	RuleType     string `json:"rule_type" yaml:"rule_type"`
	AvoidPattern string `json:"avoid_pattern" yaml:"avoid_pattern"`
	BestPractice string `json:"best_practice" yaml:"best_practice"`
}

// DiagnosticRule maps topic keywords to prioritized follow-up questions.
// Keywords holds the lowercased, non-empty trigger strings.
type DiagnosticRule struct {
	Disorder  string   `json:"disorder" yaml:"disorder"`
	Triggers  []string `json:"triggers" yaml:"triggers"`
	Questions []string `json:"questions" yaml:"questions"`
	Keywords  []string `json:"-" yaml:"-"`
}

// AgeRule tailors replies to an age band. Bounds are inclusive; zero means
// open. Simplify maps words to plainer ones for this band.
type AgeRule struct {
	Context  string            `json:"context" yaml:"context"`
	MinAge   int               `json:"age_min" yaml:"age_min"`
	MaxAge   int               `json:"age_max" yaml:"age_max"`
	Rule     string            `json:"rule" yaml:"rule"`
	Simplify map[string]string `json:"simplify,omitempty" yaml:"simplify,omitempty"`
}

// Covers reports whether age falls inside the band.
func (r AgeRule) Covers(age int) bool {
	if age <= 0 {
		return false
	}
	if r.MinAge > 0 && age < r.MinAge {
		return false
	}
	return r.MaxAge == 0 || age <= r.MaxAge
}

// Base is the read-only knowledge loaded at startup.
type Base struct {
	Triggers    []Trigger
	Guardrails  []Guardrail
	AgeRules    []AgeRule
	Diagnostics []DiagnosticRule
}

// AgeRuleFor returns the first rule, in load order, covering age.
func (b *Base) AgeRuleFor(age int) (AgeRule, bool) {
	if b == nil {
		return AgeRule{}, false
	}
	for _, r := range b.AgeRules {
		if r.Covers(age) {
			return r, true
		}
	}
	return AgeRule{}, false
}

// Empty reports whether nothing was loaded.
func (b *Base) Empty() bool {
	return b == nil || (len(b.Triggers) == 0 && len(b.Guardrails) == 0 &&
		len(b.AgeRules) == 0 && len(b.Diagnostics) == 0)
}
