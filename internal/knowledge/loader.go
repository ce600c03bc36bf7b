package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Record types understood in the knowledge base file.
const (
	RecordEscalationTrigger = "ESCALATION_TRIGGER"
	RecordGuardrail         = "GUARDRAIL"
	RecordAgeRule           = "AGE_RULE"
)

// ConfigLoadError reports missing or corrupt static definitions.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("load knowledge %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// record is one entry of the knowledge base file. JSON field matching is
// case-insensitive, so both "record_type" and "Record_Type" are accepted.
type record struct {
	RecordType   string `json:"record_type" yaml:"record_type"`
	TriggerName  string `json:"trigger_name" yaml:"trigger_name"`
	Category     string `json:"category" yaml:"category"`
	Criteria     string `json:"criteria" yaml:"criteria"`
	Action       string `json:"action" yaml:"action"`
	RuleType     string `json:"rule_type" yaml:"rule_type"`
	AvoidPattern string `json:"avoid_pattern" yaml:"avoid_pattern"`
	BestPractice string `json:"best_practice" yaml:"best_practice"`

	Context  string            `json:"context" yaml:"context"`
	AgeMin   int               `json:"age_min" yaml:"age_min"`
	AgeMax   int               `json:"age_max" yaml:"age_max"`
	Rule     string            `json:"rule" yaml:"rule"`
	Simplify map[string]string `json:"simplify" yaml:"simplify"`
}

// Load reads the knowledge base and the diagnostic rules. It never fails:
// a missing or malformed file yields empty collections and a logged
// ConfigLoadError, so callers simply never escalate or diagnose.
func Load(triggersPath, diagnosticsPath string, logger *zap.Logger) *Base {
	base := &Base{}

	recs, err := LoadAll(triggersPath)
	if err != nil {
		logger.Error("knowledge base unavailable, escalation disabled", zap.Error(err))
	} else {
		base.Triggers = recs.Triggers
		base.Guardrails = recs.Guardrails
		base.AgeRules = recs.AgeRules
	}

	rules, err := LoadDiagnostics(diagnosticsPath)
	if err != nil {
		logger.Error("diagnostic rules unavailable, follow-ups disabled", zap.Error(err))
	} else {
		base.Diagnostics = rules
	}

	logger.Info("knowledge base loaded",
		zap.Int("triggers", len(base.Triggers)),
		zap.Int("guardrails", len(base.Guardrails)),
		zap.Int("age_rules", len(base.AgeRules)),
		zap.Int("diagnostics", len(base.Diagnostics)))
	return base
}

// LoadRecords parses escalation triggers and guardrails from a JSON or YAML
// list of records. Records of unknown type or with missing fields are skipped.
func LoadRecords(path string) ([]Trigger, []Guardrail, error) {
	recs, err := LoadAll(path)
	if err != nil {
		return nil, nil, err
	}
	return recs.Triggers, recs.Guardrails, nil
}

// LoadAll parses every record type of the knowledge base file. The result
// carries no diagnostic rules; those live in their own file.
func LoadAll(path string) (*Base, error) {
	var records []record
	if err := decodeFile(path, &records); err != nil {
		return nil, err
	}

	base := &Base{}
	for _, r := range records {
		switch strings.ToUpper(strings.TrimSpace(r.RecordType)) {
		case RecordEscalationTrigger:
			cat, ok := ParseCategory(r.Category)
			if !ok || r.TriggerName == "" || strings.TrimSpace(r.Criteria) == "" {
				continue
			}
			base.Triggers = append(base.Triggers, NewTrigger(r.TriggerName, cat, r.Criteria, r.Action))
		case RecordGuardrail:
			if r.AvoidPattern == "" {
				continue
			}
			base.Guardrails = append(base.Guardrails, Guardrail{
				RuleType:     r.RuleType,
				AvoidPattern: r.AvoidPattern,
				BestPractice: r.BestPractice,
			})
		case RecordAgeRule:
			if strings.TrimSpace(r.Rule) == "" || r.AgeMin < 0 || r.AgeMax < 0 ||
				(r.AgeMax > 0 && r.AgeMin > r.AgeMax) {
				continue
			}
			base.AgeRules = append(base.AgeRules, AgeRule{
				Context:  r.Context,
				MinAge:   r.AgeMin,
				MaxAge:   r.AgeMax,
				Rule:     r.Rule,
				Simplify: r.Simplify,
			})
		}
	}
	return base, nil
}

// LoadDiagnostics parses the ordered diagnostic rule list. Rules without
// keywords or questions are dropped; load order is preserved.
func LoadDiagnostics(path string) ([]DiagnosticRule, error) {
	var raw []DiagnosticRule
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}

	rules := make([]DiagnosticRule, 0, len(raw))
	for _, r := range raw {
		var kws []string
		for _, t := range r.Triggers {
			if kw := strings.ToLower(strings.TrimSpace(t)); kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 || len(r.Questions) == 0 {
			continue
		}
		r.Keywords = kws
		rules = append(rules, r)
	}
	return rules, nil
}

func decodeFile(path string, v interface{}) error {
	if path == "" {
		return &ConfigLoadError{Path: path, Err: fmt.Errorf("no path configured")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigLoadError{Path: path, Err: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return &ConfigLoadError{Path: path, Err: err}
	}
	return nil
}
