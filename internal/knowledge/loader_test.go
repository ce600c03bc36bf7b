package knowledge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestLoadYAML(t *testing.T) {
	base := Load("testdata/knowledge.yaml", "testdata/diagnostics.yaml", zap.NewNop())

	if len(base.Triggers) != 3 {
		t.Fatalf("got %d triggers, want 3", len(base.Triggers))
	}
	if base.Triggers[0].Name != "Self-Harm Ideation" || base.Triggers[0].Category != CategoryCritical {
		t.Errorf("first trigger = %+v, want Self-Harm Ideation/CRITICAL", base.Triggers[0])
	}
	if base.Triggers[2].Category != CategoryMedium {
		t.Errorf("third trigger category = %s, want MEDIUM", base.Triggers[2].Category)
	}
	if len(base.Guardrails) != 4 {
		t.Errorf("got %d guardrails, want 4", len(base.Guardrails))
	}
	if len(base.Diagnostics) != 4 {
		t.Fatalf("got %d diagnostic rules, want 4", len(base.Diagnostics))
	}
	if base.Diagnostics[0].Disorder != "Anxiety" {
		t.Errorf("diagnostics out of load order: first = %q", base.Diagnostics[0].Disorder)
	}
}

func TestLoadPrecomputesTokens(t *testing.T) {
	triggers, _, err := LoadRecords("testdata/knowledge.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	crit := triggers[0].Tokens
	for _, want := range []string{"hurt", "die", "live", "plan"} {
		if !crit.Has(want) {
			t.Errorf("criteria tokens missing %q: %v", want, crit.Sorted())
		}
	}
	for _, stop := range []string{"i", "want", "myself", "don't", "to"} {
		if crit.Has(stop) {
			t.Errorf("criteria tokens kept stop word %q", stop)
		}
	}
}

func TestLoadRecordsJSONOriginalKeys(t *testing.T) {
	triggers, guardrails, err := LoadRecords("testdata/knowledge.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "Bad Category" is skipped, the stop-word-only trigger is kept but empty.
	if len(triggers) != 2 {
		t.Fatalf("got %d triggers, want 2", len(triggers))
	}
	if triggers[0].Action != "Immediate emergency response." {
		t.Errorf("action = %q", triggers[0].Action)
	}
	if len(triggers[1].Tokens) != 0 {
		t.Errorf("stop-word-only criteria produced tokens %v", triggers[1].Tokens.Sorted())
	}
	if len(guardrails) != 1 || guardrails[0].AvoidPattern != "diagnose" {
		t.Errorf("guardrails = %+v", guardrails)
	}
}

func TestLoadMissingFilesIsSoft(t *testing.T) {
	base := Load("testdata/nope.yaml", "", zap.NewNop())
	if base == nil {
		t.Fatal("expected a non-nil base")
	}
	if !base.Empty() {
		t.Errorf("expected empty base, got %+v", base)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	_, _, err := LoadRecords("testdata/corrupt.json")
	var cle *ConfigLoadError
	if !errors.As(err, &cle) {
		t.Fatalf("expected ConfigLoadError, got %v", err)
	}
	if cle.Path != "testdata/corrupt.json" {
		t.Errorf("path = %q", cle.Path)
	}

	base := Load("testdata/corrupt.json", "testdata/diagnostics.yaml", zap.NewNop())
	if len(base.Triggers) != 0 {
		t.Errorf("corrupt file produced %d triggers", len(base.Triggers))
	}
	if len(base.Diagnostics) == 0 {
		t.Error("a corrupt trigger file must not disable diagnostics")
	}
}

func TestLoadDiagnosticsDropsIncompleteRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	data := `[
		{"disorder": "Empty", "triggers": ["  "], "questions": ["q"]},
		{"disorder": "NoQuestions", "triggers": ["sad"], "questions": []},
		{"disorder": "Stress", "triggers": ["Homework"], "questions": ["How is school?"]}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadDiagnostics(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	if rules[0].Keywords[0] != "homework" {
		t.Errorf("keyword not lowercased: %q", rules[0].Keywords[0])
	}
}

func TestLoadAgeRules(t *testing.T) {
	base := Load("testdata/knowledge.yaml", "testdata/diagnostics.yaml", zap.NewNop())
	if len(base.AgeRules) != 3 {
		t.Fatalf("got %d age rules, want 3", len(base.AgeRules))
	}
	if base.AgeRules[0].Simplify["anxious"] != "worried" {
		t.Errorf("young_child simplify = %v", base.AgeRules[0].Simplify)
	}

	tests := []struct {
		age  int
		want string
	}{
		{4, "young_child"},
		{6, "young_child"},
		{7, "school_age"},
		{12, "school_age"},
		{13, "adolescent"},
		{17, "adolescent"},
		{0, ""},
		{-3, ""},
	}
	for _, tt := range tests {
		r, ok := base.AgeRuleFor(tt.age)
		if got := r.Context; got != tt.want || ok != (tt.want != "") {
			t.Errorf("AgeRuleFor(%d) = %q, %v, want %q", tt.age, got, ok, tt.want)
		}
	}
}

func TestLoadAllSkipsBadAgeRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	data := `[
		{"record_type": "AGE_RULE", "context": "no rule", "age_min": 3},
		{"record_type": "AGE_RULE", "context": "inverted", "age_min": 12, "age_max": 7, "rule": "x"},
		{"Record_Type": "AGE_RULE", "Context": "teen", "Age_Min": 13, "Rule": "Respect autonomy."}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	base, err := LoadAll(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(base.AgeRules) != 1 || base.AgeRules[0].Context != "teen" || base.AgeRules[0].MaxAge != 0 {
		t.Errorf("age rules = %+v", base.AgeRules)
	}
}
