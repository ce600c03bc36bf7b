package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/knowledge"
)

func TestDefaultPersona(t *testing.T) {
	p := DefaultPersona("Sandra")
	if !strings.Contains(p.SystemPrompt, "Sandra") || strings.Contains(p.SystemPrompt, "{{child_name}}") {
		t.Errorf("child name not substituted: %q", p.SystemPrompt)
	}
	if DefaultPersona("  ").ChildName != DefaultChildName {
		t.Error("blank child name should use default")
	}
}

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.md")
	if err := os.WriteFile(path, []byte("You are a calm owl. Say hi to {{child_name}}.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := LoadPersona(path, "Max", zap.NewNop())
	if p.SystemPrompt != "You are a calm owl. Say hi to Max." {
		t.Errorf("prompt = %q", p.SystemPrompt)
	}

	missing := LoadPersona(filepath.Join(dir, "nope.md"), "Max", zap.NewNop())
	if missing.SystemPrompt != DefaultPersona("Max").SystemPrompt {
		t.Error("missing file should fall back to default")
	}

	blank := filepath.Join(dir, "blank.md")
	_ = os.WriteFile(blank, []byte("  \n"), 0o644)
	if LoadPersona(blank, "Max", zap.NewNop()).SystemPrompt != DefaultPersona("Max").SystemPrompt {
		t.Error("blank file should fall back to default")
	}
}

func TestGuardrailsCaseInsensitive(t *testing.T) {
	g := NewGuardrails([]knowledge.Guardrail{
		{AvoidPattern: "brain disorder", BestPractice: "mental health condition"},
		{AvoidPattern: "a.b", BestPractice: "x"},
	})
	out, changed := g.Apply("A Brain Disorder is not a.b or aXb")
	if !changed || out != "A mental health condition is not x or aXb" {
		t.Errorf("Apply = %q, %v", out, changed)
	}
	if _, changed := g.Apply("nothing here"); changed {
		t.Error("unchanged text reported as changed")
	}
	var nilGuards *Guardrails
	if out, _ := nilGuards.Apply("x"); out != "x" {
		t.Error("nil guardrails should pass text through")
	}
}

func TestPickerDeterministic(t *testing.T) {
	a, b := NewPicker(42, nil), NewPicker(42, nil)
	for i := 0; i < 20; i++ {
		if pa, pb := a.Pick(), b.Pick(); pa != pb {
			t.Fatalf("pick %d differs: %q vs %q", i, pa, pb)
		}
	}

	seen := map[string]bool{}
	p := NewPicker(7, []string{"one", "two"})
	for i := 0; i < 50; i++ {
		seen[p.Pick()] = true
	}
	if len(seen) != 2 {
		t.Errorf("picker never chose some replies: %v", seen)
	}
}
