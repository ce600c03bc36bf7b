package safety

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/nidhogg/kid-companion/internal/knowledge"
)

func testTriggers(t *testing.T) []knowledge.Trigger {
	t.Helper()
	triggers, _, err := knowledge.LoadRecords("../knowledge/testdata/knowledge.yaml")
	if err != nil {
		t.Fatalf("load triggers: %v", err)
	}
	return triggers
}

func TestAnalyzeSelfHarm(t *testing.T) {
	a := NewAnalyzer(testTriggers(t))

	alerts := a.Analyze("I want to hurt myself, I don't want to live anymore.")
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: %+v", len(alerts), alerts)
	}
	got := alerts[0]
	if got.Category != knowledge.CategoryCritical {
		t.Errorf("category = %s, want CRITICAL", got.Category)
	}
	if got.Action != "Immediate emergency response." {
		t.Errorf("action = %q", got.Action)
	}
	if strings.Join(got.Matched, ",") != "hurt,live" {
		t.Errorf("matched = %v, want [hurt live]", got.Matched)
	}
}

func TestAnalyzeWorried(t *testing.T) {
	a := NewAnalyzer(testTriggers(t))

	alerts := a.Analyze("I'm worried about my math test")
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: %+v", len(alerts), alerts)
	}
	if alerts[0].Category != knowledge.CategoryMedium || alerts[0].Trigger != "Anxiety/Fear" {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestAnalyzeReportsAllInLoadOrder(t *testing.T) {
	a := NewAnalyzer(testTriggers(t))

	alerts := a.Analyze("I am scared and I want to die")
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2: %+v", len(alerts), alerts)
	}
	if alerts[0].Category != knowledge.CategoryCritical || alerts[1].Category != knowledge.CategoryMedium {
		t.Errorf("alerts out of load order: %s, %s", alerts[0].Category, alerts[1].Category)
	}
	if Highest(alerts) != knowledge.CategoryCritical {
		t.Errorf("Highest = %s", Highest(alerts))
	}
}

func TestAnalyzeNoMatch(t *testing.T) {
	a := NewAnalyzer(testTriggers(t))
	for _, text := range []string{"", "Hi there!", "I love soccer and pizza"} {
		if alerts := a.Analyze(text); len(alerts) != 0 {
			t.Errorf("Analyze(%q) = %+v, want none", text, alerts)
		}
	}
	if Highest(nil) != "" {
		t.Error("Highest(nil) should be empty")
	}
}

func TestAnalyzeEmptyKnowledgeBase(t *testing.T) {
	var nilAnalyzer *Analyzer
	if alerts := nilAnalyzer.Analyze("I want to die"); alerts != nil {
		t.Errorf("nil analyzer returned %+v", alerts)
	}
	if alerts := NewAnalyzer(nil).Analyze("I want to die"); alerts != nil {
		t.Errorf("empty analyzer returned %+v", alerts)
	}
}

func TestAnalyzeTokenizesRawTriggers(t *testing.T) {
	a := NewAnalyzer([]knowledge.Trigger{{Name: "raw", Category: knowledge.CategoryHigh, Criteria: "lonely"}})
	if len(a.Analyze("I feel so lonely")) != 1 {
		t.Error("trigger without precomputed tokens did not match")
	}
}

var wordGen = rapid.StringMatching(`[a-z]{3,10}`)

// Any non-stop-word shared with a trigger's criteria produces that trigger.
func TestAnalyzeSharedTokenProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		word := wordGen.Filter(func(s string) bool { return !knowledge.IsStopWord(s) }).Draw(rt, "word")
		noise := rapid.SliceOfN(wordGen, 0, 6).Draw(rt, "noise")
		pos := rapid.IntRange(0, len(noise)).Draw(rt, "pos")

		words := append(append(append([]string{}, noise[:pos]...), strings.ToUpper(word)+"!"), noise[pos:]...)
		criteria := rapid.SampledFrom([]string{word, "I am " + word, word + ", and so"}).Draw(rt, "criteria")

		a := NewAnalyzer([]knowledge.Trigger{
			knowledge.NewTrigger("t", knowledge.CategoryHigh, criteria, "act"),
		})
		alerts := a.Analyze(strings.Join(words, " "))
		if len(alerts) != 1 || alerts[0].Trigger != "t" {
			rt.Fatalf("expected trigger t for %q in %v, got %+v", word, words, alerts)
		}
	})
}

// Criteria made only of stop words never match.
func TestAnalyzeStopWordCriteriaProperty(t *testing.T) {
	stops := knowledge.StopWords.Sorted()
	rapid.Check(t, func(rt *rapid.T) {
		criteria := rapid.SliceOfN(rapid.SampledFrom(stops), 1, 8).Draw(rt, "criteria")
		text := rapid.SliceOfN(rapid.OneOf(wordGen, rapid.SampledFrom(stops)), 0, 12).Draw(rt, "text")

		a := NewAnalyzer([]knowledge.Trigger{
			knowledge.NewTrigger("stop", knowledge.CategoryCritical, strings.Join(criteria, " "), "none"),
		})
		if alerts := a.Analyze(strings.Join(text, " ")); len(alerts) != 0 {
			rt.Fatalf("stop-word criteria %v matched %v", criteria, alerts)
		}
	})
}
