package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/provider"
	"github.com/nidhogg/kid-companion/internal/structured"
)

// Concern tags used in fallback summaries.
const (
	ConcernParsingError    = "parsing_error"
	ConcernValidationError = "validation_error"
	ConcernServiceError    = "service_error"
)

// ParentSummary is the caregiver-facing report.
type ParentSummary struct {
	RecommendationNeeded bool     `json:"recommendation_needed"`
	SummaryForAnalyst    string   `json:"summary_for_analyst"`
	ParentMessage        string   `json:"parent_message"`
	PotentialConcerns    []string `json:"potential_concerns"`
}

// Schema is the JSON schema every model summary must satisfy.
const Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["recommendation_needed", "summary_for_analyst", "parent_message", "potential_concerns"],
	"properties": {
		"recommendation_needed": {"type": "boolean"},
		"summary_for_analyst": {"type": "string"},
		"parent_message": {"type": "string"},
		"potential_concerns": {"type": "array", "items": {"type": "string"}}
	}
}`

var schema = structured.MustSchema(Schema)

const systemPrompt = `You help a parent understand how their child is doing, based on conversations the child had with a friendly support companion.
You are not a clinician and must not diagnose.

Return ONLY a JSON object with exactly these fields:
- "recommendation_needed": true if a trusted adult or professional should follow up soon, otherwise false.
- "summary_for_analyst": a factual, neutral summary of themes and risk signals for a professional reviewer.
- "parent_message": a short, warm, non-alarming message for the parent, with one practical suggestion.
- "potential_concerns": a list of short concern labels such as "anxiety", "sadness", "bullying", "self_harm". Use [] if none.`

// Generator produces caregiver summaries from a conversation's memory.
type Generator struct {
	llm    provider.Completer
	logger *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(llm provider.Completer, logger *zap.Logger) *Generator {
	return &Generator{llm: llm, logger: logger}
}

// Prompt renders the full history and fact map for the model.
func Prompt(turns []memory.Turn, facts map[string]string) string {
	var b strings.Builder
	factsJSON, _ := json.Marshal(facts)
	if len(facts) == 0 {
		factsJSON = []byte("{}")
	}
	fmt.Fprintf(&b, "Known facts about the child: %s\n\n", factsJSON)
	if len(turns) == 0 {
		b.WriteString("Conversation history: (no conversation yet)\n")
	} else {
		b.WriteString("Conversation history, oldest first:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "[%s] Child: %s\n", t.Timestamp.Format("2006-01-02 15:04"), t.User)
			fmt.Fprintf(&b, "[%s] Companion: %s\n", t.Timestamp.Format("2006-01-02 15:04"), t.Agent)
		}
	}
	b.WriteString("\nWrite the summary JSON now.")
	return b.String()
}

// Generate never fails: collaborator, parse and validation problems turn
// into a fallback summary tagged with the matching concern.
func (g *Generator) Generate(ctx context.Context, mem *memory.Store) ParentSummary {
	raw, err := g.llm.Complete(ctx, systemPrompt, Prompt(mem.Turns(), mem.Facts()), true)
	if err != nil {
		g.logger.Error("summary generation failed", zap.Error(err))
		return Fallback(ConcernServiceError, err)
	}

	res := structured.Decode[ParentSummary](raw, schema)
	switch res.Kind() {
	case structured.KindOK:
		s := res.Value
		if s.PotentialConcerns == nil {
			s.PotentialConcerns = []string{}
		}
		return s
	case structured.KindValidationError:
		g.logger.Warn("summary failed validation", zap.String("raw", structured.Excerpt(raw, 500)), zap.Error(res.Err))
		return Fallback(ConcernValidationError, res.Err)
	default:
		g.logger.Warn("summary unparseable", zap.String("raw", structured.Excerpt(raw, 500)), zap.Error(res.Err))
		return Fallback(ConcernParsingError, res.Err)
	}
}

// Fallback is the degraded summary returned when no valid one is available.
// The error text goes to the analyst field only.
func Fallback(concern string, err error) ParentSummary {
	return ParentSummary{
		RecommendationNeeded: false,
		SummaryForAnalyst:    fmt.Sprintf("Summary unavailable (%s): %v", concern, err),
		ParentMessage:        "We couldn't put together a summary right now. Please try again in a little while.",
		PotentialConcerns:    []string{concern},
	}
}

// Degraded reports whether p is a Fallback summary. Its analyst field then
// carries internal error detail meant for operators only.
func (p ParentSummary) Degraded() bool {
	if len(p.PotentialConcerns) != 1 {
		return false
	}
	switch p.PotentialConcerns[0] {
	case ConcernParsingError, ConcernValidationError, ConcernServiceError:
		return true
	}
	return false
}
