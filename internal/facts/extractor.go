package facts

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

const systemPrompt = `You keep a small notebook of durable facts about a child you are chatting with.
Read the child's newest message and return ONLY a flat JSON object of NEW or CHANGED facts.

Rules:
- Keys are short snake_case labels such as "name", "age", "favorite_color", "pet_name", "best_friend", "favorite_subject".
- Values are short plain strings.
- Only record stable facts: names, ages, likes and dislikes, pets, family, hobbies, school.
- Never record feelings or moods (sad, scared, happy today, tired, worried). Those are not facts.
- Do not repeat a fact that is already known with the same value.
- If there is nothing new, return {}.`

// maxRawLog bounds how much unparseable output is written to the log.
const maxRawLog = 500

// Extractor derives durable facts from an utterance with a language model.
type Extractor struct {
	llm    provider.Completer
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(llm provider.Completer, logger *zap.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// Prompt builds the user message for an extraction call.
func Prompt(utterance string, known map[string]string) string {
	knownJSON, _ := json.Marshal(known)
	if len(known) == 0 {
		knownJSON = []byte("{}")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Known facts: %s\n", knownJSON)
	fmt.Fprintf(&b, "Child's newest message: %q\n", utterance)
	b.WriteString("New facts as a JSON object:")
	return b.String()
}

// Extract asks the model for new facts. The error is a provider.ServiceError
// or a structured.ParseError; the caller decides whether to merge.
func (e *Extractor) Extract(ctx context.Context, utterance string, known map[string]string) (map[string]string, error) {
	if strings.TrimSpace(utterance) == "" {
		return map[string]string{}, nil
	}

	raw, err := e.llm.Complete(ctx, systemPrompt, Prompt(utterance, known), true)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	res := structured.FlatStrings(raw)
	if !res.OK() {
		e.logger.Warn("fact extraction output unusable",
			zap.String("raw", structured.Excerpt(raw, maxRawLog)), zap.Error(res.Err))
		return nil, res.Err
	}

	out := make(map[string]string, len(res.Value))
	for k, v := range res.Value {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out, nil
}

// ExtractInto extracts facts for utterance and merges them into mem in a
// single write. Nothing is merged when extraction fails.
func (e *Extractor) ExtractInto(ctx context.Context, mem *memory.Store, utterance string) (int, error) {
	found, err := e.Extract(ctx, utterance, mem.Facts())
	if err != nil {
		return 0, err
	}
	changed := mem.MergeFacts(ctx, found)
	if changed > 0 {
		e.logger.Info("facts updated", zap.Int("changed", changed), zap.Strings("keys", keys(found)))
	}
	return changed, nil
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
