package knowledge

import (
	"sort"
	"strings"
	"unicode"
)

// TokenSet is a set of normalized word tokens.
type TokenSet map[string]struct{}

// Has reports whether tok is in the set.
func (s TokenSet) Has(tok string) bool {
	_, ok := s[tok]
	return ok
}

// Intersect returns the tokens present in both sets, sorted.
func (s TokenSet) Intersect(other TokenSet) []string {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	var out []string
	for tok := range small {
		if large.Has(tok) {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Sorted returns the tokens in lexical order.
func (s TokenSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for tok := range s {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Tokenize lowercases text, splits it into words and drops StopWords.
// Apostrophes inside a word are kept so contractions like "don't" stay whole.
func Tokenize(text string) TokenSet {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})

	set := make(TokenSet, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" || IsStopWord(w) {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// IsStopWord reports whether a lowercased token is ignored during matching.
func IsStopWord(tok string) bool {
	_, ok := StopWords[tok]
	return ok
}

// StopWords are removed from both utterances and trigger criteria:
// conjunctions, articles, pronouns, auxiliaries, prepositions and
// conversational filler.
var StopWords = TokenSet{
	// articles and conjunctions
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "nor": {},
	"so": {}, "yet": {}, "if": {}, "because": {}, "than": {}, "then": {},
	"that": {}, "this": {}, "these": {}, "those": {},

	// pronouns
	"i": {}, "me": {}, "my": {}, "mine": {}, "myself": {},
	"you": {}, "your": {}, "yours": {}, "yourself": {},
	"he": {}, "him": {}, "his": {}, "himself": {},
	"she": {}, "her": {}, "hers": {}, "herself": {},
	"it": {}, "its": {}, "itself": {},
	"we": {}, "us": {}, "our": {}, "ours": {}, "ourselves": {},
	"they": {}, "them": {}, "their": {}, "theirs": {}, "themselves": {},
	"what": {}, "who": {}, "whom": {}, "which": {}, "there": {}, "here": {},
	"someone": {}, "something": {}, "anyone": {}, "anything": {},
	"everyone": {}, "everything": {}, "nothing": {}, "nobody": {},

	// contractions
	"i'm": {}, "i've": {}, "i'll": {}, "i'd": {}, "you're": {}, "it's": {},
	"that's": {}, "there's": {}, "don't": {}, "doesn't": {}, "didn't": {},
	"can't": {}, "won't": {}, "isn't": {}, "aren't": {}, "wasn't": {},
	"im": {}, "dont": {}, "cant": {},

	// auxiliaries and modals
	"am": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "can": {}, "could": {}, "will": {}, "would": {}, "should": {},
	"shall": {}, "may": {}, "might": {}, "must": {},

	// prepositions
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"about": {}, "from": {}, "by": {}, "up": {}, "out": {}, "into": {},
	"over": {}, "off": {}, "as": {},

	// filler
	"not": {}, "no": {}, "yes": {}, "just": {}, "really": {}, "very": {},
	"too": {}, "also": {}, "like": {}, "um": {}, "uh": {}, "oh": {},
	"okay": {}, "ok": {}, "well": {}, "yeah": {}, "hi": {}, "hey": {},
	"hello": {}, "want": {}, "feel": {}, "get": {}, "got": {}, "go": {},
	"going": {}, "gonna": {}, "anymore": {}, "all": {}, "some": {},
	"when": {}, "now": {}, "today": {}, "kind": {}, "kinda": {},
}
