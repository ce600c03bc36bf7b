// Package structured turns untrusted model output into typed values through
// two stages: parse, then validate. Every outcome is a tagged Result.
package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// Kind tags the outcome of a decode.
type Kind int

const (
	KindOK Kind = iota
	KindParseError
	KindValidationError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindParseError:
		return "parse_error"
	case KindValidationError:
		return "validation_error"
	}
	return "unknown"
}

// ParseError means the text was not a usable JSON document.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return "parse model output: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError means the document parsed but does not fit the schema.
type ValidationError struct {
	Raw      string
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validate model output: " + strings.Join(e.Problems, "; ")
}

// Result is either a value or exactly one of ParseError / ValidationError.
type Result[T any] struct {
	Value T
	Err   error
}

// Kind reports which branch r is on.
func (r Result[T]) Kind() Kind {
	switch r.Err.(type) {
	case nil:
		return KindOK
	case *ValidationError:
		return KindValidationError
	default:
		return KindParseError
	}
}

// OK reports whether r holds a value.
func (r Result[T]) OK() bool { return r.Err == nil }

var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)\r?\n?```$")

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, plus outer whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Schema is a compiled JSON schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// NewSchema compiles a JSON schema document.
func NewSchema(doc string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// MustSchema is NewSchema for package-level schema literals.
func MustSchema(doc string) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a JSON document and lists every violation.
func (s *Schema) Validate(data []byte) []string {
	res, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []string{err.Error()}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return problems
}

// Decode strips fences, requires a JSON object, validates it against schema
// when non-nil, and unmarshals it into T.
func Decode[T any](raw string, schema *Schema) Result[T] {
	var out Result[T]
	body := StripFences(raw)
	data := []byte(body)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		out.Err = &ParseError{Raw: raw, Err: err}
		return out
	}
	if probe == nil {
		out.Err = &ParseError{Raw: raw, Err: fmt.Errorf("expected a JSON object, got null")}
		return out
	}

	if schema != nil {
		if problems := schema.Validate(data); len(problems) > 0 {
			out.Err = &ValidationError{Raw: raw, Problems: problems}
			return out
		}
	}

	if err := json.Unmarshal(data, &out.Value); err != nil {
		out.Err = &ValidationError{Raw: raw, Problems: []string{err.Error()}}
	}
	return out
}

// FlatStrings parses a flat JSON object into string pairs. Strings, numbers
// and booleans are kept as text; null values are dropped. Nested objects or
// arrays make the whole document a ParseError.
func FlatStrings(raw string) Result[map[string]string] {
	var out Result[map[string]string]
	body := StripFences(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		out.Err = &ParseError{Raw: raw, Err: err}
		return out
	}
	if dec.More() {
		out.Err = &ParseError{Raw: raw, Err: fmt.Errorf("trailing data after object")}
		return out
	}
	if obj == nil {
		out.Err = &ParseError{Raw: raw, Err: fmt.Errorf("expected a JSON object, got null")}
		return out
	}

	flat := make(map[string]string, len(obj))
	for k, v := range obj {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		switch val := v.(type) {
		case nil:
		case string:
			flat[key] = val
		case json.Number:
			flat[key] = val.String()
		case bool:
			flat[key] = strconv.FormatBool(val)
		default:
			out.Err = &ParseError{Raw: raw, Err: fmt.Errorf("value for %q is not a scalar", k)}
			return out
		}
	}
	out.Value = flat
	return out
}

// Excerpt shortens untrusted text for logs and error messages to at most n
// bytes of content, cutting on a rune boundary.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
