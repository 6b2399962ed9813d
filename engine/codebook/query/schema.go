package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonschema"
)

// Schema is a compiled JSON Schema describing the expected answer.
type Schema struct {
	raw      []byte
	compiled *jsonschema.Schema
}

// NewSchema compiles a JSON Schema document.
func NewSchema(raw map[string]any) (*Schema, error) {
	bytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return compile(bytes)
}

// SchemaFor reflects the answer schema from T, which must be a struct.
// Fields without omitempty are required.
func SchemaFor[T any]() (*Schema, error) {
	reflector := &invopop.Reflector{
		Anonymous:                 true,
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	reflected := reflector.Reflect(new(T))
	reflected.Version = ""
	bytes, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return compile(bytes)
}

func compile(bytes []byte) (*Schema, error) {
	compiled, err := jsonschema.NewCompiler().Compile(bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{raw: bytes, compiled: compiled}, nil
}

func (s *Schema) String() string {
	return string(s.raw)
}

// Validate checks a decoded JSON value and returns a *ValidationError on mismatch.
func (s *Schema) Validate(value any) error {
	result := s.compiled.Validate(value)
	if result.Valid {
		return nil
	}
	verr := &ValidationError{Details: make(map[string]string, len(result.Errors))}
	for keyword, evalErr := range result.Errors {
		verr.Keywords = append(verr.Keywords, keyword)
		verr.Details[keyword] = evalErr.Error()
	}
	sort.Strings(verr.Keywords)
	return verr
}

// ValidationError reports an answer that does not match its schema.
type ValidationError struct {
	Keywords []string
	Details  map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Keywords))
	for _, k := range e.Keywords {
		parts = append(parts, k+": "+e.Details[k])
	}
	return "answer does not match schema: " + strings.Join(parts, "; ")
}
