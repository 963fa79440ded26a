package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// CompileSchema compiles a schema held as a generic map.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

var normalizedReplySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return CompileSchema(BuildNormalizedReplySchema())
})

// ValidateNormalizedReply checks a sanitized normalize reply against BuildNormalizedReplySchema.
func ValidateNormalizedReply(data []byte) error {
	schema, err := normalizedReplySchema()
	if err != nil {
		return err
	}
	return validate(schema, data)
}

// ParseNormalizedRecord sanitizes a normalize reply, checks its shape and decodes it.
// Every failure wraps ErrUnparseable.
func ParseNormalizedRecord(text string) (entity.FieldRecord, error) {
	s, err := Sanitize(text)
	if err != nil {
		return entity.FieldRecord{}, err
	}
	if err := ValidateNormalizedReply([]byte(s)); err != nil {
		return entity.FieldRecord{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	rec, err := entity.ParseFieldRecord([]byte(s))
	if err != nil {
		return entity.FieldRecord{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return rec, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
