package llm

// BuildNormalizedReplySchema returns the JSON-Schema a normalize reply must satisfy before
// it is projected onto the vocabulary: one flat object of scalar values. Nested objects or
// arrays mean the model did not flatten the record.
func BuildNormalizedReplySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"additionalProperties": map[string]any{
			"type": []any{"string", "number", "boolean", "null"},
		},
	}
}
