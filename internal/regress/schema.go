package regress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// answerSchema is the structural contract every synthesized answer must
// satisfy before the content checks run.
const answerSchema = `{
  "type": "object",
  "required": ["text", "citations", "meta"],
  "properties": {
    "text": {"type": "string", "minLength": 1},
    "key_points": {"type": "array", "items": {"type": "string"}},
    "citations": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string", "enum": ["dataset", "graph"]},
          "dataset": {"type": "string"},
          "node_id": {"type": "string"}
        }
      }
    },
    "meta": {
      "type": "object",
      "required": ["route_type", "country", "flow_run_id"],
      "properties": {
        "route_type": {"type": "string", "minLength": 1},
        "country": {"type": "string"},
        "flow_run_id": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var compiledAnswerSchema = gojsonschema.NewStringLoader(answerSchema)

func validateAnswerShape(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	result, err := gojsonschema.Validate(compiledAnswerSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var parts []string
	for _, desc := range result.Errors() {
		parts = append(parts, desc.String())
	}
	return fmt.Errorf("schema: %s", strings.Join(parts, "; "))
}
