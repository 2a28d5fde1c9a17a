package textgen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const planSchema = `{
  "type": "object",
  "required": ["queries"],
  "properties": {
    "queries": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"}
    },
    "aspects": {"type": "array", "items": {"type": "string"}},
    "reasoning": {"type": "string"}
  }
}`

const assessSchema = `{
  "type": "object",
  "required": ["overall_score", "completeness", "source_diversity", "fact_consistency"],
  "properties": {
    "overall_score": {"type": "number", "minimum": 0, "maximum": 10},
    "completeness": {"type": "number", "minimum": 0, "maximum": 10},
    "source_diversity": {"type": "number", "minimum": 0, "maximum": 10},
    "fact_consistency": {"type": "number", "minimum": 0, "maximum": 10},
    "gaps": {"type": "array", "items": {"type": "string"}},
    "suggestions": {"type": "array", "items": {"type": "string"}}
  }
}`

func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(doc), &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	s, err := c.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return s, nil
}

// decode extracts the JSON object from a model answer, validates it against
// schema and unmarshals it into out.
func decode(answer string, schema *jsonschema.Schema, out any) error {
	raw, err := extractObject(answer)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

// extractObject returns the outermost {...} span of s. Models often wrap
// JSON in prose or markdown fences.
func extractObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in answer", ErrInvalidOutput)
	}
	return s[start : end+1], nil
}
