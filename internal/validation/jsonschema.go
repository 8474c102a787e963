package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/leadflow/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowSpec validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://leadflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["workflow_name", "steps"],
  "properties": {
    "workflow_name": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "string"
    },
    "config": {
      "type": "object"
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "handler"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "handler": {
          "type": "string",
          "minLength": 1
        },
        "instructions": {
          "type": "string"
        },
        "config": {
          "type": "object"
        },
        "inputs": {
          "type": "array",
          "items": { "$ref": "#/$defs/input" }
        },
        "next_steps": {
          "type": "array",
          "items": {
            "type": "string",
            "minLength": 1
          }
        }
      },
      "additionalProperties": false
    },
    "input": {
      "type": "object",
      "required": ["key"],
      "properties": {
        "key": {
          "type": "string",
          "minLength": 1
        },
        "value": {},
        "ref": {
          "type": "string",
          "pattern": "^[^.\\s]+(\\.[^\\s]+)?$"
        }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator checks raw workflow documents against the embedded
// JSON Schema (Draft 2020-12). Safe for concurrent use after construction.
type SchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded workflow schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://leadflow.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://leadflow.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &SchemaValidator{workflowSchema: compiled}, nil
}

// ValidateSpec validates a decoded WorkflowSpec by round-tripping it
// through JSON so numbers become json.Number as the library requires.
func (v *SchemaValidator) ValidateSpec(spec *schema.WorkflowSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if spec == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow spec is nil")
		return result
	}
	doc, err := toJSONValue(spec)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize workflow spec: "+err.Error())
		return result
	}
	v.validateDoc(doc, result)
	return result
}

// ValidateRaw validates a raw JSON workflow document.
func (v *SchemaValidator) ValidateRaw(raw []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "invalid JSON: "+err.Error())
		return result
	}
	v.validateDoc(doc, result)
	return result
}

func (v *SchemaValidator) validateDoc(doc any, result *schema.ValidationResult) {
	err := v.workflowSchema.Validate(doc)
	if err == nil {
		return
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	for _, violation := range collectViolations(verr) {
		result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// numeric values become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
