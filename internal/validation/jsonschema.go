package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

const documentSchemaURL = "https://wrkflo.dev/schemas/arazzo-document.json"

// documentSchemaJSON is the structural schema for workflow documents.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://wrkflo.dev/schemas/arazzo-document.json",
  "type": "object",
  "required": ["arazzo", "info", "sourceDescriptions", "workflows"],
  "properties": {
    "arazzo": {
      "type": "string",
      "pattern": "^1\\.0\\.\\d+(-.+)?$"
    },
    "info": {
      "type": "object",
      "required": ["title", "version"],
      "properties": {
        "title": { "type": "string", "minLength": 1 },
        "summary": { "type": "string" },
        "description": { "type": "string" },
        "version": { "type": "string", "minLength": 1 }
      }
    },
    "sourceDescriptions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/sourceDescription" }
    },
    "workflows": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/workflow" }
    },
    "components": { "$ref": "#/$defs/components" }
  },
  "$defs": {
    "id": {
      "type": "string",
      "pattern": "^[A-Za-z0-9_\\-]+$"
    },
    "sourceDescription": {
      "type": "object",
      "required": ["name", "url"],
      "properties": {
        "name": { "$ref": "#/$defs/id" },
        "url": { "type": "string", "minLength": 1 },
        "type": { "enum": ["openapi", "arazzo"] },
        "operations": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["url"],
            "properties": {
              "operationId": { "type": "string" },
              "url": { "type": "string", "minLength": 1 },
              "method": { "type": "string" },
              "timeout": { "type": "integer", "minimum": 0 },
              "retry": { "type": "integer", "minimum": 0 },
              "retryDelay": { "type": "integer", "minimum": 0 }
            }
          }
        }
      }
    },
    "workflow": {
      "type": "object",
      "required": ["workflowId", "steps"],
      "properties": {
        "workflowId": { "$ref": "#/$defs/id" },
        "inputs": { "type": "object" },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        },
        "outputs": { "$ref": "#/$defs/outputs" }
      }
    },
    "step": {
      "type": "object",
      "required": ["stepId"],
      "properties": {
        "stepId": { "$ref": "#/$defs/id" },
        "operationId": { "type": "string" },
        "operationPath": { "type": "string" },
        "workflowId": { "type": "string" },
        "parameters": {
          "type": "array",
          "items": { "$ref": "#/$defs/parameter" }
        },
        "requestBody": { "type": "object" },
        "successCriteria": {
          "type": "array",
          "items": { "$ref": "#/$defs/criterion" }
        },
        "onSuccess": { "type": "array", "items": { "$ref": "#/$defs/action" } },
        "onFailure": { "type": "array", "items": { "$ref": "#/$defs/action" } },
        "outputs": { "$ref": "#/$defs/outputs" }
      }
    },
    "parameter": {
      "type": "object",
      "properties": {
        "name": { "type": "string" },
        "in": { "enum": ["path", "query", "header", "cookie", "body"] },
        "reference": { "type": "string" }
      }
    },
    "criterion": {
      "type": "object",
      "required": ["condition"],
      "properties": {
        "context": { "type": "string" },
        "condition": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "pattern": "^(?i)(simple|jsonpath|xpath|regex)$"
        }
      }
    },
    "action": {
      "type": "object",
      "properties": {
        "name": { "type": "string" },
        "type": {
          "type": "string",
          "pattern": "^(?i)(end|goto|retry)$"
        },
        "stepId": { "type": "string" },
        "retryAfter": { "type": "number", "minimum": 0 },
        "retryLimit": { "type": "integer", "minimum": 0 },
        "criteria": {
          "type": "array",
          "items": { "$ref": "#/$defs/criterion" }
        },
        "reference": { "type": "string" }
      }
    },
    "outputs": {
      "type": "object",
      "propertyNames": { "pattern": "^[A-Za-z0-9_.\\-]+$" }
    },
    "components": {
      "type": "object",
      "properties": {
        "inputs": { "type": "object" },
        "parameters": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/parameter" }
        },
        "successActions": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/action" }
        },
        "failureActions": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/action" }
        }
      }
    }
  }
}`

// schemaSet holds the compiled document schema and a cache of compiled
// workflow input schemas. It is safe for concurrent use.
type schemaSet struct {
	document *jsonschema.Schema

	// mu guards the input schema cache.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func newSchemaSet() (*schemaSet, error) {
	c := newCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}
	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &schemaSet{
		document: compiled,
		cache:    make(map[string]*jsonschema.Schema),
	}, nil
}

// validateDocument checks doc against the structural schema.
func (s *schemaSet) validateDocument(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	v, err := toJSONValue(doc)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize document: "+err.Error())
		return result
	}
	if err := s.document.Validate(v); err != nil {
		addViolations(result, err)
	}
	return result
}

// inputSchema returns the compiled form of a workflow inputs schema, compiling
// and caching it on first use.
func (s *schemaSet) inputSchema(raw map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs schema: %w", err)
	}
	key := string(b)

	s.mu.RLock()
	if cached, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal inputs schema: %w", err)
	}

	// A fresh compiler per schema avoids resource URL collisions.
	url := fmt.Sprintf("wrkflo://inputs/%d", len(s.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add inputs schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile inputs schema: %w", err)
	}

	s.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func addViolations(result *schema.ValidationResult, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	for _, v := range collectViolations(verr) {
		result.AddError(v.path, schema.ErrCodeValidation, v.message)
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and returns its leaves.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		path := "/"
		if len(verr.InstanceLocation) > 0 {
			path = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: path, message: verr.Error()}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
