package jsonapi

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema describes the parts of a JSON:API document the sync engine
// depends on. Attribute contents are deliberately left open.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "id": {"type": ["string", "integer"]},
    "identifier": {
      "type": "object",
      "required": ["type", "id"],
      "properties": {"type": {"type": "string"}, "id": {"$ref": "#/definitions/id"}}
    },
    "resource": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "type": {"type": "string", "minLength": 1},
        "attributes": {"type": ["object", "null"]},
        "relationships": {
          "type": ["object", "null"],
          "additionalProperties": {
            "type": "object",
            "properties": {
              "data": {
                "oneOf": [
                  {"type": "null"},
                  {"$ref": "#/definitions/identifier"},
                  {"type": "array", "items": {"$ref": "#/definitions/identifier"}}
                ]
              }
            }
          }
        }
      }
    }
  },
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "oneOf": [
        {"type": "null"},
        {"$ref": "#/definitions/resource"},
        {"type": "array", "items": {"$ref": "#/definitions/resource"}}
      ]
    },
    "included": {"type": "array", "items": {"$ref": "#/definitions/resource"}},
    "links": {"type": "object"}
  }
}`

var (
	envelopeOnce sync.Once
	envelope     *gojsonschema.Schema
	envelopeErr  error
)

// ValidationError lists envelope violations by field path.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is one violation at a field path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid document:")
	for i, err := range ve.Errors {
		if i == 5 {
			sb.WriteString(fmt.Sprintf(" (and %d more)", len(ve.Errors)-5))
			break
		}
		sb.WriteString(fmt.Sprintf(" %s: %s;", err.Field, err.Message))
	}
	return sb.String()
}

// ValidateEnvelope checks a raw response body against the envelope schema.
func ValidateEnvelope(body []byte) error {
	envelopeOnce.Do(func() {
		envelope, envelopeErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	})
	if envelopeErr != nil {
		return fmt.Errorf("failed to compile envelope schema: %w", envelopeErr)
	}

	result, err := envelope.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{}
	for _, e := range result.Errors() {
		verr.Errors = append(verr.Errors, FieldError{Field: e.Field(), Message: e.Description()})
	}
	return verr
}
