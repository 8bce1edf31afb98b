// Package validation checks project outline documents before they are
// seeded into the scene store.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// outlineSchema describes the JSON document accepted by the seed command:
// an ordered list of scenes, each with a title and description. Scene
// numbers and acts are derived from position when absent.
const outlineSchema = `{
  "type": "object",
  "properties": {
    "project": {"type": "string", "minLength": 1},
    "scenes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "scene_number": {"type": "integer", "minimum": 1},
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "characters": {"type": "string"},
          "act": {"type": "integer", "minimum": 1, "maximum": 3}
        },
        "required": ["title", "description"]
      }
    }
  },
  "required": ["scenes"]
}`

// OutlineScene is one scene entry from an outline document.
type OutlineScene struct {
	SceneNumber int    `json:"scene_number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Characters  string `json:"characters"`
	Act         int    `json:"act"`
}

// Outline is a parsed, validated outline document.
type Outline struct {
	Project string         `json:"project"`
	Scenes  []OutlineScene `json:"scenes"`
}

// ValidationError describes one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult aggregates the outcome of validating one document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// ValidateOutline checks a raw outline document against the schema.
func ValidateOutline(document []byte) (*ValidationResult, error) {
	schemaLoader := gojsonschema.NewStringLoader(outlineSchema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("outline validation error: %w", err)
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return vr, nil
}

// ParseOutline validates and unmarshals an outline document. Scene
// numbers default to document order when absent.
func ParseOutline(document []byte) (*Outline, error) {
	result, err := ValidateOutline(document)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("invalid outline: %v", result.GetErrorMessages())
	}

	var outline Outline
	if err := json.Unmarshal(document, &outline); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outline: %w", err)
	}

	for i := range outline.Scenes {
		if outline.Scenes[i].SceneNumber == 0 {
			outline.Scenes[i].SceneNumber = i + 1
		}
	}

	return &outline, nil
}
