// Package tool defines the closed, typed tool contract the model may
// invoke mid-generation.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Invoker executes the business logic of one tool call. It may perform
// network I/O and fail independently of the model.
type Invoker func(ctx context.Context, input map[string]any) (json.RawMessage, error)

// Spec declares a callable capability exposed to the model. Specs are
// validated once at registration, not per call.
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]any
	Invoke      Invoker
}

// Profile selects which registered tools a request may use. Filtering is
// a pure function over the registry, never a mutation of it.
type Profile string

const (
	// ProfileAll exposes every registered tool.
	ProfileAll Profile = "all"
	// ProfileNone disables tools, for reasoning-only model variants.
	ProfileNone Profile = "none"
)

// Error marks a failure local to one tool call. The orchestrator records
// it as a tool-call-error event and continues the loop.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validate checks the spec is well formed. Called at registration time
// so malformed tools are caught before any session uses them.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return errors.New("tool name is required")
	}
	if s.Invoke == nil {
		return fmt.Errorf("tool %s: invoker is required", s.Name)
	}
	if err := checkSchema(s.InputSchema); err != nil {
		return fmt.Errorf("tool %s: input schema: %w", s.Name, err)
	}
	return nil
}

// CheckInput validates arguments against the spec's input schema.
func (s *Spec) CheckInput(input map[string]any) error {
	schema := s.InputSchema
	if len(schema) == 0 {
		return nil
	}

	required, _ := schema["required"].([]string)
	for _, field := range required {
		if _, ok := input[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	additional := true
	if v, ok := schema["additionalProperties"].(bool); ok {
		additional = v
	}

	for key, value := range input {
		prop, ok := properties[key]
		if !ok {
			if len(properties) > 0 && !additional {
				return fmt.Errorf("unknown argument %q", key)
			}
			continue
		}
		propMap, _ := prop.(map[string]any)
		typeName, ok := propMap["type"].(string)
		if !ok {
			continue
		}
		if !matchesType(typeName, value) {
			return fmt.Errorf("argument %q must be %s", key, typeName)
		}
	}
	return nil
}

// checkSchema verifies the JSON-schema subset the registry accepts:
// required (list of strings), properties (objects with string type),
// additionalProperties (bool).
func checkSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if raw, ok := schema["required"]; ok {
		if _, ok := raw.([]string); !ok {
			return errors.New(`"required" must be a []string`)
		}
	}
	if raw, ok := schema["additionalProperties"]; ok {
		if _, ok := raw.(bool); !ok {
			return errors.New(`"additionalProperties" must be a bool`)
		}
	}
	raw, ok := schema["properties"]
	if !ok {
		return nil
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return errors.New(`"properties" must be an object`)
	}
	for name, prop := range props {
		propMap, ok := prop.(map[string]any)
		if !ok {
			return fmt.Errorf("property %q must be an object", name)
		}
		if rawType, ok := propMap["type"]; ok {
			if _, ok := rawType.(string); !ok {
				return fmt.Errorf("property %q type must be a string", name)
			}
		}
	}
	return nil
}

func matchesType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
