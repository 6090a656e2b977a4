// Package plugin defines the C5 plugin contract (spec §4.5): the training
// and image plugin interfaces, their capability self-description, and the
// validator that gates job submissions against what a plugin actually
// wires up.
package plugin

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/embercore/forge/ferrors"
)

// ParameterType enumerates the scalar kinds a capability parameter can be.
type ParameterType string

const (
	ParamInt   ParameterType = "int"
	ParamFloat ParameterType = "float"
	ParamBool  ParameterType = "bool"
	ParamEnum  ParameterType = "enum"
)

// ParameterSpec describes one config field a plugin advertises, whether or
// not it is actually wired to take effect.
type ParameterSpec struct {
	Type    ParameterType `json:"type"`
	Min     *float64      `json:"min,omitempty"`
	Max     *float64      `json:"max,omitempty"`
	Step    *float64      `json:"step,omitempty"`
	Options []string      `json:"options,omitempty"`
	Default any           `json:"default,omitempty"`
	Wired   bool          `json:"wired"`
	Reason  string        `json:"reason,omitempty"`
}

// ToggleSpec describes one boolean `use_*` capability a plugin may or may
// not support.
type ToggleSpec struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason,omitempty"`
}

// CapabilitySchema is a plugin's self-description of what it supports, used
// solely by Validate to reject submissions referencing unwired parameters
// or unsupported toggles.
type CapabilitySchema struct {
	Method     string                   `json:"method,omitempty"`
	Backend    string                   `json:"backend,omitempty"`
	Variants   []string                 `json:"variants,omitempty"`
	Toggles    map[string]ToggleSpec    `json:"toggles,omitempty"`
	Parameters map[string]ParameterSpec `json:"parameters,omitempty"`
}

// Validate iterates the submitted config against schema, per spec §4.5:
//   - a field present in Parameters with Wired=false is rejected with its Reason
//   - a numeric field is bounds-checked against Min/Max
//   - an enum field is membership-checked against Options
//   - a bool field is type-checked
//   - fields absent from Parameters are ignored (forward compatibility)
//   - every truthy use_* toggle must have a {supported: true} entry in Toggles
func Validate(schema CapabilitySchema, config map[string]any) error {
	if err := validateStructural(schema, config); err != nil {
		return err
	}
	for name, value := range config {
		spec, known := schema.Parameters[name]
		if !known {
			continue
		}
		if !spec.Wired {
			return ferrors.Validation("parameter "+name+" is not supported", spec.Reason)
		}
		if err := validateField(name, spec, value); err != nil {
			return err
		}
	}
	for name, value := range config {
		if len(name) < 4 || name[:4] != "use_" {
			continue
		}
		on, ok := value.(bool)
		if !ok || !on {
			continue
		}
		toggle, known := schema.Toggles[name]
		if !known || !toggle.Supported {
			return ferrors.Validation("toggle "+name+" is not supported", toggle.Reason)
		}
	}
	return nil
}

func validateField(name string, spec ParameterSpec, value any) error {
	switch spec.Type {
	case ParamInt, ParamFloat:
		n, ok := asFloat(value)
		if !ok {
			return ferrors.Validation(name+" must be numeric", "")
		}
		if spec.Min != nil && n < *spec.Min {
			return ferrors.Validation(name+" is below minimum", "")
		}
		if spec.Max != nil && n > *spec.Max {
			return ferrors.Validation(name+" exceeds maximum", "")
		}
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return ferrors.Validation(name+" must be a boolean", "")
		}
	case ParamEnum:
		s, ok := value.(string)
		if !ok {
			return ferrors.Validation(name+" must be a string", "")
		}
		if !contains(spec.Options, s) {
			return ferrors.Validation(name+" is not one of the supported options", "")
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

// validateStructural runs config through a JSON Schema compiled from
// schema.Parameters before the field-by-field semantic checks above, so a
// submission with the wrong JSON shape for a parameter (an object where a
// number is expected, say) fails with a schema error rather than tripping
// an unrelated type assertion further down. additionalProperties is left
// unset (schema forward-compatible: unknown fields are ignored, matching
// the loop above).
func validateStructural(schema CapabilitySchema, config map[string]any) error {
	if len(schema.Parameters) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("capability.json", capabilityJSONSchema(schema)); err != nil {
		return fmt.Errorf("plugin: add capability schema resource: %w", err)
	}
	compiled, err := c.Compile("capability.json")
	if err != nil {
		return fmt.Errorf("plugin: compile capability schema: %w", err)
	}
	if err := compiled.Validate(map[string]any(config)); err != nil {
		return ferrors.Validation("config does not match the plugin's capability schema", err.Error())
	}
	return nil
}

// capabilityJSONSchema converts a CapabilitySchema's parameter descriptions
// into a JSON Schema document describing the shape (not the wired/reason
// semantics, which stay the validator's job) of an acceptable config.
func capabilityJSONSchema(schema CapabilitySchema) map[string]any {
	props := make(map[string]any, len(schema.Parameters))
	for name, spec := range schema.Parameters {
		props[name] = parameterJSONSchema(spec)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func parameterJSONSchema(spec ParameterSpec) map[string]any {
	prop := map[string]any{}
	switch spec.Type {
	case ParamInt:
		prop["type"] = "integer"
	case ParamFloat:
		prop["type"] = "number"
	case ParamBool:
		prop["type"] = "boolean"
	case ParamEnum:
		prop["type"] = "string"
		if len(spec.Options) > 0 {
			opts := make([]any, len(spec.Options))
			for i, o := range spec.Options {
				opts[i] = o
			}
			prop["enum"] = opts
		}
	}
	if spec.Min != nil {
		prop["minimum"] = *spec.Min
	}
	if spec.Max != nil {
		prop["maximum"] = *spec.Max
	}
	return prop
}
