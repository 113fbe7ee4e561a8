package schema

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Type represents JSON Schema types.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// Format represents the string formats the validator knows how to check.
type Format string

const (
	FormatDateTime Format = "date-time"
	FormatURI      Format = "uri"
	FormatUUID     Format = "uuid"
)

// JSONSchema is the subset of JSON Schema used to describe agent payload shapes.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        Type   `json:"type,omitempty"`

	// Nullable 允许 JSON null（Go 中的指针、切片、map 字段）
	Nullable bool `json:"nullable,omitempty"`

	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`

	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	Enum []any `json:"enum,omitempty"`

	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Format    Format `json:"format,omitempty"`

	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	Default any `json:"default,omitempty"`
}

// AdditionalProperties is either a boolean or a schema.
type AdditionalProperties struct {
	Allowed bool
	Schema  *JSONSchema
}

// MarshalJSON implements json.Marshaler for AdditionalProperties.
func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return json.Marshal(nil)
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

// UnmarshalJSON implements json.Unmarshaler for AdditionalProperties.
func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed = b
		ap.Schema = nil
		return nil
	}

	var s JSONSchema
	if err := json.Unmarshal(data, &s); err == nil {
		ap.Allowed = true
		ap.Schema = &s
		return nil
	}

	return fmt.Errorf("additionalProperties must be boolean or schema")
}

// New creates a schema of the given type.
func New(t Type) *JSONSchema {
	return &JSONSchema{Type: t}
}

// NewObject creates an empty object schema.
func NewObject() *JSONSchema {
	return &JSONSchema{
		Type:       TypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArray creates an array schema with the given items schema.
func NewArray(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: TypeArray, Items: items}
}

// AddProperty adds a property to an object schema.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired marks property names as required.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	for _, n := range names {
		if !slices.Contains(s.Required, n) {
			s.Required = append(s.Required, n)
		}
	}
	return s
}

// WithEnum sets the enum values.
func (s *JSONSchema) WithEnum(values ...any) *JSONSchema {
	s.Enum = values
	return s
}

// WithMinItems sets the minimum items for an array schema.
func (s *JSONSchema) WithMinItems(n int) *JSONSchema {
	s.MinItems = &n
	return s
}

// WithMinLength sets the minimum length for a string schema.
func (s *JSONSchema) WithMinLength(n int) *JSONSchema {
	s.MinLength = &n
	return s
}

// WithNullable allows JSON null for the schema.
func (s *JSONSchema) WithNullable() *JSONSchema {
	s.Nullable = true
	return s
}

// WithAdditionalProperties sets the additionalProperties constraint.
func (s *JSONSchema) WithAdditionalProperties(allowed bool) *JSONSchema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: allowed}
	return s
}

// IsRequired checks if a property is required.
func (s *JSONSchema) IsRequired(name string) bool {
	return slices.Contains(s.Required, name)
}

// Property returns a property schema by name, or nil.
func (s *JSONSchema) Property(name string) *JSONSchema {
	if s.Properties == nil {
		return nil
	}
	return s.Properties[name]
}

// ToJSON serializes the schema.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON deserializes a schema.
func FromJSON(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &s, nil
}
