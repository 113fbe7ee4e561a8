package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
)

// FieldError is a single violation with the JSON path it occurred at.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every violation found in one document.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for i := range e.Errors {
		msgs = append(msgs, e.Errors[i].Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

var formatPatterns = map[Format]*regexp.Regexp{
	FormatURI:      regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`),
	FormatUUID:     regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
	FormatDateTime: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
}

// Validator checks decoded JSON values against a JSONSchema.
// It is safe for concurrent use.
type Validator struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{patterns: make(map[string]*regexp.Regexp)}
}

// Validate decodes data and validates it against s.
func (v *Validator) Validate(data []byte, s *JSONSchema) error {
	if s == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	err := dec.Decode(&value)
	if err == nil {
		if _, tokErr := dec.Token(); tokErr != io.EOF {
			err = errors.New("unexpected data after JSON value")
		}
	}
	if err != nil {
		return &ValidationErrors{Errors: []FieldError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}
	return v.ValidateValue(value, s)
}

// ValidateValue validates an already-decoded value (maps, slices, float64 or
// json.Number, string, bool, nil) against s.
func (v *Validator) ValidateValue(value any, s *JSONSchema) error {
	if s == nil {
		return nil
	}
	var errs []FieldError
	v.validate(value, s, "", &errs)
	if len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

func (v *Validator) validate(value any, s *JSONSchema, path string, errs *[]FieldError) {
	if value == nil {
		if s.Nullable || s.Type == "" || s.Type == TypeNull {
			return
		}
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected %s, got null", s.Type)})
		return
	}

	if len(s.Enum) > 0 && !containsValue(s.Enum, value) {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("value must be one of: %v", s.Enum)})
	}

	switch s.Type {
	case TypeString:
		v.validateString(value, s, path, errs)
	case TypeNumber:
		v.validateNumber(value, s, path, errs, false)
	case TypeInteger:
		v.validateNumber(value, s, path, errs, true)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected boolean, got %s", jsonKind(value))})
		}
	case TypeNull:
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected null, got %s", jsonKind(value))})
	case TypeObject:
		v.validateObject(value, s, path, errs)
	case TypeArray:
		v.validateArray(value, s, path, errs)
	}
}

func (v *Validator) validateString(value any, s *JSONSchema, path string, errs *[]FieldError) {
	str, ok := value.(string)
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected string, got %s", jsonKind(value))})
		return
	}
	if s.MinLength != nil && len(str) < *s.MinLength {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string length %d is less than minimum %d", len(str), *s.MinLength)})
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string length %d exceeds maximum %d", len(str), *s.MaxLength)})
	}
	if s.Pattern != "" {
		re, err := v.compile(s.Pattern)
		switch {
		case err != nil:
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("invalid pattern %q: %v", s.Pattern, err)})
		case !re.MatchString(str):
			*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string does not match pattern %q", s.Pattern)})
		}
	}
	if re, ok := formatPatterns[s.Format]; ok && !re.MatchString(str) {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("string does not match format %q", s.Format)})
	}
}

func (v *Validator) validateNumber(value any, s *JSONSchema, path string, errs *[]FieldError, integer bool) {
	num, ok := toFloat64(value)
	want := "number"
	if integer {
		want = "integer"
	}
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected %s, got %s", want, jsonKind(value))})
		return
	}
	if integer && num != math.Trunc(num) {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected integer, got %v", num)})
		return
	}
	if s.Minimum != nil && num < *s.Minimum {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("value %v is less than minimum %v", num, *s.Minimum)})
	}
	if s.Maximum != nil && num > *s.Maximum {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("value %v exceeds maximum %v", num, *s.Maximum)})
	}
}

func (v *Validator) validateObject(value any, s *JSONSchema, path string, errs *[]FieldError) {
	obj, ok := value.(map[string]any)
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected object, got %s", jsonKind(value))})
		return
	}

	for _, req := range s.Required {
		val, exists := obj[req]
		switch {
		case !exists:
			*errs = append(*errs, FieldError{Path: joinPath(path, req), Message: "required field is missing"})
		case val == nil:
			*errs = append(*errs, FieldError{Path: joinPath(path, req), Message: "required field must not be null"})
		}
	}

	for name, propValue := range obj {
		propPath := joinPath(path, name)
		if ps, ok := s.Properties[name]; ok {
			if propValue == nil && s.IsRequired(name) {
				continue
			}
			v.validate(propValue, ps, propPath, errs)
			continue
		}
		if ap := s.AdditionalProperties; ap != nil {
			switch {
			case ap.Schema != nil:
				v.validate(propValue, ap.Schema, propPath, errs)
			case !ap.Allowed:
				*errs = append(*errs, FieldError{Path: propPath, Message: "additional property not allowed"})
			}
		}
	}
}

func (v *Validator) validateArray(value any, s *JSONSchema, path string, errs *[]FieldError) {
	arr, ok := value.([]any)
	if !ok {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("expected array, got %s", jsonKind(value))})
		return
	}
	if s.MinItems != nil && len(arr) < *s.MinItems {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("array has %d items, minimum is %d", len(arr), *s.MinItems)})
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		*errs = append(*errs, FieldError{Path: path, Message: fmt.Sprintf("array has %d items, maximum is %d", len(arr), *s.MaxItems)})
	}
	if s.Items != nil {
		for i, item := range arr {
			v.validate(item, s.Items, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	}
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[pattern]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.patterns[pattern] = re
	v.mu.Unlock()
	return re, nil
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsValue(values []any, value any) bool {
	for _, candidate := range values {
		if equalValues(candidate, value) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if an, ok := toFloat64(a); ok {
		bn, ok := toFloat64(b)
		return ok && an == bn
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// jsonKind names the JSON type of a decoded value for error messages.
func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}
