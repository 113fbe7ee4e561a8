package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	timeType       = reflect.TypeOf(time.Time{})
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))

	cache sync.Map // reflect.Type -> *JSONSchema
)

// Of returns the schema generated for t, memoized per type.
// Callers must treat the returned schema as read-only.
func Of(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil type")
	}
	if s, ok := cache.Load(t); ok {
		return s.(*JSONSchema), nil
	}
	s, err := NewGenerator().Generate(t)
	if err != nil {
		return nil, err
	}
	actual, _ := cache.LoadOrStore(t, s)
	return actual.(*JSONSchema), nil
}

// For is the generic form of Of.
func For[T any]() (*JSONSchema, error) {
	return Of(reflect.TypeOf((*T)(nil)).Elem())
}

// Generator 通过反射从 Go 类型生成 JSONSchema。
type Generator struct {
	// 正在处理的类型，用于截断递归类型
	visiting map[reflect.Type]bool
}

// NewGenerator 创建 Generator。
func NewGenerator() *Generator {
	return &Generator{visiting: make(map[reflect.Type]bool)}
}

// Generate 生成 t 对应的 JSONSchema。
//
// 字段名取自 json 标签；约束取自 jsonschema 标签：
//   - required：必填
//   - nullable：允许 JSON null
//   - enum=a,b,c：枚举值
//   - minItems=1 / maxItems=10：数组长度
//   - minLength=1 / maxLength=100：字符串长度
//   - minimum=0 / maximum=1：数值范围
//   - pattern=^[a-z]+$ / format=uri：字符串约束
//   - description=...：描述
//
// 指针、切片、map 与 interface 字段允许 JSON null。
func (g *Generator) Generate(t reflect.Type) (*JSONSchema, error) {
	g.visiting = make(map[reflect.Type]bool)
	return g.generate(t)
}

func (g *Generator) generate(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil type")
	}

	if t.Kind() == reflect.Pointer {
		s, err := g.generate(t.Elem())
		if err != nil {
			return nil, err
		}
		s.Nullable = true
		return s, nil
	}

	switch t {
	case timeType:
		return &JSONSchema{Type: TypeString, Format: FormatDateTime}, nil
	case rawMessageType:
		return &JSONSchema{Nullable: true}, nil
	}

	if g.visiting[t] {
		return &JSONSchema{Type: TypeObject}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return New(TypeString), nil
	case reflect.Bool:
		return New(TypeBoolean), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return New(TypeInteger), nil
	case reflect.Float32, reflect.Float64:
		return New(TypeNumber), nil
	case reflect.Slice, reflect.Array:
		items, err := g.generate(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		s := NewArray(items)
		s.Nullable = t.Kind() == reflect.Slice
		return s, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", t.Key())
		}
		values, err := g.generate(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		s := NewObject()
		s.Nullable = true
		s.AdditionalProperties = &AdditionalProperties{Allowed: true, Schema: values}
		return s, nil
	case reflect.Struct:
		return g.generateStruct(t)
	case reflect.Interface:
		return &JSONSchema{Nullable: true}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", t.Kind())
	}
}

func (g *Generator) generateStruct(t reflect.Type) (*JSONSchema, error) {
	g.visiting[t] = true
	defer delete(g.visiting, t)

	s := NewObject()
	s.Title = t.Name()
	if err := g.addFields(s, t); err != nil {
		return nil, err
	}
	return s, nil
}

func (g *Generator) addFields(s *JSONSchema, t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		name, inline := jsonFieldName(field)
		if name == "-" {
			continue
		}

		// 嵌入结构体展开到父对象
		if inline {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if err := g.addFields(s, ft); err != nil {
					return err
				}
				continue
			}
		}

		if !field.IsExported() {
			continue
		}

		fs, err := g.generate(field.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}

		opts := parseTagOptions(field.Tag.Get("jsonschema"))
		applyOptions(fs, opts, field.Type)
		if _, ok := opts["required"]; ok {
			s.AddRequired(name)
		}
		s.Properties[name] = fs
	}
	return nil
}

// jsonFieldName returns the JSON property name, and whether the field is an
// untagged embedded struct whose fields are promoted.
func jsonFieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" && tag == "-" {
		return "-", false
	}
	if name == "" {
		return field.Name, field.Anonymous
	}
	return name, false
}

func applyOptions(s *JSONSchema, opts map[string]string, t reflect.Type) {
	if _, ok := opts["nullable"]; ok {
		s.Nullable = true
	}
	if desc, ok := opts["description"]; ok {
		s.Description = desc
	}
	if def, ok := opts["default"]; ok {
		s.Default = parseDefault(def, t)
	}
	if enum, ok := opts["enum"]; ok {
		values := strings.Split(enum, ",")
		s.Enum = make([]any, len(values))
		for i, v := range values {
			s.Enum[i] = strings.TrimSpace(v)
		}
	}
	if v, ok := atoi(opts, "minLength"); ok {
		s.MinLength = &v
	}
	if v, ok := atoi(opts, "maxLength"); ok {
		s.MaxLength = &v
	}
	if v, ok := atoi(opts, "minItems"); ok {
		s.MinItems = &v
	}
	if v, ok := atoi(opts, "maxItems"); ok {
		s.MaxItems = &v
	}
	if v, ok := atof(opts, "minimum"); ok {
		s.Minimum = &v
	}
	if v, ok := atof(opts, "maximum"); ok {
		s.Maximum = &v
	}
	if p, ok := opts["pattern"]; ok {
		s.Pattern = p
	}
	if f, ok := opts["format"]; ok {
		s.Format = Format(f)
	}
}

func atoi(opts map[string]string, key string) (int, bool) {
	raw, ok := opts[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func atof(opts map[string]string, key string) (float64, bool) {
	raw, ok := opts[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

// parseTagOptions 将 "required,enum=a,b,minItems=1" 解析为选项表。
func parseTagOptions(tag string) map[string]string {
	opts := make(map[string]string)
	for _, part := range splitTagParts(tag) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, value, ok := strings.Cut(part, "="); ok && key != "" {
			opts[key] = value
		} else {
			opts[part] = ""
		}
	}
	return opts
}

// splitTagParts 按逗号切分标签，但保留 enum 值内部的逗号：
// 值内的逗号只有在下一段是已知布尔选项或 key=value 时才视为分隔符。
func splitTagParts(tag string) []string {
	var parts []string
	var current strings.Builder
	inValue := false

	for i := 0; i < len(tag); i++ {
		ch := tag[i]
		switch {
		case ch == '=' && !inValue:
			inValue = true
			current.WriteByte(ch)
		case ch == ',' && !inValue:
			parts = append(parts, current.String())
			current.Reset()
		case ch == ',' && inValue:
			next, _, _ := strings.Cut(tag[i+1:], ",")
			if startsOption(strings.TrimSpace(next)) {
				parts = append(parts, current.String())
				current.Reset()
				inValue = false
				continue
			}
			current.WriteByte(ch)
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func startsOption(segment string) bool {
	if segment == "required" || segment == "nullable" {
		return true
	}
	key, _, ok := strings.Cut(segment, "=")
	if !ok || key == "" {
		return false
	}
	for _, c := range key {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

func parseDefault(value string, t reflect.Type) any {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return value == "true"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return value
}
