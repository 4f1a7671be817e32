package util

import (
	"reflect"
	"strings"
)

// StructSchema derives a JSON schema object for the argument struct v.
// Field names follow the json tag. Fields that are neither pointers nor
// tagged omitempty are required. The description and enum tags annotate a
// property. Nested structs and slice elements are described recursively.
// Anything other than a struct yields an object schema without properties.
func StructSchema(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return objectSchema(t, map[reflect.Type]bool{})
}

func objectSchema(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	props := map[string]any{}
	schema := map[string]any{"type": "object", "properties": props}
	if seen[t] {
		return schema
	}
	seen[t] = true
	defer delete(seen, t)

	var required []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}

		prop := typeSchema(f.Type, seen)
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if e := f.Tag.Get("enum"); e != "" {
			prop["enum"] = strings.Split(e, ",")
		}
		props[name] = prop

		if !omitEmpty && f.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func typeSchema(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem(), seen)}
	case reflect.Struct:
		return objectSchema(t, seen)
	case reflect.Map, reflect.Interface:
		return map[string]any{"type": "object"}
	default:
		return map[string]any{"type": "string"}
	}
}

// jsonName reports the property name of f, whether it is tagged omitempty,
// and whether encoding/json ignores it.
func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	for _, o := range strings.Split(opts, ",") {
		if strings.TrimSpace(o) == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
