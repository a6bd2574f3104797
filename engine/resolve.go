package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var markerPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Resolve turns a step's declared value into concrete input against vars.
//
// Strings containing {{path}} markers have each marker replaced by the string
// form of the resolved path; unresolved markers are left as written. A string
// without markers is looked up as a dot-path and kept literally when the
// lookup fails. Slices and maps resolve element-wise; other values pass
// through unchanged.
func Resolve(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, vars)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveString(item, vars)
		}
		return out
	default:
		return value
	}
}

// ResolveFields resolves every field of a node into a fresh input map.
func ResolveFields(fields map[string]any, vars map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Resolve(v, vars)
	}
	return out
}

func resolveString(s string, vars map[string]any) any {
	if strings.Contains(s, "{{") {
		return markerPattern.ReplaceAllStringFunc(s, func(marker string) string {
			path := markerPattern.FindStringSubmatch(marker)[1]
			v, ok := Lookup(vars, path)
			if !ok {
				return marker
			}
			return stringify(v)
		})
	}
	if v, ok := Lookup(vars, s); ok {
		return v
	}
	return s
}

// Lookup walks a dot-separated path through nested maps and slices of any
// element type. Numeric segments index into slices. It reports false as soon
// as a segment is missing or a value along the way is nil.
func Lookup(vars map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = vars
	for _, segment := range strings.Split(path, ".") {
		if segment == "" || current == nil {
			return nil, false
		}
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// step descends one path segment into node.
func step(node any, segment string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		next, ok := n[segment]
		return next, ok
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, false
		}
		return n[idx], true
	}

	v := reflect.ValueOf(node)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		next := v.MapIndex(reflect.ValueOf(segment).Convert(v.Type().Key()))
		if !next.IsValid() {
			return nil, false
		}
		return next.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= v.Len() {
			return nil, false
		}
		return v.Index(idx).Interface(), true
	default:
		return nil, false
	}
}

// stringify renders a resolved value for template substitution. Composite
// values are rendered as JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
