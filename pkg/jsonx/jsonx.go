// Package jsonx reads values out of schema-less decoded JSON
// (map[string]any / []any trees) without panicking on unexpected shapes.
package jsonx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Decode parses data keeping numbers as json.Number so ids and counts
// round-trip without float rounding.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("trailing data after JSON value")
		}
		return nil, err
	}
	return v, nil
}

// Object returns v as an object, or nil.
func Object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// Get walks a dotted path ("repository.full_name"). Array segments may be
// numeric ("alias.0").
func Get(v any, path string) (any, bool) {
	if path == "" {
		return v, v != nil
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// String returns the value at path when it is a non-empty string.
func String(v any, path string) string {
	x, ok := Get(v, path)
	if !ok {
		return ""
	}
	s, _ := x.(string)
	return s
}

// Text renders the value at path as text: strings as-is, numbers and bools
// formatted. Objects and arrays yield "".
func Text(v any, path string) string {
	x, ok := Get(v, path)
	if !ok {
		return ""
	}
	return Scalar(x)
}

// Scalar formats a leaf value. Objects and arrays yield "".
func Scalar(x any) string {
	switch t := x.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// FirstString returns the first non-empty string among paths.
func FirstString(v any, paths ...string) string {
	for _, p := range paths {
		if s := String(v, p); s != "" {
			return s
		}
	}
	return ""
}

// FirstText is FirstString with scalar formatting.
func FirstText(v any, paths ...string) string {
	for _, p := range paths {
		if s := Text(v, p); s != "" {
			return s
		}
	}
	return ""
}

// Array returns the array at path, or nil.
func Array(v any, path string) []any {
	x, _ := Get(v, path)
	a, _ := x.([]any)
	return a
}

// Bool reports the boolean at path (false when absent or not a bool).
func Bool(v any, path string) bool {
	x, _ := Get(v, path)
	b, _ := x.(bool)
	return b
}
