package upgrade

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// object builds an Object from alternating keys and values.
func object(pairs ...any) *Object {
	out := NewObject()
	for position := 0; position+1 < len(pairs); position += 2 {
		out.Set(pairs[position].(string), pairs[position+1])
	}
	return out
}

func orKey(name, key string) string {
	if name == "" {
		return key
	}
	return name
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for position, value := range values {
		out[position] = value
	}
	return out
}

// stringArray returns the string members of the array under key, never nil.
func stringArray(o *Object, key string) []any {
	items, _ := o.Array(key)
	out := []any{}
	for _, item := range items {
		if text, ok := item.(string); ok {
			out = append(out, text)
		}
	}
	return out
}

// sqlText renders a literal member as the SQL text newer revisions store.
func sqlText(o *Object, key string) (any, error) {
	value, ok := o.Get(key)
	if !ok || value == nil {
		return nil, nil
	}
	switch typed := value.(type) {
	case string:
		return typed, nil
	case json.Number:
		return typed.String(), nil
	case bool:
		return strconv.FormatBool(typed), nil
	case *Object, []any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return "'" + string(encoded) + "'", nil
	default:
		return nil, fmt.Errorf("%s: unexpected value %v", key, value)
	}
}

// stringify rewrites the listed members to their text form when they hold numbers or booleans.
func stringify(o *Object, keys ...string) {
	for _, key := range keys {
		switch typed := valueOf(o, key).(type) {
		case json.Number:
			o.Set(key, typed.String())
		case bool:
			o.Set(key, strconv.FormatBool(typed))
		}
	}
}

// stringifyAll applies stringify to every member of o. Storage parameters are scalars, so
// nested objects and arrays are rejected.
func stringifyAll(o *Object) error {
	for _, key := range o.Keys() {
		switch valueOf(o, key).(type) {
		case *Object, []any:
			return fmt.Errorf("%s: storage parameter must be a scalar", key)
		}
	}
	stringify(o, o.Keys()...)
	return nil
}

func valueOf(o *Object, key string) any {
	value, _ := o.Get(key)
	return value
}
