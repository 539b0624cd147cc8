package upgrade

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var errNotAnObject = errors.New("expected a json object")

// Object is a JSON object that remembers member order.
// Values are *Object, []any, json.Number, string, bool or nil.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{values: map[string]any{}}
}

// ParseObject decodes data, keeping member order and number literals.
func ParseObject(data []byte) (*Object, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	value, err := decodeValue(decoder)
	if err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level object")
	}
	object, ok := value.(*Object)
	if !ok {
		return nil, errNotAnObject
	}
	return object, nil
}

func decodeValue(decoder *json.Decoder) (any, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	switch typed := token.(type) {
	case json.Delim:
		switch typed {
		case '{':
			object := NewObject()
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyToken)
				}
				value, err := decodeValue(decoder)
				if err != nil {
					return nil, err
				}
				object.Set(key, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return object, nil
		case '[':
			items := []any{}
			for decoder.More() {
				value, err := decodeValue(decoder)
				if err != nil {
					return nil, err
				}
				items = append(items, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return items, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", typed)
		}
	default:
		return token, nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// MarshalJSON writes members in order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for position, key := range o.Keys() {
		if position > 0 {
			buffer.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		encodedValue, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		buffer.Write(encodedKey)
		buffer.WriteByte(':')
		buffer.Write(encodedValue)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns a copy of the member names in order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	value, ok := o.values[key]
	return value, ok
}

func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Set replaces an existing member in place or appends a new one.
func (o *Object) Set(key string, value any) {
	if o.values == nil {
		o.values = map[string]any{}
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// SetDefault stores value only when key is absent.
func (o *Object) SetDefault(key string, value any) {
	if !o.Has(key) {
		o.Set(key, value)
	}
}

func (o *Object) Delete(key string) {
	if !o.Has(key) {
		return
	}
	delete(o.values, key)
	for position, existing := range o.keys {
		if existing == key {
			o.keys = append(o.keys[:position], o.keys[position+1:]...)
			break
		}
	}
}

// Child returns the member key when it holds an object.
func (o *Object) Child(key string) (*Object, bool) {
	value, _ := o.Get(key)
	object, ok := value.(*Object)
	return object, ok && object != nil
}

// Text returns the member key when it holds a string.
func (o *Object) Text(key string) string {
	value, _ := o.Get(key)
	text, _ := value.(string)
	return text
}

// Array returns the member key when it holds an array.
func (o *Object) Array(key string) ([]any, bool) {
	value, _ := o.Get(key)
	items, ok := value.([]any)
	return items, ok
}

// Bool returns the member key when it holds a boolean.
func (o *Object) Bool(key string) bool {
	value, _ := o.Get(key)
	flag, _ := value.(bool)
	return flag
}

// EachObject visits every member that holds an object, in order.
func (o *Object) EachObject(fn func(key string, value *Object) error) error {
	for _, key := range o.Keys() {
		child, ok := o.Child(key)
		if !ok {
			continue
		}
		if err := fn(key, child); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Clone copies the whole tree.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	out := &Object{keys: append([]string(nil), o.keys...), values: make(map[string]any, len(o.values))}
	for key, value := range o.values {
		out.values[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case *Object:
		return typed.Clone()
	case []any:
		items := make([]any, len(typed))
		for position, item := range typed {
			items[position] = cloneValue(item)
		}
		return items
	default:
		return value
	}
}

// ensureChild returns the object stored under key, creating an empty one when absent.
func ensureChild(parent *Object, key string) *Object {
	if child, ok := parent.Child(key); ok {
		return child
	}
	child := NewObject()
	parent.Set(key, child)
	return child
}
