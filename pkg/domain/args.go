package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Arg is a single named scalar argument.
type Arg struct {
	Name  string
	Value any
}

// Args is an ordered set of scalar arguments, kept in the order the model
// produced them. Values are strings, booleans or numbers.
type Args []Arg

// ParseArgs decodes a JSON object of scalars. An empty string yields no args.
func ParseArgs(s string) (Args, error) {
	var args Args
	if len(bytes.TrimSpace([]byte(s))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Get returns the value of the named argument.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Set replaces the named argument in place, or appends it.
func (a Args) Set(name string, value any) Args {
	for i := range a {
		if a[i].Name == name {
			a[i].Value = value
			return a
		}
	}
	return append(a, Arg{Name: name, Value: value})
}

// Map returns the arguments as an unordered map.
func (a Args) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, arg := range a {
		m[arg.Name] = arg.Value
	}
	return m
}

// Validate checks that every value is a scalar.
func (a Args) Validate() error {
	for _, arg := range a {
		if !isScalar(arg.Value) {
			return fmt.Errorf("argument %q: non-scalar value of type %T", arg.Name, arg.Value)
		}
	}
	return nil
}

// String returns the compact JSON encoding of the arguments.
func (a Args) String() string {
	b, err := a.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, preserving key order. Nested
// objects, arrays and nulls are rejected.
func (a *Args) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("arguments must be a JSON object")
	}

	var out Args
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		val, err := dec.Token()
		if err != nil {
			return err
		}
		switch v := val.(type) {
		case string, bool, json.Number:
			out = out.Set(key, v)
		default:
			return fmt.Errorf("argument %q: value is not a string, number or boolean", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after arguments object")
	}
	*a = out
	return nil
}

// FormatScalar renders an argument value the way it appears in URLs and
// query strings.
func FormatScalar(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
