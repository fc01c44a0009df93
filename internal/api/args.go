package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Arg is a single named capability argument.
type Arg struct {
	Name  string
	Value interface{}
}

// Args is an ordered argument snapshot. Order is preserved across JSON
// round-trips so that replaying an invocation repopulates an input form in
// the order the operator originally filled it in.
type Args []Arg

// Get returns the value for name.
func (a Args) Get(name string) (interface{}, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Set replaces the value for name in place, or appends it.
func (a *Args) Set(name string, value interface{}) {
	for i, arg := range *a {
		if arg.Name == name {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Arg{Name: name, Value: value})
}

// Map flattens the snapshot into the unordered form backend calls expect.
func (a Args) Map() map[string]interface{} {
	if a == nil {
		return nil
	}
	m := make(map[string]interface{}, len(a))
	for _, arg := range a {
		m[arg.Name] = arg.Value
	}
	return m
}

// ArgsFromMap builds a snapshot from an unordered map. Keys are sorted so the
// resulting order is deterministic.
func ArgsFromMap(m map[string]interface{}) Args {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make(Args, 0, len(names))
	for _, name := range names {
		args = append(args, Arg{Name: name, Value: m[name]})
	}
	return args
}

// Validate checks that argument names are unique and non-empty.
func (a Args) Validate() error {
	seen := make(map[string]bool, len(a))
	for _, arg := range a {
		if arg.Name == "" {
			return &ValidationError{Field: "args", Reason: "argument name is empty"}
		}
		if seen[arg.Name] {
			return &ValidationError{Field: arg.Name, Reason: "duplicate argument name"}
		}
		seen[arg.Name] = true
	}
	return nil
}

// MarshalJSON encodes the snapshot as a JSON object preserving order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal argument %q: %w", arg.Name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (a *Args) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("args: expected JSON object, got %v", tok)
	}

	var args Args
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("args: expected object key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("args: decode value for %q: %w", name, err)
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("args: unmarshal value for %q: %w", name, err)
		}
		args = append(args, Arg{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*a = args
	return nil
}

// Equal reports structural equality via canonical JSON encoding.
func (a Args) Equal(b Args) bool {
	if len(a) != len(b) {
		return false
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
