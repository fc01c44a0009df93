package api

import (
	"fmt"
	"sort"
	"strings"
)

// EnvDiff is a set of environment variable changes applied atomically by the
// backend. A nil value marks the variable for deletion.
type EnvDiff map[string]*string

// NewEnvDiff creates an empty diff.
func NewEnvDiff() EnvDiff {
	return make(EnvDiff)
}

// Set records a new value for name.
func (d EnvDiff) Set(name, value string) EnvDiff {
	v := value
	d[name] = &v
	return d
}

// Unset marks name for deletion.
func (d EnvDiff) Unset(name string) EnvDiff {
	d[name] = nil
	return d
}

// Validate checks variable names before any network call is made.
func (d EnvDiff) Validate() error {
	if len(d) == 0 {
		return &ValidationError{Field: "env", Reason: "diff is empty"}
	}
	for name := range d {
		if name == "" {
			return &ValidationError{Field: "env", Reason: "variable name is empty"}
		}
		if strings.Contains(name, "=") {
			return &ValidationError{Field: name, Reason: "variable name contains '='"}
		}
	}
	return nil
}

// String renders the diff in a stable order for logs and CLI output.
func (d EnvDiff) String() string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if d[name] == nil {
			parts = append(parts, fmt.Sprintf("-%s", name))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", name, *d[name]))
		}
	}
	return strings.Join(parts, " ")
}
