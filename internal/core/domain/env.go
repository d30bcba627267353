package domain

import (
	"regexp"
	"sort"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Env is a set of named string variables. Values are opaque; canonical
// ordering is byte-wise by name.
type Env map[string]string

// ValidateName reports whether name is an acceptable variable name.
func ValidateName(name string) error {
	if !envNamePattern.MatchString(name) {
		return ErrInvalidEnvName.WithDetailsf("%q", name)
	}
	return nil
}

// Validate checks every variable name, reporting the first invalid one in
// canonical order.
func (e Env) Validate() error {
	for _, name := range e.Names() {
		if err := ValidateName(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the variable names sorted byte-wise.
func (e Env) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets hold the same name/value pairs.
func (e Env) Equal(other Env) bool {
	if len(e) != len(other) {
		return false
	}
	for k, v := range e {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
