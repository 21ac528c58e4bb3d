package tools

import "sort"

// EnabledSet is an immutable snapshot of the tool names an operator has
// enabled. It is read once per request; later changes in the store do
// not affect a request already in flight.
type EnabledSet struct {
	names map[string]struct{}
}

// NewEnabledSet builds a snapshot from names. Names that are not in the
// registry are kept; they still fail at the gate.
func NewEnabledSet(names ...string) EnabledSet {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return EnabledSet{names: m}
}

// AllEnabled returns a snapshot enabling every registered tool.
func AllEnabled() EnabledSet {
	return NewEnabledSet(Names()...)
}

// Contains reports whether name is enabled.
func (s EnabledSet) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of enabled names.
func (s EnabledSet) Len() int {
	return len(s.names)
}

// Names returns the enabled names sorted alphabetically.
func (s EnabledSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Gate resolves name to a tool ID when the tool is both registered and
// enabled. Either failure yields the same [*UnknownToolError].
func Gate(name string, enabled EnabledSet) (ID, error) {
	id, ok := ParseID(name)
	if !ok || !enabled.Contains(name) {
		return 0, &UnknownToolError{Name: name}
	}
	return id, nil
}
