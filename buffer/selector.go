package buffer

import "fmt"

type selectorKind uint8

const (
	selField selectorKind = iota + 1
	selIndex
	selKey
)

// Selector is one step of a navigation path: a struct field, a list or
// tuple position, or a map key.
type Selector struct {
	kind  selectorKind
	name  string
	index int
}

// Field selects a named struct field.
func Field(name string) Selector { return Selector{kind: selField, name: name} }

// Index selects a tuple position or list slot.
func Index(i int) Selector { return Selector{kind: selIndex, index: i} }

// Key selects a map entry.
func Key(k string) Selector { return Selector{kind: selKey, name: k} }

func (s Selector) String() string {
	switch s.kind {
	case selField:
		return s.name
	case selIndex:
		return fmt.Sprintf("%d", s.index)
	case selKey:
		return fmt.Sprintf("[%q]", s.name)
	}
	return "?"
}

// FieldName returns the field name or map key of the selector, when it has
// one.
func (s Selector) FieldName() (string, bool) {
	if s.kind == selField || s.kind == selKey {
		return s.name, true
	}
	return "", false
}

// Position returns the list or tuple index of the selector, when it has one.
func (s Selector) Position() (int, bool) {
	if s.kind == selIndex {
		return s.index, true
	}
	return 0, false
}
