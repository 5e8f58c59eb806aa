// Package schema implements the typed schema tree and its two equivalent
// encodings: the textual JSON document form and the compact compiled byte
// form. A parsed schema is immutable and may be shared freely across
// goroutines.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/only-cliches/go-noproto/codec"
)

// Kind identifies a schema node type. The values are the type codes used by
// the compiled byte form and must never be renumbered.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindDec
	KindString
	KindBytes
	KindUUID
	KindULID
	KindDate
	KindGeo
	KindOption
	KindStruct
	KindTuple
	KindList
	KindMap
	KindPortal
)

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var kindNames = map[Kind]string{
	KindBool: "bool", KindInt8: "i8", KindInt16: "i16", KindInt32: "i32",
	KindInt64: "i64", KindUint8: "u8", KindUint16: "u16", KindUint32: "u32",
	KindUint64: "u64", KindFloat32: "f32", KindFloat64: "f64", KindDec: "dec",
	KindString: "string", KindBytes: "bytes", KindUUID: "uuid",
	KindULID: "ulid", KindDate: "date", KindGeo: "geo", KindOption: "option",
	KindStruct: "struct", KindTuple: "tuple", KindList: "list",
	KindMap: "map", KindPortal: "portal",
}

// Case selects the coercion applied to string values at write time.
type Case uint8

const (
	CaseNone Case = iota
	CaseUpper
	CaseLower
)

// Limits imposed by the single byte counters used throughout the wire
// formats.
const (
	MaxChildren = 255
	MaxNameLen  = 255
)

// Field is a named struct member referencing its child node by arena id.
type Field struct {
	Name string
	Node int
}

// Node is one vertex of the schema tree. Nodes live in the arena owned by
// Schema and reference each other by arena id, which is what makes portal
// back references representable without cycles in the value graph.
type Node struct {
	Kind Kind

	// Size is the fixed byte width for string and bytes nodes (0 means
	// variable width, length prefixed) and the stored width for geo nodes
	// (4, 8 or 16).
	Size uint16
	Case Case
	Exp  uint8

	// Default holds the encoded payload bytes of the declared default, in
	// exactly the form a value record stores them, or nil when no default
	// was declared.
	Default []byte

	Choices       []string
	DefaultChoice uint8 // 1-indexed, 0 = none

	Sorted   bool
	Fields   []Field
	Children []int

	PortalPath string

	parent int // arena id of the parent node, -1 for the root
	portal int // resolved portal target arena id, -1 when not a portal
}

// Schema is an immutable parsed schema tree held as an arena of nodes with
// the root at id 0.
type Schema struct {
	nodes []Node
}

// Root returns the arena id of the root node.
func (s *Schema) Root() int { return 0 }

// Node returns the node with the given arena id. Ids are only ever produced
// by this package so lookups do not fail.
func (s *Schema) Node(id int) *Node { return &s.nodes[id] }

// Len returns the number of nodes in the arena.
func (s *Schema) Len() int { return len(s.nodes) }

// PortalTarget returns the arena id a portal node redirects to.
func (s *Schema) PortalTarget(id int) (int, error) {
	n := &s.nodes[id]
	if n.Kind != KindPortal || n.portal < 0 {
		return 0, ErrPortalUnresolved
	}
	return n.portal, nil
}

// FieldIndex returns the declared position of the named struct field.
func (n *Node) FieldIndex(name string) (int, bool) {
	for i := range n.Fields {
		if n.Fields[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// ChoiceIndex returns the 1-indexed position of the named option choice.
func (n *Node) ChoiceIndex(choice string) (uint8, bool) {
	for i, c := range n.Choices {
		if c == choice {
			return uint8(i + 1), true
		}
	}
	return 0, false
}

// FixedWidth returns the stored byte width of the node's value record when
// that width is fixed, and ok=false for variable width nodes and
// collections other than sorted tuples.
func (s *Schema) FixedWidth(id int) (int, bool) {
	n := &s.nodes[id]
	switch n.Kind {
	case KindBool:
		return codec.BoolBytes, true
	case KindInt8, KindUint8:
		return 1, true
	case KindInt16, KindUint16:
		return 2, true
	case KindInt32, KindUint32, KindFloat32:
		return 4, true
	case KindInt64, KindUint64, KindFloat64, KindDec, KindDate:
		return 8, true
	case KindUUID, KindULID:
		return 16, true
	case KindGeo:
		return int(n.Size), true
	case KindOption:
		return codec.OptionBytes, true
	case KindString, KindBytes:
		if n.Size > 0 {
			return int(n.Size), true
		}
		return 0, false
	case KindTuple:
		if !n.Sorted {
			return 0, false
		}
		total := 0
		for _, c := range n.Children {
			w, ok := s.FixedWidth(c)
			if !ok {
				return 0, false
			}
			total += w
		}
		return total, true
	default:
		return 0, false
	}
}

// Sortable reports whether the subtree rooted at id has a byte wise sortable
// encoding.
func (s *Schema) Sortable(id int) bool {
	n := &s.nodes[id]
	switch n.Kind {
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64,
		KindUint8, KindUint16, KindUint32, KindUint64,
		KindFloat32, KindFloat64, KindDec, KindUUID, KindULID,
		KindDate, KindOption:
		return true
	case KindGeo:
		return n.Size == codec.Geo4Bytes || n.Size == codec.Geo8Bytes
	case KindString, KindBytes:
		return n.Size > 0
	case KindTuple:
		if !n.Sorted {
			return false
		}
		for _, c := range n.Children {
			if !s.Sortable(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// TypeAt walks a dot separated path of struct field names and tuple indices
// from the root and returns the arena id of the node it lands on. List and
// map nodes are traversed implicitly: a component that cannot be consumed by
// the current node descends into the element type first.
func (s *Schema) TypeAt(path string) (int, error) {
	return s.typeFrom(0, path)
}

func (s *Schema) typeFrom(id int, path string) (int, error) {
	if path == "" {
		return id, nil
	}
	for _, comp := range strings.Split(path, ".") {
		next, err := s.step(id, comp)
		if err != nil {
			return 0, err
		}
		id = next
	}
	return id, nil
}

// DefaultBytesAt returns the declared default payload of the node a path
// addresses, nil when it declares none.
func (s *Schema) DefaultBytesAt(path string) ([]byte, error) {
	id, err := s.TypeAt(path)
	if err != nil {
		return nil, err
	}
	return s.nodes[id].Default, nil
}

func (s *Schema) step(id int, comp string) (int, error) {
	for hops := 0; hops <= MaxChildren; hops++ {
		n := &s.nodes[id]
		switch n.Kind {
		case KindStruct:
			i, ok := n.FieldIndex(comp)
			if !ok {
				return 0, fmt.Errorf("no field %q: %w", comp, ErrPortalUnresolved)
			}
			return n.Fields[i].Node, nil
		case KindTuple:
			i, err := parseIndex(comp)
			if err != nil || i >= len(n.Children) {
				return 0, fmt.Errorf("no tuple value %q: %w", comp, ErrPortalUnresolved)
			}
			return n.Children[i], nil
		case KindList, KindMap:
			id = n.Children[0]
		default:
			return 0, fmt.Errorf("cannot descend into %s via %q: %w", n.Kind, comp, ErrPortalUnresolved)
		}
	}
	return 0, ErrPortalUnresolved
}

func parseIndex(comp string) (int, error) {
	v, err := strconv.Atoi(comp)
	if err != nil || v < 0 || v > MaxChildren {
		return 0, fmt.Errorf("not a valid index: %q", comp)
	}
	return v, nil
}

// resolvePortals fixes up the portal edges after the tree is fully built and
// verifies each target is an ancestor of its portal node.
func (s *Schema) resolvePortals() error {
	for id := range s.nodes {
		n := &s.nodes[id]
		if n.Kind != KindPortal {
			continue
		}
		target, err := s.TypeAt(n.PortalPath)
		if err != nil {
			return fmt.Errorf("portal %q: %w", n.PortalPath, ErrPortalUnresolved)
		}
		if !s.isAncestor(target, id) {
			return fmt.Errorf("portal %q does not name an ancestor: %w", n.PortalPath, ErrPortalUnresolved)
		}
		s.nodes[id].portal = target
	}
	return nil
}

func (s *Schema) isAncestor(candidate, id int) bool {
	for cur := s.nodes[id].parent; cur >= 0; cur = s.nodes[cur].parent {
		if cur == candidate {
			return true
		}
	}
	return false
}
