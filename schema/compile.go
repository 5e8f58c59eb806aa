package schema

import (
	"encoding/binary"
	"fmt"

	"github.com/only-cliches/go-noproto/codec"
)

// The compiled byte form is a prefix coded tree. Every node is laid out as
//
//	| kind | kind specific header | child count | children... |
//	| 1    | varies               | 1           |             |
//
// Declared defaults are embedded in the header byte for byte, exactly as the
// value record stores them, so compiling and re-parsing a schema preserves
// default semantics without re-encoding.

// Compile renders the schema tree to its compact byte form.
func (s *Schema) Compile() []byte {
	return s.compileNode(nil, 0)
}

func (s *Schema) compileNode(out []byte, id int) []byte {
	n := &s.nodes[id]
	out = append(out, byte(n.Kind))

	switch n.Kind {
	case KindDec:
		out = append(out, n.Exp)
		out = appendDefault(out, n.Default)
	case KindGeo:
		out = append(out, byte(n.Size))
		out = appendDefault(out, n.Default)
	case KindString, KindBytes:
		out = binary.BigEndian.AppendUint16(out, n.Size)
		out = append(out, byte(n.Case))
		out = binary.BigEndian.AppendUint16(out, uint16(len(n.Default)))
		out = append(out, n.Default...)
	case KindOption:
		out = append(out, byte(len(n.Choices)))
		for _, c := range n.Choices {
			out = append(out, byte(len(c)))
			out = append(out, c...)
		}
		out = append(out, n.DefaultChoice)
	case KindStruct:
		out = append(out, byte(len(n.Fields)))
		for _, f := range n.Fields {
			out = append(out, byte(len(f.Name)))
			out = append(out, f.Name...)
		}
	case KindTuple:
		if n.Sorted {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case KindList, KindMap, KindPortal:
		if n.Kind == KindPortal {
			out = append(out, byte(len(n.PortalPath)))
			out = append(out, n.PortalPath...)
		}
	default:
		out = appendDefault(out, n.Default)
	}

	switch n.Kind {
	case KindStruct:
		out = append(out, byte(len(n.Fields)))
		for _, f := range n.Fields {
			out = s.compileNode(out, f.Node)
		}
	default:
		out = append(out, byte(len(n.Children)))
		for _, c := range n.Children {
			out = s.compileNode(out, c)
		}
	}
	return out
}

func appendDefault(out []byte, def []byte) []byte {
	if def == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	return append(out, def...)
}

// ParseCompiled rebuilds a schema tree from its compact byte form.
func ParseCompiled(b []byte) (*Schema, error) {
	s := &Schema{}
	r := compiledReader{b: b}
	if _, err := s.readNode(&r, -1); err != nil {
		return nil, err
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("%d trailing bytes after schema: %w", len(b)-r.off, ErrSchemaInvalid)
	}
	if err := s.resolvePortals(); err != nil {
		return nil, err
	}
	return s, nil
}

type compiledReader struct {
	b   []byte
	off int
}

func (r *compiledReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, fmt.Errorf("compiled schema truncated at offset %d: %w", r.off, ErrSchemaInvalid)
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *compiledReader) byte1() (byte, error) {
	v, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (r *compiledReader) u16() (uint16, error) {
	v, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

func (s *Schema) readNode(r *compiledReader, parent int) (int, error) {
	kindByte, err := r.byte1()
	if err != nil {
		return 0, err
	}
	kind := Kind(kindByte)
	if _, ok := kindNames[kind]; !ok {
		return 0, fmt.Errorf("unknown type code %d: %w", kindByte, ErrSchemaInvalid)
	}

	id := len(s.nodes)
	s.nodes = append(s.nodes, Node{Kind: kind, parent: parent, portal: -1})

	switch kind {
	case KindDec:
		exp, err := r.byte1()
		if err != nil {
			return 0, err
		}
		s.nodes[id].Exp = exp
		if err := s.readDefault(r, id, codec.DecBytes); err != nil {
			return 0, err
		}
	case KindGeo:
		size, err := r.byte1()
		if err != nil {
			return 0, err
		}
		switch int(size) {
		case codec.Geo4Bytes, codec.Geo8Bytes, codec.Geo16Bytes:
		default:
			return 0, fmt.Errorf("geo size %d: %w", size, ErrSchemaInvalid)
		}
		s.nodes[id].Size = uint16(size)
		if err := s.readDefault(r, id, int(size)); err != nil {
			return 0, err
		}
	case KindString, KindBytes:
		size, err := r.u16()
		if err != nil {
			return 0, err
		}
		caseByte, err := r.byte1()
		if err != nil {
			return 0, err
		}
		if caseByte > byte(CaseLower) || (kind == KindBytes && caseByte != 0) {
			return 0, fmt.Errorf("text case code %d: %w", caseByte, ErrSchemaInvalid)
		}
		defLen, err := r.u16()
		if err != nil {
			return 0, err
		}
		s.nodes[id].Size = size
		s.nodes[id].Case = Case(caseByte)
		if defLen > 0 {
			def, err := r.take(int(defLen))
			if err != nil {
				return 0, err
			}
			s.nodes[id].Default = append([]byte(nil), def...)
		}
	case KindOption:
		count, err := r.byte1()
		if err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, fmt.Errorf("option with no choices: %w", ErrSchemaInvalid)
		}
		for i := 0; i < int(count); i++ {
			clen, err := r.byte1()
			if err != nil {
				return 0, err
			}
			choice, err := r.take(int(clen))
			if err != nil {
				return 0, err
			}
			s.nodes[id].Choices = append(s.nodes[id].Choices, string(choice))
		}
		def, err := r.byte1()
		if err != nil {
			return 0, err
		}
		if int(def) > int(count) {
			return 0, fmt.Errorf("option default %d out of range: %w", def, ErrSchemaInvalid)
		}
		s.nodes[id].DefaultChoice = def
		if def > 0 {
			s.nodes[id].Default = []byte{def}
		}
	case KindStruct:
	case KindTuple:
		sorted, err := r.byte1()
		if err != nil {
			return 0, err
		}
		s.nodes[id].Sorted = sorted == 1
	case KindPortal:
		plen, err := r.byte1()
		if err != nil {
			return 0, err
		}
		path, err := r.take(int(plen))
		if err != nil {
			return 0, err
		}
		s.nodes[id].PortalPath = string(path)
	case KindList, KindMap:
	default:
		w, _ := s.FixedWidth(id)
		if err := s.readDefault(r, id, w); err != nil {
			return 0, err
		}
	}

	if kind == KindStruct {
		return id, s.readStruct(r, id)
	}

	count, err := r.byte1()
	if err != nil {
		return 0, err
	}
	switch kind {
	case KindList, KindMap:
		if count != 1 {
			return 0, fmt.Errorf("%s requires exactly one child, got %d: %w", kind, count, ErrSchemaInvalid)
		}
	case KindTuple:
		if count == 0 {
			return 0, fmt.Errorf("tuple with no values: %w", ErrSchemaInvalid)
		}
	default:
		if count != 0 {
			return 0, fmt.Errorf("%s cannot carry children: %w", kind, ErrSchemaInvalid)
		}
	}
	for i := 0; i < int(count); i++ {
		child, err := s.readNode(r, id)
		if err != nil {
			return 0, err
		}
		s.nodes[id].Children = append(s.nodes[id].Children, child)
	}
	if kind == KindTuple && s.nodes[id].Sorted {
		for _, c := range s.nodes[id].Children {
			if !s.Sortable(c) {
				return 0, fmt.Errorf("sorted tuple values must all be sortable: %w", ErrSchemaInvalid)
			}
		}
	}
	return id, nil
}

// readStruct restores the field name table from the struct header, checks
// the child count byte agrees with it, and reads the children in declared
// order.
func (s *Schema) readStruct(r *compiledReader, id int) error {
	fieldCount, err := r.byte1()
	if err != nil {
		return err
	}
	if fieldCount == 0 {
		return fmt.Errorf("struct with no fields: %w", ErrSchemaInvalid)
	}
	names := make([]string, 0, fieldCount)
	seen := map[string]bool{}
	for i := 0; i < int(fieldCount); i++ {
		nameLen, err := r.byte1()
		if err != nil {
			return err
		}
		name, err := r.take(int(nameLen))
		if err != nil {
			return err
		}
		if nameLen == 0 || seen[string(name)] {
			return fmt.Errorf("struct field name invalid: %w", ErrSchemaInvalid)
		}
		seen[string(name)] = true
		names = append(names, string(name))
	}
	childCount, err := r.byte1()
	if err != nil {
		return err
	}
	if childCount != fieldCount {
		return fmt.Errorf("struct child count %d does not match %d fields: %w", childCount, fieldCount, ErrSchemaInvalid)
	}
	for _, name := range names {
		child, err := s.readNode(r, id)
		if err != nil {
			return err
		}
		s.nodes[id].Fields = append(s.nodes[id].Fields, Field{Name: name, Node: child})
	}
	return nil
}

func (s *Schema) readDefault(r *compiledReader, id int, width int) error {
	has, err := r.byte1()
	if err != nil {
		return err
	}
	switch has {
	case 0:
		return nil
	case 1:
		def, err := r.take(width)
		if err != nil {
			return err
		}
		s.nodes[id].Default = append([]byte(nil), def...)
		return nil
	default:
		return fmt.Errorf("default flag %d: %w", has, ErrSchemaInvalid)
	}
}
