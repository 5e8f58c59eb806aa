package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/only-cliches/go-noproto/codec"
)

// Parse builds a schema tree from its textual JSON document form.
func Parse(doc []byte) (*Schema, error) {
	var raw any
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSchemaInvalid)
	}
	s := &Schema{}
	if _, err := s.build(raw, -1); err != nil {
		return nil, err
	}
	if err := s.resolvePortals(); err != nil {
		return nil, err
	}
	return s, nil
}

var kindsByName = map[string]Kind{
	"bool": KindBool, "i8": KindInt8, "i16": KindInt16, "i32": KindInt32,
	"i64": KindInt64, "u8": KindUint8, "u16": KindUint16, "u32": KindUint32,
	"u64": KindUint64, "f32": KindFloat32, "f64": KindFloat64,
	"dec": KindDec, "string": KindString, "bytes": KindBytes,
	"uuid": KindUUID, "ulid": KindULID, "date": KindDate, "geo": KindGeo,
	"option": KindOption, "struct": KindStruct, "tuple": KindTuple,
	"list": KindList, "map": KindMap, "portal": KindPortal,
}

// build appends the node described by raw (and its subtree) to the arena and
// returns its id. Unknown object keys are ignored so documents may carry
// annotations.
func (s *Schema) build(raw any, parent int) (int, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("schema node must be an object: %w", ErrSchemaInvalid)
	}
	typeName, _ := obj["type"].(string)

	node := Node{parent: parent, portal: -1}
	switch typeName {
	case "geo4":
		node.Kind, node.Size = KindGeo, codec.Geo4Bytes
	case "geo8":
		node.Kind, node.Size = KindGeo, codec.Geo8Bytes
	case "geo16":
		node.Kind, node.Size = KindGeo, codec.Geo16Bytes
	default:
		k, ok := kindsByName[typeName]
		if !ok {
			return 0, fmt.Errorf("unknown type %q: %w", typeName, ErrSchemaInvalid)
		}
		node.Kind = k
	}

	id := len(s.nodes)
	s.nodes = append(s.nodes, node)

	var err error
	switch node.Kind {
	case KindStruct:
		err = s.buildStruct(id, obj)
	case KindTuple:
		err = s.buildTuple(id, obj)
	case KindList:
		err = s.buildOne(id, obj, "of")
	case KindMap:
		err = s.buildOne(id, obj, "value")
	case KindPortal:
		path, ok := obj["to"].(string)
		if !ok {
			return 0, fmt.Errorf("portal requires a %q path: %w", "to", ErrSchemaInvalid)
		}
		s.nodes[id].PortalPath = path
	case KindOption:
		err = s.buildOption(id, obj)
	default:
		err = s.buildScalar(id, obj)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Schema) buildStruct(id int, obj map[string]any) error {
	raw, _ := obj["fields"].([]any)
	if len(raw) == 0 || len(raw) > MaxChildren {
		return fmt.Errorf("struct requires 1..%d fields: %w", MaxChildren, ErrSchemaInvalid)
	}
	seen := map[string]bool{}
	for _, f := range raw {
		pair, ok := f.([]any)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("struct field must be a [name, type] pair: %w", ErrSchemaInvalid)
		}
		name, ok := pair[0].(string)
		if !ok || name == "" || len(name) > MaxNameLen {
			return fmt.Errorf("struct field name invalid: %w", ErrSchemaInvalid)
		}
		if seen[name] {
			return fmt.Errorf("duplicate struct field %q: %w", name, ErrSchemaInvalid)
		}
		seen[name] = true
		child, err := s.build(pair[1], id)
		if err != nil {
			return err
		}
		s.nodes[id].Fields = append(s.nodes[id].Fields, Field{Name: name, Node: child})
	}
	return nil
}

func (s *Schema) buildTuple(id int, obj map[string]any) error {
	raw, _ := obj["values"].([]any)
	if len(raw) == 0 || len(raw) > MaxChildren {
		return fmt.Errorf("tuple requires 1..%d values: %w", MaxChildren, ErrSchemaInvalid)
	}
	sorted, _ := obj["sorted"].(bool)
	s.nodes[id].Sorted = sorted
	for _, v := range raw {
		child, err := s.build(v, id)
		if err != nil {
			return err
		}
		s.nodes[id].Children = append(s.nodes[id].Children, child)
	}
	if sorted {
		for _, c := range s.nodes[id].Children {
			if !s.Sortable(c) {
				return fmt.Errorf("sorted tuple values must all be sortable: %w", ErrSchemaInvalid)
			}
		}
	}
	return nil
}

func (s *Schema) buildOne(id int, obj map[string]any, key string) error {
	raw, ok := obj[key]
	if !ok {
		return fmt.Errorf("%s requires %q: %w", s.nodes[id].Kind, key, ErrSchemaInvalid)
	}
	child, err := s.build(raw, id)
	if err != nil {
		return err
	}
	s.nodes[id].Children = append(s.nodes[id].Children, child)
	return nil
}

func (s *Schema) buildOption(id int, obj map[string]any) error {
	raw, _ := obj["choices"].([]any)
	if len(raw) == 0 || len(raw) > MaxChildren {
		return fmt.Errorf("option requires 1..%d choices: %w", MaxChildren, ErrSchemaInvalid)
	}
	seen := map[string]bool{}
	node := &s.nodes[id]
	for _, c := range raw {
		choice, ok := c.(string)
		if !ok || choice == "" || len(choice) > MaxNameLen {
			return fmt.Errorf("option choice invalid: %w", ErrSchemaInvalid)
		}
		if seen[choice] {
			return fmt.Errorf("duplicate option choice %q: %w", choice, ErrSchemaInvalid)
		}
		seen[choice] = true
		node.Choices = append(node.Choices, choice)
	}
	if def, ok := obj["default"].(string); ok {
		idx, ok := node.ChoiceIndex(def)
		if !ok {
			return fmt.Errorf("option default %q is not a declared choice: %w", def, ErrSchemaInvalid)
		}
		node.DefaultChoice = idx
		node.Default = []byte{idx}
	}
	return nil
}

func (s *Schema) buildScalar(id int, obj map[string]any) error {
	node := &s.nodes[id]
	switch node.Kind {
	case KindString, KindBytes:
		if sz, ok := obj["size"].(float64); ok {
			if sz < 0 || sz > math.MaxUint16 {
				return fmt.Errorf("size %v: %w", sz, ErrSchemaInvalid)
			}
			node.Size = uint16(sz)
		}
		if node.Kind == KindString {
			if up, _ := obj["uppercase"].(bool); up {
				node.Case = CaseUpper
			}
			if lo, _ := obj["lowercase"].(bool); lo {
				node.Case = CaseLower
			}
		}
	case KindDec:
		exp, _ := obj["exp"].(float64)
		if exp < 0 || exp > math.MaxUint8 {
			return fmt.Errorf("dec exp %v: %w", exp, ErrSchemaInvalid)
		}
		node.Exp = uint8(exp)
	case KindGeo:
		if node.Size == 0 {
			node.Size = codec.Geo16Bytes
			if sz, ok := obj["size"].(float64); ok {
				node.Size = uint16(sz)
			}
		}
		switch node.Size {
		case codec.Geo4Bytes, codec.Geo8Bytes, codec.Geo16Bytes:
		default:
			return fmt.Errorf("geo size %d: %w", node.Size, ErrSchemaInvalid)
		}
	}
	def, ok := obj["default"]
	if !ok {
		return nil
	}
	enc, err := s.encodeDefault(id, def)
	if err != nil {
		return err
	}
	s.nodes[id].Default = enc
	return nil
}

// encodeDefault renders a textual default into the exact payload bytes the
// value record would store, so that defaulted reads and explicit writes of
// the default are indistinguishable.
func (s *Schema) encodeDefault(id int, def any) ([]byte, error) {
	node := &s.nodes[id]
	badDefault := func() error {
		return fmt.Errorf("default %v invalid for %s: %w", def, node.Kind, ErrSchemaInvalid)
	}
	switch node.Kind {
	case KindBool:
		v, ok := def.(bool)
		if !ok {
			return nil, badDefault()
		}
		b := make([]byte, codec.BoolBytes)
		codec.PutBool(b, v)
		return b, nil

	case KindInt8, KindInt16, KindInt32, KindInt64:
		f, ok := def.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, badDefault()
		}
		w, _ := s.FixedWidth(id)
		if !codec.IntRangeOK(int64(f), w) {
			return nil, badDefault()
		}
		b := make([]byte, w)
		codec.PutInt(b, int64(f))
		return b, nil

	case KindUint8, KindUint16, KindUint32, KindUint64:
		f, ok := def.(float64)
		if !ok || f != math.Trunc(f) || f < 0 {
			return nil, badDefault()
		}
		w, _ := s.FixedWidth(id)
		if !codec.UintRangeOK(uint64(f), w) {
			return nil, badDefault()
		}
		b := make([]byte, w)
		codec.PutUint(b, uint64(f))
		return b, nil

	case KindFloat32:
		f, ok := def.(float64)
		if !ok {
			return nil, badDefault()
		}
		b := make([]byte, codec.F32Bytes)
		codec.PutFloat32(b, float32(f))
		return b, nil

	case KindFloat64:
		f, ok := def.(float64)
		if !ok {
			return nil, badDefault()
		}
		b := make([]byte, codec.F64Bytes)
		codec.PutFloat64(b, f)
		return b, nil

	case KindDec:
		var d decimal.Decimal
		var err error
		switch v := def.(type) {
		case float64:
			d = decimal.NewFromFloat(v)
		case string:
			d, err = decimal.NewFromString(v)
			if err != nil {
				return nil, badDefault()
			}
		default:
			return nil, badDefault()
		}
		b := make([]byte, codec.DecBytes)
		if err := codec.PutDec(b, d, node.Exp); err != nil {
			return nil, badDefault()
		}
		return b, nil

	case KindString:
		v, ok := def.(string)
		if !ok {
			return nil, badDefault()
		}
		return encodeText(node, []byte(applyCase(node.Case, v))), nil

	case KindBytes:
		v, ok := def.(string)
		if !ok {
			return nil, badDefault()
		}
		return encodeText(node, []byte(v)), nil

	case KindUUID:
		v, ok := def.(string)
		if !ok {
			return nil, badDefault()
		}
		u, err := uuid.Parse(v)
		if err != nil {
			return nil, badDefault()
		}
		return u[:], nil

	case KindULID:
		v, ok := def.(string)
		if !ok {
			return nil, badDefault()
		}
		u, err := ulid.ParseStrict(v)
		if err != nil {
			return nil, badDefault()
		}
		return u[:], nil

	case KindDate:
		f, ok := def.(float64)
		if !ok || f < 0 || f != math.Trunc(f) {
			return nil, badDefault()
		}
		b := make([]byte, codec.DateBytes)
		codec.PutUint(b, uint64(f))
		return b, nil

	case KindGeo:
		obj, ok := def.(map[string]any)
		if !ok {
			return nil, badDefault()
		}
		lat, _ := obj["lat"].(float64)
		lng, _ := obj["lng"].(float64)
		b := make([]byte, node.Size)
		if err := codec.PutGeo(b, codec.Geo{Lat: lat, Lng: lng}); err != nil {
			return nil, badDefault()
		}
		return b, nil
	}
	return nil, badDefault()
}

func encodeText(node *Node, raw []byte) []byte {
	if node.Size == 0 {
		return raw
	}
	pad := byte(codec.StringPad)
	if node.Kind == KindBytes {
		pad = codec.BytesPad
	}
	b := make([]byte, node.Size)
	codec.PutFixedText(b, raw, pad)
	return b
}

func applyCase(c Case, v string) string {
	switch c {
	case CaseUpper:
		return strings.ToUpper(v)
	case CaseLower:
		return strings.ToLower(v)
	}
	return v
}
