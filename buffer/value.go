package buffer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/only-cliches/go-noproto/codec"
	"github.com/only-cliches/go-noproto/schema"
)

// encodeRecord renders a boundary Go value into the exact bytes its value
// record stores: the fixed width encoding for scalars, or the u16 length
// prefixed form for variable width strings and bytes.
func (b *Buffer) encodeRecord(id int, value any) ([]byte, error) {
	n := b.sch.Node(id)
	switch n.Kind {
	case schema.KindBool:
		v, ok := value.(bool)
		if !ok {
			return nil, typeErr(n, value)
		}
		rec := make([]byte, codec.BoolBytes)
		codec.PutBool(rec, v)
		return rec, nil

	case schema.KindInt8, schema.KindInt16, schema.KindInt32, schema.KindInt64:
		v, ok := coerceInt64(value)
		if !ok {
			return nil, typeErr(n, value)
		}
		w, _ := b.sch.FixedWidth(id)
		if !codec.IntRangeOK(v, w) {
			return nil, fmt.Errorf("%d does not fit %s: %w", v, n.Kind, ErrOutOfRange)
		}
		rec := make([]byte, w)
		codec.PutInt(rec, v)
		return rec, nil

	case schema.KindUint8, schema.KindUint16, schema.KindUint32, schema.KindUint64:
		v, ok := coerceUint64(value)
		if !ok {
			return nil, typeErr(n, value)
		}
		w, _ := b.sch.FixedWidth(id)
		if !codec.UintRangeOK(v, w) {
			return nil, fmt.Errorf("%d does not fit %s: %w", v, n.Kind, ErrOutOfRange)
		}
		rec := make([]byte, w)
		codec.PutUint(rec, v)
		return rec, nil

	case schema.KindFloat32:
		var f float32
		switch v := value.(type) {
		case float32:
			f = v
		case float64:
			f = float32(v)
		default:
			return nil, typeErr(n, value)
		}
		rec := make([]byte, codec.F32Bytes)
		codec.PutFloat32(rec, f)
		return rec, nil

	case schema.KindFloat64:
		var f float64
		switch v := value.(type) {
		case float32:
			f = float64(v)
		case float64:
			f = v
		default:
			return nil, typeErr(n, value)
		}
		rec := make([]byte, codec.F64Bytes)
		codec.PutFloat64(rec, f)
		return rec, nil

	case schema.KindDec:
		var d decimal.Decimal
		switch v := value.(type) {
		case decimal.Decimal:
			d = v
		case string:
			var err error
			d, err = decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a decimal: %w", v, ErrTypeMismatch)
			}
		case float64:
			d = decimal.NewFromFloat(v)
		case int:
			d = decimal.New(int64(v), 0)
		case int64:
			d = decimal.New(v, 0)
		default:
			return nil, typeErr(n, value)
		}
		rec := make([]byte, codec.DecBytes)
		if err := codec.PutDec(rec, d, n.Exp); err != nil {
			return nil, err
		}
		return rec, nil

	case schema.KindString:
		v, ok := value.(string)
		if !ok {
			return nil, typeErr(n, value)
		}
		switch n.Case {
		case schema.CaseUpper:
			v = strings.ToUpper(v)
		case schema.CaseLower:
			v = strings.ToLower(v)
		}
		return encodeTextRecord(n, []byte(v), codec.StringPad)

	case schema.KindBytes:
		v, ok := value.([]byte)
		if !ok {
			return nil, typeErr(n, value)
		}
		return encodeTextRecord(n, v, codec.BytesPad)

	case schema.KindUUID:
		switch v := value.(type) {
		case uuid.UUID:
			return append([]byte(nil), v[:]...), nil
		case string:
			u, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a uuid: %w", v, ErrTypeMismatch)
			}
			return append([]byte(nil), u[:]...), nil
		default:
			return nil, typeErr(n, value)
		}

	case schema.KindULID:
		switch v := value.(type) {
		case ulid.ULID:
			return append([]byte(nil), v[:]...), nil
		case string:
			u, err := ulid.ParseStrict(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a ulid: %w", v, ErrTypeMismatch)
			}
			return append([]byte(nil), u[:]...), nil
		default:
			return nil, typeErr(n, value)
		}

	case schema.KindDate:
		rec := make([]byte, codec.DateBytes)
		switch v := value.(type) {
		case time.Time:
			codec.PutDate(rec, v)
		case uint64:
			codec.PutUint(rec, v)
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("date %d before the epoch: %w", v, ErrOutOfRange)
			}
			codec.PutUint(rec, uint64(v))
		default:
			return nil, typeErr(n, value)
		}
		return rec, nil

	case schema.KindGeo:
		v, ok := value.(codec.Geo)
		if !ok {
			return nil, typeErr(n, value)
		}
		rec := make([]byte, n.Size)
		if err := codec.PutGeo(rec, v); err != nil {
			return nil, err
		}
		return rec, nil

	case schema.KindOption:
		v, ok := value.(string)
		if !ok {
			return nil, typeErr(n, value)
		}
		if v == "" {
			return []byte{0}, nil
		}
		idx, ok := n.ChoiceIndex(v)
		if !ok {
			return nil, fmt.Errorf("%q is not a declared choice: %w", v, ErrOutOfRange)
		}
		return []byte{idx}, nil

	default:
		return nil, fmt.Errorf("%s values cannot be assigned directly: %w", n.Kind, ErrTypeMismatch)
	}
}

func encodeTextRecord(n *schema.Node, raw []byte, pad byte) ([]byte, error) {
	if n.Size > 0 {
		rec := make([]byte, n.Size)
		codec.PutFixedText(rec, raw, pad)
		return rec, nil
	}
	if len(raw) > math.MaxUint16 {
		return nil, fmt.Errorf("value of %d bytes exceeds the length prefix: %w", len(raw), ErrOutOfRange)
	}
	rec := make([]byte, 2+len(raw))
	putU16(rec, len(raw))
	copy(rec[2:], raw)
	return rec, nil
}

// writeRecord places an encoded record at the cursor. Fixed width rewrites,
// and variable width rewrites of exactly the same stored size, happen in
// place; everything else appends a fresh record and patches the parent slot
// last, so an interrupted write leaves dead space, never a dangling address.
func (b *Buffer) writeRecord(cur cursor, rec []byte) error {
	if cur.inline {
		if cur.valueAddr == 0 {
			return fmt.Errorf("inline slot was not materialized: %w", ErrMalformed)
		}
		if len(rec) != cur.width {
			return fmt.Errorf("inline record of %d bytes in a %d byte slot: %w", len(rec), cur.width, ErrMalformed)
		}
		region, err := b.mem.region(cur.valueAddr, cur.width)
		if err != nil {
			return err
		}
		copy(region, rec)
		return nil
	}

	n := b.sch.Node(cur.node)
	_, fixed := b.sch.FixedWidth(cur.node)
	if cur.valueAddr != 0 {
		if fixed {
			region, err := b.mem.region(cur.valueAddr, len(rec))
			if err != nil {
				return err
			}
			copy(region, rec)
			return nil
		}
		// variable width: rewrite in place only on an exact size match
		oldLen, err := b.mem.readU16(cur.valueAddr)
		if err != nil {
			return err
		}
		if 2+oldLen == len(rec) {
			region, err := b.mem.region(cur.valueAddr, len(rec))
			if err != nil {
				return err
			}
			copy(region, rec)
			return nil
		}
	}
	if cur.slotAddr < 0 {
		return fmt.Errorf("no slot to hold the new %s value: %w", n.Kind, ErrMalformed)
	}
	addr, err := b.mem.allocate(len(rec))
	if err != nil {
		return err
	}
	region, err := b.mem.region(addr, len(rec))
	if err != nil {
		return err
	}
	copy(region, rec)
	return b.patchSlot(cur.slotAddr, addr)
}

// readValue decodes the scalar at the cursor, falling back to the schema
// default when the position is vacant.
func (b *Buffer) readValue(cur cursor) (any, error) {
	n := b.sch.Node(cur.node)
	switch n.Kind {
	case schema.KindStruct, schema.KindTuple, schema.KindList, schema.KindMap:
		return nil, fmt.Errorf("%s cannot be read wholesale: %w", n.Kind, ErrTypeMismatch)
	}
	if cur.inline && cur.valueAddr != 0 {
		region, err := b.mem.region(cur.valueAddr, cur.width)
		if err != nil {
			return nil, err
		}
		return b.decodePayload(n, region)
	}
	if cur.valueAddr == 0 {
		if n.Kind == schema.KindOption {
			return b.optionChoice(n, n.DefaultChoice)
		}
		if n.Default == nil {
			return nil, nil
		}
		return b.decodePayload(n, n.Default)
	}
	payload, err := b.recordPayload(cur)
	if err != nil {
		return nil, err
	}
	return b.decodePayload(n, payload)
}

// recordPayload returns the value bytes of the record at the cursor, with
// any length prefix stripped.
func (b *Buffer) recordPayload(cur cursor) ([]byte, error) {
	n := b.sch.Node(cur.node)
	if w, fixed := b.sch.FixedWidth(cur.node); fixed {
		return b.mem.region(cur.valueAddr, w)
	}
	switch n.Kind {
	case schema.KindString, schema.KindBytes:
		length, err := b.mem.readU16(cur.valueAddr)
		if err != nil {
			return nil, err
		}
		return b.mem.region(cur.valueAddr+2, length)
	}
	return nil, fmt.Errorf("%s has no value record: %w", n.Kind, ErrTypeMismatch)
}

func (b *Buffer) decodePayload(n *schema.Node, payload []byte) (any, error) {
	switch n.Kind {
	case schema.KindBool:
		return codec.Bool(payload), nil
	case schema.KindInt8:
		return int8(codec.Int(payload)), nil
	case schema.KindInt16:
		return int16(codec.Int(payload)), nil
	case schema.KindInt32:
		return int32(codec.Int(payload)), nil
	case schema.KindInt64:
		return codec.Int(payload), nil
	case schema.KindUint8:
		return uint8(codec.Uint(payload)), nil
	case schema.KindUint16:
		return uint16(codec.Uint(payload)), nil
	case schema.KindUint32:
		return uint32(codec.Uint(payload)), nil
	case schema.KindUint64:
		return codec.Uint(payload), nil
	case schema.KindFloat32:
		return codec.Float32(payload), nil
	case schema.KindFloat64:
		return codec.Float64(payload), nil
	case schema.KindDec:
		return codec.Dec(payload, n.Exp), nil
	case schema.KindString:
		if n.Size > 0 {
			return string(codec.TrimFixedText(payload, codec.StringPad)), nil
		}
		return string(payload), nil
	case schema.KindBytes:
		return append([]byte(nil), payload...), nil
	case schema.KindUUID:
		u, err := uuid.FromBytes(payload)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
		}
		return u, nil
	case schema.KindULID:
		var u ulid.ULID
		if len(payload) != len(u) {
			return nil, fmt.Errorf("ulid record of %d bytes: %w", len(payload), ErrMalformed)
		}
		copy(u[:], payload)
		return u, nil
	case schema.KindDate:
		return codec.Date(payload), nil
	case schema.KindGeo:
		g, err := codec.GeoValue(payload)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
		}
		return g, nil
	case schema.KindOption:
		return b.optionChoice(n, payload[0])
	}
	return nil, fmt.Errorf("%s has no scalar form: %w", n.Kind, ErrTypeMismatch)
}

// optionChoice maps a stored 1-indexed choice byte to its string, falling
// back to the declared default when unset.
func (b *Buffer) optionChoice(n *schema.Node, idx uint8) (any, error) {
	if idx == 0 {
		idx = n.DefaultChoice
	}
	if idx == 0 {
		return nil, nil
	}
	if int(idx) > len(n.Choices) {
		return nil, fmt.Errorf("choice %d outside %d declared: %w", idx, len(n.Choices), ErrMalformed)
	}
	return n.Choices[idx-1], nil
}

func typeErr(n *schema.Node, value any) error {
	return fmt.Errorf("%T cannot be assigned to %s: %w", value, n.Kind, ErrTypeMismatch)
}

func coerceInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func coerceUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int8:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int16:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int32:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}
