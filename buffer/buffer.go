// Package buffer implements the mutable, incrementally readable byte buffer
// that holds one value tree under a parsed schema. Readers decode only the
// records they touch; writers append fresh records and rewire u16 slots, so
// no operation ever re-serializes the whole tree.
//
// A Buffer is not safe for concurrent mutation. Share read only buffers
// freely; give each writer exclusive access.
package buffer

import (
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/only-cliches/go-noproto/schema"
)

// Traversal bounds. Any byte input can be opened; these caps guarantee every
// navigation over junk terminates.
const (
	DefaultMaxHops        = 1 << 16
	DefaultMaxPortalDepth = 255
)

// Options configures a Buffer.
type Options struct {
	Log            logger.Logger
	MaxHops        int
	MaxPortalDepth int
}

// Option is a generic option applied to an Options target.
type Option func(any)

// WithLogger injects a logger used for debug output on compaction and
// similar bookkeeping operations.
func WithLogger(log logger.Logger) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Log = log
		}
	}
}

// WithMaxHops overrides the per operation link hop bound.
func WithMaxHops(n int) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok && n > 0 {
			o.MaxHops = n
		}
	}
}

// WithMaxPortalDepth overrides the schema indirection bound.
func WithMaxPortalDepth(n int) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok && n > 0 {
			o.MaxPortalDepth = n
		}
	}
}

// Buffer is a handle over one contiguous byte buffer and the schema that
// gives it meaning.
type Buffer struct {
	sch            *schema.Schema
	mem            *memory
	log            logger.Logger
	maxHops        int
	maxPortalDepth int
}

// New returns an empty buffer: just the envelope, with the root pointer
// zeroed so every read yields schema defaults.
func New(sch *schema.Schema, withOpts ...Option) *Buffer {
	b, _ := fromMemory(sch, newMemory(), withOpts...)
	return b
}

// Open wraps existing bytes. The bytes are adopted, not copied. Junk input
// is accepted as long as the envelope is present; traversal bounds make any
// subsequent read safe.
func Open(sch *schema.Schema, raw []byte, withOpts ...Option) (*Buffer, error) {
	mem, err := openMemory(raw)
	if err != nil {
		return nil, err
	}
	return fromMemory(sch, mem, withOpts...)
}

func fromMemory(sch *schema.Schema, mem *memory, withOpts ...Option) (*Buffer, error) {
	opts := Options{
		MaxHops:        DefaultMaxHops,
		MaxPortalDepth: DefaultMaxPortalDepth,
	}
	for _, o := range withOpts {
		o(&opts)
	}
	return &Buffer{
		sch:            sch,
		mem:            mem,
		log:            opts.Log,
		maxHops:        opts.MaxHops,
		maxPortalDepth: opts.MaxPortalDepth,
	}, nil
}

// Schema returns the schema this buffer is interpreted under.
func (b *Buffer) Schema() *schema.Schema { return b.sch }

// Bytes returns the underlying buffer bytes. The slice aliases the live
// buffer; callers that keep it across mutations must copy.
func (b *Buffer) Bytes() []byte { return b.mem.b }

// Close yields the finished bytes. Equivalent to Bytes; provided so writer
// code reads naturally at the point the buffer leaves the process.
func (b *Buffer) Close() []byte { return b.mem.b }

// Size returns the total byte length of the buffer.
func (b *Buffer) Size() int { return b.mem.length() }

func (b *Buffer) newWalk() *walk { return &walk{limit: b.maxHops} }

// Get traverses path and decodes the terminal scalar. A vacant position
// yields the schema default, or nil when none is declared. Collections
// cannot be read wholesale; use Iter.
func (b *Buffer) Get(path ...Selector) (any, error) {
	w := b.newWalk()
	cur := b.rootCursor()
	var err error
	for _, sel := range path {
		cur, err = b.descend(w, cur, sel, false)
		if err != nil {
			return nil, err
		}
	}
	cur, err = b.resolved(cur)
	if err != nil {
		return nil, err
	}
	return b.readValue(cur)
}

// Set traverses path, materializing the minimum ancestor heads, and assigns
// the terminal scalar. The value is validated, encoded and the allocation
// cost checked before anything is written, so a failed Set leaves the buffer
// observably unchanged.
func (b *Buffer) Set(value any, path ...Selector) error {
	termNode, err := b.schemaAt(path)
	if err != nil {
		return err
	}
	rec, err := b.encodeRecord(termNode, value)
	if err != nil {
		return err
	}
	return b.applyRecord(path, rec)
}

// applyRecord performs the mutating half of a write: pre-flight the
// allocation cost, then create the ancestor chain and place the record.
func (b *Buffer) applyRecord(path []Selector, rec []byte) error {
	cost, err := b.writeCost(path, len(rec))
	if err != nil {
		return err
	}
	if b.mem.length()+cost > maxBufferBytes {
		return ErrBufferFull
	}
	w := b.newWalk()
	cur := b.rootCursor()
	for _, sel := range path {
		cur, err = b.descend(w, cur, sel, true)
		if err != nil {
			return err
		}
	}
	cur, err = b.resolved(cur)
	if err != nil {
		return err
	}
	return b.writeRecord(cur, rec)
}

// writeCost walks the path without mutating and totals the bytes the write
// will allocate: heads for vacant ancestors, body records for missing list
// and map entries, and the value record itself unless it can rewrite in
// place.
func (b *Buffer) writeCost(path []Selector, recLen int) (int, error) {
	cost := 0
	w := b.newWalk()
	cur := b.rootCursor()
	for _, sel := range path {
		parent, err := b.resolved(cur)
		if err != nil {
			return 0, err
		}
		pn := b.sch.Node(parent.node)
		parentVacant := parent.valueAddr == 0
		if parentVacant && !parent.inline {
			cost += b.headSize(parent.node)
		}
		next, err := b.descend(w, parent, sel, false)
		if err != nil {
			return 0, err
		}
		entryMissing := parentVacant || (next.slotAddr < 0 && !next.inline)
		switch pn.Kind {
		case schema.KindList:
			if entryMissing {
				cost += listNodeBytes
			}
		case schema.KindMap:
			if entryMissing {
				cost += mapNodeHeaderBytes + len(sel.name) + 2
			}
		}
		cur = next
	}
	cur, err := b.resolved(cur)
	if err != nil {
		return 0, err
	}
	switch {
	case cur.inline:
		// lives inside an ancestor head, already counted when vacant
	case cur.valueAddr == 0:
		cost += recLen
	default:
		if _, fixed := b.sch.FixedWidth(cur.node); !fixed {
			oldLen, err := b.mem.readU16(cur.valueAddr)
			if err != nil {
				return 0, err
			}
			if 2+oldLen != recLen {
				cost += recLen
			}
		}
		// fixed width values rewrite in place
	}
	return cost, nil
}

// headSize is the allocation size of a collection's head record.
func (b *Buffer) headSize(node int) int {
	n := b.sch.Node(node)
	switch n.Kind {
	case schema.KindStruct:
		return 2 * len(n.Fields)
	case schema.KindTuple:
		if n.Sorted {
			w, _ := b.sch.FixedWidth(node)
			return w
		}
		return 2 * len(n.Children)
	case schema.KindList:
		return listHeadBytes
	case schema.KindMap:
		return mapHeadBytes
	}
	return 0
}

// Del removes the value at path. Struct and tuple slots are zeroed; list and
// map entries are unlinked and their collection length decremented. Deleting
// a vacant position is a no-op. With an empty path the root pointer is
// cleared.
func (b *Buffer) Del(path ...Selector) error {
	if len(path) == 0 {
		b.mem.setRoot(0)
		return nil
	}
	w := b.newWalk()
	cur := b.rootCursor()
	var err error
	for _, sel := range path[:len(path)-1] {
		cur, err = b.descend(w, cur, sel, false)
		if err != nil {
			return err
		}
	}
	return b.deleteIn(w, cur, path[len(path)-1])
}

// Length reports the entry count of a list or map, the declared arity of a
// struct or tuple, or the byte length of a string or bytes value.
func (b *Buffer) Length(path ...Selector) (int, error) {
	w := b.newWalk()
	cur := b.rootCursor()
	var err error
	for _, sel := range path {
		cur, err = b.descend(w, cur, sel, false)
		if err != nil {
			return 0, err
		}
	}
	cur, err = b.resolved(cur)
	if err != nil {
		return 0, err
	}
	n := b.sch.Node(cur.node)
	switch n.Kind {
	case schema.KindList:
		if cur.valueAddr == 0 {
			return 0, nil
		}
		head, err := b.mem.region(cur.valueAddr, listHeadBytes)
		if err != nil {
			return 0, err
		}
		return int(head[listHeadLen]), nil
	case schema.KindMap:
		if cur.valueAddr == 0 {
			return 0, nil
		}
		head, err := b.mem.region(cur.valueAddr, mapHeadBytes)
		if err != nil {
			return 0, err
		}
		return int(head[mapHeadLen]), nil
	case schema.KindStruct:
		return len(n.Fields), nil
	case schema.KindTuple:
		return len(n.Children), nil
	case schema.KindString, schema.KindBytes:
		if n.Size > 0 {
			return int(n.Size), nil
		}
		if cur.valueAddr == 0 {
			return len(n.Default), nil
		}
		return b.mem.readU16(cur.valueAddr)
	default:
		return 0, fmt.Errorf("%s has no length: %w", n.Kind, ErrTypeMismatch)
	}
}

// schemaAt walks the schema tree alone (no buffer access) to find the node a
// path addresses, resolving portals along the way.
func (b *Buffer) schemaAt(path []Selector) (int, error) {
	id := b.sch.Root()
	for _, sel := range path {
		var err error
		id, err = b.schemaStep(id, sel)
		if err != nil {
			return 0, err
		}
	}
	return b.resolveSchema(id)
}

func (b *Buffer) resolveSchema(id int) (int, error) {
	for depth := 0; depth <= b.maxPortalDepth; depth++ {
		if b.sch.Node(id).Kind != schema.KindPortal {
			return id, nil
		}
		target, err := b.sch.PortalTarget(id)
		if err != nil {
			return 0, err
		}
		id = target
	}
	return 0, fmt.Errorf("portal depth exceeded %d: %w", b.maxPortalDepth, ErrMalformed)
}

func (b *Buffer) schemaStep(id int, sel Selector) (int, error) {
	id, err := b.resolveSchema(id)
	if err != nil {
		return 0, err
	}
	n := b.sch.Node(id)
	switch n.Kind {
	case schema.KindStruct:
		if sel.kind != selField {
			return 0, fmt.Errorf("struct requires a field selector, got %v: %w", sel, ErrTypeMismatch)
		}
		i, ok := n.FieldIndex(sel.name)
		if !ok {
			return 0, fmt.Errorf("no struct field %q: %w", sel.name, ErrTypeMismatch)
		}
		return n.Fields[i].Node, nil
	case schema.KindTuple:
		if sel.kind != selIndex || sel.index < 0 || sel.index >= len(n.Children) {
			return 0, fmt.Errorf("tuple cannot take %v: %w", sel, ErrTypeMismatch)
		}
		return n.Children[sel.index], nil
	case schema.KindList:
		if sel.kind != selIndex {
			return 0, fmt.Errorf("list requires an index selector, got %v: %w", sel, ErrTypeMismatch)
		}
		return n.Children[0], nil
	case schema.KindMap:
		if sel.kind != selKey {
			return 0, fmt.Errorf("map requires a key selector, got %v: %w", sel, ErrTypeMismatch)
		}
		return n.Children[0], nil
	default:
		return 0, fmt.Errorf("cannot descend into %s: %w", n.Kind, ErrTypeMismatch)
	}
}

// deleteIn applies the terminal delete step below the (already resolved or
// resolvable) parent cursor.
func (b *Buffer) deleteIn(w *walk, parent cursor, sel Selector) error {
	parent, err := b.resolved(parent)
	if err != nil {
		return err
	}
	if parent.valueAddr == 0 {
		// vacant parent, nothing to delete; still validate the selector
		_, err := b.schemaStep(parent.node, sel)
		return err
	}
	n := b.sch.Node(parent.node)
	switch n.Kind {
	case schema.KindStruct:
		if sel.kind != selField {
			return fmt.Errorf("struct requires a field selector, got %v: %w", sel, ErrTypeMismatch)
		}
		i, ok := n.FieldIndex(sel.name)
		if !ok {
			return fmt.Errorf("no struct field %q: %w", sel.name, ErrTypeMismatch)
		}
		return b.mem.writeU16(parent.valueAddr+2*i, 0)
	case schema.KindTuple:
		if n.Sorted {
			return fmt.Errorf("sorted tuple values cannot be deleted: %w", ErrTypeMismatch)
		}
		if sel.kind != selIndex || sel.index < 0 || sel.index >= len(n.Children) {
			return fmt.Errorf("tuple cannot take %v: %w", sel, ErrTypeMismatch)
		}
		return b.mem.writeU16(parent.valueAddr+2*sel.index, 0)
	case schema.KindList:
		if sel.kind != selIndex {
			return fmt.Errorf("list requires an index selector, got %v: %w", sel, ErrTypeMismatch)
		}
		return b.deleteListEntry(w, parent.valueAddr, sel.index)
	case schema.KindMap:
		if sel.kind != selKey {
			return fmt.Errorf("map requires a key selector, got %v: %w", sel, ErrTypeMismatch)
		}
		return b.deleteMapEntry(w, parent.valueAddr, sel.name)
	default:
		return fmt.Errorf("cannot delete inside %s: %w", n.Kind, ErrTypeMismatch)
	}
}

// deleteListEntry unlinks the body record for index i and decrements the
// stored length. Later indices keep their slots; holes are not renumbered.
func (b *Buffer) deleteListEntry(w *walk, headAddr, i int) error {
	head, err := b.mem.region(headAddr, listHeadBytes)
	if err != nil {
		return err
	}
	addr := int(u16(head[listHeadFirst:]))
	lastIndex := -1
	for addr != 0 {
		if err := w.hop(); err != nil {
			return err
		}
		rec, err := b.mem.region(addr, listNodeBytes)
		if err != nil {
			return err
		}
		idx := int(rec[listNodeIndex])
		if idx <= lastIndex {
			return fmt.Errorf("list links do not advance at address %d: %w", addr, ErrMalformed)
		}
		if idx > i {
			return nil
		}
		if idx == i {
			prev := int(u16(rec[listNodePrev:]))
			next := int(u16(rec[listNodeNext:]))
			if prev == 0 {
				putU16(head[listHeadFirst:], next)
			} else if err := b.mem.writeU16(prev+listNodeNext, next); err != nil {
				return err
			}
			if next == 0 {
				putU16(head[listHeadTail:], prev)
			} else if err := b.mem.writeU16(next+listNodePrev, prev); err != nil {
				return err
			}
			if head[listHeadLen] > 0 {
				head[listHeadLen]--
			}
			return nil
		}
		lastIndex = idx
		addr = int(u16(rec[listNodeNext:]))
	}
	return nil
}

// deleteMapEntry unlinks the entry for key k and decrements the stored
// length.
func (b *Buffer) deleteMapEntry(w *walk, headAddr int, k string) error {
	head, err := b.mem.region(headAddr, mapHeadBytes)
	if err != nil {
		return err
	}
	prevAddr := 0
	addr := int(u16(head[mapHeadFirst:]))
	lastAddr := maxBufferBytes + 1
	for addr != 0 {
		if err := w.hop(); err != nil {
			return err
		}
		if addr >= lastAddr {
			return fmt.Errorf("map links do not advance at address %d: %w", addr, ErrMalformed)
		}
		rec, err := b.mem.region(addr, mapNodeHeaderBytes)
		if err != nil {
			return err
		}
		klen := int(rec[mapNodeKLen])
		keyBytes, err := b.mem.region(addr+mapNodeKey, klen)
		if err != nil {
			return err
		}
		next := int(u16(rec[mapNodeNext:]))
		if string(keyBytes) == k {
			if prevAddr == 0 {
				putU16(head[mapHeadFirst:], next)
			} else if err := b.mem.writeU16(prevAddr+mapNodeNext, next); err != nil {
				return err
			}
			if head[mapHeadLen] > 0 {
				head[mapHeadLen]--
			}
			return nil
		}
		lastAddr = addr
		prevAddr = addr
		addr = next
	}
	return nil
}
