package buffer

import (
	"bytes"
	"fmt"

	"github.com/only-cliches/go-noproto/schema"
)

// cursor is a logical position inside the schema and buffer pair: the schema
// node being interpreted, the address of the u16 slot that names the value
// (so writes can rewire it), and the address of the value record itself.
// Cursors are plain values and never own the buffer.
//
// valueAddr 0 is the vacant state: reads yield the schema default. slotAddr
// is rootPointerOffset for the root value, -1 when the cursor hangs below a
// vacant ancestor (nothing to patch) or lives inline inside a sorted tuple
// head, where valueAddr is instead the byte offset of the fixed width region.
type cursor struct {
	node      int
	slotAddr  int
	valueAddr int
	inline    bool
	width     int
}

// walk counts link hops across one public operation so that arbitrary bytes
// can never induce an unbounded traversal.
type walk struct {
	hops  int
	limit int
}

func (w *walk) hop() error {
	w.hops++
	if w.hops > w.limit {
		return fmt.Errorf("traversal exceeded %d hops: %w", w.limit, ErrMalformed)
	}
	return nil
}

// List body records are doubly linked and carry their logical slot index, so
// order is defined by index and the links only speed iteration. Map body
// records are singly linked with the key stored inline.
const (
	listHeadBytes = 5 // first u16 | tail u16 | len u8
	listNodeBytes = 7 // prev u16 | next u16 | index u8 | value u16

	listNodePrev  = 0
	listNodeNext  = 2
	listNodeIndex = 4
	listNodeValue = 5

	listHeadFirst = 0
	listHeadTail  = 2
	listHeadLen   = 4

	mapHeadBytes = 3 // first u16 | len u8
	mapHeadFirst = 0
	mapHeadLen   = 2

	mapNodeHeaderBytes = 3 // next u16 | klen u8, then key bytes and value u16
	mapNodeNext        = 0
	mapNodeKLen        = 2
	mapNodeKey         = 3

	maxListIndex = 254
)

func (b *Buffer) rootCursor() cursor {
	return cursor{
		node:      b.sch.Root(),
		slotAddr:  rootPointerOffset,
		valueAddr: b.mem.root(),
	}
}

// resolved substitutes portal nodes with their targets, bounded by the
// portal depth limit. Portals add schema indirection with zero byte
// overhead: the addresses are untouched.
func (b *Buffer) resolved(cur cursor) (cursor, error) {
	for depth := 0; depth <= b.maxPortalDepth; depth++ {
		if b.sch.Node(cur.node).Kind != schema.KindPortal {
			return cur, nil
		}
		target, err := b.sch.PortalTarget(cur.node)
		if err != nil {
			return cursor{}, err
		}
		cur.node = target
	}
	return cursor{}, fmt.Errorf("portal depth exceeded %d: %w", b.maxPortalDepth, ErrMalformed)
}

// descend moves one selector step down from cur. With create set, the
// minimum ancestor records needed for a terminal write are materialized;
// without it the walk never mutates and vacant territory yields vacant
// cursors.
func (b *Buffer) descend(w *walk, cur cursor, sel Selector, create bool) (cursor, error) {
	cur, err := b.resolved(cur)
	if err != nil {
		return cursor{}, err
	}
	n := b.sch.Node(cur.node)

	switch n.Kind {
	case schema.KindStruct:
		if sel.kind != selField {
			return cursor{}, fmt.Errorf("struct requires a field selector, got %v: %w", sel, ErrTypeMismatch)
		}
		i, ok := n.FieldIndex(sel.name)
		if !ok {
			return cursor{}, fmt.Errorf("no struct field %q: %w", sel.name, ErrTypeMismatch)
		}
		return b.slotChild(cur, n.Fields[i].Node, i, create)

	case schema.KindTuple:
		if sel.kind != selIndex {
			return cursor{}, fmt.Errorf("tuple requires an index selector, got %v: %w", sel, ErrTypeMismatch)
		}
		if sel.index < 0 || sel.index >= len(n.Children) {
			return cursor{}, fmt.Errorf("tuple index %d outside %d values: %w", sel.index, len(n.Children), ErrTypeMismatch)
		}
		if n.Sorted {
			return b.inlineChild(cur, n, sel.index, create)
		}
		return b.slotChild(cur, n.Children[sel.index], sel.index, create)

	case schema.KindList:
		if sel.kind != selIndex {
			return cursor{}, fmt.Errorf("list requires an index selector, got %v: %w", sel, ErrTypeMismatch)
		}
		return b.listChild(w, cur, n, sel.index, create)

	case schema.KindMap:
		if sel.kind != selKey {
			return cursor{}, fmt.Errorf("map requires a key selector, got %v: %w", sel, ErrTypeMismatch)
		}
		return b.mapChild(w, cur, n, sel.name, create)

	default:
		return cursor{}, fmt.Errorf("cannot descend into %s: %w", n.Kind, ErrTypeMismatch)
	}
}

// slotChild yields the child behind slot i of a struct or unsorted tuple
// head.
func (b *Buffer) slotChild(cur cursor, childNode, i int, create bool) (cursor, error) {
	if cur.valueAddr == 0 {
		if !create {
			return cursor{node: childNode, slotAddr: -1}, nil
		}
		if err := b.materialize(&cur); err != nil {
			return cursor{}, err
		}
	}
	slot := cur.valueAddr + 2*i
	v, err := b.mem.readU16(slot)
	if err != nil {
		return cursor{}, err
	}
	return cursor{node: childNode, slotAddr: slot, valueAddr: v}, nil
}

// inlineChild yields a cursor into the fixed width region of a sorted tuple
// head. Once the head exists every child is present by construction; before
// that, reads see the vacant state.
func (b *Buffer) inlineChild(cur cursor, n *schema.Node, i int, create bool) (cursor, error) {
	childNode := n.Children[i]
	childWidth, _ := b.sch.FixedWidth(childNode)
	if cur.valueAddr == 0 {
		if !create {
			return cursor{node: childNode, slotAddr: -1, inline: true, width: childWidth}, nil
		}
		if err := b.materialize(&cur); err != nil {
			return cursor{}, err
		}
	}
	off := cur.valueAddr
	for _, c := range n.Children[:i] {
		w, _ := b.sch.FixedWidth(c)
		off += w
	}
	return cursor{node: childNode, slotAddr: -1, valueAddr: off, inline: true, width: childWidth}, nil
}

// materialize allocates the head record for a collection cursor and patches
// its parent slot. Allocation happens before the slot patch, so a crash in
// between leaves only dead space.
func (b *Buffer) materialize(cur *cursor) error {
	n := b.sch.Node(cur.node)
	var size int
	switch n.Kind {
	case schema.KindStruct:
		size = 2 * len(n.Fields)
	case schema.KindTuple:
		if n.Sorted {
			size, _ = b.sch.FixedWidth(cur.node)
		} else {
			size = 2 * len(n.Children)
		}
	case schema.KindList:
		size = listHeadBytes
	case schema.KindMap:
		size = mapHeadBytes
	default:
		return fmt.Errorf("%s has no head record: %w", n.Kind, ErrTypeMismatch)
	}
	if cur.slotAddr < 0 {
		return fmt.Errorf("no slot to hold the new %s head: %w", n.Kind, ErrMalformed)
	}
	addr, err := b.mem.allocate(size)
	if err != nil {
		return err
	}
	if n.Kind == schema.KindTuple && n.Sorted {
		region, err := b.mem.region(addr, size)
		if err != nil {
			return err
		}
		b.fillSortedDefaults(cur.node, region)
	}
	if err := b.patchSlot(cur.slotAddr, addr); err != nil {
		return err
	}
	cur.valueAddr = addr
	return nil
}

func (b *Buffer) patchSlot(slotAddr, addr int) error {
	if slotAddr == rootPointerOffset {
		b.mem.setRoot(addr)
		return nil
	}
	return b.mem.writeU16(slotAddr, addr)
}

// fillSortedDefaults seeds a freshly allocated sorted tuple region with the
// declared child defaults. Children without a default keep the zero fill,
// which is the minimum representable value under every sortable encoding.
func (b *Buffer) fillSortedDefaults(node int, region []byte) {
	n := b.sch.Node(node)
	off := 0
	for _, c := range n.Children {
		w, _ := b.sch.FixedWidth(c)
		child := b.sch.Node(c)
		switch {
		case child.Kind == schema.KindTuple:
			b.fillSortedDefaults(c, region[off:off+w])
		case child.Default != nil:
			copy(region[off:off+w], child.Default)
		}
		off += w
	}
}

// listChild walks the index ordered links to slot i, inserting a body record
// when create is set and the slot has none. Stored indices must advance
// strictly along the links.
func (b *Buffer) listChild(w *walk, cur cursor, n *schema.Node, i int, create bool) (cursor, error) {
	childNode := n.Children[0]
	if i < 0 || i > maxListIndex {
		return cursor{}, fmt.Errorf("list index %d outside 0..%d: %w", i, maxListIndex, ErrCapacityExceeded)
	}
	if cur.valueAddr == 0 {
		if !create {
			return cursor{node: childNode, slotAddr: -1}, nil
		}
		if err := b.materialize(&cur); err != nil {
			return cursor{}, err
		}
	}
	head, err := b.mem.region(cur.valueAddr, listHeadBytes)
	if err != nil {
		return cursor{}, err
	}
	prevAddr := 0
	addr := int(u16(head[listHeadFirst:]))
	lastIndex := -1
	var nextAddr int
	for addr != 0 {
		if err := w.hop(); err != nil {
			return cursor{}, err
		}
		rec, err := b.mem.region(addr, listNodeBytes)
		if err != nil {
			return cursor{}, err
		}
		idx := int(rec[listNodeIndex])
		if idx <= lastIndex {
			return cursor{}, fmt.Errorf("list links do not advance at address %d: %w", addr, ErrMalformed)
		}
		if idx == i {
			slot := addr + listNodeValue
			return cursor{node: childNode, slotAddr: slot, valueAddr: int(u16(rec[listNodeValue:]))}, nil
		}
		if idx > i {
			nextAddr = addr
			break
		}
		lastIndex = idx
		prevAddr = addr
		addr = int(u16(rec[listNodeNext:]))
	}
	if !create {
		return cursor{node: childNode, slotAddr: -1}, nil
	}
	nodeAddr, err := b.insertListNode(cur.valueAddr, prevAddr, nextAddr, i)
	if err != nil {
		return cursor{}, err
	}
	return cursor{node: childNode, slotAddr: nodeAddr + listNodeValue, valueAddr: 0}, nil
}

// insertListNode links a fresh body record for index i between prevAddr and
// nextAddr (either may be 0 for the ends) and grows the stored length when i
// lands past it.
func (b *Buffer) insertListNode(headAddr, prevAddr, nextAddr, i int) (int, error) {
	addr, err := b.mem.allocate(listNodeBytes)
	if err != nil {
		return 0, err
	}
	rec, err := b.mem.region(addr, listNodeBytes)
	if err != nil {
		return 0, err
	}
	putU16(rec[listNodePrev:], prevAddr)
	putU16(rec[listNodeNext:], nextAddr)
	rec[listNodeIndex] = byte(i)

	head, err := b.mem.region(headAddr, listHeadBytes)
	if err != nil {
		return 0, err
	}
	if prevAddr == 0 {
		putU16(head[listHeadFirst:], addr)
	} else if err := b.mem.writeU16(prevAddr+listNodeNext, addr); err != nil {
		return 0, err
	}
	if nextAddr == 0 {
		putU16(head[listHeadTail:], addr)
	} else if err := b.mem.writeU16(nextAddr+listNodePrev, addr); err != nil {
		return 0, err
	}
	if length := int(head[listHeadLen]); i+1 > length {
		head[listHeadLen] = byte(i + 1)
	}
	return addr, nil
}

// mapChild walks the singly linked entries looking for key k, prepending a
// fresh entry at the head link when create is set and the key is absent.
// Entries prepend, so link addresses descend strictly.
func (b *Buffer) mapChild(w *walk, cur cursor, n *schema.Node, k string, create bool) (cursor, error) {
	childNode := n.Children[0]
	if len(k) == 0 || len(k) > schema.MaxNameLen {
		return cursor{}, fmt.Errorf("map key must be 1..%d bytes: %w", schema.MaxNameLen, ErrOutOfRange)
	}
	if cur.valueAddr == 0 {
		if !create {
			return cursor{node: childNode, slotAddr: -1}, nil
		}
		if err := b.materialize(&cur); err != nil {
			return cursor{}, err
		}
	}
	head, err := b.mem.region(cur.valueAddr, mapHeadBytes)
	if err != nil {
		return cursor{}, err
	}
	addr := int(u16(head[mapHeadFirst:]))
	lastAddr := maxBufferBytes + 1
	for addr != 0 {
		if err := w.hop(); err != nil {
			return cursor{}, err
		}
		if addr >= lastAddr {
			return cursor{}, fmt.Errorf("map links do not advance at address %d: %w", addr, ErrMalformed)
		}
		rec, err := b.mem.region(addr, mapNodeHeaderBytes)
		if err != nil {
			return cursor{}, err
		}
		klen := int(rec[mapNodeKLen])
		keyBytes, err := b.mem.region(addr+mapNodeKey, klen)
		if err != nil {
			return cursor{}, err
		}
		slot := addr + mapNodeKey + klen
		if bytes.Equal(keyBytes, []byte(k)) {
			v, err := b.mem.readU16(slot)
			if err != nil {
				return cursor{}, err
			}
			return cursor{node: childNode, slotAddr: slot, valueAddr: v}, nil
		}
		lastAddr = addr
		addr = int(u16(rec[mapNodeNext:]))
	}
	if !create {
		return cursor{node: childNode, slotAddr: -1}, nil
	}
	if int(head[mapHeadLen]) >= schema.MaxChildren {
		return cursor{}, fmt.Errorf("map already holds %d entries: %w", schema.MaxChildren, ErrCapacityExceeded)
	}
	nodeAddr, err := b.mem.allocate(mapNodeHeaderBytes + len(k) + 2)
	if err != nil {
		return cursor{}, err
	}
	// allocation may have moved the backing array; re-resolve the head
	head, err = b.mem.region(cur.valueAddr, mapHeadBytes)
	if err != nil {
		return cursor{}, err
	}
	rec, err := b.mem.region(nodeAddr, mapNodeHeaderBytes+len(k)+2)
	if err != nil {
		return cursor{}, err
	}
	putU16(rec[mapNodeNext:], int(u16(head[mapHeadFirst:])))
	rec[mapNodeKLen] = byte(len(k))
	copy(rec[mapNodeKey:], k)

	putU16(head[mapHeadFirst:], nodeAddr)
	head[mapHeadLen]++
	return cursor{node: childNode, slotAddr: nodeAddr + mapNodeKey + len(k), valueAddr: 0}, nil
}
