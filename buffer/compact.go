package buffer

import (
	"fmt"

	"github.com/only-cliches/go-noproto/schema"
)

// Compact rebuilds the buffer with only the records reachable from the root,
// copied in canonical order: struct fields and tuple positions as declared,
// list indices ascending, map entries keeping their current link order. The old
// bytes are replaced; dead space drops to zero.
func (b *Buffer) Compact() error {
	dst := &Buffer{
		sch:            b.sch,
		mem:            newMemory(),
		log:            b.log,
		maxHops:        b.maxHops,
		maxPortalDepth: b.maxPortalDepth,
	}
	w := b.newWalk()
	root := b.rootCursor()
	if root.valueAddr != 0 {
		if err := b.copyInto(dst, w, root, rootPointerOffset); err != nil {
			return err
		}
	}
	if b.log != nil {
		b.log.Debugf("compact: %d -> %d bytes", b.mem.length(), dst.mem.length())
	}
	b.mem = dst.mem
	return nil
}

// WastedBytes reports how many bytes of the buffer are not reachable from
// the root.
func (b *Buffer) WastedBytes() (int, error) {
	w := b.newWalk()
	root := b.rootCursor()
	reachable := heapStart
	if root.valueAddr != 0 {
		n, err := b.reachableBytes(w, root)
		if err != nil {
			return 0, err
		}
		reachable += n
	}
	wasted := b.mem.length() - reachable
	if wasted < 0 {
		// records can alias under junk input; clamp rather than report
		// negative waste
		wasted = 0
	}
	return wasted, nil
}

// MaybeCompact compacts when at least threshold bytes are dead, reporting
// whether it did.
func (b *Buffer) MaybeCompact(threshold int) (bool, error) {
	wasted, err := b.WastedBytes()
	if err != nil {
		return false, err
	}
	if wasted < threshold {
		return false, nil
	}
	if err := b.Compact(); err != nil {
		return false, err
	}
	return true, nil
}

// copyInto copies the record tree below src's cursor into dst, patching
// dstSlot with the copied record's address. Scalar records are patched once
// their bytes are copied; collection heads are patched as soon as they are
// allocated, before their children are copied.
func (b *Buffer) copyInto(dst *Buffer, w *walk, cur cursor, dstSlot int) error {
	cur, err := b.resolved(cur)
	if err != nil {
		return err
	}
	if cur.valueAddr == 0 {
		return nil
	}
	if err := w.hop(); err != nil {
		return err
	}
	n := b.sch.Node(cur.node)
	switch n.Kind {
	case schema.KindStruct:
		return b.copySlots(dst, w, cur, dstSlot, structChildren(n))
	case schema.KindTuple:
		if n.Sorted {
			width, _ := b.sch.FixedWidth(cur.node)
			return b.copyVerbatim(dst, cur.valueAddr, width, dstSlot)
		}
		return b.copySlots(dst, w, cur, dstSlot, n.Children)
	case schema.KindList:
		return b.copyList(dst, w, cur, dstSlot)
	case schema.KindMap:
		return b.copyMap(dst, w, cur, dstSlot)
	default:
		size, err := b.recordSize(cur)
		if err != nil {
			return err
		}
		return b.copyVerbatim(dst, cur.valueAddr, size, dstSlot)
	}
}

func structChildren(n *schema.Node) []int {
	children := make([]int, len(n.Fields))
	for i, f := range n.Fields {
		children[i] = f.Node
	}
	return children
}

// recordSize is the total stored byte size of a scalar value record.
func (b *Buffer) recordSize(cur cursor) (int, error) {
	if w, fixed := b.sch.FixedWidth(cur.node); fixed {
		return w, nil
	}
	n := b.sch.Node(cur.node)
	switch n.Kind {
	case schema.KindString, schema.KindBytes:
		length, err := b.mem.readU16(cur.valueAddr)
		if err != nil {
			return 0, err
		}
		return 2 + length, nil
	}
	return 0, fmt.Errorf("%s has no value record: %w", n.Kind, ErrTypeMismatch)
}

func (b *Buffer) copyVerbatim(dst *Buffer, srcAddr, size, dstSlot int) error {
	src, err := b.mem.region(srcAddr, size)
	if err != nil {
		return err
	}
	addr, err := dst.mem.allocate(size)
	if err != nil {
		return err
	}
	region, err := dst.mem.region(addr, size)
	if err != nil {
		return err
	}
	copy(region, src)
	return dst.patchSlot(dstSlot, addr)
}

func (b *Buffer) copySlots(dst *Buffer, w *walk, cur cursor, dstSlot int, children []int) error {
	headAddr, err := dst.mem.allocate(2 * len(children))
	if err != nil {
		return err
	}
	if err := dst.patchSlot(dstSlot, headAddr); err != nil {
		return err
	}
	for i, childNode := range children {
		srcSlot := cur.valueAddr + 2*i
		v, err := b.mem.readU16(srcSlot)
		if err != nil {
			return err
		}
		child := cursor{node: childNode, slotAddr: srcSlot, valueAddr: v}
		if err := b.copyInto(dst, w, child, headAddr+2*i); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) copyList(dst *Buffer, w *walk, cur cursor, dstSlot int) error {
	srcHead, err := b.mem.region(cur.valueAddr, listHeadBytes)
	if err != nil {
		return err
	}
	storedLen := srcHead[listHeadLen]
	dstHeadAddr, err := dst.mem.allocate(listHeadBytes)
	if err != nil {
		return err
	}
	if err := dst.patchSlot(dstSlot, dstHeadAddr); err != nil {
		return err
	}
	childNode := b.sch.Node(cur.node).Children[0]

	addr := int(u16(srcHead[listHeadFirst:]))
	lastIndex := -1
	prevDst := 0
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
		valueAddr := int(u16(rec[listNodeValue:]))
		next := int(u16(rec[listNodeNext:]))

		nodeAddr, err := dst.insertListNode(dstHeadAddr, prevDst, 0, idx)
		if err != nil {
			return err
		}
		child := cursor{node: childNode, slotAddr: addr + listNodeValue, valueAddr: valueAddr}
		if err := b.copyInto(dst, w, child, nodeAddr+listNodeValue); err != nil {
			return err
		}
		prevDst = nodeAddr
		lastIndex = idx
		addr = next
	}
	// preserve the stored length byte: growth and delete semantics allow it
	// to differ from both entry count and max index + 1
	dstHead, err := dst.mem.region(dstHeadAddr, listHeadBytes)
	if err != nil {
		return err
	}
	dstHead[listHeadLen] = storedLen
	return nil
}

func (b *Buffer) copyMap(dst *Buffer, w *walk, cur cursor, dstSlot int) error {
	srcHead, err := b.mem.region(cur.valueAddr, mapHeadBytes)
	if err != nil {
		return err
	}
	storedLen := srcHead[mapHeadLen]
	dstHeadAddr, err := dst.mem.allocate(mapHeadBytes)
	if err != nil {
		return err
	}
	if err := dst.patchSlot(dstSlot, dstHeadAddr); err != nil {
		return err
	}
	childNode := b.sch.Node(cur.node).Children[0]

	type mapEntry struct {
		key                []byte
		srcSlot, valueAddr int
	}
	var entries []mapEntry
	addr := int(u16(srcHead[mapHeadFirst:]))
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
		key, err := b.mem.region(addr+mapNodeKey, klen)
		if err != nil {
			return err
		}
		srcSlot := addr + mapNodeKey + klen
		valueAddr, err := b.mem.readU16(srcSlot)
		if err != nil {
			return err
		}
		next := int(u16(rec[mapNodeNext:]))
		entries = append(entries, mapEntry{key: key, srcSlot: srcSlot, valueAddr: valueAddr})
		lastAddr = addr
		addr = next
	}
	// copy in reverse link order, prepending each entry: the copy keeps the
	// source link order and its addresses still descend along the links
	firstDst := 0
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		klen := len(e.key)
		nodeSize := mapNodeHeaderBytes + klen + 2
		nodeAddr, err := dst.mem.allocate(nodeSize)
		if err != nil {
			return err
		}
		nodeRec, err := dst.mem.region(nodeAddr, nodeSize)
		if err != nil {
			return err
		}
		putU16(nodeRec[mapNodeNext:], firstDst)
		nodeRec[mapNodeKLen] = byte(klen)
		copy(nodeRec[mapNodeKey:], e.key)
		if err := dst.mem.writeU16(dstHeadAddr+mapHeadFirst, nodeAddr); err != nil {
			return err
		}
		child := cursor{node: childNode, slotAddr: e.srcSlot, valueAddr: e.valueAddr}
		if err := b.copyInto(dst, w, child, nodeAddr+mapNodeKey+klen); err != nil {
			return err
		}
		firstDst = nodeAddr
	}
	dstHead, err := dst.mem.region(dstHeadAddr, mapHeadBytes)
	if err != nil {
		return err
	}
	dstHead[mapHeadLen] = storedLen
	return nil
}

// reachableBytes sums the stored sizes of every record reachable from the
// cursor.
func (b *Buffer) reachableBytes(w *walk, cur cursor) (int, error) {
	cur, err := b.resolved(cur)
	if err != nil {
		return 0, err
	}
	if cur.valueAddr == 0 {
		return 0, nil
	}
	if err := w.hop(); err != nil {
		return 0, err
	}
	n := b.sch.Node(cur.node)
	switch n.Kind {
	case schema.KindStruct:
		return b.reachableSlots(w, cur, structChildren(n))
	case schema.KindTuple:
		if n.Sorted {
			width, _ := b.sch.FixedWidth(cur.node)
			return width, nil
		}
		return b.reachableSlots(w, cur, n.Children)
	case schema.KindList:
		return b.reachableList(w, cur)
	case schema.KindMap:
		return b.reachableMap(w, cur)
	default:
		return b.recordSize(cur)
	}
}

func (b *Buffer) reachableSlots(w *walk, cur cursor, children []int) (int, error) {
	total := 2 * len(children)
	for i, childNode := range children {
		v, err := b.mem.readU16(cur.valueAddr + 2*i)
		if err != nil {
			return 0, err
		}
		sub, err := b.reachableBytes(w, cursor{node: childNode, valueAddr: v})
		if err != nil {
			return 0, err
		}
		total += sub
	}
	return total, nil
}

func (b *Buffer) reachableList(w *walk, cur cursor) (int, error) {
	head, err := b.mem.region(cur.valueAddr, listHeadBytes)
	if err != nil {
		return 0, err
	}
	total := listHeadBytes
	childNode := b.sch.Node(cur.node).Children[0]
	addr := int(u16(head[listHeadFirst:]))
	lastIndex := -1
	for addr != 0 {
		if err := w.hop(); err != nil {
			return 0, err
		}
		rec, err := b.mem.region(addr, listNodeBytes)
		if err != nil {
			return 0, err
		}
		idx := int(rec[listNodeIndex])
		if idx <= lastIndex {
			return 0, fmt.Errorf("list links do not advance at address %d: %w", addr, ErrMalformed)
		}
		total += listNodeBytes
		sub, err := b.reachableBytes(w, cursor{node: childNode, valueAddr: int(u16(rec[listNodeValue:]))})
		if err != nil {
			return 0, err
		}
		total += sub
		lastIndex = idx
		addr = int(u16(rec[listNodeNext:]))
	}
	return total, nil
}

func (b *Buffer) reachableMap(w *walk, cur cursor) (int, error) {
	head, err := b.mem.region(cur.valueAddr, mapHeadBytes)
	if err != nil {
		return 0, err
	}
	total := mapHeadBytes
	childNode := b.sch.Node(cur.node).Children[0]
	addr := int(u16(head[mapHeadFirst:]))
	lastAddr := maxBufferBytes + 1
	for addr != 0 {
		if err := w.hop(); err != nil {
			return 0, err
		}
		if addr >= lastAddr {
			return 0, fmt.Errorf("map links do not advance at address %d: %w", addr, ErrMalformed)
		}
		rec, err := b.mem.region(addr, mapNodeHeaderBytes)
		if err != nil {
			return 0, err
		}
		klen := int(rec[mapNodeKLen])
		total += mapNodeHeaderBytes + klen + 2
		slot := addr + mapNodeKey + klen
		v, err := b.mem.readU16(slot)
		if err != nil {
			return 0, err
		}
		sub, err := b.reachableBytes(w, cursor{node: childNode, valueAddr: v})
		if err != nil {
			return 0, err
		}
		total += sub
		lastAddr = addr
		addr = int(u16(rec[mapNodeNext:]))
	}
	return total, nil
}
