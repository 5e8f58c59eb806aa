package buffer

import (
	"fmt"

	"github.com/only-cliches/go-noproto/schema"
)

// Iterator is a restartable walk over one collection. Struct and tuple
// iteration visits every declared position, vacant or not, in declared
// order. List iteration visits present entries in ascending index order.
// Map iteration follows the links from the head, which yields the most
// recently inserted key first; upserts keep an entry in place.
type Iterator struct {
	b    *Buffer
	node int
	kind schema.Kind
	head int

	w         *walk
	pos       int
	linkAddr  int
	lastIndex int
	lastAddr  int
	started   bool

	sel Selector
	cur cursor
	err error
}

// Iter positions an iterator over the collection at path.
func (b *Buffer) Iter(path ...Selector) (*Iterator, error) {
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
	n := b.sch.Node(cur.node)
	switch n.Kind {
	case schema.KindStruct, schema.KindTuple, schema.KindList, schema.KindMap:
	default:
		return nil, fmt.Errorf("%s cannot be iterated: %w", n.Kind, ErrTypeMismatch)
	}
	it := &Iterator{b: b, node: cur.node, kind: n.Kind, head: cur.valueAddr}
	it.Reset()
	return it, nil
}

// Reset rewinds the iterator to the start of the collection.
func (it *Iterator) Reset() {
	it.w = it.b.newWalk()
	it.pos = 0
	it.linkAddr = 0
	it.lastIndex = -1
	it.lastAddr = maxBufferBytes + 1
	it.started = false
	it.err = nil
}

// Err reports the malformed-link error that ended iteration early, if any.
func (it *Iterator) Err() error { return it.err }

// Selector identifies the entry the iterator is positioned on.
func (it *Iterator) Selector() Selector { return it.sel }

// Value decodes the entry the iterator is positioned on. Vacant struct and
// tuple positions decode to their schema default. Entries that are
// themselves collections yield nil; descend with the entry's selector to
// walk into them.
func (it *Iterator) Value() (any, error) {
	cur, err := it.b.resolved(it.cur)
	if err != nil {
		return nil, err
	}
	switch it.b.sch.Node(cur.node).Kind {
	case schema.KindStruct, schema.KindTuple, schema.KindList, schema.KindMap:
		return nil, nil
	}
	return it.b.readValue(cur)
}

// Next advances to the next entry, returning false at the end of the
// collection or on a malformed link (see Err).
func (it *Iterator) Next() bool {
	switch it.kind {
	case schema.KindStruct, schema.KindTuple:
		return it.nextPositional()
	case schema.KindList:
		return it.nextListEntry()
	case schema.KindMap:
		return it.nextMapEntry()
	}
	return false
}

func (it *Iterator) nextPositional() bool {
	n := it.b.sch.Node(it.node)
	arity := len(n.Children)
	if it.kind == schema.KindStruct {
		arity = len(n.Fields)
	}
	if it.pos >= arity {
		return false
	}
	i := it.pos
	it.pos++

	parent := cursor{node: it.node, slotAddr: -1, valueAddr: it.head}
	var child cursor
	var err error
	switch {
	case it.kind == schema.KindStruct:
		it.sel = Field(n.Fields[i].Name)
		child, err = it.b.slotChild(parent, n.Fields[i].Node, i, false)
	case n.Sorted:
		it.sel = Index(i)
		child, err = it.b.inlineChild(parent, n, i, false)
	default:
		it.sel = Index(i)
		child, err = it.b.slotChild(parent, n.Children[i], i, false)
	}
	if err != nil {
		it.err = err
		return false
	}
	it.cur = child
	return true
}

func (it *Iterator) nextListEntry() bool {
	if it.head == 0 {
		return false
	}
	if !it.started {
		it.started = true
		head, err := it.b.mem.region(it.head, listHeadBytes)
		if err != nil {
			it.err = err
			return false
		}
		it.linkAddr = int(u16(head[listHeadFirst:]))
	}
	if it.linkAddr == 0 {
		return false
	}
	if err := it.w.hop(); err != nil {
		it.err = err
		return false
	}
	rec, err := it.b.mem.region(it.linkAddr, listNodeBytes)
	if err != nil {
		it.err = err
		return false
	}
	idx := int(rec[listNodeIndex])
	if idx <= it.lastIndex {
		it.err = fmt.Errorf("list links do not advance at address %d: %w", it.linkAddr, ErrMalformed)
		return false
	}
	it.lastIndex = idx
	it.sel = Index(idx)
	it.cur = cursor{
		node:      it.b.sch.Node(it.node).Children[0],
		slotAddr:  it.linkAddr + listNodeValue,
		valueAddr: int(u16(rec[listNodeValue:])),
	}
	it.linkAddr = int(u16(rec[listNodeNext:]))
	return true
}

func (it *Iterator) nextMapEntry() bool {
	if it.head == 0 {
		return false
	}
	if !it.started {
		it.started = true
		head, err := it.b.mem.region(it.head, mapHeadBytes)
		if err != nil {
			it.err = err
			return false
		}
		it.linkAddr = int(u16(head[mapHeadFirst:]))
	}
	if it.linkAddr == 0 {
		return false
	}
	if err := it.w.hop(); err != nil {
		it.err = err
		return false
	}
	if it.linkAddr >= it.lastAddr {
		it.err = fmt.Errorf("map links do not advance at address %d: %w", it.linkAddr, ErrMalformed)
		return false
	}
	rec, err := it.b.mem.region(it.linkAddr, mapNodeHeaderBytes)
	if err != nil {
		it.err = err
		return false
	}
	klen := int(rec[mapNodeKLen])
	key, err := it.b.mem.region(it.linkAddr+mapNodeKey, klen)
	if err != nil {
		it.err = err
		return false
	}
	slot := it.linkAddr + mapNodeKey + klen
	v, err := it.b.mem.readU16(slot)
	if err != nil {
		it.err = err
		return false
	}
	it.sel = Key(string(key))
	it.cur = cursor{
		node:      it.b.sch.Node(it.node).Children[0],
		slotAddr:  slot,
		valueAddr: v,
	}
	it.lastAddr = it.linkAddr
	it.linkAddr = int(u16(rec[mapNodeNext:]))
	return true
}
