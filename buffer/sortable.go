package buffer

import (
	"fmt"

	"github.com/only-cliches/go-noproto/schema"
)

// Sortable buffers are those whose root is a sorted tuple: every child is
// encoded fixed width and inline, so the head record itself is the
// canonical totally ordered byte form. Comparing two sortable forms with
// bytes.Compare orders them exactly as an element wise comparison of their
// values would.

func (b *Buffer) sortedRoot() (int, int, error) {
	root := b.sch.Root()
	n := b.sch.Node(root)
	if n.Kind != schema.KindTuple || !n.Sorted {
		return 0, 0, fmt.Errorf("root is %s, sortable form requires a sorted tuple: %w", n.Kind, ErrTypeMismatch)
	}
	width, _ := b.sch.FixedWidth(root)
	return root, width, nil
}

// ToSortableBytes extracts the canonical ordered form. A vacant root yields
// the defaults, zero filled where no default is declared.
func (b *Buffer) ToSortableBytes() ([]byte, error) {
	root, width, err := b.sortedRoot()
	if err != nil {
		return nil, err
	}
	cur := b.rootCursor()
	if cur.valueAddr == 0 {
		out := make([]byte, width)
		b.fillSortedDefaults(root, out)
		return out, nil
	}
	region, err := b.mem.region(cur.valueAddr, width)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), region...), nil
}

// FromSortableBytes replaces the buffer contents with the value tree encoded
// by a sortable form previously produced for the same schema.
func (b *Buffer) FromSortableBytes(raw []byte) error {
	_, width, err := b.sortedRoot()
	if err != nil {
		return err
	}
	if len(raw) != width {
		return fmt.Errorf("sortable form must be exactly %d bytes, got %d: %w", width, len(raw), ErrMalformed)
	}
	mem := newMemory()
	addr, err := mem.allocate(width)
	if err != nil {
		return err
	}
	copy(mem.b[addr:], raw)
	mem.setRoot(addr)
	b.mem = mem
	return nil
}

// SetMin assigns the smallest value the node at path can represent under
// its stored encoding (the zero fill); SetMax assigns the largest (the 0xFF
// fill). Together they bracket every real value, which is what a range key
// needs; the extremes of some types (option, float NaN) are markers rather
// than readable values.
func (b *Buffer) SetMin(path ...Selector) error {
	return b.setExtreme(0x00, path)
}

// SetMax assigns the largest representable value. See SetMin.
func (b *Buffer) SetMax(path ...Selector) error {
	return b.setExtreme(0xFF, path)
}

func (b *Buffer) setExtreme(fill byte, path []Selector) error {
	termNode, err := b.schemaAt(path)
	if err != nil {
		return err
	}
	if !b.sch.Sortable(termNode) {
		return fmt.Errorf("%s has no ordered encoding: %w", b.sch.Node(termNode).Kind, ErrTypeMismatch)
	}
	width, _ := b.sch.FixedWidth(termNode)
	rec := make([]byte, width)
	for i := range rec {
		rec[i] = fill
	}
	return b.applyRecord(path, rec)
}
