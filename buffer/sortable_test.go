package buffer

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keySchema = `{"type":"tuple","sorted":true,"values":[
	{"type":"i32"},
	{"type":"string","size":8}
]}`

func TestSortableMinMax(t *testing.T) {
	s := mustSchema(t, keySchema)

	lo := New(s)
	require.NoError(t, lo.SetMin(Index(0)))
	require.NoError(t, lo.SetMin(Index(1)))
	loBytes, err := lo.ToSortableBytes()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 12), loBytes)

	hi := New(s)
	require.NoError(t, hi.SetMax(Index(0)))
	require.NoError(t, hi.SetMax(Index(1)))
	hiBytes, err := hi.ToSortableBytes()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 12), hiBytes)
}

func TestSortableOrderMatchesValueOrder(t *testing.T) {
	s := mustSchema(t, keySchema)
	type row struct {
		n int32
		s string
	}
	rows := []row{
		{0, "a"}, {-1, "a"}, {-1, "b"}, {100, ""}, {-2147483648, "zz"},
		{2147483647, "a"}, {0, ""}, {5, "aa"}, {5, "ab"},
	}
	encoded := make([][]byte, len(rows))
	for i, r := range rows {
		b := New(s)
		require.NoError(t, b.Set(r.n, Index(0)))
		require.NoError(t, b.Set(r.s, Index(1)))
		sb, err := b.ToSortableBytes()
		require.NoError(t, err)
		encoded[i] = sb
	}

	byBytes := append([][]byte(nil), encoded...)
	sort.Slice(byBytes, func(i, j int) bool { return bytes.Compare(byBytes[i], byBytes[j]) < 0 })

	byValue := append([]row(nil), rows...)
	sort.Slice(byValue, func(i, j int) bool {
		a, b := byValue[i], byValue[j]
		if a.n != b.n {
			return a.n < b.n
		}
		return a.s < b.s
	})
	for i, r := range byValue {
		b := New(s)
		require.NoError(t, b.Set(r.n, Index(0)))
		require.NoError(t, b.Set(r.s, Index(1)))
		sb, err := b.ToSortableBytes()
		require.NoError(t, err)
		assert.Equal(t, byBytes[i], sb, "rank %d: value order and byte order disagree", i)
	}
}

func TestSortableRoundTrip(t *testing.T) {
	s := mustSchema(t, keySchema)
	b := New(s)
	require.NoError(t, b.Set(int32(-1), Index(0)))
	require.NoError(t, b.Set("a", Index(1)))

	sb, err := b.ToSortableBytes()
	require.NoError(t, err)

	b2 := New(s)
	require.NoError(t, b2.FromSortableBytes(sb))
	v, err := b2.Get(Index(0))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)
	v, err = b2.Get(Index(1))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	err = b2.FromSortableBytes(sb[:5])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSortableComparesNegativeBeforeZero(t *testing.T) {
	s := mustSchema(t, keySchema)

	neg := New(s)
	require.NoError(t, neg.Set(int32(-1), Index(0)))
	require.NoError(t, neg.Set("a", Index(1)))
	negBytes, err := neg.ToSortableBytes()
	require.NoError(t, err)

	zero := New(s)
	require.NoError(t, zero.Set(int32(0), Index(0)))
	require.NoError(t, zero.Set("a", Index(1)))
	zeroBytes, err := zero.ToSortableBytes()
	require.NoError(t, err)

	assert.Equal(t, -1, bytes.Compare(negBytes, zeroBytes))
}

func TestSortableRequiresSortedTupleRoot(t *testing.T) {
	s := mustSchema(t, contactSchema)
	b := New(s)
	_, err := b.ToSortableBytes()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestNestedSortedTuple(t *testing.T) {
	s := mustSchema(t, `{"type":"tuple","sorted":true,"values":[
		{"type":"u8"},
		{"type":"tuple","sorted":true,"values":[{"type":"bool"},{"type":"u16","default":7}]}
	]}`)
	b := New(s)
	require.NoError(t, b.Set(uint8(1), Index(0)))
	require.NoError(t, b.Set(true, Index(1), Index(0)))

	v, err := b.Get(Index(1), Index(1))
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v, "nested defaults seed the inline region")

	sb, err := b.ToSortableBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 0, 7}, sb)
}
