package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactPreservesObservables(t *testing.T) {
	s := mustSchema(t, contactSchema)
	b := New(s)

	require.NoError(t, b.Set("Billy", Field("name")))
	require.NoError(t, b.Set("a longer replacement", Field("name")))
	require.NoError(t, b.Set(uint16(9), Field("age")))
	require.NoError(t, b.Set("zero", Field("tags"), Index(0)))
	require.NoError(t, b.Set("two", Field("tags"), Index(2)))
	require.NoError(t, b.Set("gone", Field("tags"), Index(1)))
	require.NoError(t, b.Del(Field("tags"), Index(1)))
	require.NoError(t, b.Set("v", Field("meta"), Key("a")))
	require.NoError(t, b.Set("w", Field("meta"), Key("b")))

	wasted, err := b.WastedBytes()
	require.NoError(t, err)
	assert.Greater(t, wasted, 0)

	before := snapshot(t, b)
	sizeBefore := b.Size()

	require.NoError(t, b.Compact())

	assert.Less(t, b.Size(), sizeBefore)
	wasted, err = b.WastedBytes()
	require.NoError(t, err)
	assert.Equal(t, 0, wasted)
	assert.Equal(t, before, snapshot(t, b))

	// a compacted buffer keeps working
	require.NoError(t, b.Set("post", Field("tags"), Index(3)))
	v, err := b.Get(Field("tags"), Index(3))
	require.NoError(t, err)
	assert.Equal(t, "post", v)
}

// snapshot collects every observable (path, value) pair plus collection
// lengths.
func snapshot(t *testing.T, b *Buffer) map[string]any {
	t.Helper()
	out := map[string]any{}

	it, err := b.Iter()
	require.NoError(t, err)
	for it.Next() {
		name, _ := it.Selector().FieldName()
		v, err := it.Value()
		require.NoError(t, err)
		out[name] = v
	}
	require.NoError(t, it.Err())

	for _, coll := range []string{"tags", "meta"} {
		length, err := b.Length(Field(coll))
		require.NoError(t, err)
		out[coll+".len"] = length

		cit, err := b.Iter(Field(coll))
		require.NoError(t, err)
		for cit.Next() {
			v, err := cit.Value()
			require.NoError(t, err)
			out[coll+"."+cit.Selector().String()] = v
		}
		require.NoError(t, cit.Err())
	}
	return out
}

func TestMaybeCompact(t *testing.T) {
	s := mustSchema(t, contactSchema)
	b := New(s)
	require.NoError(t, b.Set("aa", Field("name")))
	require.NoError(t, b.Set("a longer one", Field("name")))

	did, err := b.MaybeCompact(100000)
	require.NoError(t, err)
	assert.False(t, did)

	did, err = b.MaybeCompact(1)
	require.NoError(t, err)
	assert.True(t, did)

	wasted, err := b.WastedBytes()
	require.NoError(t, err)
	assert.Equal(t, 0, wasted)
}

func TestCompactEmptyBuffer(t *testing.T) {
	s := mustSchema(t, contactSchema)
	b := New(s)
	require.NoError(t, b.Compact())
	assert.Equal(t, 3, b.Size())
}

func TestCompactPreservesSortedTuple(t *testing.T) {
	s := mustSchema(t, keySchema)
	b := New(s)
	require.NoError(t, b.Set(int32(42), Index(0)))
	require.NoError(t, b.Set("k", Index(1)))

	sbBefore, err := b.ToSortableBytes()
	require.NoError(t, err)

	require.NoError(t, b.Compact())
	sbAfter, err := b.ToSortableBytes()
	require.NoError(t, err)
	assert.Equal(t, sbBefore, sbAfter)
}
