package buffer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mapSchema = `{"type":"struct","fields":[
	["M", {"type":"map","value":{"type":"string"}}]
]}`

func TestMapUpsert(t *testing.T) {
	s := mustSchema(t, mapSchema)
	b := New(s)

	require.NoError(t, b.Set("v1", Field("M"), Key("k")))
	require.NoError(t, b.Set("value two", Field("M"), Key("k")))

	length, err := b.Length(Field("M"))
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	v, err := b.Get(Field("M"), Key("k"))
	require.NoError(t, err)
	assert.Equal(t, "value two", v)

	wasted, err := b.WastedBytes()
	require.NoError(t, err)
	assert.Greater(t, wasted, 0)

	require.NoError(t, b.Compact())
	wasted, err = b.WastedBytes()
	require.NoError(t, err)
	assert.Equal(t, 0, wasted)

	v, err = b.Get(Field("M"), Key("k"))
	require.NoError(t, err)
	assert.Equal(t, "value two", v)
}

// Map iteration follows the head links: most recently inserted key first.
// Upserting an existing key updates it in place and keeps its position.
func TestMapIterationOrder(t *testing.T) {
	s := mustSchema(t, mapSchema)
	b := New(s)
	require.NoError(t, b.Set("1", Field("M"), Key("a")))
	require.NoError(t, b.Set("2", Field("M"), Key("b")))
	require.NoError(t, b.Set("3", Field("M"), Key("c")))
	require.NoError(t, b.Set("2b", Field("M"), Key("b")))

	keys := mapKeys(t, b)
	assert.Equal(t, []string{"c", "b", "a"}, keys)

	// compaction preserves the link order
	require.NoError(t, b.Compact())
	assert.Equal(t, []string{"c", "b", "a"}, mapKeys(t, b))
}

func mapKeys(t *testing.T, b *Buffer) []string {
	t.Helper()
	it, err := b.Iter(Field("M"))
	require.NoError(t, err)
	var keys []string
	for it.Next() {
		k, _ := it.Selector().FieldName()
		keys = append(keys, k)
	}
	require.NoError(t, it.Err())
	return keys
}

func TestMapDelete(t *testing.T) {
	s := mustSchema(t, mapSchema)
	b := New(s)
	require.NoError(t, b.Set("1", Field("M"), Key("a")))
	require.NoError(t, b.Set("2", Field("M"), Key("b")))

	require.NoError(t, b.Del(Field("M"), Key("a")))
	length, err := b.Length(Field("M"))
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	v, err := b.Get(Field("M"), Key("a"))
	require.NoError(t, err)
	assert.Nil(t, v)

	// deleting an absent key is a no-op
	require.NoError(t, b.Del(Field("M"), Key("zz")))
}

func TestMapKeyBounds(t *testing.T) {
	s := mustSchema(t, mapSchema)
	b := New(s)

	err := b.Set("v", Field("M"), Key(""))
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = b.Set("v", Field("M"), Key(strings.Repeat("k", 256)))
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, b.Set("v", Field("M"), Key(strings.Repeat("k", 255))))
}
