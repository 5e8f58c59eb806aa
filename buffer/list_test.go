package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listSchema = `{"type":"struct","fields":[
	["L", {"type":"list","of":{"type":"string"}}]
]}`

func TestListGrowthLeavesHoles(t *testing.T) {
	s := mustSchema(t, listSchema)
	b := New(s)

	require.NoError(t, b.Set("c", Field("L"), Index(2)))

	length, err := b.Length(Field("L"))
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	v, err := b.Get(Field("L"), Index(0))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = b.Get(Field("L"), Index(2))
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

// Deleting unlinks the entry and decrements the stored length; surviving
// entries keep their indices (holes are not renumbered).
func TestListDeletePolicy(t *testing.T) {
	s := mustSchema(t, listSchema)
	b := New(s)
	require.NoError(t, b.Set("c", Field("L"), Index(2)))
	require.NoError(t, b.Del(Field("L"), Index(2)))

	length, err := b.Length(Field("L"))
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	v, err := b.Get(Field("L"), Index(2))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestListInsertKeepsIndexOrder(t *testing.T) {
	s := mustSchema(t, listSchema)
	b := New(s)
	// inserted out of order on purpose
	require.NoError(t, b.Set("two", Field("L"), Index(2)))
	require.NoError(t, b.Set("zero", Field("L"), Index(0)))
	require.NoError(t, b.Set("one", Field("L"), Index(1)))

	it, err := b.Iter(Field("L"))
	require.NoError(t, err)

	var got []string
	var idx []int
	for it.Next() {
		v, err := it.Value()
		require.NoError(t, err)
		got = append(got, v.(string))
		i, _ := it.Selector().Position()
		idx = append(idx, i)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"zero", "one", "two"}, got)
	assert.Equal(t, []int{0, 1, 2}, idx)

	// restartable
	it.Reset()
	count := 0
	for it.Next() {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestListRewriteEntry(t *testing.T) {
	s := mustSchema(t, listSchema)
	b := New(s)
	require.NoError(t, b.Set("old", Field("L"), Index(1)))
	require.NoError(t, b.Set("new", Field("L"), Index(1)))

	v, err := b.Get(Field("L"), Index(1))
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	length, err := b.Length(Field("L"))
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestListIndexCap(t *testing.T) {
	s := mustSchema(t, listSchema)
	b := New(s)
	err := b.Set("x", Field("L"), Index(255))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, b.Set("x", Field("L"), Index(254)))
	length, err := b.Length(Field("L"))
	require.NoError(t, err)
	assert.Equal(t, 255, length)
}

func TestIterStructVisitsEveryField(t *testing.T) {
	s := mustSchema(t, contactSchema)
	b := New(s)
	require.NoError(t, b.Set("Billy", Field("name")))

	it, err := b.Iter()
	require.NoError(t, err)

	values := map[string]any{}
	for it.Next() {
		v, err := it.Value()
		require.NoError(t, err)
		name, _ := it.Selector().FieldName()
		values[name] = v
	}
	require.NoError(t, it.Err())
	assert.Len(t, values, 12)
	assert.Equal(t, "Billy", values["name"])
	assert.Equal(t, uint16(0), values["age"])
	assert.Equal(t, "blue", values["color"])
	assert.Nil(t, values["email"])
}
