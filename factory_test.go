package noproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"

	"github.com/only-cliches/go-noproto/buffer"
)

const profileSchema = `{
	"type": "struct",
	"fields": [
		["name", {"type": "string"}],
		["age", {"type": "u16", "default": 0}],
		["tags", {"type": "list", "of": {"type": "string"}}]
	]
}`

func TestFactoryEmptyBuffer(t *testing.T) {
	f, err := New([]byte(profileSchema))
	assert.NilError(t, err)

	buf := f.NewBuffer()
	assert.Equal(t, 3, buf.Size())

	age, err := buf.Get(buffer.Field("age"))
	assert.NilError(t, err)
	assert.Equal(t, uint16(0), age)
}

func TestFactorySetCloseReopen(t *testing.T) {
	f, err := New([]byte(profileSchema))
	assert.NilError(t, err)

	buf := f.NewBuffer()
	assert.NilError(t, buf.Set("Billy Joel", buffer.Field("name")))
	assert.NilError(t, buf.Set("first tag", buffer.Field("tags"), buffer.Index(0)))

	wire := append([]byte(nil), buf.Close()...)

	reopened, err := f.OpenBuffer(wire)
	assert.NilError(t, err)

	name, err := reopened.Get(buffer.Field("name"))
	assert.NilError(t, err)
	assert.Equal(t, "Billy Joel", name)

	tag, err := reopened.Get(buffer.Field("tags"), buffer.Index(0))
	assert.NilError(t, err)
	assert.Equal(t, "first tag", tag)

	age, err := reopened.Get(buffer.Field("age"))
	assert.NilError(t, err)
	assert.Equal(t, uint16(0), age)
}

func TestFactoryFromCompiled(t *testing.T) {
	f1, err := New([]byte(profileSchema))
	assert.NilError(t, err)

	f2, err := FromCompiled(f1.CompiledSchema())
	assert.NilError(t, err)
	assert.Assert(t, bytes.Equal(f1.CompiledSchema(), f2.CompiledSchema()))

	// a buffer written under one parses identically under the other
	buf := f1.NewBuffer()
	assert.NilError(t, buf.Set(uint16(30), buffer.Field("age")))
	reopened, err := f2.OpenBuffer(buf.Close())
	assert.NilError(t, err)
	age, err := reopened.Get(buffer.Field("age"))
	assert.NilError(t, err)
	assert.Equal(t, uint16(30), age)
}

func TestFactorySortableKeys(t *testing.T) {
	f, err := New([]byte(`{"type":"tuple","sorted":true,"values":[
		{"type":"i32"},
		{"type":"string","size":8}
	]}`))
	assert.NilError(t, err)

	lo := f.NewBuffer()
	assert.NilError(t, lo.SetMin(buffer.Index(0)))
	assert.NilError(t, lo.SetMin(buffer.Index(1)))
	loBytes, err := lo.ToSortableBytes()
	assert.NilError(t, err)
	assert.DeepEqual(t, make([]byte, 12), loBytes)

	hi := f.NewBuffer()
	assert.NilError(t, hi.SetMax(buffer.Index(0)))
	assert.NilError(t, hi.SetMax(buffer.Index(1)))
	hiBytes, err := hi.ToSortableBytes()
	assert.NilError(t, err)
	assert.DeepEqual(t, bytes.Repeat([]byte{0xFF}, 12), hiBytes)

	neg := f.NewBuffer()
	require.NoError(t, neg.Set(int32(-1), buffer.Index(0)))
	require.NoError(t, neg.Set("a", buffer.Index(1)))
	negBytes, err := neg.ToSortableBytes()
	require.NoError(t, err)

	zero := f.NewBuffer()
	require.NoError(t, zero.Set(int32(0), buffer.Index(0)))
	require.NoError(t, zero.Set("a", buffer.Index(1)))
	zeroBytes, err := zero.ToSortableBytes()
	require.NoError(t, err)

	assert.Equal(t, -1, bytes.Compare(negBytes, zeroBytes))
	assert.Equal(t, -1, bytes.Compare(loBytes, negBytes))
	assert.Equal(t, -1, bytes.Compare(zeroBytes, hiBytes))
}

func TestFactoryManifest(t *testing.T) {
	f, err := New([]byte(profileSchema))
	assert.NilError(t, err)

	m := f.Manifest("Profiles", "1.0.0")
	assert.Equal(t, "Profiles", m.Name)
	assert.Assert(t, m.APIHash != 0)

	sch, err := m.ParseSchema()
	assert.NilError(t, err)
	assert.Equal(t, f.Schema().Len(), sch.Len())
}
