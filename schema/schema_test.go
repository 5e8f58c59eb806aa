package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "struct",
	"fields": [
		["name", {"type": "string"}],
		["age", {"type": "u16", "default": 0}],
		["email", {"type": "string", "lowercase": true}],
		["tags", {"type": "list", "of": {"type": "string"}}],
		["meta", {"type": "map", "value": {"type": "string"}}],
		["color", {"type": "option", "choices": ["red", "green", "blue"], "default": "blue"}],
		["pos", {"type": "geo8"}],
		["balance", {"type": "dec", "exp": 2, "default": "10.50"}],
		["key", {"type": "tuple", "sorted": true, "values": [
			{"type": "i32"}, {"type": "string", "size": 8}
		]}]
	]
}`

func TestParseUserSchema(t *testing.T) {
	s, err := Parse([]byte(userSchema))
	require.NoError(t, err)

	root := s.Node(s.Root())
	assert.Equal(t, KindStruct, root.Kind)
	require.Len(t, root.Fields, 9)

	age, ok := root.FieldIndex("age")
	require.True(t, ok)
	ageNode := s.Node(root.Fields[age].Node)
	assert.Equal(t, KindUint16, ageNode.Kind)
	assert.Equal(t, []byte{0, 0}, ageNode.Default)

	email := s.Node(root.Fields[2].Node)
	assert.Equal(t, CaseLower, email.Case)

	color := s.Node(root.Fields[5].Node)
	assert.Equal(t, []string{"red", "green", "blue"}, color.Choices)
	assert.Equal(t, uint8(3), color.DefaultChoice)

	key := root.Fields[8].Node
	assert.True(t, s.Sortable(key))
	w, fixed := s.FixedWidth(key)
	assert.True(t, fixed)
	assert.Equal(t, 12, w)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown type", `{"type": "blob"}`},
		{"bad json", `{"type":`},
		{"dup fields", `{"type":"struct","fields":[["a",{"type":"u8"}],["a",{"type":"u8"}]]}`},
		{"empty struct", `{"type":"struct","fields":[]}`},
		{"unsortable sorted tuple", `{"type":"tuple","sorted":true,"values":[{"type":"string"}]}`},
		{"option default not a choice", `{"type":"option","choices":["a"],"default":"b"}`},
		{"geo bad size", `{"type":"geo","size":5}`},
		{"list without of", `{"type":"list"}`},
		{"int default out of range", `{"type":"u8","default":300}`},
		{"portal to nowhere", `{"type":"struct","fields":[["p",{"type":"portal","to":"missing"}]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestPortalResolvesToAncestor(t *testing.T) {
	doc := `{"type":"struct","fields":[
		["name", {"type":"string"}],
		["children", {"type":"list","of":{"type":"portal","to":""}}]
	]}`
	s, err := Parse([]byte(doc))
	require.NoError(t, err)

	list := s.Node(s.Root()).Fields[1].Node
	portal := s.Node(list).Children[0]
	target, err := s.PortalTarget(portal)
	require.NoError(t, err)
	assert.Equal(t, s.Root(), target)
}

func TestPortalMustBeAncestor(t *testing.T) {
	// "name" resolves but is a sibling leaf, not an ancestor of the portal
	doc := `{"type":"struct","fields":[
		["name", {"type":"string"}],
		["link", {"type":"portal","to":"name"}]
	]}`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, ErrPortalUnresolved)
}

func TestTypeAt(t *testing.T) {
	s, err := Parse([]byte(userSchema))
	require.NoError(t, err)

	id, err := s.TypeAt("tags")
	require.NoError(t, err)
	assert.Equal(t, KindList, s.Node(id).Kind)

	// implicit descent through the list to its element type
	id, err = s.TypeAt("tags.0")
	require.Error(t, err) // element types are not positional

	id, err = s.TypeAt("key.1")
	require.NoError(t, err)
	assert.Equal(t, KindString, s.Node(id).Kind)

	def, err := s.DefaultBytesAt("age")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, def)
}
