package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roundTripDocs = []struct {
	name string
	doc  string
}{
	{"scalar", `{"type": "u32", "default": 7}`},
	{"string fixed", `{"type": "string", "size": 16, "uppercase": true, "default": "HI"}`},
	{"bytes", `{"type": "bytes"}`},
	{"dec", `{"type": "dec", "exp": 4, "default": "1.5"}`},
	{"geo", `{"type": "geo4", "default": {"lat": 1.5, "lng": -2.25}}`},
	{"option", `{"type": "option", "choices": ["a", "b"], "default": "a"}`},
	{"user", userSchema},
	{"recursive", `{"type":"struct","fields":[
		["value", {"type":"i64"}],
		["kids", {"type":"list","of":{"type":"portal","to":""}}]
	]}`},
	{"nested sorted tuple", `{"type":"tuple","sorted":true,"values":[
		{"type":"u64"},
		{"type":"tuple","sorted":true,"values":[{"type":"bool"},{"type":"date"}]}
	]}`},
}

func TestCompileRoundTrip(t *testing.T) {
	for _, tt := range roundTripDocs {
		t.Run(tt.name, func(t *testing.T) {
			s1, err := Parse([]byte(tt.doc))
			require.NoError(t, err)

			compiled := s1.Compile()
			s2, err := ParseCompiled(compiled)
			require.NoError(t, err)

			// re-compiling the re-parsed tree must be byte identical
			assert.Equal(t, compiled, s2.Compile())
			require.Equal(t, s1.Len(), s2.Len())
			for i := 0; i < s1.Len(); i++ {
				a, b := s1.Node(i), s2.Node(i)
				assert.Equal(t, a.Kind, b.Kind, "node %d", i)
				assert.Equal(t, a.Size, b.Size, "node %d", i)
				assert.Equal(t, a.Case, b.Case, "node %d", i)
				assert.Equal(t, a.Exp, b.Exp, "node %d", i)
				assert.Equal(t, a.Default, b.Default, "node %d", i)
				assert.Equal(t, a.Choices, b.Choices, "node %d", i)
				assert.Equal(t, a.Sorted, b.Sorted, "node %d", i)
				assert.Equal(t, a.PortalPath, b.PortalPath, "node %d", i)
			}
		})
	}
}

func TestParseCompiledRejectsJunk(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"unknown kind", []byte{0xEE}},
		{"truncated struct", []byte{byte(KindStruct), 2, 1, 'a'}},
		{"scalar with children", []byte{byte(KindBool), 0, 1, byte(KindBool), 0, 0}},
		{"list child count", []byte{byte(KindList), 2}},
		{"trailing bytes", append(compiledOf(`{"type":"bool"}`), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompiled(tt.b)
			assert.ErrorIs(t, err, ErrSchemaInvalid)
		})
	}
}

func compiledOf(doc string) []byte {
	s, err := Parse([]byte(doc))
	if err != nil {
		panic(err)
	}
	return s.Compile()
}
