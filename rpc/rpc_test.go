package rpc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/only-cliches/go-noproto/buffer"
)

const testAPI = `{
	"name": "Test",
	"version": "1.0.0",
	"methods": [
		{
			"name": "get_count",
			"request": {"type": "struct", "fields": [["table", {"type": "string"}]]},
			"response": {"kind": "result",
				"ok": {"type": "struct", "fields": [["count", {"type": "u64"}]]},
				"err": {"type": "struct", "fields": [["message", {"type": "string"}]]}}
		},
		{
			"name": "find_user",
			"request": {"type": "struct", "fields": [["id", {"type": "u32"}]]},
			"response": {"kind": "option", "of": {"type": "struct", "fields": [["name", {"type": "string"}]]}}
		},
		{"name": "ping", "response": {"kind": "empty"}}
	]
}`

func mustAPI(t *testing.T) *API {
	t.Helper()
	a, err := ParseAPI([]byte(testAPI))
	require.NoError(t, err)
	return a
}

func TestAPIHashStable(t *testing.T) {
	a := mustAPI(t)
	assert.Equal(t, APIHash("Test", "1.0.0"), a.Hash())
	assert.NotEqual(t, APIHash("Test", "1.0.1"), a.Hash())
	assert.NotEqual(t, APIHash("Other", "1.0.0"), a.Hash())
}

func TestMethodIDsAreDeclarationOrder(t *testing.T) {
	a := mustAPI(t)
	id, m, ok := a.Method("get_count")
	require.True(t, ok)
	assert.Equal(t, uint16(0), id)
	assert.Equal(t, ResponseResult, m.Response)

	id, m, ok = a.Method("ping")
	require.True(t, ok)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, ResponseEmpty, m.Response)

	_, _, ok = a.Method("nope")
	assert.False(t, ok)
}

func TestRequestRoundTrip(t *testing.T) {
	a := mustAPI(t)
	id, _, ok := a.Method("get_count")
	require.True(t, ok)

	req, err := a.NewRequest(id)
	require.NoError(t, err)
	require.NoError(t, req.Set("users", buffer.Field("table")))

	wire, err := a.Encode(id, KindRequest, req.Close())
	require.NoError(t, err)

	env, err := a.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, KindRequest, env.Kind)
	assert.Equal(t, id, env.MessageID)

	body, err := a.OpenBody(env)
	require.NoError(t, err)
	v, err := body.Get(buffer.Field("table"))
	require.NoError(t, err)
	assert.Equal(t, "users", v)
}

func TestResultOkAndErrRoundTrip(t *testing.T) {
	a := mustAPI(t)
	id, _, ok := a.Method("get_count")
	require.True(t, ok)

	okBody, err := a.NewOK(id)
	require.NoError(t, err)
	require.NoError(t, okBody.Set(uint64(5000), buffer.Field("count")))
	wire, err := a.Encode(id, KindResponseOK, okBody.Close())
	require.NoError(t, err)

	env, err := a.Decode(wire)
	require.NoError(t, err)
	body, err := a.OpenBody(env)
	require.NoError(t, err)
	v, err := body.Get(buffer.Field("count"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), v)

	errBody, err := a.NewErr(id)
	require.NoError(t, err)
	require.NoError(t, errBody.Set("that table is missing", buffer.Field("message")))
	wire, err = a.Encode(id, KindResponseErr, errBody.Close())
	require.NoError(t, err)

	env, err = a.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, KindResponseErr, env.Kind)
	body, err = a.OpenBody(env)
	require.NoError(t, err)
	v, err = body.Get(buffer.Field("message"))
	require.NoError(t, err)
	assert.Equal(t, "that table is missing", v)
}

func TestOptionNoneHasEmptyBody(t *testing.T) {
	a := mustAPI(t)
	id, _, ok := a.Method("find_user")
	require.True(t, ok)

	wire, err := a.Encode(id, KindResponseNone, nil)
	require.NoError(t, err)
	assert.Len(t, wire, 11)

	env, err := a.Decode(wire)
	require.NoError(t, err)
	body, err := a.OpenBody(env)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestDecodeRejections(t *testing.T) {
	a := mustAPI(t)

	_, err := a.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)

	wire, err := a.Encode(2, KindRequest, nil)
	require.NoError(t, err)

	// foreign hash
	bad := append([]byte(nil), wire...)
	binary.BigEndian.PutUint64(bad[0:8], APIHash("Test", "9.9.9"))
	_, err = a.Decode(bad)
	assert.ErrorIs(t, err, ErrAPIMismatch)

	// undeclared message id
	bad = append([]byte(nil), wire...)
	binary.BigEndian.PutUint16(bad[8:10], 42)
	_, err = a.Decode(bad)
	assert.ErrorIs(t, err, ErrUnknownMessage)

	// junk kind byte
	bad = append([]byte(nil), wire...)
	bad[10] = 9
	_, err = a.Decode(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseAPIRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no name", `{"version":"1", "methods":[{"name":"a"}]}`},
		{"no methods", `{"name":"x","version":"1","methods":[]}`},
		{"dup method", `{"name":"x","version":"1","methods":[{"name":"a"},{"name":"a"}]}`},
		{"option without of", `{"name":"x","version":"1","methods":[{"name":"a","response":{"kind":"option"}}]}`},
		{"result without err", `{"name":"x","version":"1","methods":[{"name":"a","response":{"kind":"result","ok":{"type":"bool"}}}]}`},
		{"bad kind", `{"name":"x","version":"1","methods":[{"name":"a","response":{"kind":"maybe"}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAPI([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
