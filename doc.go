// Package noproto is a schema driven binary serialization engine whose
// buffers are mutable in place and incrementally readable. A schema,
// described once as a JSON document or as its compiled byte form, fixes how
// values lay out inside a single contiguous byte buffer of at most 64KiB.
// Readers decode only the fields they touch; writers append records and
// rewire 16 bit pointers instead of re-serializing.
//
// A Factory owns one immutable parsed schema and mints buffers under it:
//
//	factory, err := noproto.New([]byte(`{
//	    "type": "struct",
//	    "fields": [
//	        ["name", {"type": "string"}],
//	        ["age",  {"type": "u16", "default": 0}]
//	    ]
//	}`))
//	...
//	buf := factory.NewBuffer()
//	err = buf.Set("Billy Joel", buffer.Field("name"))
//	wire := buf.Close()
//	...
//	reopened, err := factory.OpenBuffer(wire)
//	name, err := reopened.Get(buffer.Field("name"))
//
// Factories and read only buffers may be shared across goroutines; a buffer
// being written needs one exclusive writer.
//
// Buffers whose root schema is a sorted tuple additionally expose a byte
// wise sortable form suitable for database key encodings; see the buffer
// package.
package noproto
