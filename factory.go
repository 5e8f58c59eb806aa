package noproto

import (
	"time"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/only-cliches/go-noproto/buffer"
	"github.com/only-cliches/go-noproto/manifest"
	"github.com/only-cliches/go-noproto/rpc"
	"github.com/only-cliches/go-noproto/schema"
)

// Options configures a Factory and every buffer it mints.
type Options struct {
	Log            logger.Logger
	MaxHops        int
	MaxPortalDepth int
}

// Option is a generic option applied to an Options target.
type Option func(any)

// WithLogger injects a logger handed to every buffer for debug output.
func WithLogger(log logger.Logger) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Log = log
		}
	}
}

// WithMaxHops overrides the per operation traversal bound.
func WithMaxHops(n int) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.MaxHops = n
		}
	}
}

// WithMaxPortalDepth overrides the schema indirection bound.
func WithMaxPortalDepth(n int) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.MaxPortalDepth = n
		}
	}
}

// Factory owns one immutable parsed schema and mints buffers under it. A
// factory is safe to share across goroutines.
type Factory struct {
	sch      *schema.Schema
	compiled []byte
	bufOpts  []buffer.Option
	log      logger.Logger
}

// New parses the textual JSON schema document and returns a factory for it.
func New(schemaDoc []byte, withOpts ...Option) (*Factory, error) {
	sch, err := schema.Parse(schemaDoc)
	if err != nil {
		return nil, err
	}
	return fromSchema(sch, withOpts)
}

// FromCompiled rebuilds a factory from a compiled schema, for consumers that
// receive schemas over the wire or from a manifest.
func FromCompiled(compiled []byte, withOpts ...Option) (*Factory, error) {
	sch, err := schema.ParseCompiled(compiled)
	if err != nil {
		return nil, err
	}
	return fromSchema(sch, withOpts)
}

func fromSchema(sch *schema.Schema, withOpts []Option) (*Factory, error) {
	opts := Options{}
	for _, o := range withOpts {
		o(&opts)
	}
	var bufOpts []buffer.Option
	if opts.Log != nil {
		bufOpts = append(bufOpts, buffer.WithLogger(opts.Log))
	}
	if opts.MaxHops > 0 {
		bufOpts = append(bufOpts, buffer.WithMaxHops(opts.MaxHops))
	}
	if opts.MaxPortalDepth > 0 {
		bufOpts = append(bufOpts, buffer.WithMaxPortalDepth(opts.MaxPortalDepth))
	}
	return &Factory{
		sch:      sch,
		compiled: sch.Compile(),
		bufOpts:  bufOpts,
		log:      opts.Log,
	}, nil
}

// Schema returns the parsed schema tree.
func (f *Factory) Schema() *schema.Schema { return f.sch }

// CompiledSchema returns the compact byte form of the schema. The slice is
// a fresh copy each call.
func (f *Factory) CompiledSchema() []byte {
	return append([]byte(nil), f.compiled...)
}

// NewBuffer mints an empty buffer: three envelope bytes, every read a
// schema default.
func (f *Factory) NewBuffer() *buffer.Buffer {
	return buffer.New(f.sch, f.bufOpts...)
}

// OpenBuffer wraps existing bytes under this factory's schema. Arbitrary
// bytes are accepted; traversal bounds keep every subsequent read safe.
func (f *Factory) OpenBuffer(raw []byte) (*buffer.Buffer, error) {
	return buffer.Open(f.sch, raw, f.bufOpts...)
}

// Manifest packages the schema for distribution under the given identity.
func (f *Factory) Manifest(name, version string) manifest.Manifest {
	return manifest.Manifest{
		Name:      name,
		Version:   version,
		Schema:    f.CompiledSchema(),
		APIHash:   rpc.APIHash(name, version),
		Timestamp: time.Now().UnixMilli(),
	}
}
