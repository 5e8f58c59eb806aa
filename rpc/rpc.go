// Package rpc implements the request/response envelope built on schema
// buffers. An API document declares named methods, each with an optional
// request schema and a response framing; the wire envelope multiplexes them
// with a stable 64 bit api hash and a dense message id, so a receiver can
// dispatch without parsing any body bytes.
package rpc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/only-cliches/go-noproto/buffer"
	"github.com/only-cliches/go-noproto/schema"
)

var (
	ErrAPIMismatch    = errors.New("envelope api hash does not match this api")
	ErrUnknownMessage = errors.New("envelope message id is not declared by this api")
	ErrMalformed      = buffer.ErrMalformed
)

// MessageKind discriminates the four envelope framings.
type MessageKind uint8

const (
	KindRequest MessageKind = iota + 1
	KindResponseOK
	KindResponseNone
	KindResponseErr
)

// ResponseKind is a method's declared response framing.
type ResponseKind uint8

const (
	// ResponseEmpty methods acknowledge with no body.
	ResponseEmpty ResponseKind = iota
	// ResponseOption methods answer with a value or nothing.
	ResponseOption
	// ResponseResult methods answer with a value or a typed error.
	ResponseResult
)

// Envelope wire layout.
const (
	envelopeHashBytes = 8
	envelopeIDBytes   = 2
	envelopeKindBytes = 1
	envelopeHeader    = envelopeHashBytes + envelopeIDBytes + envelopeKindBytes
)

// Method is one declared endpoint. Request is nil for argument free
// methods; OK and Err carry the response schemas the framing requires.
type Method struct {
	Name     string
	Response ResponseKind
	Request  *schema.Schema
	OK       *schema.Schema
	Err      *schema.Schema
}

// API is an immutable parsed API document. Message ids are the 0-based
// declaration order of its methods.
type API struct {
	Name    string
	Version string

	hash    uint64
	methods []Method
	byName  map[string]uint16
	log     logger.Logger
}

// Options configures an API.
type Options struct {
	Log logger.Logger
}

// Option is a generic option applied to an Options target.
type Option func(any)

// WithLogger injects a logger used to trace dispatch decisions.
func WithLogger(log logger.Logger) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Log = log
		}
	}
}

// ParseAPI builds an API from its JSON document form:
//
//	{
//	  "name": "Users", "version": "1.0.0",
//	  "methods": [
//	    {"name": "ping", "response": {"kind": "empty"}},
//	    {"name": "find", "request": <node>, "response": {"kind": "option", "of": <node>}},
//	    {"name": "save", "request": <node>, "response": {"kind": "result", "ok": <node>, "err": <node>}}
//	  ]
//	}
func ParseAPI(doc []byte, withOpts ...Option) (*API, error) {
	opts := Options{}
	for _, o := range withOpts {
		o(&opts)
	}

	var raw struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Methods []struct {
			Name     string          `json:"name"`
			Request  json.RawMessage `json:"request"`
			Response struct {
				Kind string          `json:"kind"`
				Of   json.RawMessage `json:"of"`
				OK   json.RawMessage `json:"ok"`
				Err  json.RawMessage `json:"err"`
			} `json:"response"`
		} `json:"methods"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%v: %w", err, schema.ErrSchemaInvalid)
	}
	if raw.Name == "" || raw.Version == "" {
		return nil, fmt.Errorf("api requires name and version: %w", schema.ErrSchemaInvalid)
	}
	if len(raw.Methods) == 0 {
		return nil, fmt.Errorf("api declares no methods: %w", schema.ErrSchemaInvalid)
	}

	a := &API{
		Name:    raw.Name,
		Version: raw.Version,
		hash:    APIHash(raw.Name, raw.Version),
		byName:  make(map[string]uint16, len(raw.Methods)),
		log:     opts.Log,
	}
	for i, m := range raw.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("method %d has no name: %w", i, schema.ErrSchemaInvalid)
		}
		if _, dup := a.byName[m.Name]; dup {
			return nil, fmt.Errorf("duplicate method %q: %w", m.Name, schema.ErrSchemaInvalid)
		}
		method := Method{Name: m.Name}
		var err error
		if method.Request, err = subSchema(m.Request); err != nil {
			return nil, fmt.Errorf("method %q request: %w", m.Name, err)
		}
		switch m.Response.Kind {
		case "", "empty":
			method.Response = ResponseEmpty
		case "option":
			method.Response = ResponseOption
			if method.OK, err = subSchema(m.Response.Of); err != nil || method.OK == nil {
				return nil, fmt.Errorf("method %q option response requires %q: %w", m.Name, "of", schema.ErrSchemaInvalid)
			}
		case "result":
			method.Response = ResponseResult
			if method.OK, err = subSchema(m.Response.OK); err != nil || method.OK == nil {
				return nil, fmt.Errorf("method %q result response requires %q: %w", m.Name, "ok", schema.ErrSchemaInvalid)
			}
			if method.Err, err = subSchema(m.Response.Err); err != nil || method.Err == nil {
				return nil, fmt.Errorf("method %q result response requires %q: %w", m.Name, "err", schema.ErrSchemaInvalid)
			}
		default:
			return nil, fmt.Errorf("method %q response kind %q: %w", m.Name, m.Response.Kind, schema.ErrSchemaInvalid)
		}
		a.byName[m.Name] = uint16(i)
		a.methods = append(a.methods, method)
	}
	return a, nil
}

func subSchema(raw json.RawMessage) (*schema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return schema.Parse(raw)
}

// APIHash is the stable 64 bit identity of an api name and version pair.
func APIHash(name, version string) uint64 {
	return xxhash.Sum64String(name + "/" + version)
}

// Hash returns this api's stable identity.
func (a *API) Hash() uint64 { return a.hash }

// Methods returns the declared methods in message id order.
func (a *API) Methods() []Method { return a.methods }

// Method resolves a method by name to its message id.
func (a *API) Method(name string) (uint16, *Method, bool) {
	id, ok := a.byName[name]
	if !ok {
		return 0, nil, false
	}
	return id, &a.methods[id], true
}

// Envelope is one decoded wire message. Body is a sub-slice of the decoded
// bytes, formatted under the schema the (message id, kind) pair selects.
type Envelope struct {
	APIHash   uint64
	MessageID uint16
	Kind      MessageKind
	Body      []byte
}

// Encode frames body under this api. A ResponseNone envelope must carry an
// empty body.
func (a *API) Encode(msgID uint16, kind MessageKind, body []byte) ([]byte, error) {
	if int(msgID) >= len(a.methods) {
		return nil, fmt.Errorf("message id %d: %w", msgID, ErrUnknownMessage)
	}
	if kind < KindRequest || kind > KindResponseErr {
		return nil, fmt.Errorf("message kind %d: %w", kind, ErrMalformed)
	}
	out := make([]byte, envelopeHeader, envelopeHeader+len(body))
	binary.BigEndian.PutUint64(out[0:8], a.hash)
	binary.BigEndian.PutUint16(out[8:10], msgID)
	out[10] = byte(kind)
	return append(out, body...), nil
}

// Decode validates the envelope header and dispatches on it: a foreign api
// hash fails ErrAPIMismatch, an undeclared message id ErrUnknownMessage.
func (a *API) Decode(raw []byte) (Envelope, error) {
	if len(raw) < envelopeHeader {
		return Envelope{}, fmt.Errorf("envelope of %d bytes: %w", len(raw), ErrMalformed)
	}
	env := Envelope{
		APIHash:   binary.BigEndian.Uint64(raw[0:8]),
		MessageID: binary.BigEndian.Uint16(raw[8:10]),
		Kind:      MessageKind(raw[10]),
		Body:      raw[envelopeHeader:],
	}
	if env.APIHash != a.hash {
		return Envelope{}, fmt.Errorf("hash %016x, expected %016x: %w", env.APIHash, a.hash, ErrAPIMismatch)
	}
	if int(env.MessageID) >= len(a.methods) {
		return Envelope{}, fmt.Errorf("message id %d: %w", env.MessageID, ErrUnknownMessage)
	}
	if env.Kind < KindRequest || env.Kind > KindResponseErr {
		return Envelope{}, fmt.Errorf("message kind %d: %w", env.Kind, ErrMalformed)
	}
	if a.log != nil {
		a.log.Debugf("rpc decode: method=%s kind=%d body=%dB", a.methods[env.MessageID].Name, env.Kind, len(env.Body))
	}
	return env, nil
}

// NewRequest returns an empty buffer under the method's request schema.
func (a *API) NewRequest(msgID uint16) (*buffer.Buffer, error) {
	m, err := a.method(msgID)
	if err != nil {
		return nil, err
	}
	if m.Request == nil {
		return nil, fmt.Errorf("method %q takes no request body: %w", m.Name, ErrMalformed)
	}
	return buffer.New(m.Request), nil
}

// NewOK returns an empty buffer under the method's success response schema.
func (a *API) NewOK(msgID uint16) (*buffer.Buffer, error) {
	m, err := a.method(msgID)
	if err != nil {
		return nil, err
	}
	if m.OK == nil {
		return nil, fmt.Errorf("method %q has no response body: %w", m.Name, ErrMalformed)
	}
	return buffer.New(m.OK), nil
}

// NewErr returns an empty buffer under the method's error response schema.
func (a *API) NewErr(msgID uint16) (*buffer.Buffer, error) {
	m, err := a.method(msgID)
	if err != nil {
		return nil, err
	}
	if m.Err == nil {
		return nil, fmt.Errorf("method %q has no error body: %w", m.Name, ErrMalformed)
	}
	return buffer.New(m.Err), nil
}

// OpenBody interprets an envelope's body under the schema its kind selects.
// A ResponseNone envelope yields nil.
func (a *API) OpenBody(env Envelope) (*buffer.Buffer, error) {
	m, err := a.method(env.MessageID)
	if err != nil {
		return nil, err
	}
	var sch *schema.Schema
	switch env.Kind {
	case KindRequest:
		sch = m.Request
	case KindResponseOK:
		sch = m.OK
	case KindResponseNone:
		return nil, nil
	case KindResponseErr:
		sch = m.Err
	}
	if sch == nil {
		if len(env.Body) != 0 {
			return nil, fmt.Errorf("method %q carries %d unexpected body bytes: %w", m.Name, len(env.Body), ErrMalformed)
		}
		return nil, nil
	}
	return buffer.Open(sch, env.Body)
}

func (a *API) method(msgID uint16) (*Method, error) {
	if int(msgID) >= len(a.methods) {
		return nil, fmt.Errorf("message id %d: %w", msgID, ErrUnknownMessage)
	}
	return &a.methods[msgID], nil
}
