// Package yaml encodes Go values to YAML and decodes YAML into typed
// values through the same descriptors and validation rules as the json
// and msgpack packages.
//
// Documents are parsed with gopkg.in/yaml.v3 into a node tree, which is
// then walked by the typed decoder, so scalars keep their YAML types:
// timestamps decode as datetimes and !!binary as bytes.
package yaml

import (
	"bytes"
	"io"
	"reflect"

	"github.com/pkg/errors"
	goyaml "gopkg.in/yaml.v3"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Options
// ============================================================

// Options configures Encode and the decoders.
type Options struct {
	Order   typewire.Order
	EncHook typewire.EncHook
	// Indent is the number of spaces per nesting level on output.
	Indent int

	Strict  bool
	DecHook typewire.DecHook

	MaxDepth int
}

// DefaultOptions returns the options Encode and NewDecoder start from.
func DefaultOptions() Options {
	return Options{Indent: 2, Strict: true, MaxDepth: typewire.DefaultMaxDepth}
}

// Option mutates Options.
type Option func(*Options)

// WithOrder sets the ordering of mapping keys and set members.
func WithOrder(order typewire.Order) Option {
	return func(o *Options) { o.Order = order }
}

// WithEncHook sets the hook called for values of unsupported types.
func WithEncHook(h typewire.EncHook) Option {
	return func(o *Options) { o.EncHook = h }
}

// WithIndent sets the output indentation.
func WithIndent(n int) Option {
	return func(o *Options) { o.Indent = n }
}

// WithStrict toggles strict coercion rules while decoding.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithDecHook sets the hook building values of custom types.
func WithDecHook(h typewire.DecHook) Option {
	return func(o *Options) { o.DecHook = h }
}

// WithMaxDepth bounds container nesting.
func WithMaxDepth(n int) Option {
	return func(o *Options) { o.MaxDepth = n }
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ============================================================
// Encoding
// ============================================================

// Encode returns the YAML document for v. Struct fields keep their
// declaration order.
func Encode(v any, opts ...Option) ([]byte, error) {
	o := buildOptions(opts)
	node, err := encodeNode(v, o)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := goyaml.NewEncoder(&buf)
	enc.SetIndent(o.Indent)
	if err := enc.Encode(node); err != nil {
		return nil, &schema.EncodeError{Msg: "YAML emitter failed: " + err.Error(), Err: err}
	}
	if err := enc.Close(); err != nil {
		return nil, &schema.EncodeError{Msg: "YAML emitter failed: " + err.Error(), Err: err}
	}
	return buf.Bytes(), nil
}

// EncodeNode returns v as a yaml.v3 node tree, for callers that embed it
// in a larger document.
func EncodeNode(v any, opts ...Option) (*goyaml.Node, error) {
	return encodeNode(v, buildOptions(opts))
}

func encodeNode(v any, o Options) (*goyaml.Node, error) {
	s := &sink{}
	enc := typed.Encoder{Order: o.Order, EncHook: o.EncHook, MaxDepth: o.MaxDepth}
	if err := enc.Encode(s, v); err != nil {
		return nil, err
	}
	return s.root, nil
}

// ============================================================
// Decoding
// ============================================================

// Decoder decodes YAML documents into values of T. A Decoder is immutable
// and safe for concurrent use.
type Decoder[T any] struct {
	t   *schema.Type
	dec typed.Decoder
}

// NewDecoder returns a Decoder for T.
func NewDecoder[T any](opts ...Option) (*Decoder[T], error) {
	t, err := schema.For[T]()
	if err != nil {
		return nil, err
	}
	return newDecoder[T](t, opts)
}

// NewDecoderFor returns a Decoder for an explicit descriptor.
func NewDecoderFor(t *schema.Type, opts ...Option) (*Decoder[any], error) {
	return newDecoder[any](t, opts)
}

func newDecoder[T any](t *schema.Type, opts []Option) (*Decoder[T], error) {
	// YAML carries typed keys, binary and timestamps like MessagePack does
	if err := schema.Check(t, schema.FormatMsgpack); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Decoder[T]{
		t: t,
		dec: typed.Decoder{
			Format:   schema.FormatMsgpack,
			Strict:   o.Strict,
			DecHook:  o.DecHook,
			MaxDepth: o.MaxDepth,
		},
	}, nil
}

// Type returns the descriptor the Decoder validates against.
func (d *Decoder[T]) Type() *schema.Type { return d.t }

// Decode parses the first document in data.
func (d *Decoder[T]) Decode(data []byte) (T, error) {
	var doc goyaml.Node
	if err := goyaml.Unmarshal(data, &doc); err != nil {
		var zero T
		return zero, malformed(err)
	}
	return d.DecodeNode(&doc)
}

// DecodeNode validates an already parsed node tree.
func (d *Decoder[T]) DecodeNode(n *goyaml.Node) (T, error) {
	var out T
	if err := d.dec.Decode(newSource(n), d.t, reflect.ValueOf(&out).Elem()); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// DecodeAll decodes every document of a multi-document stream.
func (d *Decoder[T]) DecodeAll(r io.Reader) ([]T, error) {
	yd := goyaml.NewDecoder(r)
	var out []T
	for i := 0; ; i++ {
		var doc goyaml.Node
		err := yd.Decode(&doc)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, malformed(err)
		}
		v, err := d.DecodeNode(&doc)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		out = append(out, v)
	}
}

// Decode parses data into a T.
func Decode[T any](data []byte, opts ...Option) (T, error) {
	d, err := NewDecoder[T](opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return d.Decode(data)
}

func malformed(err error) error {
	return &schema.DecodeError{Msg: "YAML is malformed: " + err.Error(), Pos: -1, Err: err}
}
