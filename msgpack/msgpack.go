// Package msgpack encodes Go values to MessagePack and decodes MessagePack
// into typed values, validating against the target type while parsing.
//
// Aware datetimes use the timestamp extension (type -1); other
// extensions surface as schema.Ext or go through an ExtHook.
package msgpack

import (
	"reflect"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Options
// ============================================================

// Options configures Encoder and Decoder.
type Options struct {
	Order         typewire.Order
	EncHook       typewire.EncHook
	UUIDFormat    typewire.UUIDFormat
	DecimalFormat typewire.DecimalFormat

	Strict  bool
	DecHook typewire.DecHook
	ExtHook typewire.ExtHook

	MaxDepth int
}

// DefaultOptions returns the options NewEncoder and NewDecoder start from.
func DefaultOptions() Options {
	return Options{Strict: true, MaxDepth: typewire.DefaultMaxDepth}
}

// Option mutates Options.
type Option func(*Options)

// WithOrder sets the ordering of mapping keys, set members and fields.
func WithOrder(order typewire.Order) Option {
	return func(o *Options) { o.Order = order }
}

// WithEncHook sets the hook called for values of unsupported types.
func WithEncHook(h typewire.EncHook) Option {
	return func(o *Options) { o.EncHook = h }
}

// WithUUIDFormat sets the UUID output form.
func WithUUIDFormat(f typewire.UUIDFormat) Option {
	return func(o *Options) { o.UUIDFormat = f }
}

// WithDecimalFormat sets the Decimal output form.
func WithDecimalFormat(f typewire.DecimalFormat) Option {
	return func(o *Options) { o.DecimalFormat = f }
}

// WithStrict toggles strict coercion rules while decoding.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithDecHook sets the hook building values of custom types.
func WithDecHook(h typewire.DecHook) Option {
	return func(o *Options) { o.DecHook = h }
}

// WithExtHook sets the hook converting extensions in untyped positions.
func WithExtHook(h typewire.ExtHook) Option {
	return func(o *Options) { o.ExtHook = h }
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
// Encoder
// ============================================================

// Encoder writes MessagePack. It reuses an internal buffer between calls
// and must not be used by several goroutines at once.
type Encoder struct {
	enc typed.Encoder
	w   writer
}

// NewEncoder returns an Encoder configured by opts.
func NewEncoder(opts ...Option) *Encoder {
	o := buildOptions(opts)
	return &Encoder{
		enc: typed.Encoder{Order: o.Order, EncHook: o.EncHook, MaxDepth: o.MaxDepth},
		w:   writer{uuidFmt: o.UUIDFormat, decFmt: o.DecimalFormat},
	}
}

func (e *Encoder) encode(buf []byte, v any) ([]byte, error) {
	e.w.reset(buf)
	err := e.enc.Encode(&e.w, v)
	out := e.w.buf
	e.w.buf = nil
	return out, err
}

// Encode returns the MessagePack encoding of v in a new slice.
func (e *Encoder) Encode(v any) ([]byte, error) {
	out, err := e.encode(make([]byte, 0, 64), v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeInto writes the encoding of v into *buf starting at offset, with
// the same offset rules as the JSON encoder.
func (e *Encoder) EncodeInto(v any, buf *[]byte, offset int) error {
	msg, err := e.encode(make([]byte, 0, 64), v)
	if err != nil {
		return err
	}
	prefix, err := typed.Prefix(*buf, offset)
	if err != nil {
		return err
	}
	*buf = append(prefix, msg...)
	return nil
}

// Encode returns the MessagePack encoding of v.
func Encode(v any, opts ...Option) ([]byte, error) {
	return NewEncoder(opts...).Encode(v)
}

// ============================================================
// Decoder
// ============================================================

// Decoder decodes MessagePack into values of T. A Decoder is immutable
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
			ExtHook:  o.ExtHook,
			MaxDepth: o.MaxDepth,
		},
	}, nil
}

// Type returns the descriptor the Decoder validates against.
func (d *Decoder[T]) Type() *schema.Type { return d.t }

// Decode parses one MessagePack message.
func (d *Decoder[T]) Decode(data []byte) (T, error) {
	var out T
	p := newParser(data)
	if err := d.dec.Decode(p, d.t, reflect.ValueOf(&out).Elem()); err != nil {
		var zero T
		return zero, err
	}
	if err := p.finish(); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
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
