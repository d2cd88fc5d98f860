// Package json encodes Go values to JSON and decodes JSON into typed
// values, validating against the target type while parsing.
//
// Bytes are base64 strings; datetimes, dates and times are RFC 3339;
// durations are ISO 8601; UUIDs and decimals are strings unless the
// encoder is configured otherwise. Validation failures are
// *schema.ValidationError values carrying a path into the document.
package json

import (
	"bytes"
	"reflect"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Options
// ============================================================

// Options configures Encoder and Decoder. Settings that do not apply to
// one side are ignored by it.
type Options struct {
	Order         typewire.Order
	EncHook       typewire.EncHook
	UUIDFormat    typewire.UUIDFormat
	DecimalFormat typewire.DecimalFormat

	// Strict rejects str→number/bool and number→datetime coercions.
	Strict  bool
	DecHook typewire.DecHook

	// MaxDepth bounds container nesting on both sides.
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

// WithUUIDFormat sets the UUID output form (canonical or hex).
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

// Encoder writes JSON. It reuses an internal buffer between calls and
// must not be used by several goroutines at once.
type Encoder struct {
	enc typed.Encoder
	w   writer
	err error
}

// NewEncoder returns an Encoder configured by opts.
func NewEncoder(opts ...Option) *Encoder {
	o := buildOptions(opts)
	e := &Encoder{
		enc: typed.Encoder{Order: o.Order, EncHook: o.EncHook, MaxDepth: o.MaxDepth},
		w:   writer{uuidFmt: o.UUIDFormat, decFmt: o.DecimalFormat},
	}
	if o.UUIDFormat == typewire.UUIDBytes {
		e.err = &schema.EncodeError{Msg: "uuid format 'bytes' is not supported by JSON", Err: schema.ErrUnsupported}
	}
	return e
}

func (e *Encoder) encode(buf []byte, v any) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.w.reset(buf)
	err := e.enc.Encode(&e.w, v)
	out := e.w.buf
	e.w.buf = nil
	return out, err
}

// Encode returns the JSON encoding of v in a new slice.
func (e *Encoder) Encode(v any) ([]byte, error) {
	out, err := e.encode(make([]byte, 0, 64), v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeInto writes the encoding of v into *buf starting at offset. An
// offset of -1 appends; an offset past the end pads with zero bytes. On
// return len(*buf) is offset plus the message length. If encoding fails,
// *buf and its backing array are left untouched.
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

// EncodeLines encodes each element of the slice or array items as one
// line of newline-delimited JSON.
func (e *Encoder) EncodeLines(items any) ([]byte, error) {
	rv := reflect.ValueOf(items)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &schema.EncodeError{Msg: "EncodeLines expects a slice or array", Err: schema.ErrUnsupported}
	}
	out := make([]byte, 0, 64*rv.Len())
	for i := 0; i < rv.Len(); i++ {
		var err error
		if out, err = e.encode(out, rv.Index(i).Interface()); err != nil {
			return nil, err
		}
		out = append(out, '\n')
	}
	return out, nil
}

// Encode returns the JSON encoding of v.
func Encode(v any, opts ...Option) ([]byte, error) {
	return NewEncoder(opts...).Encode(v)
}

// ============================================================
// Decoder
// ============================================================

// Decoder decodes JSON into values of T. A Decoder is immutable and safe
// for concurrent use.
type Decoder[T any] struct {
	t   *schema.Type
	dec typed.Decoder
}

// NewDecoder returns a Decoder for T. The type is checked for JSON
// support up front, so schema problems surface here as *schema.SchemaError.
func NewDecoder[T any](opts ...Option) (*Decoder[T], error) {
	t, err := schema.For[T]()
	if err != nil {
		return nil, err
	}
	return newDecoder[T](t, opts)
}

// NewDecoderFor returns a Decoder for an explicit descriptor. Results
// take the descriptor's Go type, or the generic representation.
func NewDecoderFor(t *schema.Type, opts ...Option) (*Decoder[any], error) {
	return newDecoder[any](t, opts)
}

func newDecoder[T any](t *schema.Type, opts []Option) (*Decoder[T], error) {
	if err := schema.Check(t, schema.FormatJSON); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Decoder[T]{
		t: t,
		dec: typed.Decoder{
			Format:   schema.FormatJSON,
			Strict:   o.Strict,
			DecHook:  o.DecHook,
			MaxDepth: o.MaxDepth,
		},
	}, nil
}

// Type returns the descriptor the Decoder validates against.
func (d *Decoder[T]) Type() *schema.Type { return d.t }

// Decode parses one JSON document.
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

// DecodeLines decodes newline-delimited JSON, one value per non-blank
// line.
func (d *Decoder[T]) DecodeLines(data []byte) ([]T, error) {
	var out []T
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		v, err := d.Decode(line)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
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
