package typewire

import (
	"reflect"

	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Options
// ============================================================

// Options configures Convert and ToBuiltins.
type Options struct {
	// Strict rejects str→number/bool and number→datetime coercions.
	Strict bool
	// FromAttributes lets struct targets read fields off Go structs and
	// FieldGetter values instead of only mappings.
	FromAttributes bool
	// BuiltinTypes lists kinds carried as Go values instead of strings.
	// Valid kinds: bytes, datetime, date, time, duration, uuid, decimal.
	BuiltinTypes []schema.Kind
	// StrKeys stringifies every mapping key (ToBuiltins).
	StrKeys bool
	Order   Order
	EncHook EncHook
	DecHook DecHook
	// MaxDepth bounds nesting, DefaultMaxDepth when zero.
	MaxDepth int
}

// DefaultOptions returns strict options with no builtin types.
func DefaultOptions() Options {
	return Options{Strict: true, MaxDepth: DefaultMaxDepth}
}

// Option mutates Options.
type Option func(*Options)

// WithStrict toggles strict coercion rules.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithFromAttributes enables reading struct targets from object fields.
func WithFromAttributes(on bool) Option {
	return func(o *Options) { o.FromAttributes = on }
}

// WithBuiltinTypes marks kinds the input (Convert) or output (ToBuiltins)
// carries natively.
func WithBuiltinTypes(kinds ...schema.Kind) Option {
	return func(o *Options) { o.BuiltinTypes = append(o.BuiltinTypes, kinds...) }
}

// WithStrKeys makes ToBuiltins render every mapping key as a string.
func WithStrKeys(on bool) Option {
	return func(o *Options) { o.StrKeys = on }
}

// WithOrder sets the output ordering of ToBuiltins.
func WithOrder(order Order) Option {
	return func(o *Options) { o.Order = order }
}

// WithEncHook sets the hook for unsupported types in ToBuiltins.
func WithEncHook(h EncHook) Option {
	return func(o *Options) { o.EncHook = h }
}

// WithDecHook sets the hook for custom types in Convert.
func WithDecHook(h DecHook) Option {
	return func(o *Options) { o.DecHook = h }
}

// WithMaxDepth bounds container nesting.
func WithMaxDepth(n int) Option {
	return func(o *Options) { o.MaxDepth = n }
}

func buildOptions(opts []Option) (Options, map[schema.Kind]bool, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	native := make(map[schema.Kind]bool, len(o.BuiltinTypes))
	for _, k := range o.BuiltinTypes {
		switch k {
		case schema.KindBytes, schema.KindDateTime, schema.KindDate, schema.KindTime,
			schema.KindDuration, schema.KindUUID, schema.KindDecimal:
			native[k] = true
		default:
			return o, nil, &schema.SchemaError{Msg: "builtin types may only contain bytes, datetime, date, time, duration, uuid or decimal; got " + k.String()}
		}
	}
	return o, native, nil
}

// ============================================================
// Convert
// ============================================================

// Convert validates the builtin value tree v against T and builds a T.
// Errors are *schema.ValidationError with the same messages and paths the
// codecs produce.
func Convert[T any](v any, opts ...Option) (T, error) {
	var out T
	t, err := schema.For[T]()
	if err != nil {
		return out, err
	}
	err = convertInto(v, t, reflect.ValueOf(&out).Elem(), opts)
	return out, err
}

// ConvertTo is Convert for an explicit descriptor; the result takes the
// descriptor's Go type (the generic representation when it has none).
func ConvertTo(v any, t *schema.Type, opts ...Option) (any, error) {
	var out any
	if err := convertInto(v, t, reflect.ValueOf(&out).Elem(), opts); err != nil {
		return nil, err
	}
	return out, nil
}

func convertInto(v any, t *schema.Type, out reflect.Value, opts []Option) error {
	o, native, err := buildOptions(opts)
	if err != nil {
		return err
	}
	if err := schema.Check(t, schema.FormatBuiltins); err != nil {
		return err
	}
	dec := typed.Decoder{
		Format:         schema.FormatBuiltins,
		Strict:         o.Strict,
		DecHook:        o.DecHook,
		FromAttributes: o.FromAttributes,
		MaxDepth:       o.MaxDepth,
		Native:         native,
	}
	return dec.Decode(typed.NewValueSource(v), t, out)
}

// ============================================================
// ToBuiltins
// ============================================================

// ToBuiltins converts v into a tree of nil, bool, int64, uint64, float64,
// string, []byte, []any and map[string]any, applying the encoders' struct
// rules (tags, renames, omitted defaults). Mappings with non-string keys
// become map[any]any unless WithStrKeys is set. Dates, times, durations,
// UUIDs and decimals become strings and bytes become base64 unless listed
// in WithBuiltinTypes.
func ToBuiltins(v any, opts ...Option) (any, error) {
	o, native, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	sink := &typed.BuiltinsSink{Native: native, StrKeys: o.StrKeys}
	enc := typed.Encoder{Order: o.Order, EncHook: o.EncHook, MaxDepth: o.MaxDepth}
	if err := enc.Encode(sink, v); err != nil {
		return nil, err
	}
	return sink.Result(), nil
}
