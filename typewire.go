// Package typewire is a typed serialization and validation engine.
//
// Types are described once (from Go types via schema.For, or explicitly
// with the schema constructors) and coded to JSON (package json) or
// MessagePack (package msgpack). Decoding validates while it parses and
// reports failures with a path into the document:
//
//	Expected `int`, got `str` - at `$.items[0].count`
//
// This package holds the generic-value bridge: ToBuiltins turns typed
// values into trees of builtin Go values and Convert validates such trees
// against a type, with the same rules and error messages as the codecs.
package typewire

import (
	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// Order selects how mapping keys and set members are ordered on output.
type Order = typed.Order

const (
	// OrderUnordered emits entries in Go map iteration order.
	OrderUnordered = typed.OrderUnordered
	// OrderDeterministic emits a consistent order for equal inputs.
	OrderDeterministic = typed.OrderDeterministic
	// OrderSorted also sorts struct fields by wire name.
	OrderSorted = typed.OrderSorted
)

// EncHook converts values of unsupported types into supported ones.
type EncHook = typed.EncHook

// DecHook builds values of custom types from their generic decoded form.
type DecHook = typed.DecHook

// ExtHook converts MessagePack extensions decoded into untyped positions.
type ExtHook = typed.ExtHook

// FieldGetter reads named fields off an object for from-attributes
// conversion.
type FieldGetter = typed.FieldGetter

// DefaultMaxDepth bounds container nesting while coding.
const DefaultMaxDepth = typed.DefaultMaxDepth

// UUIDFormat selects the wire form of UUID values.
type UUIDFormat uint8

const (
	// UUIDCanonical is the 36 character hyphenated form.
	UUIDCanonical UUIDFormat = iota
	// UUIDHex is 32 hex digits.
	UUIDHex
	// UUIDBytes is the raw 16 bytes (MessagePack only).
	UUIDBytes
)

func (f UUIDFormat) String() string {
	switch f {
	case UUIDHex:
		return "hex"
	case UUIDBytes:
		return "bytes"
	}
	return "canonical"
}

// DecimalFormat selects the wire form of Decimal values.
type DecimalFormat uint8

const (
	// DecimalString writes decimals as strings, preserving every digit.
	DecimalString DecimalFormat = iota
	// DecimalNumber writes decimals as JSON numbers (MessagePack floats).
	DecimalNumber
)

func (f DecimalFormat) String() string {
	if f == DecimalNumber {
		return "number"
	}
	return "string"
}

// SetTagCacheSize bounds the number of tagged-union tables kept alive.
func SetTagCacheSize(size int) { schema.SetTagCacheSize(size) }
