// Package typed holds the format-independent halves of every codec: the
// type-directed decoder that validates a stream of tokens against a
// descriptor, and the runtime-type-directed encoder that walks Go values
// into a format sink.
//
// Wire formats plug in by implementing Source (a pull parser) and Sink (a
// push writer). The generic-value bridge implements both over Go values.
package typed

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/Neumenon/typewire/schema"
)

// TokenKind classifies the next value produced by a Source.
type TokenKind uint8

const (
	TokNull TokenKind = iota
	TokBool
	TokInt    // Int holds the value
	TokUint   // Uint holds a value above MaxInt64
	TokFloat  // Float holds the value
	TokBigInt // integer outside 64 bits; Float holds the nearest float
	TokStr
	TokBytes
	TokArray // container header; Len is the length or -1
	TokMap   // container header; Len is the length or -1
	TokExt
	TokDateTime // native timestamp (MessagePack ext -1, Go time.Time)
	TokNative   // Go value of a dedicated type (Date, Decimal, uuid, ...)
	TokObject   // Go value read through FieldGetter (from-attributes)
)

// Token is one value header. Scalars are complete; containers are followed
// by their elements, pulled with Source.More.
type Token struct {
	Kind  TokenKind
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Str   string // string value, or the literal text of a JSON number
	Bytes []byte
	Ext   schema.Ext
	Time  time.Time
	Len   int

	// IsKey marks a string read from a JSON object key position.
	IsKey bool
	// Value carries the Go value behind TokNative and TokObject tokens.
	Value reflect.Value
	// Getter reads fields of TokObject tokens.
	Getter FieldGetter
}

// Snapshot is an opaque saved Source position.
type Snapshot any

// Source is a pull parser producing tokens in document order.
type Source interface {
	// Next reads the next value header.
	Next() (Token, error)
	// More reports whether the innermost open container has another
	// element (or entry); false consumes the container's end.
	More() (bool, error)
	// Skip discards the next value including all of its children.
	Skip() error
	// Raw returns the encoded bytes of the next value.
	Raw() ([]byte, error)
	// Save and Restore rewind the source, used to look ahead for union tags.
	Save() Snapshot
	Restore(Snapshot)
	// Pos is the current byte offset, -1 when not meaningful.
	Pos() int
}

// FieldGetter is the capability of reading named fields off an object,
// used for from-attributes conversion. Implemented for Go structs and
// string-keyed maps; user types may implement it directly.
type FieldGetter interface {
	GetField(name string) (any, bool)
}

// gotName names a token's wire category in validation messages.
func gotName(tok Token) string {
	switch tok.Kind {
	case TokNull:
		return "null"
	case TokBool:
		return "bool"
	case TokInt, TokUint:
		return "int"
	case TokFloat, TokBigInt:
		return "float"
	case TokStr:
		return "str"
	case TokBytes:
		return "bytes"
	case TokArray:
		return "array"
	case TokMap:
		return "object"
	case TokExt:
		return "ext"
	case TokDateTime:
		return "datetime"
	case TokNative, TokObject:
		if tok.Value.IsValid() {
			return nativeName(tok.Value.Type())
		}
	}
	return "unknown"
}

var (
	anyType       = reflect.TypeFor[any]()
	timeType      = reflect.TypeFor[time.Time]()
	durationType  = reflect.TypeFor[time.Duration]()
	dateType      = reflect.TypeFor[schema.Date]()
	timeOfDayType = reflect.TypeFor[schema.TimeOfDay]()
	decimalType   = reflect.TypeFor[schema.Decimal]()
	extType       = reflect.TypeFor[schema.Ext]()
	rawType       = reflect.TypeFor[schema.Raw]()
	uuidType      = reflect.TypeFor[uuid.UUID]()
)

func nativeName(t reflect.Type) string {
	switch t {
	case dateType:
		return "date"
	case timeOfDayType:
		return "time"
	case durationType:
		return "duration"
	case uuidType:
		return "uuid"
	case decimalType:
		return "decimal"
	case timeType:
		return "datetime"
	}
	return t.String()
}
