package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel error classes. Typed errors below match them with errors.Is.
var (
	ErrSchema      = errors.New("schema error")
	ErrDecode      = errors.New("decode error")
	ErrValidation  = errors.New("validation error")
	ErrEncode      = errors.New("encode error")
	ErrRecursion   = errors.New("maximum recursion depth exceeded")
	ErrOverflow    = errors.New("integer value out of range")
	ErrUnsupported = errors.New("unsupported type")

	// ErrTypeMismatch is wrapped by hooks that reject the value they were
	// given. Such errors are reported as ValidationErrors with a path;
	// other hook errors propagate unchanged.
	ErrTypeMismatch = errors.New("type mismatch")
)

// SchemaError reports an invalid or unsupported type declaration. It is
// raised when descriptors are built or checked, never while coding.
type SchemaError struct {
	Type string // Offending type, rendered
	Msg  string
}

func (e *SchemaError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("type `%s` is not supported: %s", e.Type, e.Msg)
	}
	return e.Msg
}

// Is matches ErrSchema.
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// DecodeError reports malformed input bytes.
type DecodeError struct {
	Msg string
	Pos int // Byte offset, -1 if unknown
	Err error
}

func (e *DecodeError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s (byte %d)", e.Msg, e.Pos)
	}
	return e.Msg
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a value that cannot be encoded.
type EncodeError struct {
	Msg string
	Err error
}

func (e *EncodeError) Error() string { return e.Msg }

// Is matches ErrEncode.
func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

func (e *EncodeError) Unwrap() error { return e.Err }

// ============================================================
// ValidationError
// ============================================================

// ValidationError reports well-formed input that does not match the
// expected type. It is a DecodeError subtype: errors.Is matches both
// ErrValidation and ErrDecode.
//
// The path is accumulated while the error unwinds out of nested containers,
// so successful decodes never pay for path bookkeeping.
type ValidationError struct {
	Message string
	Err     error // Underlying cause (hook error), if any

	segs  []string // innermost first
	inKey bool
	keyAt int // number of segs below the dict holding the failing key
}

// Mismatch returns "Expected `want`, got `got`".
func Mismatch(want, got string) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("Expected `%s`, got `%s`", want, got)}
}

// Invalidf returns a ValidationError with a formatted message.
func Invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	p := e.Path()
	if p == "$" {
		return e.Message
	}
	return fmt.Sprintf("%s - at `%s`", e.Message, p)
}

// Is matches ErrValidation and ErrDecode.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == ErrDecode
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AtField records that the error occurred inside the named field.
func (e *ValidationError) AtField(name string) *ValidationError {
	e.segs = append(e.segs, "."+name)
	return e
}

// AtIndex records that the error occurred inside array element i.
func (e *ValidationError) AtIndex(i int) *ValidationError {
	e.segs = append(e.segs, "["+strconv.Itoa(i)+"]")
	return e
}

// AtValue records that the error occurred inside a mapping value.
func (e *ValidationError) AtValue() *ValidationError {
	e.segs = append(e.segs, "[...]")
	return e
}

// AtKey records that the error occurred while decoding a mapping key of
// the container at the current position.
func (e *ValidationError) AtKey() *ValidationError {
	if !e.inKey {
		e.inKey = true
		e.keyAt = len(e.segs)
	}
	return e
}

// Path renders the location: `$`, `$.field`, `$[0]`, or `key in $.field`
// for errors raised while decoding a mapping key.
func (e *ValidationError) Path() string {
	var b strings.Builder
	b.WriteByte('$')
	for i := len(e.segs) - 1; i >= 0; i-- {
		if e.inKey && i < e.keyAt {
			break
		}
		b.WriteString(e.segs[i])
	}
	if e.inKey {
		return "key in " + b.String()
	}
	return b.String()
}
