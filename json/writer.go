package json

import (
	"encoding/base64"
	"encoding/hex"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Writer
// ============================================================

// writer is the JSON typed.Sink. It appends compact JSON to buf.
type writer struct {
	buf     []byte
	stack   []wframe
	err     error
	uuidFmt typewire.UUIDFormat
	decFmt  typewire.DecimalFormat
}

type wframe struct {
	obj   bool
	n     int
	isKey bool // object: the next write is a key
}

func (w *writer) reset(buf []byte) {
	w.buf = buf
	w.stack = w.stack[:0]
	w.err = nil
}

// Err implements typed.Sink.
func (w *writer) Err() error { return w.err }

func (w *writer) fail(msg string, cause error) {
	if w.err == nil {
		w.err = &schema.EncodeError{Msg: msg, Err: cause}
	}
}

// pre writes the separator before a value and reports whether the value
// is in key position.
func (w *writer) pre() bool {
	n := len(w.stack)
	if n == 0 {
		return false
	}
	top := &w.stack[n-1]
	if !top.obj {
		if top.n > 0 {
			w.buf = append(w.buf, ',')
		}
		top.n++
		return false
	}
	if top.isKey {
		if top.n > 0 {
			w.buf = append(w.buf, ',')
		}
		top.isKey = false
		return true
	}
	w.buf = append(w.buf, ':')
	top.n++
	top.isKey = true
	return false
}

func (w *writer) badKey() {
	w.fail("Only dicts with str-like or number-like keys are supported", schema.ErrUnsupported)
}

// Null implements typed.Sink.
func (w *writer) Null() {
	if w.pre() {
		w.badKey()
		return
	}
	w.buf = append(w.buf, "null"...)
}

// Bool implements typed.Sink.
func (w *writer) Bool(v bool) {
	if w.pre() {
		w.badKey()
		return
	}
	w.buf = strconv.AppendBool(w.buf, v)
}

// Int implements typed.Sink.
func (w *writer) Int(v int64) {
	if w.pre() {
		w.buf = append(w.buf, '"')
		w.buf = strconv.AppendInt(w.buf, v, 10)
		w.buf = append(w.buf, '"')
		return
	}
	w.buf = strconv.AppendInt(w.buf, v, 10)
}

// Uint implements typed.Sink.
func (w *writer) Uint(v uint64) {
	if w.pre() {
		w.buf = append(w.buf, '"')
		w.buf = strconv.AppendUint(w.buf, v, 10)
		w.buf = append(w.buf, '"')
		return
	}
	w.buf = strconv.AppendUint(w.buf, v, 10)
}

// Float implements typed.Sink. NaN and infinities have no JSON form and
// are written as null.
func (w *writer) Float(v float64) {
	if w.pre() {
		w.buf = append(w.buf, '"')
		w.buf = appendFloat(w.buf, v)
		w.buf = append(w.buf, '"')
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		w.buf = append(w.buf, "null"...)
		return
	}
	w.buf = appendFloat(w.buf, v)
}

// appendFloat writes the shortest repr that reads back as the same
// float64, always with a fraction or exponent.
func appendFloat(b []byte, f float64) []byte {
	switch {
	case math.IsNaN(f):
		return append(b, "nan"...)
	case math.IsInf(f, 1):
		return append(b, "inf"...)
	case math.IsInf(f, -1):
		return append(b, "-inf"...)
	}
	abs := math.Abs(f)
	mode := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e16) {
		mode = 'e'
	}
	start := len(b)
	b = strconv.AppendFloat(b, f, mode, -1, 64)
	if mode == 'e' {
		// e-07 -> e-7
		n := len(b)
		if n-start >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
		return b
	}
	for _, c := range b[start:] {
		if c == '.' {
			return b
		}
	}
	return append(b, ".0"...)
}

// Str implements typed.Sink.
func (w *writer) Str(v string) {
	w.pre()
	w.buf = appendString(w.buf, v)
}

// Bytes implements typed.Sink.
func (w *writer) Bytes(v []byte) {
	if w.pre() {
		w.badKey()
		return
	}
	w.buf = append(w.buf, '"')
	w.buf = base64.StdEncoding.AppendEncode(w.buf, v)
	w.buf = append(w.buf, '"')
}

// DateTime implements typed.Sink.
func (w *writer) DateTime(v time.Time) {
	w.pre()
	w.buf = append(w.buf, '"')
	w.buf = schema.AppendDateTime(w.buf, v)
	w.buf = append(w.buf, '"')
}

// Date implements typed.Sink.
func (w *writer) Date(v schema.Date) {
	w.pre()
	w.buf = appendString(w.buf, v.String())
}

// Time implements typed.Sink.
func (w *writer) Time(v schema.TimeOfDay) {
	w.pre()
	w.buf = appendString(w.buf, v.String())
}

// Duration implements typed.Sink.
func (w *writer) Duration(v time.Duration) {
	w.pre()
	w.buf = appendString(w.buf, schema.FormatDuration(v))
}

// UUID implements typed.Sink.
func (w *writer) UUID(v uuid.UUID) {
	w.pre()
	w.buf = append(w.buf, '"')
	if w.uuidFmt == typewire.UUIDHex {
		w.buf = hex.AppendEncode(w.buf, v[:])
	} else {
		w.buf = append(w.buf, v.String()...)
	}
	w.buf = append(w.buf, '"')
}

// Decimal implements typed.Sink.
func (w *writer) Decimal(v schema.Decimal) {
	if w.pre() || w.decFmt == typewire.DecimalString {
		w.buf = appendString(w.buf, v.String())
		return
	}
	w.buf = append(w.buf, v.String()...)
}

// Ext implements typed.Sink.
func (w *writer) Ext(schema.Ext) {
	w.pre()
	w.fail("Encoding objects of type Ext is unsupported", schema.ErrUnsupported)
}

// Raw implements typed.Sink. The bytes are copied verbatim.
func (w *writer) Raw(v schema.Raw) {
	if w.pre() {
		w.badKey()
		return
	}
	if len(v) == 0 {
		w.fail("Raw values must not be empty", schema.ErrUnsupported)
		return
	}
	w.buf = append(w.buf, v...)
}

// BeginArray implements typed.Sink.
func (w *writer) BeginArray(int) {
	if w.pre() {
		w.badKey()
	}
	w.buf = append(w.buf, '[')
	w.stack = append(w.stack, wframe{})
}

// EndArray implements typed.Sink.
func (w *writer) EndArray() {
	w.stack = w.stack[:len(w.stack)-1]
	w.buf = append(w.buf, ']')
}

// BeginMap implements typed.Sink.
func (w *writer) BeginMap(int) {
	if w.pre() {
		w.badKey()
	}
	w.buf = append(w.buf, '{')
	w.stack = append(w.stack, wframe{obj: true, isKey: true})
}

// EndMap implements typed.Sink.
func (w *writer) EndMap() {
	w.stack = w.stack[:len(w.stack)-1]
	w.buf = append(w.buf, '}')
}

// ============================================================
// String escaping
// ============================================================

const hexDigits = "0123456789abcdef"

// appendString writes s quoted. Invalid UTF-8 is replaced with U+FFFD.
func appendString(b []byte, s string) []byte {
	b = append(b, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			b = append(b, s[start:i]...)
			switch c {
			case '"', '\\':
				b = append(b, '\\', c)
			case '\n':
				b = append(b, '\\', 'n')
			case '\r':
				b = append(b, '\\', 'r')
			case '\t':
				b = append(b, '\\', 't')
			case '\b':
				b = append(b, '\\', 'b')
			case '\f':
				b = append(b, '\\', 'f')
			default:
				b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b = append(b, s[start:i]...)
			b = append(b, "\ufffd"...)
			i += size
			start = i
			continue
		}
		i += size
	}
	b = append(b, s[start:]...)
	return append(b, '"')
}
