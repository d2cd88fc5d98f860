package msgpack

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Writer
// ============================================================

// writer is the MessagePack typed.Sink. Every value is written in its
// smallest encoding.
type writer struct {
	buf     []byte
	uuidFmt typewire.UUIDFormat
	decFmt  typewire.DecimalFormat
}

func (w *writer) reset(buf []byte) { w.buf = buf }

// Err implements typed.Sink; MessagePack can represent every value.
func (w *writer) Err() error { return nil }

// Null implements typed.Sink.
func (w *writer) Null() { w.buf = append(w.buf, 0xc0) }

// Bool implements typed.Sink.
func (w *writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 0xc3)
	} else {
		w.buf = append(w.buf, 0xc2)
	}
}

// Int implements typed.Sink.
func (w *writer) Int(v int64) {
	switch {
	case v >= 0:
		w.Uint(uint64(v))
	case v >= -32:
		w.buf = append(w.buf, byte(int8(v)))
	case v >= math.MinInt8:
		w.buf = append(w.buf, 0xd0, byte(int8(v)))
	case v >= math.MinInt16:
		w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xd1), uint16(int16(v)))
	case v >= math.MinInt32:
		w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xd2), uint32(int32(v)))
	default:
		w.buf = binary.BigEndian.AppendUint64(append(w.buf, 0xd3), uint64(v))
	}
}

// Uint implements typed.Sink.
func (w *writer) Uint(v uint64) {
	switch {
	case v <= 0x7f:
		w.buf = append(w.buf, byte(v))
	case v <= math.MaxUint8:
		w.buf = append(w.buf, 0xcc, byte(v))
	case v <= math.MaxUint16:
		w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xcd), uint16(v))
	case v <= math.MaxUint32:
		w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xce), uint32(v))
	default:
		w.buf = binary.BigEndian.AppendUint64(append(w.buf, 0xcf), v)
	}
}

// Float implements typed.Sink. Floats are always written as float64.
func (w *writer) Float(v float64) {
	w.buf = binary.BigEndian.AppendUint64(append(w.buf, 0xcb), math.Float64bits(v))
}

// Str implements typed.Sink.
func (w *writer) Str(v string) {
	n := len(v)
	switch {
	case n < 32:
		w.buf = append(w.buf, 0xa0|byte(n))
	case n <= math.MaxUint8:
		w.buf = append(w.buf, 0xd9, byte(n))
	case n <= math.MaxUint16:
		w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xda), uint16(n))
	default:
		w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xdb), uint32(n))
	}
	w.buf = append(w.buf, v...)
}

// Bytes implements typed.Sink.
func (w *writer) Bytes(v []byte) {
	n := len(v)
	switch {
	case n <= math.MaxUint8:
		w.buf = append(w.buf, 0xc4, byte(n))
	case n <= math.MaxUint16:
		w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xc5), uint16(n))
	default:
		w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xc6), uint32(n))
	}
	w.buf = append(w.buf, v...)
}

// DateTime implements typed.Sink. Aware datetimes use the timestamp
// extension; naive ones have no instant and are written as strings.
func (w *writer) DateTime(v time.Time) {
	if schema.IsNaive(v) {
		w.Str(schema.FormatDateTime(v))
		return
	}
	w.buf = appendTimestamp(w.buf, v)
}

// Date implements typed.Sink.
func (w *writer) Date(v schema.Date) { w.Str(v.String()) }

// Time implements typed.Sink.
func (w *writer) Time(v schema.TimeOfDay) { w.Str(v.String()) }

// Duration implements typed.Sink.
func (w *writer) Duration(v time.Duration) { w.Str(schema.FormatDuration(v)) }

// UUID implements typed.Sink.
func (w *writer) UUID(v uuid.UUID) {
	switch w.uuidFmt {
	case typewire.UUIDBytes:
		w.Bytes(v[:])
	case typewire.UUIDHex:
		w.Str(hex.EncodeToString(v[:]))
	default:
		w.Str(v.String())
	}
}

// Decimal implements typed.Sink.
func (w *writer) Decimal(v schema.Decimal) {
	if w.decFmt == typewire.DecimalNumber {
		w.Float(v.Float64())
		return
	}
	w.Str(v.String())
}

// Ext implements typed.Sink.
func (w *writer) Ext(v schema.Ext) {
	n := len(v.Data)
	switch n {
	case 1:
		w.buf = append(w.buf, 0xd4)
	case 2:
		w.buf = append(w.buf, 0xd5)
	case 4:
		w.buf = append(w.buf, 0xd6)
	case 8:
		w.buf = append(w.buf, 0xd7)
	case 16:
		w.buf = append(w.buf, 0xd8)
	default:
		switch {
		case n <= math.MaxUint8:
			w.buf = append(w.buf, 0xc7, byte(n))
		case n <= math.MaxUint16:
			w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xc8), uint16(n))
		default:
			w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xc9), uint32(n))
		}
	}
	w.buf = append(w.buf, byte(v.Code))
	w.buf = append(w.buf, v.Data...)
}

// Raw implements typed.Sink.
func (w *writer) Raw(v schema.Raw) { w.buf = append(w.buf, v...) }

// BeginArray implements typed.Sink.
func (w *writer) BeginArray(n int) {
	switch {
	case n < 16:
		w.buf = append(w.buf, 0x90|byte(n))
	case n <= math.MaxUint16:
		w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xdc), uint16(n))
	default:
		w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xdd), uint32(n))
	}
}

// EndArray implements typed.Sink.
func (w *writer) EndArray() {}

// BeginMap implements typed.Sink.
func (w *writer) BeginMap(n int) {
	switch {
	case n < 16:
		w.buf = append(w.buf, 0x80|byte(n))
	case n <= math.MaxUint16:
		w.buf = binary.BigEndian.AppendUint16(append(w.buf, 0xde), uint16(n))
	default:
		w.buf = binary.BigEndian.AppendUint32(append(w.buf, 0xdf), uint32(n))
	}
}

// EndMap implements typed.Sink.
func (w *writer) EndMap() {}
