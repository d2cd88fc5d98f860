package msgpack

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Parser
// ============================================================

// parser is a pull parser over one MessagePack message. Containers carry
// their length, so a frame only counts the items still to be read; a map
// of n entries holds 2n items.
type parser struct {
	data  []byte
	pos   int
	stack []frame
}

type frame struct {
	remaining int
}

type snapshot struct {
	pos   int
	stack []frame
}

func newParser(data []byte) *parser {
	return &parser{data: data, stack: make([]frame, 0, 8)}
}

func (p *parser) malformed(format string, args ...any) error {
	return &schema.DecodeError{Msg: "MessagePack data is malformed: " + fmt.Sprintf(format, args...), Pos: p.pos}
}

func (p *parser) truncated() error {
	return &schema.DecodeError{Msg: "Input data was truncated", Pos: p.pos}
}

// Pos implements typed.Source.
func (p *parser) Pos() int { return p.pos }

// Save implements typed.Source.
func (p *parser) Save() typed.Snapshot {
	return snapshot{pos: p.pos, stack: append([]frame(nil), p.stack...)}
}

// Restore implements typed.Source.
func (p *parser) Restore(s typed.Snapshot) {
	sn := s.(snapshot)
	p.pos = sn.pos
	p.stack = append(p.stack[:0], sn.stack...)
}

// More implements typed.Source.
func (p *parser) More() (bool, error) {
	n := len(p.stack)
	if n == 0 {
		return false, p.malformed("no open container")
	}
	if p.stack[n-1].remaining > 0 {
		return true, nil
	}
	p.stack = p.stack[:n-1]
	return false, nil
}

func (p *parser) take(n int) ([]byte, error) {
	if n < 0 || p.pos+n > len(p.data) || p.pos+n < p.pos {
		return nil, p.truncated()
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

func (p *parser) u8() (int, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return int(b[0]), nil
}

func (p *parser) u16() (int, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (p *parser) u32() (int, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(b)), nil
}

// Next implements typed.Source.
func (p *parser) Next() (typed.Token, error) {
	if n := len(p.stack); n > 0 {
		if p.stack[n-1].remaining == 0 {
			return typed.Token{}, p.malformed("read past the end of a container")
		}
		p.stack[n-1].remaining--
	}
	if p.pos >= len(p.data) {
		return typed.Token{}, p.truncated()
	}
	op := p.data[p.pos]
	p.pos++

	switch {
	case op <= 0x7f:
		return typed.Token{Kind: typed.TokInt, Int: int64(op)}, nil
	case op >= 0xe0:
		return typed.Token{Kind: typed.TokInt, Int: int64(int8(op))}, nil
	case op&0xf0 == 0x80:
		return p.container(typed.TokMap, int(op&0x0f))
	case op&0xf0 == 0x90:
		return p.container(typed.TokArray, int(op&0x0f))
	case op&0xe0 == 0xa0:
		return p.str(int(op & 0x1f))
	}

	switch op {
	case 0xc0:
		return typed.Token{Kind: typed.TokNull}, nil
	case 0xc2:
		return typed.Token{Kind: typed.TokBool}, nil
	case 0xc3:
		return typed.Token{Kind: typed.TokBool, Bool: true}, nil
	case 0xc4, 0xc5, 0xc6:
		n, err := p.length(op - 0xc4)
		if err != nil {
			return typed.Token{}, err
		}
		b, err := p.take(n)
		if err != nil {
			return typed.Token{}, err
		}
		return typed.Token{Kind: typed.TokBytes, Bytes: b}, nil
	case 0xc7, 0xc8, 0xc9:
		n, err := p.length(op - 0xc7)
		if err != nil {
			return typed.Token{}, err
		}
		return p.ext(n)
	case 0xca:
		b, err := p.take(4)
		if err != nil {
			return typed.Token{}, err
		}
		return typed.Token{Kind: typed.TokFloat, Float: float64(math.Float32frombits(binary.BigEndian.Uint32(b)))}, nil
	case 0xcb:
		b, err := p.take(8)
		if err != nil {
			return typed.Token{}, err
		}
		return typed.Token{Kind: typed.TokFloat, Float: math.Float64frombits(binary.BigEndian.Uint64(b))}, nil
	case 0xcc, 0xcd, 0xce, 0xcf:
		b, err := p.take(1 << (op - 0xcc))
		if err != nil {
			return typed.Token{}, err
		}
		u := beUint(b)
		if u > math.MaxInt64 {
			return typed.Token{Kind: typed.TokUint, Uint: u}, nil
		}
		return typed.Token{Kind: typed.TokInt, Int: int64(u)}, nil
	case 0xd0, 0xd1, 0xd2, 0xd3:
		b, err := p.take(1 << (op - 0xd0))
		if err != nil {
			return typed.Token{}, err
		}
		return typed.Token{Kind: typed.TokInt, Int: beInt(b)}, nil
	case 0xd4, 0xd5, 0xd6, 0xd7, 0xd8:
		return p.ext(1 << (op - 0xd4))
	case 0xd9, 0xda, 0xdb:
		n, err := p.length(op - 0xd9)
		if err != nil {
			return typed.Token{}, err
		}
		return p.str(n)
	case 0xdc, 0xdd:
		n, err := p.length(op - 0xdc + 1)
		if err != nil {
			return typed.Token{}, err
		}
		return p.container(typed.TokArray, n)
	case 0xde, 0xdf:
		n, err := p.length(op - 0xde + 1)
		if err != nil {
			return typed.Token{}, err
		}
		return p.container(typed.TokMap, n)
	}
	p.pos--
	return typed.Token{}, p.malformed("invalid opcode 0x%02x", op)
}

// length reads a 1, 2 or 4 byte length for width 0, 1 or 2.
func (p *parser) length(width byte) (int, error) {
	switch width {
	case 0:
		return p.u8()
	case 1:
		return p.u16()
	}
	return p.u32()
}

func (p *parser) container(kind typed.TokenKind, n int) (typed.Token, error) {
	items := n
	if kind == typed.TokMap {
		items = 2 * n
	}
	// every item takes at least one byte
	if items > len(p.data)-p.pos {
		return typed.Token{}, p.truncated()
	}
	p.stack = append(p.stack, frame{remaining: items})
	return typed.Token{Kind: kind, Len: n}, nil
}

func (p *parser) str(n int) (typed.Token, error) {
	b, err := p.take(n)
	if err != nil {
		return typed.Token{}, err
	}
	if !utf8.Valid(b) {
		p.pos -= n
		return typed.Token{}, p.malformed("invalid utf-8")
	}
	return typed.Token{Kind: typed.TokStr, Str: string(b)}, nil
}

func (p *parser) ext(n int) (typed.Token, error) {
	code, err := p.u8()
	if err != nil {
		return typed.Token{}, err
	}
	data, err := p.take(n)
	if err != nil {
		return typed.Token{}, err
	}
	if int8(code) == timestampCode {
		t, ok := decodeTimestamp(data)
		if !ok {
			return typed.Token{}, &schema.DecodeError{Msg: "Invalid MessagePack timestamp", Pos: p.pos - n}
		}
		return typed.Token{Kind: typed.TokDateTime, Time: t}, nil
	}
	return typed.Token{Kind: typed.TokExt, Ext: schema.Ext{Code: int8(code), Data: data}}, nil
}

func beUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	}
	return binary.BigEndian.Uint64(b)
}

func beInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	}
	return int64(binary.BigEndian.Uint64(b))
}

// ============================================================
// Timestamps
// ============================================================

const timestampCode int8 = -1

func decodeTimestamp(b []byte) (time.Time, bool) {
	var sec int64
	var nsec uint32
	switch len(b) {
	case 4:
		sec = int64(binary.BigEndian.Uint32(b))
	case 8:
		v := binary.BigEndian.Uint64(b)
		nsec = uint32(v >> 34)
		sec = int64(v & (1<<34 - 1))
	case 12:
		nsec = binary.BigEndian.Uint32(b)
		sec = int64(binary.BigEndian.Uint64(b[4:]))
	default:
		return time.Time{}, false
	}
	if nsec >= 1e9 {
		return time.Time{}, false
	}
	return time.Unix(sec, int64(nsec)).UTC(), true
}

func appendTimestamp(b []byte, t time.Time) []byte {
	sec := t.Unix()
	nsec := uint64(t.Nanosecond())
	if sec >= 0 && sec>>34 == 0 {
		v := nsec<<34 | uint64(sec)
		if v&0xffffffff00000000 == 0 {
			b = append(b, 0xd6, 0xff)
			return binary.BigEndian.AppendUint32(b, uint32(v))
		}
		b = append(b, 0xd7, 0xff)
		return binary.BigEndian.AppendUint64(b, v)
	}
	b = append(b, 0xc7, 12, 0xff)
	b = binary.BigEndian.AppendUint32(b, uint32(nsec))
	return binary.BigEndian.AppendUint64(b, uint64(sec))
}

// ============================================================
// Skip / Raw
// ============================================================

// Skip implements typed.Source without recursion.
func (p *parser) Skip() error {
	base := len(p.stack)
	if _, err := p.Next(); err != nil {
		return err
	}
	for len(p.stack) > base {
		more, err := p.More()
		if err != nil {
			return err
		}
		if more {
			if _, err := p.Next(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Raw implements typed.Source.
func (p *parser) Raw() ([]byte, error) {
	start := p.pos
	if err := p.Skip(); err != nil {
		return nil, err
	}
	return p.data[start:p.pos], nil
}

func (p *parser) finish() error {
	if p.pos < len(p.data) {
		return p.malformed("trailing characters")
	}
	return nil
}
