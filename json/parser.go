package json

import (
	"math"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Parser
// ============================================================

// parser is a pull parser over one JSON document. It implements
// typed.Source: containers push a frame on Next and pop it when More
// reaches the closing bracket.
type parser struct {
	data   []byte
	pos    int
	stack  []frame
	tokEnd int // end offset of the last scalar or key read
}

type frame struct {
	obj     bool
	started bool // an element or entry has been announced by More
	wantVal bool // object: the key was read, the value is next
}

type snapshot struct {
	pos   int
	stack []frame
}

func newParser(data []byte) *parser {
	return &parser{data: data, stack: make([]frame, 0, 8)}
}

func (p *parser) errorf(msg string) error {
	return &schema.DecodeError{Msg: "JSON is malformed: " + msg, Pos: p.pos}
}

func (p *parser) truncated() error {
	return &schema.DecodeError{Msg: "Input data was truncated", Pos: p.pos}
}

func (p *parser) skipWS() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
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
	if len(p.stack) == 0 {
		return false, p.errorf("no open container")
	}
	top := &p.stack[len(p.stack)-1]
	closer := byte(']')
	if top.obj {
		closer = '}'
	}
	p.skipWS()
	if p.pos >= len(p.data) {
		return false, p.truncated()
	}
	c := p.data[p.pos]
	if c == closer {
		if top.wantVal {
			return false, p.errorf("expected ':'")
		}
		p.pos++
		p.stack = p.stack[:len(p.stack)-1]
		return false, nil
	}
	if !top.started {
		top.started = true
		return true, nil
	}
	if c != ',' {
		if top.obj {
			return false, p.errorf("expected ',' or '}'")
		}
		return false, p.errorf("expected ',' or ']'")
	}
	p.pos++
	p.skipWS()
	if p.pos >= len(p.data) {
		return false, p.truncated()
	}
	if p.data[p.pos] == closer {
		return false, p.errorf("trailing comma")
	}
	return true, nil
}

// Next implements typed.Source. In an object it alternates between the
// key (a string token with IsKey set, the ':' consumed) and the value.
func (p *parser) Next() (typed.Token, error) {
	p.skipWS()
	if p.pos >= len(p.data) {
		return typed.Token{}, p.truncated()
	}
	if n := len(p.stack); n > 0 && p.stack[n-1].obj {
		top := &p.stack[n-1]
		if !top.wantVal {
			return p.key(top)
		}
		top.wantVal = false
	}
	return p.value()
}

func (p *parser) key(top *frame) (typed.Token, error) {
	if p.data[p.pos] != '"' {
		return typed.Token{}, p.errorf("object keys must be strings")
	}
	s, err := p.str()
	if err != nil {
		return typed.Token{}, err
	}
	p.tokEnd = p.pos
	p.skipWS()
	if p.pos >= len(p.data) {
		return typed.Token{}, p.truncated()
	}
	if p.data[p.pos] != ':' {
		return typed.Token{}, p.errorf("expected ':'")
	}
	p.pos++
	top.wantVal = true
	return typed.Token{Kind: typed.TokStr, Str: s, IsKey: true}, nil
}

func (p *parser) value() (typed.Token, error) {
	c := p.data[p.pos]
	var (
		tok typed.Token
		err error
	)
	switch c {
	case '{':
		p.pos++
		p.stack = append(p.stack, frame{obj: true})
		return typed.Token{Kind: typed.TokMap, Len: -1}, nil
	case '[':
		p.pos++
		p.stack = append(p.stack, frame{})
		return typed.Token{Kind: typed.TokArray, Len: -1}, nil
	case '"':
		var s string
		s, err = p.str()
		tok = typed.Token{Kind: typed.TokStr, Str: s}
	case 'n':
		err = p.literal("null")
		tok = typed.Token{Kind: typed.TokNull}
	case 't':
		err = p.literal("true")
		tok = typed.Token{Kind: typed.TokBool, Bool: true}
	case 'f':
		err = p.literal("false")
		tok = typed.Token{Kind: typed.TokBool}
	default:
		if c == '-' || (c >= '0' && c <= '9') {
			tok, err = p.number()
		} else {
			err = p.errorf("invalid character")
		}
	}
	p.tokEnd = p.pos
	return tok, err
}

func (p *parser) literal(word string) error {
	end := p.pos + len(word)
	if end > len(p.data) {
		if string(p.data[p.pos:]) == word[:len(p.data)-p.pos] {
			return p.truncated()
		}
		return p.errorf("invalid character")
	}
	if string(p.data[p.pos:end]) != word {
		return p.errorf("invalid character")
	}
	p.pos = end
	return nil
}

// ============================================================
// Numbers
// ============================================================

func (p *parser) number() (typed.Token, error) {
	start := p.pos
	isFloat := false
	if p.data[p.pos] == '-' {
		p.pos++
	}
	switch {
	case p.pos >= len(p.data):
		return typed.Token{}, p.truncated()
	case p.data[p.pos] == '0':
		p.pos++
	case p.data[p.pos] >= '1' && p.data[p.pos] <= '9':
		p.digits()
	default:
		return typed.Token{}, p.errorf("invalid number")
	}
	if p.pos < len(p.data) && p.data[p.pos] == '.' {
		isFloat = true
		p.pos++
		if p.digits() == 0 {
			return typed.Token{}, p.numberEnd()
		}
	}
	if p.pos < len(p.data) && (p.data[p.pos] == 'e' || p.data[p.pos] == 'E') {
		isFloat = true
		p.pos++
		if p.pos < len(p.data) && (p.data[p.pos] == '+' || p.data[p.pos] == '-') {
			p.pos++
		}
		if p.digits() == 0 {
			return typed.Token{}, p.numberEnd()
		}
	}
	text := string(p.data[start:p.pos])
	if !isFloat {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return typed.Token{Kind: typed.TokInt, Int: i, Str: text}, nil
		}
		if text[0] != '-' {
			if u, err := strconv.ParseUint(text, 10, 64); err == nil {
				return typed.Token{Kind: typed.TokUint, Uint: u, Str: text}, nil
			}
		}
		f, _ := strconv.ParseFloat(text, 64)
		if math.IsInf(f, 0) {
			return typed.Token{}, &schema.DecodeError{Msg: "Number out of range", Pos: start}
		}
		return typed.Token{Kind: typed.TokBigInt, Float: f, Str: text}, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !math.IsInf(f, 0) {
		return typed.Token{}, p.errorf("invalid number")
	}
	if math.IsInf(f, 0) {
		return typed.Token{}, &schema.DecodeError{Msg: "Number out of range", Pos: start}
	}
	return typed.Token{Kind: typed.TokFloat, Float: f, Str: text}, nil
}

func (p *parser) numberEnd() error {
	if p.pos >= len(p.data) {
		return p.truncated()
	}
	return p.errorf("invalid number")
}

func (p *parser) digits() int {
	n := 0
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
		n++
	}
	return n
}

// ============================================================
// Strings
// ============================================================

// str reads a string starting at the opening quote.
func (p *parser) str() (string, error) {
	p.pos++
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '"':
			raw := p.data[start:p.pos]
			if !utf8.Valid(raw) {
				return "", p.errorf("invalid utf-8")
			}
			p.pos++
			return string(raw), nil
		case c == '\\':
			return p.strEscaped(start)
		case c < 0x20:
			return "", p.errorf("invalid character in string")
		}
		p.pos++
	}
	return "", p.truncated()
}

func (p *parser) strEscaped(start int) (string, error) {
	buf := make([]byte, 0, p.pos-start+16)
	buf = append(buf, p.data[start:p.pos]...)
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '"':
			p.pos++
			if !utf8.Valid(buf) {
				return "", p.errorf("invalid utf-8")
			}
			return string(buf), nil
		case c < 0x20:
			return "", p.errorf("invalid character in string")
		case c != '\\':
			buf = append(buf, c)
			p.pos++
			continue
		}
		p.pos++
		if p.pos >= len(p.data) {
			return "", p.truncated()
		}
		esc := p.data[p.pos]
		p.pos++
		switch esc {
		case '"', '\\', '/':
			buf = append(buf, esc)
		case 'b':
			buf = append(buf, '\b')
		case 'f':
			buf = append(buf, '\f')
		case 'n':
			buf = append(buf, '\n')
		case 'r':
			buf = append(buf, '\r')
		case 't':
			buf = append(buf, '\t')
		case 'u':
			r, err := p.hex4()
			if err != nil {
				return "", err
			}
			if utf16.IsSurrogate(r) {
				if r >= 0xDC00 {
					return "", p.errorf("invalid utf-16 surrogate pair")
				}
				if p.pos+1 >= len(p.data) {
					return "", p.truncated()
				}
				if p.data[p.pos] != '\\' || p.data[p.pos+1] != 'u' {
					return "", p.errorf("invalid utf-16 surrogate pair")
				}
				p.pos += 2
				lo, err := p.hex4()
				if err != nil {
					return "", err
				}
				r = utf16.DecodeRune(r, lo)
				if r == utf8.RuneError {
					return "", p.errorf("invalid utf-16 surrogate pair")
				}
			}
			buf = utf8.AppendRune(buf, r)
		default:
			p.pos--
			return "", p.errorf("invalid escape character in string")
		}
	}
	return "", p.truncated()
}

func (p *parser) hex4() (rune, error) {
	if p.pos+4 > len(p.data) {
		return 0, p.truncated()
	}
	var r rune
	for _, c := range p.data[p.pos : p.pos+4] {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			r |= rune(c - 'A' + 10)
		default:
			return 0, p.errorf("invalid character in unicode escape")
		}
	}
	p.pos += 4
	return r, nil
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
		if !more {
			continue
		}
		obj := p.stack[len(p.stack)-1].obj
		if _, err := p.Next(); err != nil {
			return err
		}
		if obj {
			if _, err := p.Next(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Raw implements typed.Source.
func (p *parser) Raw() ([]byte, error) {
	p.skipWS()
	if n := len(p.stack); n > 0 && p.stack[n-1].obj && !p.stack[n-1].wantVal {
		return nil, p.errorf("object keys must be strings")
	}
	start := p.pos
	if err := p.Skip(); err != nil {
		return nil, err
	}
	return p.data[start:p.pos], nil
}

// finish checks that only whitespace follows the document.
func (p *parser) finish() error {
	p.skipWS()
	if p.pos < len(p.data) {
		return p.errorf("trailing characters")
	}
	return nil
}
