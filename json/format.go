package json

import (
	"bytes"

	"github.com/Neumenon/typewire/internal/typed"
)

// Format reformats a JSON document. A positive indent pretty-prints with
// that many spaces per level, 0 keeps one line with a space after each
// separator, and a negative indent removes all insignificant whitespace.
// Scalars are copied byte for byte.
func Format(data []byte, indent int) ([]byte, error) {
	p := newParser(data)
	f := &formatter{p: p, indent: indent, out: make([]byte, 0, len(data))}
	if err := f.value(0); err != nil {
		return nil, err
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return f.out, nil
}

type formatter struct {
	p      *parser
	indent int
	out    []byte
}

func (f *formatter) newline(depth int) {
	if f.indent <= 0 {
		return
	}
	f.out = append(f.out, '\n')
	f.out = append(f.out, bytes.Repeat([]byte{' '}, depth*f.indent)...)
}

func (f *formatter) sep(c byte) {
	f.out = append(f.out, c)
	if f.indent == 0 || (f.indent > 0 && c == ':') {
		f.out = append(f.out, ' ')
	}
}

func (f *formatter) value(depth int) error {
	f.p.skipWS()
	start := f.p.pos
	tok, err := f.p.Next()
	if err != nil {
		return err
	}
	switch tok.Kind {
	case typed.TokArray, typed.TokMap:
		return f.container(depth, tok.Kind == typed.TokMap)
	}
	f.out = append(f.out, f.p.data[start:f.p.tokEnd]...)
	return nil
}

func (f *formatter) container(depth int, obj bool) error {
	open, closer := byte('['), byte(']')
	if obj {
		open, closer = '{', '}'
	}
	f.out = append(f.out, open)
	n := 0
	for {
		more, err := f.p.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if n > 0 {
			f.sep(',')
		}
		f.newline(depth + 1)
		if obj {
			f.p.skipWS()
			start := f.p.pos
			if _, err := f.p.Next(); err != nil {
				return err
			}
			f.out = append(f.out, f.p.data[start:f.p.tokEnd]...)
			f.sep(':')
		}
		if err := f.value(depth + 1); err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		f.newline(depth)
	}
	f.out = append(f.out, closer)
	return nil
}
