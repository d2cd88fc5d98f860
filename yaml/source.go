package yaml

import (
	"encoding/base64"
	"math/big"
	"strconv"
	"strings"
	"time"

	goyaml "gopkg.in/yaml.v3"

	"github.com/Neumenon/typewire/internal/typed"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Node source
// ============================================================

// source walks a parsed YAML node tree as a token stream. Scalars are
// typed by their resolved tag; aliases are followed and merge keys (<<)
// are expanded in place, explicit keys taking precedence.
type source struct {
	root    *goyaml.Node
	started bool
	stack   []nframe
}

type nframe struct {
	items []*goyaml.Node // sequence items, or alternating keys and values
	i     int
}

type nsnap struct {
	started bool
	stack   []nframe
}

func newSource(doc *goyaml.Node) *source {
	root := doc
	if root.Kind == goyaml.DocumentNode {
		if len(root.Content) == 0 {
			root = nil
		} else {
			root = root.Content[0]
		}
	}
	return &source{root: root}
}

// Pos implements typed.Source; node trees carry lines, not offsets.
func (s *source) Pos() int { return -1 }

// Save implements typed.Source.
func (s *source) Save() typed.Snapshot {
	return nsnap{started: s.started, stack: append([]nframe(nil), s.stack...)}
}

// Restore implements typed.Source.
func (s *source) Restore(sn typed.Snapshot) {
	v := sn.(nsnap)
	s.started = v.started
	s.stack = append(s.stack[:0], v.stack...)
}

// More implements typed.Source.
func (s *source) More() (bool, error) {
	if len(s.stack) == 0 {
		return false, &schema.DecodeError{Msg: "no open container", Pos: -1}
	}
	top := &s.stack[len(s.stack)-1]
	if top.i < len(top.items) {
		return true, nil
	}
	s.stack = s.stack[:len(s.stack)-1]
	return false, nil
}

func (s *source) next() (*goyaml.Node, error) {
	if len(s.stack) == 0 {
		if s.started {
			return nil, &schema.DecodeError{Msg: "no more values", Pos: -1}
		}
		s.started = true
		return s.root, nil
	}
	top := &s.stack[len(s.stack)-1]
	if top.i >= len(top.items) {
		return nil, &schema.DecodeError{Msg: "read past the end of a container", Pos: -1}
	}
	n := top.items[top.i]
	top.i++
	return n, nil
}

// Next implements typed.Source.
func (s *source) Next() (typed.Token, error) {
	n, err := s.next()
	if err != nil {
		return typed.Token{}, err
	}
	return s.token(n)
}

// Skip implements typed.Source.
func (s *source) Skip() error {
	depth := len(s.stack)
	if _, err := s.Next(); err != nil {
		return err
	}
	s.stack = s.stack[:depth]
	return nil
}

// Raw implements typed.Source. The value is re-emitted as YAML text.
func (s *source) Raw() ([]byte, error) {
	n, err := s.next()
	if err != nil {
		return nil, err
	}
	if n == nil {
		return []byte("null\n"), nil
	}
	b, err := goyaml.Marshal(n)
	if err != nil {
		return nil, &schema.DecodeError{Msg: "YAML value cannot be re-encoded: " + err.Error(), Pos: -1, Err: err}
	}
	return b, nil
}

func (s *source) token(n *goyaml.Node) (typed.Token, error) {
	n = resolveAlias(n)
	if n == nil {
		return typed.Token{Kind: typed.TokNull}, nil
	}
	switch n.Kind {
	case goyaml.SequenceNode:
		s.stack = append(s.stack, nframe{items: n.Content})
		return typed.Token{Kind: typed.TokArray, Len: len(n.Content)}, nil
	case goyaml.MappingNode:
		pairs := mappingPairs(n)
		s.stack = append(s.stack, nframe{items: pairs})
		return typed.Token{Kind: typed.TokMap, Len: len(pairs) / 2}, nil
	case goyaml.DocumentNode:
		if len(n.Content) == 0 {
			return typed.Token{Kind: typed.TokNull}, nil
		}
		return s.token(n.Content[0])
	}
	return scalarToken(n)
}

func resolveAlias(n *goyaml.Node) *goyaml.Node {
	for n != nil && n.Kind == goyaml.AliasNode {
		n = n.Alias
	}
	return n
}

// mappingPairs flattens a mapping into alternating keys and values with
// merge keys expanded. Merged entries never override explicit ones.
func mappingPairs(n *goyaml.Node) []*goyaml.Node {
	hasMerge := false
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].ShortTag() == "!!merge" {
			hasMerge = true
			break
		}
	}
	if !hasMerge {
		return n.Content
	}

	explicit := make(map[string]bool)
	out := make([]*goyaml.Node, 0, len(n.Content))
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if k.ShortTag() == "!!merge" {
			continue
		}
		explicit[k.ShortTag()+":"+k.Value] = true
		out = append(out, k, n.Content[i+1])
	}
	var merged []*goyaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].ShortTag() != "!!merge" {
			continue
		}
		v := resolveAlias(n.Content[i+1])
		sources := []*goyaml.Node{v}
		if v.Kind == goyaml.SequenceNode {
			sources = v.Content
		}
		for _, src := range sources {
			src = resolveAlias(src)
			if src.Kind != goyaml.MappingNode {
				continue
			}
			sub := mappingPairs(src)
			for j := 0; j+1 < len(sub); j += 2 {
				key := sub[j].ShortTag() + ":" + sub[j].Value
				if explicit[key] {
					continue
				}
				explicit[key] = true
				merged = append(merged, sub[j], sub[j+1])
			}
		}
	}
	return append(merged, out...)
}

// ============================================================
// Scalars
// ============================================================

func scalarToken(n *goyaml.Node) (typed.Token, error) {
	switch n.ShortTag() {
	case "!!null":
		return typed.Token{Kind: typed.TokNull}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return typed.Token{}, scalarError(n, err)
		}
		return typed.Token{Kind: typed.TokBool, Bool: b}, nil
	case "!!int":
		return intToken(n)
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return typed.Token{}, scalarError(n, err)
		}
		return typed.Token{Kind: typed.TokFloat, Float: f}, nil
	case "!!timestamp":
		// date-only values stay text so both date and str targets accept them
		if len(n.Value) == 10 {
			return typed.Token{Kind: typed.TokStr, Str: n.Value}, nil
		}
		if t, err := schema.ParseDateTime(n.Value); err == nil {
			return typed.Token{Kind: typed.TokDateTime, Time: t}, nil
		}
		var t time.Time
		if err := n.Decode(&t); err != nil {
			return typed.Token{}, scalarError(n, err)
		}
		return typed.Token{Kind: typed.TokDateTime, Time: t}, nil
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(stripSpace(n.Value))
		if err != nil {
			return typed.Token{}, scalarError(n, err)
		}
		return typed.Token{Kind: typed.TokBytes, Bytes: b}, nil
	}
	return typed.Token{Kind: typed.TokStr, Str: n.Value}, nil
}

func intToken(n *goyaml.Node) (typed.Token, error) {
	var i int64
	if err := n.Decode(&i); err == nil {
		return typed.Token{Kind: typed.TokInt, Int: i}, nil
	}
	var u uint64
	if err := n.Decode(&u); err == nil {
		return typed.Token{Kind: typed.TokUint, Uint: u}, nil
	}
	text := strings.ReplaceAll(n.Value, "_", "")
	bi, ok := new(big.Int).SetString(text, 0)
	if !ok {
		return typed.Token{}, scalarError(n, strconv.ErrSyntax)
	}
	f, _ := new(big.Float).SetInt(bi).Float64()
	return typed.Token{Kind: typed.TokBigInt, Float: f, Str: bi.String()}, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

func scalarError(n *goyaml.Node, err error) error {
	return &schema.DecodeError{
		Msg: "YAML is malformed: invalid " + strings.TrimPrefix(n.ShortTag(), "!!") + " value " + strconv.Quote(n.Value) + " at line " + strconv.Itoa(n.Line),
		Pos: -1,
		Err: err,
	}
}
