package yaml

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goyaml "gopkg.in/yaml.v3"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Node sink
// ============================================================

// sink builds a YAML node tree from encoder calls, keeping struct field
// order. Datetimes and dates become timestamps, bytes become !!binary.
type sink struct {
	root  *goyaml.Node
	stack []*goyaml.Node
	err   error
}

// Err implements typed.Sink.
func (s *sink) Err() error { return s.err }

func (s *sink) fail(msg string) {
	if s.err == nil {
		s.err = &schema.EncodeError{Msg: msg, Err: schema.ErrUnsupported}
	}
}

func (s *sink) put(n *goyaml.Node) {
	if len(s.stack) == 0 {
		s.root = n
		return
	}
	top := s.stack[len(s.stack)-1]
	top.Content = append(top.Content, n)
}

func (s *sink) scalar(tag, value string) {
	s.put(&goyaml.Node{Kind: goyaml.ScalarNode, Tag: tag, Value: value})
}

// Null implements typed.Sink.
func (s *sink) Null() { s.scalar("!!null", "null") }

// Bool implements typed.Sink.
func (s *sink) Bool(v bool) { s.scalar("!!bool", strconv.FormatBool(v)) }

// Int implements typed.Sink.
func (s *sink) Int(v int64) { s.scalar("!!int", strconv.FormatInt(v, 10)) }

// Uint implements typed.Sink.
func (s *sink) Uint(v uint64) { s.scalar("!!int", strconv.FormatUint(v, 10)) }

// Float implements typed.Sink.
func (s *sink) Float(v float64) { s.scalar("!!float", formatFloat(v)) }

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return ".nan"
	case math.IsInf(v, 1):
		return ".inf"
	case math.IsInf(v, -1):
		return "-.inf"
	}
	text := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(text, ".e") {
		text += ".0"
	}
	return text
}

// Str implements typed.Sink.
func (s *sink) Str(v string) { s.scalar("!!str", v) }

// Bytes implements typed.Sink.
func (s *sink) Bytes(v []byte) { s.scalar("!!binary", base64.StdEncoding.EncodeToString(v)) }

// DateTime implements typed.Sink. Naive values use the space separated
// form, the only zone-less form YAML resolves as a timestamp.
func (s *sink) DateTime(v time.Time) {
	text := schema.FormatDateTime(v)
	if schema.IsNaive(v) {
		text = strings.Replace(text, "T", " ", 1)
	}
	s.scalar("!!timestamp", text)
}

// Date implements typed.Sink.
func (s *sink) Date(v schema.Date) { s.scalar("!!timestamp", v.String()) }

// Time implements typed.Sink.
func (s *sink) Time(v schema.TimeOfDay) { s.scalar("!!str", v.String()) }

// Duration implements typed.Sink.
func (s *sink) Duration(v time.Duration) { s.scalar("!!str", schema.FormatDuration(v)) }

// UUID implements typed.Sink.
func (s *sink) UUID(v uuid.UUID) { s.scalar("!!str", v.String()) }

// Decimal implements typed.Sink.
func (s *sink) Decimal(v schema.Decimal) { s.scalar("!!str", v.String()) }

// Ext implements typed.Sink.
func (s *sink) Ext(schema.Ext) {
	s.fail("Encoding objects of type Ext is unsupported")
	s.Null()
}

// Raw implements typed.Sink. JSON and YAML texts are spliced in as nodes.
func (s *sink) Raw(v schema.Raw) {
	var doc goyaml.Node
	if err := goyaml.Unmarshal(v, &doc); err != nil || len(doc.Content) == 0 {
		s.fail("Raw value is not valid YAML")
		s.Null()
		return
	}
	s.put(doc.Content[0])
}

// BeginArray implements typed.Sink.
func (s *sink) BeginArray(n int) {
	node := &goyaml.Node{Kind: goyaml.SequenceNode, Tag: "!!seq", Content: make([]*goyaml.Node, 0, max(n, 0))}
	s.put(node)
	s.stack = append(s.stack, node)
}

// EndArray implements typed.Sink.
func (s *sink) EndArray() { s.stack = s.stack[:len(s.stack)-1] }

// BeginMap implements typed.Sink.
func (s *sink) BeginMap(n int) {
	node := &goyaml.Node{Kind: goyaml.MappingNode, Tag: "!!map", Content: make([]*goyaml.Node, 0, 2*max(n, 0))}
	s.put(node)
	s.stack = append(s.stack, node)
}

// EndMap implements typed.Sink.
func (s *sink) EndMap() { s.stack = s.stack[:len(s.stack)-1] }
