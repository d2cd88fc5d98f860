package stream

import (
	"time"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Status events
// ============================================================
//
// Event payloads give producers a common vocabulary for reporting job
// status over a frame stream. They form a tagged union keyed by the
// "event" field.

// Event is implemented by the status event types.
type Event interface{ isEvent() }

// Progress reports completion as a fraction in [0, 1].
type Progress struct {
	Pct float64 `tw:"pct" meta:"ge=0,le=1"`
	Msg string  `tw:"msg,optional"`
}

// Log carries a log line.
type Log struct {
	Level string    `tw:"level"`
	Msg   string    `tw:"msg"`
	TS    time.Time `tw:"ts"`
}

// Metric carries one numeric measurement.
type Metric struct {
	Name  string  `tw:"name"`
	Value float64 `tw:"value"`
	Unit  string  `tw:"unit,optional"`
}

// Artifact references an output produced by the job.
type Artifact struct {
	Mime string `tw:"mime"`
	Ref  string `tw:"ref"`
	Name string `tw:"name,optional"`
}

// Failure reports an error.
type Failure struct {
	Code string `tw:"code"`
	Msg  string `tw:"msg"`
}

func eventOptions(tag string) schema.StructOptions {
	return schema.StructOptions{Tag: tag, TagField: "event", OmitDefaults: true}
}

func (Progress) StructOptions() schema.StructOptions { return eventOptions("progress") }
func (Log) StructOptions() schema.StructOptions      { return eventOptions("log") }
func (Metric) StructOptions() schema.StructOptions   { return eventOptions("metric") }
func (Artifact) StructOptions() schema.StructOptions { return eventOptions("artifact") }
func (Failure) StructOptions() schema.StructOptions  { return eventOptions("error") }

func (Progress) isEvent() {}
func (Log) isEvent()      {}
func (Metric) isEvent()   {}
func (Artifact) isEvent() {}
func (Failure) isEvent()  {}

func init() {
	if err := schema.RegisterUnionOf[Event](Progress{}, Log{}, Metric{}, Artifact{}, Failure{}); err != nil {
		panic(err)
	}
}

// NewLog returns a Log stamped with the current UTC time.
func NewLog(level, msg string) Log {
	return Log{Level: level, Msg: msg, TS: time.Now().UTC()}
}

// Counter returns a count metric.
func Counter(name string, count int64) Metric {
	return Metric{Name: name, Value: float64(count), Unit: "count"}
}

// ReadEvent decodes the next frame as an Event.
func ReadEvent(r *Reader) (Event, error) {
	return Decode[Event](r)
}
