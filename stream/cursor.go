package stream

import (
	"sort"
	"strconv"
	"sync"
)

// Cursor tracks per-stream sequencing of interleaved frames. It rejects
// duplicates, gaps and frames arriving after a stream's final frame.
type Cursor struct {
	mu      sync.RWMutex
	streams map[uint64]*StreamState
}

// StreamState is the progress of one logical stream.
type StreamState struct {
	SID     uint64
	LastSeq uint64
	Frames  int
	Last    Digest // digest of the last payload
	Final   bool
}

// NewCursor returns an empty Cursor.
func NewCursor() *Cursor {
	return &Cursor{streams: make(map[uint64]*StreamState)}
}

// Process records f, which must be the next frame of its stream.
func (c *Cursor) Process(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.streams[f.SID]
	if !ok {
		st = &StreamState{SID: f.SID}
		c.streams[f.SID] = st
	}
	if st.Final {
		return &ParseError{Reason: "frame after final frame of stream " + strconv.FormatUint(f.SID, 10), Offset: -1}
	}
	if f.Seq != st.LastSeq+1 {
		return &SequenceError{SID: f.SID, Expected: st.LastSeq + 1, Got: f.Seq}
	}
	st.LastSeq = f.Seq
	st.Frames++
	if f.Digest != nil {
		st.Last = *f.Digest
	} else {
		st.Last = PayloadDigest(f.Payload)
	}
	st.Final = f.Final
	return nil
}

// State returns a copy of the state of stream sid.
func (c *Cursor) State(sid uint64) (StreamState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.streams[sid]
	if !ok {
		return StreamState{}, false
	}
	return *st, true
}

// Open lists the streams that have not seen their final frame, in
// ascending sid order.
func (c *Cursor) Open() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []uint64
	for sid, st := range c.streams {
		if !st.Final {
			out = append(out, sid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Forget drops the state of stream sid.
func (c *Cursor) Forget(sid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, sid)
}
