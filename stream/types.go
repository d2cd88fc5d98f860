// Package stream frames encoded messages for transport over byte streams.
//
// Each frame is a one line text header followed by the payload:
//
//	@frame{v=1 fmt=json len=N crc=XXXXXXXX [z=zstd] [sid=N seq=N] [sha256=HEX] [final=true]}\n
//	<payload bytes>\n
//
// The payload is a complete JSON or MessagePack message, optionally zstd
// compressed. len and crc describe the bytes on the wire; sha256 is the
// digest of the decompressed message. Frames of several logical streams
// may be interleaved, each identified by sid and ordered by seq.
package stream

import (
	"fmt"
)

// Version is the framing version written by Writer.
const Version uint8 = 1

// MaxPayloadSize is the default limit on a frame's wire payload (64 MiB).
const MaxPayloadSize = 64 * 1024 * 1024

// Format is the wire format of a frame's payload.
type Format uint8

const (
	FormatJSON Format = iota
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("format(%d)", f)
	}
}

// ParseFormat parses a header fmt value.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "json":
		return FormatJSON, true
	case "msgpack", "mp":
		return FormatMsgpack, true
	}
	return 0, false
}

// Compression is the payload compression of a frame.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressZstd
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", c)
	}
}

// ParseCompression parses a header z value.
func ParseCompression(s string) (Compression, bool) {
	switch s {
	case "none", "":
		return CompressNone, true
	case "zstd":
		return CompressZstd, true
	}
	return 0, false
}

// Frame is one decoded frame. Payload always holds the decompressed
// message.
type Frame struct {
	Version     uint8
	Format      Format
	Compression Compression
	Payload     []byte

	// SID and Seq are set when the frame belongs to a logical stream.
	SID    uint64
	Seq    uint64
	HasSeq bool

	CRC    *uint32 // of the wire payload
	Digest *Digest // of Payload
	Final  bool    // last frame of its stream
}

// HasCRC reports whether the header carried a checksum.
func (f *Frame) HasCRC() bool { return f.CRC != nil }

// HasDigest reports whether the header carried a payload digest.
func (f *Frame) HasDigest() bool { return f.Digest != nil }

// ============================================================
// Errors
// ============================================================

// ParseError reports a malformed frame header.
type ParseError struct {
	Reason string
	Offset int
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("frame: %s at offset %d", e.Reason, e.Offset)
	}
	return fmt.Sprintf("frame: %s", e.Reason)
}

// CRCMismatchError is returned when the wire payload fails its checksum.
type CRCMismatchError struct {
	Expected uint32
	Got      uint32
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("frame: CRC mismatch: expected %08x, got %08x", e.Expected, e.Got)
}

// DigestMismatchError is returned when a decompressed payload does not
// match its header digest.
type DigestMismatchError struct {
	Expected Digest
	Got      Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("frame: payload digest mismatch: expected %s, got %s", e.Expected, e.Got)
}

// SequenceError is returned by a Cursor for out of order frames.
type SequenceError struct {
	SID      uint64
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	if e.Got < e.Expected {
		return fmt.Sprintf("frame: stream %d: duplicate or stale seq %d, expected %d", e.SID, e.Got, e.Expected)
	}
	return fmt.Sprintf("frame: stream %d: sequence gap: expected %d, got %d", e.SID, e.Expected, e.Got)
}
