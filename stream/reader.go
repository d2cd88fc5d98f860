package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/json"
	"github.com/Neumenon/typewire/msgpack"
)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxPayload bounds wire and decompressed payload sizes (default
// MaxPayloadSize).
func WithMaxPayload(limit int) ReaderOption {
	return func(r *Reader) { r.maxPayload = limit }
}

// WithoutCRCVerification skips checksum verification.
func WithoutCRCVerification() ReaderOption {
	return func(r *Reader) { r.verifyCRC = false }
}

// WithCursor checks every frame that carries a sequence number against c.
func WithCursor(c *Cursor) ReaderOption {
	return func(r *Reader) { r.cursor = c }
}

// WithStrict toggles strict coercion when decoding payloads.
func WithStrict(strict bool) ReaderOption {
	return func(r *Reader) { r.strict = strict }
}

// WithDecodeHook sets the hook for custom types when decoding payloads.
func WithDecodeHook(h typewire.DecHook) ReaderOption {
	return func(r *Reader) { r.decHook = h }
}

// Reader reads frames from an io.Reader.
type Reader struct {
	r          *bufio.Reader
	maxPayload int
	verifyCRC  bool
	cursor     *Cursor

	strict  bool
	decHook typewire.DecHook
}

// NewReader returns a Reader. CRCs are verified by default.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{
		r:          bufio.NewReader(r),
		maxPayload: MaxPayloadSize,
		verifyCRC:  true,
		strict:     true,
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Next returns the next frame with its payload decompressed. It returns
// io.EOF when the input ends between frames.
func (r *Reader) Next() (*Frame, error) {
	line, err := r.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read header")
	}

	frame, wireLen, err := parseHeader(line)
	if err != nil {
		return nil, err
	}
	if wireLen > r.maxPayload {
		return nil, &ParseError{Reason: "payload too large: " + strconv.Itoa(wireLen) + " > " + strconv.Itoa(r.maxPayload), Offset: -1}
	}

	var wire []byte
	if wireLen > 0 {
		wire = make([]byte, wireLen)
		if _, err := io.ReadFull(r.r, wire); err != nil {
			return nil, errors.Wrap(err, "read payload")
		}
	}

	// trailing newline, optional at EOF
	if b, err := r.r.ReadByte(); err == nil && b != '\n' {
		_ = r.r.UnreadByte()
	}

	if r.verifyCRC {
		if err := checkCRC(frame, wire); err != nil {
			return nil, err
		}
	}

	frame.Payload, err = decompress(frame.Compression, wire, r.maxPayload)
	if err != nil {
		return nil, err
	}
	if frame.Digest != nil {
		if got := PayloadDigest(frame.Payload); got != *frame.Digest {
			return nil, &DigestMismatchError{Expected: *frame.Digest, Got: got}
		}
	}
	if r.cursor != nil && frame.HasSeq {
		if err := r.cursor.Process(frame); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// ReadAll reads frames until EOF.
func (r *Reader) ReadAll() ([]*Frame, error) {
	var frames []*Frame
	for {
		frame, err := r.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

// Decode reads the next frame and decodes its payload into a T with the
// decoder matching the frame's format.
func Decode[T any](r *Reader) (T, error) {
	var zero T
	f, err := r.Next()
	if err != nil {
		return zero, err
	}
	return DecodeFrame[T](f, WithStrict(r.strict), WithDecodeHook(r.decHook))
}

// DecodeFrame decodes an already read frame.
func DecodeFrame[T any](f *Frame, opts ...ReaderOption) (T, error) {
	cfg := Reader{strict: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch f.Format {
	case FormatJSON:
		return json.Decode[T](f.Payload, json.WithStrict(cfg.strict), json.WithDecHook(cfg.decHook))
	case FormatMsgpack:
		return msgpack.Decode[T](f.Payload, msgpack.WithStrict(cfg.strict), msgpack.WithDecHook(cfg.decHook))
	}
	var zero T
	return zero, errors.Errorf("unsupported format %s", f.Format)
}

// ============================================================
// Header parsing
// ============================================================

func parseHeader(line string) (*Frame, int, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "@frame{") {
		return nil, 0, &ParseError{Reason: "expected @frame{", Offset: 0}
	}
	end := strings.LastIndexByte(line, '}')
	if end < 0 {
		return nil, 0, &ParseError{Reason: "missing closing }", Offset: len(line)}
	}

	frame := &Frame{Version: 1}
	wireLen := -1
	for _, pair := range strings.Fields(line[len("@frame{"):end]) {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		key, val := pair[:eq], pair[eq+1:]
		switch key {
		case "v":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil || v != uint64(Version) {
				return nil, 0, &ParseError{Reason: "unsupported version " + val, Offset: -1}
			}
			frame.Version = uint8(v)
		case "fmt":
			f, ok := ParseFormat(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid fmt: " + val, Offset: -1}
			}
			frame.Format = f
		case "z":
			c, ok := ParseCompression(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid z: " + val, Offset: -1}
			}
			frame.Compression = c
		case "len":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid len", Offset: -1}
			}
			wireLen = int(n)
		case "crc":
			crc, ok := parseCRC(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid crc: " + val, Offset: -1}
			}
			frame.CRC = &crc
		case "sid":
			sid, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid sid", Offset: -1}
			}
			frame.SID = sid
		case "seq":
			seq, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid seq", Offset: -1}
			}
			frame.Seq, frame.HasSeq = seq, true
		case "sha256":
			d, ok := ParseDigest(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid sha256: " + val, Offset: -1}
			}
			frame.Digest = &d
		case "final":
			frame.Final = val == "true" || val == "1"
		}
	}
	if wireLen < 0 {
		return nil, 0, &ParseError{Reason: "missing len", Offset: -1}
	}
	return frame, wireLen, nil
}
