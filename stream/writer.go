package stream

import (
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/json"
	"github.com/Neumenon/typewire/msgpack"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithFormat selects the payload wire format (default JSON).
func WithFormat(f Format) WriterOption {
	return func(w *Writer) { w.format = f }
}

// WithCompression selects payload compression.
func WithCompression(c Compression) WriterOption {
	return func(w *Writer) { w.compression = c }
}

// WithStream tags every frame with sid and a sequence number starting at 1.
func WithStream(sid uint64) WriterOption {
	return func(w *Writer) { w.sid, w.stream = sid, true }
}

// WithDigest adds the payload digest to every header.
func WithDigest() WriterOption {
	return func(w *Writer) { w.digest = true }
}

// WithEncodeOrder sets the key ordering of encoded payloads.
func WithEncodeOrder(order typewire.Order) WriterOption {
	return func(w *Writer) { w.order = order }
}

// WithEncodeHook sets the hook for values of unsupported types.
func WithEncodeHook(h typewire.EncHook) WriterOption {
	return func(w *Writer) { w.encHook = h }
}

// Writer encodes values and writes them as frames. A Writer is safe for
// concurrent use; frames are written whole.
type Writer struct {
	w           io.Writer
	format      Format
	compression Compression
	digest      bool
	order       typewire.Order
	encHook     typewire.EncHook

	stream bool
	sid    uint64

	mu   sync.Mutex
	seq  uint64
	json *json.Encoder
	mp   *msgpack.Encoder
}

// NewWriter returns a Writer writing frames to w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	wr := &Writer{w: w}
	for _, opt := range opts {
		opt(wr)
	}
	wr.json = json.NewEncoder(json.WithOrder(wr.order), json.WithEncHook(wr.encHook))
	wr.mp = msgpack.NewEncoder(msgpack.WithOrder(wr.order), msgpack.WithEncHook(wr.encHook))
	return wr
}

// Write encodes v in the writer's format and writes it as one frame.
func (w *Writer) Write(v any) error {
	return w.write(v, false)
}

// Close writes v as the final frame of the writer's stream.
func (w *Writer) Close(v any) error {
	return w.write(v, true)
}

func (w *Writer) write(v any, final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var payload []byte
	var err error
	switch w.format {
	case FormatJSON:
		payload, err = w.json.Encode(v)
	case FormatMsgpack:
		payload, err = w.mp.Encode(v)
	default:
		err = errors.Errorf("unsupported format %s", w.format)
	}
	if err != nil {
		return err
	}

	f := &Frame{
		Version:     Version,
		Format:      w.format,
		Compression: w.compression,
		Payload:     payload,
		Final:       final,
	}
	if w.stream {
		w.seq++
		f.SID, f.Seq, f.HasSeq = w.sid, w.seq, true
	}
	if w.digest {
		d := PayloadDigest(payload)
		f.Digest = &d
	}
	return w.writeFrame(f)
}

// WriteFrame writes a prepared frame. The payload is compressed as the
// frame requests and the CRC is computed over the wire bytes.
func (w *Writer) WriteFrame(f *Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeFrame(f)
}

func (w *Writer) writeFrame(f *Frame) error {
	wire, err := compress(f.Compression, f.Payload)
	if err != nil {
		return err
	}

	var header strings.Builder
	header.WriteString("@frame{v=")
	if f.Version == 0 {
		header.WriteByte('1')
	} else {
		header.WriteString(strconv.Itoa(int(f.Version)))
	}
	header.WriteString(" fmt=")
	header.WriteString(f.Format.String())
	header.WriteString(" len=")
	header.WriteString(strconv.Itoa(len(wire)))
	header.WriteString(" crc=")
	header.Write(appendCRC(nil, ComputeCRC(wire)))
	if f.Compression != CompressNone {
		header.WriteString(" z=")
		header.WriteString(f.Compression.String())
	}
	if f.HasSeq {
		header.WriteString(" sid=")
		header.WriteString(strconv.FormatUint(f.SID, 10))
		header.WriteString(" seq=")
		header.WriteString(strconv.FormatUint(f.Seq, 10))
	}
	if f.Digest != nil {
		header.WriteString(" sha256=")
		header.WriteString(f.Digest.String())
	}
	if f.Final {
		header.WriteString(" final=true")
	}
	header.WriteString("}\n")

	if _, err := io.WriteString(w.w, header.String()); err != nil {
		return errors.Wrap(err, "write header")
	}
	if len(wire) > 0 {
		if _, err := w.w.Write(wire); err != nil {
			return errors.Wrap(err, "write payload")
		}
	}
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return errors.Wrap(err, "write trailing newline")
	}
	return nil
}
