package stream

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Encoders and decoders are shared; EncodeAll and DecodeAll are safe for
// concurrent use.
var (
	zencOnce sync.Once
	zenc     *zstd.Encoder
	zencErr  error

	zdecOnce sync.Once
	zdec     *zstd.Decoder
	zdecErr  error
)

func zstdEncoder() (*zstd.Encoder, error) {
	zencOnce.Do(func() {
		zenc, zencErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zenc, zencErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zdecOnce.Do(func() {
		zdec, zdecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize*4))
	})
	return zdec, zdecErr
}

func compress(c Compression, payload []byte) ([]byte, error) {
	switch c {
	case CompressNone:
		return payload, nil
	case CompressZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, errors.Wrap(err, "zstd encoder")
		}
		return enc.EncodeAll(payload, nil), nil
	}
	return nil, errors.Errorf("unsupported compression %s", c)
}

func decompress(c Compression, wire []byte, limit int) ([]byte, error) {
	switch c {
	case CompressNone:
		return wire, nil
	case CompressZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, errors.Wrap(err, "zstd decoder")
		}
		out, err := dec.DecodeAll(wire, nil)
		if err != nil {
			return nil, errors.Wrap(err, "zstd payload")
		}
		if len(out) > limit {
			return nil, &ParseError{Reason: "decompressed payload too large", Offset: -1}
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported compression %s", c)
}
