package stream

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is the SHA-256 of a decoded (uncompressed) payload. Unlike the
// CRC, which guards the bytes on the wire, the digest identifies the
// message content independent of compression.
type Digest [32]byte

// PayloadDigest hashes a decoded payload.
func PayloadDigest(payload []byte) Digest {
	return sha256.Sum256(payload)
}

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64 character hex digest, with or without the
// "sha256:" prefix.
func ParseDigest(s string) (Digest, bool) {
	var d Digest
	if len(s) > 7 && s[:7] == "sha256:" {
		s = s[7:]
	}
	if len(s) != 64 {
		return d, false
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, false
	}
	return d, true
}
