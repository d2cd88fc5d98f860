package stream

import (
	"encoding/hex"
	"hash/crc32"
	"strings"
)

// Frame checksums are IEEE CRC-32 over the wire bytes, that is after
// compression. Headers carry them as eight lowercase hex digits, with an
// optional "crc32:" prefix accepted on input.

// ComputeCRC returns the checksum of wire bytes.
func ComputeCRC(wire []byte) uint32 {
	return crc32.ChecksumIEEE(wire)
}

// checkCRC compares the checksum of wire against the one in f's header.
func checkCRC(f *Frame, wire []byte) error {
	if f.CRC == nil {
		return nil
	}
	if got := ComputeCRC(wire); got != *f.CRC {
		return &CRCMismatchError{Expected: *f.CRC, Got: got}
	}
	return nil
}

// appendCRC appends the header form of crc to dst.
func appendCRC(dst []byte, crc uint32) []byte {
	b := [4]byte{byte(crc >> 24), byte(crc >> 16), byte(crc >> 8), byte(crc)}
	return hex.AppendEncode(dst, b[:])
}

func parseCRC(val string) (uint32, bool) {
	val = strings.TrimPrefix(val, "crc32:")
	if len(val) != 8 {
		return 0, false
	}
	var b [4]byte
	if _, err := hex.Decode(b[:], []byte(val)); err != nil {
		return 0, false
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}
