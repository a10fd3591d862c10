package fedimint

import (
	"encoding/binary"
	"fmt"

	"github.com/djschnei21/btcops/btcerr"
)

// readVarint decodes one BigSize-style varint at data[pos:] and returns its
// value and the number of bytes it occupied. Grounded on read_varint_at in
// fedimint-lite/src/lib.rs: single byte for 0x00-0xFC, then 0xFD/0xFE/0xFF
// prefix a big-endian uint16/uint32/uint64.
func readVarint(data []byte, pos int) (value uint64, bytesRead int, err error) {
	if pos >= len(data) {
		return 0, 0, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("position %d exceeds buffer length %d", pos, len(data)))
	}

	switch first := data[pos]; {
	case first <= 0xFC:
		return uint64(first), 1, nil
	case first == 0xFD:
		if pos+3 > len(data) {
			return 0, 0, btcerr.New(btcerr.KindInvalidInvite, "not enough bytes for 2-byte varint")
		}
		return uint64(binary.BigEndian.Uint16(data[pos+1 : pos+3])), 3, nil
	case first == 0xFE:
		if pos+5 > len(data) {
			return 0, 0, btcerr.New(btcerr.KindInvalidInvite, "not enough bytes for 4-byte varint")
		}
		return uint64(binary.BigEndian.Uint32(data[pos+1 : pos+5])), 5, nil
	default: // 0xFF
		if pos+9 > len(data) {
			return 0, 0, btcerr.New(btcerr.KindInvalidInvite, "not enough bytes for 8-byte varint")
		}
		return binary.BigEndian.Uint64(data[pos+1 : pos+9]), 9, nil
	}
}

// writeVarint is the inverse of readVarint.
func writeVarint(value uint64) []byte {
	switch {
	case value <= 0xFC:
		return []byte{byte(value)}
	case value <= 0xFFFF:
		out := make([]byte, 3)
		out[0] = 0xFD
		binary.BigEndian.PutUint16(out[1:], uint16(value))
		return out
	case value <= 0xFFFFFFFF:
		out := make([]byte, 5)
		out[0] = 0xFE
		binary.BigEndian.PutUint32(out[1:], uint32(value))
		return out
	default:
		out := make([]byte, 9)
		out[0] = 0xFF
		binary.BigEndian.PutUint64(out[1:], value)
		return out
	}
}
