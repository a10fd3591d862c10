package tapsigner

import "crypto/sha256"

// doubleSHA256 is the checksum primitive used by base58check encoding. This is
// the one place stdlib crypto/sha256 is used directly rather than a pack
// library: no example in the corpus wraps double-SHA256 in a dedicated
// checksum library, and mr-tron/base58 (used above for the base58 alphabet
// itself) intentionally does not implement base58check, leaving the checksum
// step to the caller.
func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

func checksumValid(payload, checksum []byte) bool {
	want := doubleSHA256(payload)[:4]
	if len(checksum) != 4 {
		return false
	}
	for i := range checksum {
		if checksum[i] != want[i] {
			return false
		}
	}
	return true
}
