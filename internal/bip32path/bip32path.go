// Package bip32path parses and formats BIP-32 derivation path strings of the
// form "m/44'/0'/0'/0/0", used by the TapSigner derivation split (spec.md
// §4.10).
// Grounded on parse_derivation_path and split_derivation_path in
// original_source/cyberkrill-core/src/tapsigner.rs.
package bip32path

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/djschnei21/btcops/btcerr"
)

// HardenedBit is set in a child number to mark hardened derivation, per BIP-32.
const HardenedBit = uint32(0x80000000)

// Path is a parsed sequence of BIP-32 child numbers, hardened components carrying
// HardenedBit.
type Path []uint32

// Parse parses a path string such as "m/84'/0'/0'/0/0". The leading "m/" is
// optional; each component may carry a trailing "'" or "h" to mark it hardened.
func Parse(s string) (Path, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m/")
	s = strings.TrimPrefix(s, "m")
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	out := make(Path, 0, len(parts))
	for _, p := range parts {
		hardened := false
		if strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h") || strings.HasSuffix(p, "H") {
			hardened = true
			p = p[:len(p)-1]
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid derivation path component "+p, err)
		}
		if hardened {
			n |= uint64(HardenedBit)
		}
		out = append(out, uint32(n))
	}
	return out, nil
}

// String formats the path back into "m/84'/0'/0'/0/0" form.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, c := range p {
		b.WriteString("/")
		if c&HardenedBit != 0 {
			fmt.Fprintf(&b, "%d'", c&^HardenedBit)
		} else {
			fmt.Fprintf(&b, "%d", c)
		}
	}
	return b.String()
}

// IsHardened reports whether a single child number has the hardened bit set.
func IsHardened(c uint32) bool { return c&HardenedBit != 0 }

// SplitHardenedPrefix splits p into its leading run of hardened components and
// the remaining non-hardened suffix. Grounded on split_derivation_path in
// tapsigner.rs, which walks components while they remain >= 0x80000000.
func (p Path) SplitHardenedPrefix() (hardened Path, nonHardened Path) {
	i := 0
	for i < len(p) && IsHardened(p[i]) {
		i++
	}
	return p[:i], p[i:]
}

// Purpose returns the first (purpose) component of the path with its hardened
// bit cleared, and ok=false if the path is empty.
func (p Path) Purpose() (purpose uint32, ok bool) {
	if len(p) == 0 {
		return 0, false
	}
	return p[0] &^ HardenedBit, true
}
