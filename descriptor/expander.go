// Package descriptor implements DescriptorExpander and AddressDeriver (spec.md
// §4.2, §4.4), grounded on the multipath-handling logic in
// original_source/cyberkrill-core/src/bitcoin_rpc.rs (scan_tx_out_set's <0;1>
// expansion and convert_to_change_descriptor's substring replace) and the
// BIP-44 gap-limit scan in find_unused_address.
package descriptor

import "strings"

// MultipathFragment is the <0;1> shorthand for external/internal descriptor paths.
const MultipathFragment = "<0;1>"

// Expand rewrites a single <0;1> multipath fragment in d into two single-path
// descriptors, external (0) first, internal (1) second. Descriptors without the
// fragment are returned unchanged as a single-element slice; other multipath
// patterns are passed through untouched, matching spec.md §4.2's explicit
// non-goal of generalizing beyond <0;1>.
func Expand(d string) []string {
	if !strings.Contains(d, MultipathFragment) {
		return []string{d}
	}
	return []string{
		strings.Replace(d, MultipathFragment, "0", 1),
		strings.Replace(d, MultipathFragment, "1", 1),
	}
}

// ChangeDescriptor substitutes the internal (1) branch of a <0;1> multipath
// fragment, for deriving change addresses. ok is false if d has no multipath
// fragment to substitute.
func ChangeDescriptor(d string) (changed string, ok bool) {
	if !strings.Contains(d, MultipathFragment) {
		return "", false
	}
	return strings.Replace(d, MultipathFragment, "1", 1), true
}

// IsDescriptor reports whether s looks like an output descriptor rather than a
// bare "txid:vout" input spec. Grounded on parse_and_expand_inputs in
// bitcoin_rpc.rs, which distinguishes the two shapes by the presence of '(' or
// '[' (descriptor function wrappers and origin-info brackets never appear in a
// txid:vout string).
func IsDescriptor(s string) bool {
	return strings.ContainsAny(s, "([")
}
