package descriptor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/djschnei21/btcops/btcerr"
)

// descriptorPattern recognizes a single-key wpkh()/tr() output descriptor, with
// an optional checksum suffix and an optional origin-info bracket, e.g.
// "wpkh([abcd1234/84'/0'/0']xpub6.../0/*)#checksum". Supporting exactly this
// shape (no multisig, no script trees) matches the address types the wallet
// core ever derives: P2WPKH and P2TR key-path-only, per wallet/address.go's
// GenerateP2WPKHAddress/GenerateP2TRAddress.
var descriptorPattern = regexp.MustCompile(`^(wpkh|tr)\((?:\[[0-9a-fA-F]{8}(?:/[0-9]+'?)*\])?([A-Za-z0-9]+)((?:/(?:[0-9]+|\*))*)\)(?:#[a-z0-9]+)?$`)

// ParsedKeyDescriptor is a single-key descriptor split into its script type,
// extended public key, and non-hardened derivation suffix (with the wildcard
// position recorded separately).
type ParsedKeyDescriptor struct {
	ScriptType    string // "wpkh" or "tr"
	ExtendedKey   string
	FixedPath     []uint32 // path components before the wildcard, e.g. [0] for ".../0/*"
	HasWildcard   bool
}

// ParseSingleKey parses a wpkh()/tr() descriptor with exactly one key and at
// most one trailing wildcard. It fails with InvalidFormat for any other shape
// (multisig, nested script, raw/combo, or more than one wildcard), matching
// spec.md §3's Descriptor invariant of "at most one wildcard".
func ParseSingleKey(desc string) (ParsedKeyDescriptor, error) {
	m := descriptorPattern.FindStringSubmatch(strings.TrimSpace(desc))
	if m == nil {
		return ParsedKeyDescriptor{}, btcerr.New(btcerr.KindInvalidFormat, "unsupported or malformed single-key descriptor: "+desc)
	}

	parsed := ParsedKeyDescriptor{ScriptType: m[1], ExtendedKey: m[2]}

	pathStr := strings.Trim(m[3], "/")
	if pathStr == "" {
		return parsed, nil
	}

	segments := strings.Split(pathStr, "/")
	for i, seg := range segments {
		if seg == "*" {
			if i != len(segments)-1 {
				return ParsedKeyDescriptor{}, btcerr.New(btcerr.KindInvalidFormat, "wildcard must be the final path component: "+desc)
			}
			parsed.HasWildcard = true
			continue
		}
		n, err := strconv.ParseUint(seg, 10, 32)
		if err != nil {
			return ParsedKeyDescriptor{}, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid path component "+seg, err)
		}
		parsed.FixedPath = append(parsed.FixedPath, uint32(n))
	}
	return parsed, nil
}

// DeriveAddressAt derives the address at wildcard index (ignored if the
// descriptor has no wildcard) under params, performing only non-hardened
// derivation from the descriptor's extended public key — the core never needs
// the corresponding private key to do this.
func DeriveAddressAt(desc string, index uint32, params *chaincfg.Params) (string, error) {
	parsed, err := ParseSingleKey(desc)
	if err != nil {
		return "", err
	}

	key, err := hdkeychain.NewKeyFromString(parsed.ExtendedKey)
	if err != nil {
		return "", btcerr.Wrap(btcerr.KindInvalidFormat, "invalid extended key in descriptor", err)
	}

	for _, c := range parsed.FixedPath {
		key, err = key.Derive(c)
		if err != nil {
			return "", btcerr.Wrap(btcerr.KindBackendError, "deriving descriptor path", err)
		}
	}
	if parsed.HasWildcard {
		key, err = key.Derive(index)
		if err != nil {
			return "", btcerr.Wrap(btcerr.KindBackendError, "deriving wildcard index", err)
		}
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", btcerr.Wrap(btcerr.KindBackendError, "extracting public key", err)
	}

	switch parsed.ScriptType {
	case "tr":
		taprootKey := txscript.ComputeTaprootKeyNoScript(pubKey)
		addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(taprootKey), params)
		if err != nil {
			return "", btcerr.Wrap(btcerr.KindBackendError, "building taproot address", err)
		}
		return addr.EncodeAddress(), nil
	default: // "wpkh"
		pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
		addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
		if err != nil {
			return "", btcerr.Wrap(btcerr.KindBackendError, "building p2wpkh address", err)
		}
		return addr.EncodeAddress(), nil
	}
}
