// Package tapsigner implements the hardware derivation split for the TapSigner
// smartcard (spec.md §4.10): a hardened prefix is derived on-device, the
// non-hardened suffix is derived in software from the returned extended key
// material. Grounded on generate_tapsigner_address, create_xpub_from_result, and
// software_derive_pubkey in
// original_source/cyberkrill-core/src/tapsigner.rs, adapted to the spec's
// corrected depth rule (depth = length of the hardened prefix, not the
// original's hardcoded depth=3) per SPEC_FULL.md §4.
package tapsigner

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mr-tron/base58"

	"github.com/djschnei21/btcops/btcerr"
	"github.com/djschnei21/btcops/internal/bip32path"
)

// CVCEnvVar is the environment variable consumed for the TapSigner's six-digit
// card verification code.
const CVCEnvVar = "TAPSIGNER_CVC"

var cvcPattern = regexp.MustCompile(`^[0-9]{6}$`)

// CVCFromEnv reads and validates TAPSIGNER_CVC, exactly 6 ASCII digits, read
// once per operation per spec.md §5/§6.
func CVCFromEnv() (string, error) {
	v, ok := os.LookupEnv(CVCEnvVar)
	if !ok {
		return "", btcerr.New(btcerr.KindInvalidFormat, CVCEnvVar+" is not set")
	}
	if !cvcPattern.MatchString(v) {
		return "", btcerr.New(btcerr.KindInvalidFormat, CVCEnvVar+" must be exactly 6 digits")
	}
	return v, nil
}

// Device is the hardware collaborator: one authenticated derive call per
// invocation, taking a (possibly empty) hardened-only path and returning the
// resulting public key and chain code. The empty path call returns the master
// key material (used for the master fingerprint).
type Device interface {
	Derive(ctx context.Context, cvc string, hardenedPath bip32path.Path) (pubkey [33]byte, chainCode [32]byte, err error)
}

// DerivedKey is the result of a split derivation: the final non-hardened-derived
// public key, the address it corresponds to, and the account-level extended
// public key reconstructed from the device's response.
type DerivedKey struct {
	PubKey           [33]byte
	Address          string
	AccountXpub      string
	MasterFingerprint [4]byte
}

// Derive performs the full split derivation for path against dev: the hardened
// prefix is sent to the device, the non-hardened suffix is derived in software
// from the returned account-level extended key, and the master fingerprint is
// obtained via a separate empty-path device call.
func Derive(ctx context.Context, dev Device, cvc string, path bip32path.Path, params *chaincfg.Params) (DerivedKey, error) {
	hardened, nonHardened := path.SplitHardenedPrefix()

	acctPub, acctChainCode, err := dev.Derive(ctx, cvc, hardened)
	if err != nil {
		return DerivedKey{}, fmt.Errorf("deriving hardened prefix %s: %w", hardened.String(), err)
	}

	var childNum uint32
	if len(hardened) > 0 {
		childNum = hardened[len(hardened)-1]
	}

	// Reconstruct the account-level extended key from the device's raw response by
	// building its standard BIP-32 serialization directly (depth = length of the
	// hardened prefix, parent fingerprint = zero placeholder, per spec.md §4.10 step
	// 3) and parsing it back with hdkeychain, rather than relying on a
	// library-specific in-memory constructor.
	acctSerialized := encodeExtendedKey(params.HDPublicKeyID, uint8(len(hardened)), [4]byte{}, childNum, acctChainCode, acctPub)
	acctKey, err := hdkeychain.NewKeyFromString(acctSerialized)
	if err != nil {
		return DerivedKey{}, fmt.Errorf("reconstructing account extended key: %w", err)
	}

	finalKey := acctKey
	for _, c := range nonHardened {
		finalKey, err = finalKey.Derive(c)
		if err != nil {
			return DerivedKey{}, fmt.Errorf("deriving non-hardened suffix: %w", err)
		}
	}

	finalPub, err := finalKey.ECPubKey()
	if err != nil {
		return DerivedKey{}, fmt.Errorf("extracting final pubkey: %w", err)
	}

	pubKeyHash := btcutil.Hash160(finalPub.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return DerivedKey{}, fmt.Errorf("building address: %w", err)
	}

	masterPub, _, err := dev.Derive(ctx, cvc, bip32path.Path{})
	if err != nil {
		return DerivedKey{}, fmt.Errorf("deriving master key: %w", err)
	}
	masterHash := btcutil.Hash160(masterPub[:])
	var fingerprint [4]byte
	copy(fingerprint[:], masterHash[:4])

	var result DerivedKey
	copy(result.PubKey[:], finalPub.SerializeCompressed())
	result.Address = addr.EncodeAddress()
	result.AccountXpub = acctKey.String()
	result.MasterFingerprint = fingerprint
	return result, nil
}

// ExtendedKeyFields decodes the standard BIP-32 base58check serialization of an
// extended key (xpub/xprv/tpub/tprv/...) into its raw fields: 4-byte version, 1
// depth byte, 4-byte parent fingerprint, 4-byte child number, 32-byte chain
// code, and 33-byte key data (a compressed pubkey for public keys, or a
// 0x00-prefixed private key for private keys). This is the standard BIP-32
// wire layout, independent of any particular library's in-memory
// representation, which is why it is used here to pull chain code and key
// bytes out of a key a Device implementation already has serialized.
func ExtendedKeyFields(serialized string) (version [4]byte, depth uint8, parentFP [4]byte, childNum uint32, chainCode [32]byte, keyData [33]byte, err error) {
	decoded, err := base58.Decode(serialized)
	if err != nil {
		return version, depth, parentFP, childNum, chainCode, keyData, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid base58 extended key", err)
	}
	if len(decoded) != 82 {
		return version, depth, parentFP, childNum, chainCode, keyData, btcerr.New(btcerr.KindInvalidFormat, "extended key has unexpected length")
	}
	payload := decoded[:78]
	checksum := decoded[78:]
	if !checksumValid(payload, checksum) {
		return version, depth, parentFP, childNum, chainCode, keyData, btcerr.New(btcerr.KindInvalidFormat, "extended key checksum mismatch")
	}

	copy(version[:], payload[0:4])
	depth = payload[4]
	copy(parentFP[:], payload[5:9])
	childNum = uint32(payload[9])<<24 | uint32(payload[10])<<16 | uint32(payload[11])<<8 | uint32(payload[12])
	copy(chainCode[:], payload[13:45])
	copy(keyData[:], payload[45:78])
	return version, depth, parentFP, childNum, chainCode, keyData, nil
}

// encodeExtendedKey is the inverse of ExtendedKeyFields: it assembles the
// standard 78-byte BIP-32 payload, appends the double-SHA256 checksum, and
// base58-encodes the result.
func encodeExtendedKey(version [4]byte, depth uint8, parentFP [4]byte, childNum uint32, chainCode [32]byte, keyData [33]byte) string {
	payload := make([]byte, 0, 78)
	payload = append(payload, version[:]...)
	payload = append(payload, depth)
	payload = append(payload, parentFP[:]...)
	payload = append(payload, byte(childNum>>24), byte(childNum>>16), byte(childNum>>8), byte(childNum))
	payload = append(payload, chainCode[:]...)
	payload = append(payload, keyData[:]...)

	checksum := doubleSHA256(payload)[:4]
	full := append(payload, checksum...)
	return base58.Encode(full)
}

// zpubVersion and vpubVersion are the SLIP-0132 version bytes for P2WPKH
// extended public keys, grounded on wallet/keys.go's zpubVersion/vpubVersion
// constants.
var (
	zpubVersion = [4]byte{0x04, 0xb2, 0x47, 0x46}
	vpubVersion = [4]byte{0x04, 0x5f, 0x1c, 0xf6}
)

// ToSLIP0132 rewrites the version bytes of a base58check-encoded extended
// public key (xpub/tpub) to the SLIP-0132 P2WPKH form (zpub for mainnet, vpub
// otherwise), for presenting a TapSigner account key to wallets (e.g. Sparrow)
// that expect the SLIP-0132 prefix. Grounded on GetAccountXpub's zpub/vpub
// conversion in wallet/keys.go, reimplemented against mr-tron/base58 instead of
// that function's hand-rolled base58check encode/decode.
func ToSLIP0132(xpubOrTpub string, mainnet bool) (string, error) {
	decoded, err := base58.Decode(xpubOrTpub)
	if err != nil {
		return "", btcerr.Wrap(btcerr.KindInvalidFormat, "invalid base58 extended key", err)
	}
	if len(decoded) != 82 {
		return "", btcerr.New(btcerr.KindInvalidFormat, "extended key has unexpected length")
	}

	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]
	if !checksumValid(payload, checksum) {
		return "", btcerr.New(btcerr.KindInvalidFormat, "extended key checksum mismatch")
	}

	version := vpubVersion
	if mainnet {
		version = zpubVersion
	}
	rewritten := make([]byte, len(payload))
	copy(rewritten, payload)
	copy(rewritten[0:4], version[:])

	newChecksum := doubleSHA256(rewritten)[:4]
	full := append(rewritten, newChecksum...)
	return base58.Encode(full), nil
}
