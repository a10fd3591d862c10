// Package fedimint implements FedimintCodec (spec.md §4.11): decoding and
// encoding Fedimint federation invite codes. Grounded byte-for-byte on
// decode_fedimint_invite/encode_fedimint_invite in
// original_source/fedimint-lite/src/lib.rs — the tagged-union part encoding,
// the BigSize varint format, and the bech32m wrapping are all reproduced from
// that reference rather than reinvented.
package fedimint

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/djschnei21/btcops/btcerr"
)

// HRP is the bech32m human-readable part every invite code carries.
const HRP = "fed1"

const (
	variantAPI         = 0
	variantFederationID = 1
	variantAPISecret   = 2
)

// Guardian is one federation member's peer id and API URL.
type Guardian struct {
	PeerID uint16
	URL    string
}

// Invite is the decoded content of a Fedimint invite code.
type Invite struct {
	FederationID string // 32 bytes, hex-encoded, lowercase
	Guardians    []Guardian
	APISecret    string
	HasAPISecret bool
	// Lossy is set when the consensus-encoding parser failed and the invite
	// was recovered by the fallback substring scanner: the guardian list and
	// federation id are best-effort and not cryptographically verified
	// against the code's bytes.
	Lossy bool
}

// DecodeInvite parses a "fed1..." bech32m invite code.
func DecodeInvite(code string) (Invite, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, HRP) {
		return Invite{}, btcerr.New(btcerr.KindInvalidInvite, "invite code must start with \"fed1\"")
	}

	hrp, data5, enc, err := bech32.DecodeGeneric(code)
	if err != nil {
		return Invite{}, btcerr.Wrap(btcerr.KindInvalidInvite, "invalid bech32m encoding", err)
	}
	if hrp != HRP {
		return Invite{}, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("unexpected HRP %q, want %q", hrp, HRP))
	}
	if enc != bech32.Bech32m {
		return Invite{}, btcerr.New(btcerr.KindInvalidInvite, "invite code is bech32, not bech32m")
	}

	raw, err := bech32.ConvertBits(data5, 5, 8, false)
	if err != nil {
		return Invite{}, btcerr.Wrap(btcerr.KindInvalidInvite, "converting bech32m payload to bytes", err)
	}

	if inv, err := parseConsensusEncoding(raw); err == nil {
		return inv, nil
	}
	return parseLossy(raw)
}

// EncodeInvite serializes inv back into a "fed1..." bech32m invite code, in
// the canonical part order: guardians, then federation id, then API secret.
func EncodeInvite(inv Invite) (string, error) {
	raw, err := encodeConsensus(inv)
	if err != nil {
		return "", err
	}
	data5, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("converting invite bytes to bech32m groups: %w", err)
	}
	encoded, err := bech32.EncodeM(HRP, data5)
	if err != nil {
		return "", fmt.Errorf("bech32m encoding invite: %w", err)
	}
	return encoded, nil
}

func encodeConsensus(inv Invite) ([]byte, error) {
	numParts := len(inv.Guardians)
	if inv.FederationID != "" {
		numParts++
	}
	if inv.HasAPISecret {
		numParts++
	}

	var out []byte
	out = append(out, writeVarint(uint64(numParts))...)

	for _, g := range inv.Guardians {
		out = append(out, writeVarint(variantAPI)...)

		var variantData []byte
		urlBytes := []byte(g.URL)
		variantData = append(variantData, writeVarint(uint64(len(urlBytes)))...)
		variantData = append(variantData, urlBytes...)
		variantData = append(variantData, writeVarint(uint64(g.PeerID))...)

		out = append(out, writeVarint(uint64(len(variantData)))...)
		out = append(out, variantData...)
	}

	if inv.FederationID != "" {
		fedIDBytes, err := hex.DecodeString(inv.FederationID)
		if err != nil {
			return nil, btcerr.Wrap(btcerr.KindInvalidInvite, "federation id is not valid hex", err)
		}
		if len(fedIDBytes) != 32 {
			return nil, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("federation id must be 32 bytes, got %d", len(fedIDBytes)))
		}
		out = append(out, writeVarint(variantFederationID)...)
		out = append(out, writeVarint(32)...)
		out = append(out, fedIDBytes...)
	}

	if inv.HasAPISecret {
		out = append(out, writeVarint(variantAPISecret)...)
		secretBytes := []byte(inv.APISecret)
		out = append(out, writeVarint(uint64(len(secretBytes)))...)
		out = append(out, secretBytes...)
	}

	return out, nil
}
