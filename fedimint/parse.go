package fedimint

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/djschnei21/btcops/btcerr"
)

// parseConsensusEncoding walks the tagged-union part list, grounded on
// parse_consensus_encoding in fedimint-lite/src/lib.rs. An unrecognized
// variant stops parsing (matching the reference's "skip is unsafe without
// knowing the structure" behavior) rather than erroring outright, since a
// future fedimint version may append part kinds this codec doesn't know.
func parseConsensusEncoding(data []byte) (Invite, error) {
	pos := 0
	numParts, n, err := readVarint(data, pos)
	if err != nil {
		return Invite{}, err
	}
	pos += n

	var inv Invite
	haveFederationID := false

	for i := uint64(0); i < numParts; i++ {
		if pos >= len(data) {
			return Invite{}, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("unexpected end of data at part %d", i))
		}

		variant, n, err := readVarint(data, pos)
		if err != nil {
			return Invite{}, err
		}
		pos += n

		switch variant {
		case variantAPI:
			variantLen, n, err := readVarint(data, pos)
			if err != nil {
				return Invite{}, err
			}
			pos += n
			variantStart := pos

			urlLen, n, err := readVarint(data, pos)
			if err != nil {
				return Invite{}, err
			}
			pos += n
			if pos+int(urlLen) > len(data) {
				return Invite{}, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("url length %d exceeds remaining bytes", urlLen))
			}
			url := string(data[pos : pos+int(urlLen)])
			pos += int(urlLen)

			peerID, n, err := readVarint(data, pos)
			if err != nil {
				return Invite{}, err
			}
			pos += n

			if consumed := pos - variantStart; consumed != int(variantLen) {
				return Invite{}, btcerr.New(btcerr.KindInvalidInvite,
					fmt.Sprintf("api variant data length mismatch: expected %d, consumed %d", variantLen, consumed))
			}

			inv.Guardians = append(inv.Guardians, Guardian{PeerID: uint16(peerID), URL: url})

		case variantFederationID:
			fedIDLen, n, err := readVarint(data, pos)
			if err != nil {
				return Invite{}, err
			}
			pos += n
			if fedIDLen != 32 {
				return Invite{}, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("federation id length should be 32, got %d", fedIDLen))
			}
			if pos+32 > len(data) {
				return Invite{}, btcerr.New(btcerr.KindInvalidInvite, "not enough bytes for federation id")
			}
			inv.FederationID = hex.EncodeToString(data[pos : pos+32])
			haveFederationID = true
			pos += 32

		case variantAPISecret:
			secretLen, n, err := readVarint(data, pos)
			if err != nil {
				return Invite{}, err
			}
			pos += n
			if pos+int(secretLen) > len(data) {
				return Invite{}, btcerr.New(btcerr.KindInvalidInvite, fmt.Sprintf("secret length %d exceeds remaining bytes", secretLen))
			}
			inv.APISecret = string(data[pos : pos+int(secretLen)])
			inv.HasAPISecret = true
			pos += int(secretLen)

		default:
			// Unknown variant: stop parsing rather than guess its shape.
			i = numParts
		}
	}

	if !haveFederationID {
		return Invite{}, btcerr.New(btcerr.KindInvalidInvite, "invite code missing federation id")
	}
	if len(inv.Guardians) == 0 {
		return Invite{}, btcerr.New(btcerr.KindInvalidInvite, "invite code must contain at least one guardian")
	}

	sort.Slice(inv.Guardians, func(i, j int) bool { return inv.Guardians[i].PeerID < inv.Guardians[j].PeerID })
	return inv, nil
}

// parseLossy recovers a best-effort Invite when the tagged-union parse fails,
// by scanning for "wss://"/"https:" URL literals and treating the trailing 32
// bytes as the federation id (for payloads shorter than 64 bytes, the leading
// bytes, up to 32, are used instead). Grounded on parse_as_simple_format in
// fedimint-lite/src/lib.rs. The result is marked Lossy: it is not verified
// against the invite's actual encoded structure.
func parseLossy(data []byte) (Invite, error) {
	var guardians []Guardian

	for pos := 0; pos < len(data); pos++ {
		if pos+6 >= len(data) {
			break
		}
		slice := data[pos : pos+6]
		if string(slice) != "wss://" && string(slice) != "https:" {
			continue
		}
		end := pos + 6
		for end < len(data) && data[end] != 0 && data[end] > 31 && data[end] < 127 {
			end++
		}
		if end <= pos+6 {
			continue
		}
		guardians = append(guardians, Guardian{PeerID: uint16(len(guardians)), URL: string(data[pos:end])})
	}

	if len(guardians) == 0 {
		return Invite{}, btcerr.New(btcerr.KindInvalidInvite, "no valid guardian URLs found in invite code")
	}

	var federationID string
	if len(data) >= 64 {
		federationID = hex.EncodeToString(data[len(data)-32:])
	} else {
		limit := len(data)
		if limit > 32 {
			limit = 32
		}
		federationID = hex.EncodeToString(data[:limit])
	}

	return Invite{FederationID: federationID, Guardians: guardians, Lossy: true}, nil
}
