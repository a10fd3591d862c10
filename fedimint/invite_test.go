package fedimint

import "testing"

// realInvite is the Bitcoin Principles federation invite code used as the
// canonical decode/encode test vector (matches fedimint-cli's own output).
const realInvite = "fed11qgqzxgthwden5te0v9cxjtnzd96xxmmfdckhqunfde3kjurvv4ejucm0d5hsqqfqkggx3jz0tvfv5n7lj0e7gs7nh47z06ry95x4963wfh8xlka7a80su3952t"

func TestDecodeInviteRealCode(t *testing.T) {
	inv, err := DecodeInvite(realInvite)
	if err != nil {
		t.Fatalf("DecodeInvite: %v", err)
	}
	if inv.Lossy {
		t.Error("expected consensus-encoding parse to succeed, not fall back to lossy")
	}
	if inv.FederationID != "b21068c84f5b12ca4fdf93f3e443d3bd7c27e8642d0d52ea2e4dce6fdbbee9df" {
		t.Errorf("federation id = %q", inv.FederationID)
	}
	if len(inv.Guardians) != 1 {
		t.Fatalf("got %d guardians, want 1", len(inv.Guardians))
	}
	if inv.Guardians[0].PeerID != 0 {
		t.Errorf("peer id = %d, want 0", inv.Guardians[0].PeerID)
	}
	if inv.Guardians[0].URL != "wss://api.bitcoin-principles.com/" {
		t.Errorf("url = %q", inv.Guardians[0].URL)
	}
	if inv.HasAPISecret {
		t.Error("expected no API secret")
	}
}

func TestEncodeInviteRoundTripsByteForByte(t *testing.T) {
	inv, err := DecodeInvite(realInvite)
	if err != nil {
		t.Fatalf("DecodeInvite: %v", err)
	}
	encoded, err := EncodeInvite(inv)
	if err != nil {
		t.Fatalf("EncodeInvite: %v", err)
	}
	if encoded != realInvite {
		t.Errorf("re-encoded invite does not match original:\n got  %s\n want %s", encoded, realInvite)
	}
}

func TestEncodeDecodeWithAPISecret(t *testing.T) {
	inv := Invite{
		FederationID: "1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
		Guardians: []Guardian{
			{PeerID: 0, URL: "wss://guardian1.example.com/"},
			{PeerID: 1, URL: "wss://guardian2.example.com/"},
		},
		APISecret:    "super_secret_api_key",
		HasAPISecret: true,
	}

	encoded, err := EncodeInvite(inv)
	if err != nil {
		t.Fatalf("EncodeInvite: %v", err)
	}
	decoded, err := DecodeInvite(encoded)
	if err != nil {
		t.Fatalf("DecodeInvite: %v", err)
	}
	if decoded.FederationID != inv.FederationID {
		t.Errorf("federation id = %q, want %q", decoded.FederationID, inv.FederationID)
	}
	if !decoded.HasAPISecret || decoded.APISecret != inv.APISecret {
		t.Errorf("api secret = (%v, %q), want (true, %q)", decoded.HasAPISecret, decoded.APISecret, inv.APISecret)
	}
	if len(decoded.Guardians) != 2 {
		t.Fatalf("got %d guardians, want 2", len(decoded.Guardians))
	}
}

func TestEncodeDecodeMultipleGuardiansSortedByPeerID(t *testing.T) {
	inv := Invite{
		FederationID: "abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890",
		Guardians: []Guardian{
			{PeerID: 2, URL: "wss://gamma.example.com/"},
			{PeerID: 0, URL: "wss://alpha.example.com/"},
			{PeerID: 1, URL: "wss://beta.example.com/"},
		},
	}

	encoded, err := EncodeInvite(inv)
	if err != nil {
		t.Fatalf("EncodeInvite: %v", err)
	}
	decoded, err := DecodeInvite(encoded)
	if err != nil {
		t.Fatalf("DecodeInvite: %v", err)
	}
	for i, g := range decoded.Guardians {
		if int(g.PeerID) != i {
			t.Errorf("guardian[%d].PeerID = %d, want %d (expected sorted order)", i, g.PeerID, i)
		}
	}
}

func TestDecodeInviteRejectsNonFed1Prefix(t *testing.T) {
	if _, err := DecodeInvite("invalid_invite_code"); err == nil {
		t.Error("expected error for non-fed1 input")
	}
	if _, err := DecodeInvite("fedimintinvalid"); err == nil {
		t.Error("expected error for fedimint-prefixed but non-fed1 input")
	}
}

func TestDecodeInviteRejectsInvalidBech32m(t *testing.T) {
	if _, err := DecodeInvite("fed1invalid"); err == nil {
		t.Error("expected error for invalid bech32m checksum")
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xFC, 0xFD, 0xFFFF, 0x10000, 0xFFFFFFFF, 0x100000000, ^uint64(0)}
	for _, v := range values {
		encoded := writeVarint(v)
		decoded, n, err := readVarint(encoded, 0)
		if err != nil {
			t.Fatalf("readVarint(%d): %v", v, err)
		}
		if decoded != v {
			t.Errorf("readVarint(writeVarint(%d)) = %d", v, decoded)
		}
		if n != len(encoded) {
			t.Errorf("bytes read = %d, want %d for value %d", n, len(encoded), v)
		}
	}
}
