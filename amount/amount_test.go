package amount

import (
	"errors"
	"testing"

	"github.com/djschnei21/btcops/btcerr"
)

func TestParseMatrix(t *testing.T) {
	cases := []struct {
		in        string
		wantMsats uint64
		wantSats  uint64
	}{
		{"123sats", 123_000, 123},
		{"0.5sats", 500, 0},
		{"0.666btc", 66_600_000_000, 66_600_000},
		{"0.5", 50_000_000_000, 50_000_000},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", c.in, err)
		}
		if got.AsMsats() != c.wantMsats {
			t.Errorf("Parse(%q).AsMsats() = %d, want %d", c.in, got.AsMsats(), c.wantMsats)
		}
		if got.AsSats() != c.wantSats {
			t.Errorf("Parse(%q).AsSats() = %d, want %d", c.in, got.AsSats(), c.wantSats)
		}
	}
}

func TestParseNegative(t *testing.T) {
	_, err := Parse("-1btc")
	if !errors.Is(err, btcerr.Of(btcerr.KindNegativeAmount)) {
		t.Fatalf("Parse(-1btc) error = %v, want NegativeAmount", err)
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("")
	if !errors.Is(err, btcerr.Of(btcerr.KindEmptyAmount)) {
		t.Fatalf("Parse(\"\") error = %v, want EmptyAmount", err)
	}
}

func TestParseInvalidFormat(t *testing.T) {
	_, err := Parse("not-a-number")
	if !errors.Is(err, btcerr.Of(btcerr.KindInvalidFormat)) {
		t.Fatalf("Parse invalid error = %v, want InvalidFormat", err)
	}
}

func TestRoundTripMsats(t *testing.T) {
	for _, m := range []uint64{0, 1, 1000, 123_456_789} {
		a := FromMillisats(m)
		if FromMillisats(a.AsMsats()) != a {
			t.Errorf("round trip failed for %d msats", m)
		}
	}
}

func TestSubInsufficientFunds(t *testing.T) {
	a := FromSats(100)
	b := FromSats(200)
	_, ok := a.Sub(b)
	if ok {
		t.Fatal("expected Sub to report underflow")
	}
}

func TestMsatsSuffixIsInteger(t *testing.T) {
	got, err := Parse("1500msats")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got.AsMsats() != 1500 {
		t.Errorf("AsMsats() = %d, want 1500", got.AsMsats())
	}

	_, err = Parse("1.5msats")
	if err == nil {
		t.Fatal("expected error for fractional msats suffix")
	}
}
