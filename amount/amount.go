// Package amount implements the millisatoshi-resolution money type used throughout
// the pipeline. It is grounded on the AmountInput type in
// original_source/cyberkrill-core/src/bitcoin_rpc.rs, adapted to Go idiom: a small
// value type with parse/format methods and no hidden state.
package amount

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/djschnei21/btcops/btcerr"
)

// MsatsPerBTC is the number of millisatoshis in one bitcoin (10^11).
const MsatsPerBTC = 100_000_000_000

// MsatsPerSat is the number of millisatoshis in one satoshi.
const MsatsPerSat = 1000

// maxMsats bounds every Amount at the 21M BTC supply cap, comfortably inside uint64.
const maxMsats = 21_000_000 * MsatsPerBTC

// Amount is a non-negative quantity of bitcoin stored as an exact count of
// millisatoshis. Values are freely copied.
type Amount struct {
	msats uint64
}

// Zero is the zero-value Amount.
var Zero = Amount{}

// FromBTC constructs an Amount from a fractional bitcoin quantity.
func FromBTC(btc float64) (Amount, error) {
	if math.IsNaN(btc) || math.IsInf(btc, 0) {
		return Zero, btcerr.New(btcerr.KindInvalidAmount, "btc amount is not finite")
	}
	if btc < 0 {
		return Zero, btcerr.New(btcerr.KindNegativeAmount, fmt.Sprintf("%v", btc))
	}
	return fromMsatsFloat(btc * MsatsPerBTC)
}

// FromSats constructs an Amount from an exact integer satoshi count.
func FromSats(sats uint64) Amount {
	return Amount{msats: sats * MsatsPerSat}
}

// FromFractionalSats constructs an Amount from a fractional satoshi quantity,
// rounding to the nearest millisatoshi.
func FromFractionalSats(sats float64) (Amount, error) {
	if math.IsNaN(sats) || math.IsInf(sats, 0) {
		return Zero, btcerr.New(btcerr.KindInvalidAmount, "sat amount is not finite")
	}
	if sats < 0 {
		return Zero, btcerr.New(btcerr.KindNegativeAmount, fmt.Sprintf("%v", sats))
	}
	return fromMsatsFloat(sats * MsatsPerSat)
}

// FromMillisats constructs an Amount from an exact millisatoshi count.
func FromMillisats(msats uint64) Amount {
	return Amount{msats: msats}
}

func fromMsatsFloat(msats float64) (Amount, error) {
	rounded := math.Round(msats)
	if rounded < 0 || rounded > maxMsats {
		return Zero, btcerr.New(btcerr.KindInvalidAmount, "amount out of range")
	}
	return Amount{msats: uint64(rounded)}, nil
}

// AsSats floors toward zero to the nearest whole satoshi.
func (a Amount) AsSats() uint64 { return a.msats / MsatsPerSat }

// AsMsats returns the exact millisatoshi count.
func (a Amount) AsMsats() uint64 { return a.msats }

// AsFractionalSats returns the exact satoshi count, including any sub-satoshi
// remainder, as a float.
func (a Amount) AsFractionalSats() float64 { return float64(a.msats) / MsatsPerSat }

// AsBTC returns a float approximation derived from the exact millisatoshi count.
func (a Amount) AsBTC() float64 { return float64(a.msats) / MsatsPerBTC }

// Add returns the sum of two amounts.
func (a Amount) Add(b Amount) Amount { return Amount{msats: a.msats + b.msats} }

// Sub returns a - b. If b > a the result is clamped to zero and ok is false,
// signaling the caller should treat this as insufficient funds rather than
// underflowing.
func (a Amount) Sub(b Amount) (result Amount, ok bool) {
	if b.msats > a.msats {
		return Zero, false
	}
	return Amount{msats: a.msats - b.msats}, true
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.msats < b.msats:
		return -1
	case a.msats > b.msats:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.msats == 0 }

// String formats the amount as a decimal BTC quantity with 11 decimal places
// (millisatoshi resolution), e.g. "0.00050000000".
func (a Amount) String() string {
	return strconv.FormatFloat(a.AsBTC(), 'f', 11, 64)
}

// Parse recognizes suffixes in priority order: msats/msat (integer millisatoshis),
// sats/sat (fractional satoshis), btc (fractional bitcoin), and falls back to
// bitcoin when no suffix is present. Trims whitespace and lower-cases before
// matching.
func Parse(s string) (Amount, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return Zero, btcerr.New(btcerr.KindEmptyAmount, "amount string is empty")
	}

	if body, ok := trimSuffix(trimmed, "msats", "msat"); ok {
		m, err := strconv.ParseUint(body, 10, 64)
		if err != nil {
			return Zero, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid millisatoshi amount: "+body, err)
		}
		return FromMillisats(m), nil
	}

	if body, ok := trimSuffix(trimmed, "sats", "sat"); ok {
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Zero, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid satoshi amount: "+body, err)
		}
		return FromFractionalSats(f)
	}

	if body, ok := trimSuffix(trimmed, "btc"); ok {
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Zero, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid btc amount: "+body, err)
		}
		return FromBTC(f)
	}

	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return Zero, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid amount: "+trimmed, err)
	}
	return FromBTC(f)
}

// trimSuffix strips the first matching suffix (longest first) and returns the
// remaining, trimmed body.
func trimSuffix(s string, suffixes ...string) (string, bool) {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return strings.TrimSpace(strings.TrimSuffix(s, suf)), true
		}
	}
	return "", false
}
