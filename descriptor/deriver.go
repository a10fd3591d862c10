package descriptor

import (
	"context"
	"fmt"

	"github.com/djschnei21/btcops/btcerr"
)

// DefaultScanRange is the default wildcard-index window, pulled from
// DEFAULT_DESCRIPTOR_SCAN_RANGE in bitcoin_rpc.rs and confirmed by spec.md §4.3's
// "default N=200".
const DefaultScanRange = 200

// DefaultGapLimit is the BIP-44 convention of stopping after 20 consecutive unused
// indices (spec.md §4.4, §GLOSSARY).
const DefaultGapLimit = 20

// Indexer materializes the address at a single wildcard index of a descriptor. A
// ChainBackend implementation supplies this (e.g. via Bitcoin Core's
// deriveaddresses, or local derivation for Electrum/Esplora).
type Indexer interface {
	DeriveAddress(ctx context.Context, desc string, index uint32) (string, error)
}

// UsageChecker reports whether an address has ever received funds. A
// ChainBackend implementation supplies this (e.g. via getreceivedbyaddress).
type UsageChecker interface {
	HasReceived(ctx context.Context, address string) (bool, error)
}

// Deriver implements AddressDeriver (spec.md §4.4) against an Indexer and a
// UsageChecker supplied by the caller's ChainBackend.
type Deriver struct {
	Indexer   Indexer
	Usage     UsageChecker
	GapLimit  uint32
	ScanRange uint32
}

// NewDeriver returns a Deriver with the default gap limit and scan range.
func NewDeriver(indexer Indexer, usage UsageChecker) *Deriver {
	return &Deriver{Indexer: indexer, Usage: usage, GapLimit: DefaultGapLimit, ScanRange: DefaultScanRange}
}

// Addresses concretizes the wildcard position of descWithWildcard for every index
// in [start, end), inclusive of start and exclusive of end.
func (d *Deriver) Addresses(ctx context.Context, descWithWildcard string, start, end uint32) ([]string, error) {
	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		addr, err := d.Indexer.DeriveAddress(ctx, descWithWildcard, i)
		if err != nil {
			return nil, fmt.Errorf("deriving address at index %d: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// FindFirstUnused scans indices 0..ScanRange, stopping once GapLimit consecutive
// indices are unused, and returns the address and index at the start of the
// first unused run. Grounded on find_unused_address in bitcoin_rpc.rs.
func (d *Deriver) FindFirstUnused(ctx context.Context, descWithWildcard string) (address string, index uint32, err error) {
	gapLimit := d.GapLimit
	if gapLimit == 0 {
		gapLimit = DefaultGapLimit
	}
	scanRange := d.ScanRange
	if scanRange == 0 {
		scanRange = DefaultScanRange
	}

	var firstUnusedAddr string
	var firstUnusedIdx uint32
	haveFirstUnused := false
	consecutiveUnused := uint32(0)

	for i := uint32(0); i < scanRange; i++ {
		addr, derr := d.Indexer.DeriveAddress(ctx, descWithWildcard, i)
		if derr != nil {
			return "", 0, fmt.Errorf("deriving address at index %d: %w", i, derr)
		}
		used, uerr := d.Usage.HasReceived(ctx, addr)
		if uerr != nil {
			return "", 0, fmt.Errorf("checking usage of %s: %w", addr, uerr)
		}
		if used {
			consecutiveUnused = 0
			haveFirstUnused = false
			continue
		}
		if !haveFirstUnused {
			firstUnusedAddr = addr
			firstUnusedIdx = i
			haveFirstUnused = true
		}
		consecutiveUnused++
		if consecutiveUnused >= gapLimit {
			return firstUnusedAddr, firstUnusedIdx, nil
		}
	}

	if haveFirstUnused {
		return firstUnusedAddr, firstUnusedIdx, nil
	}
	return "", 0, btcerr.New(btcerr.KindBackendError, "no unused address found within scan range")
}

// FindFirstUnusedChange substitutes the internal (1) branch of a <0;1>
// multipath fragment in desc, then runs FindFirstUnused against it.
func (d *Deriver) FindFirstUnusedChange(ctx context.Context, desc string) (address string, index uint32, err error) {
	changeDesc, ok := ChangeDescriptor(desc)
	if !ok {
		changeDesc = desc
	}
	return d.FindFirstUnused(ctx, changeDesc)
}
