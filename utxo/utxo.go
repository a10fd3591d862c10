// Package utxo holds the normalized unspent-output records the pipeline operates
// on. Grounded on UTXOInfo in
// _examples/djschnei21-vault-plugin-btc/utxo.go and Utxo in
// _examples/original_source/cyberkrill-core/src/bitcoin_rpc.rs, generalized to the
// data model in spec.md §3 (outpoint/script/amount/confirmations/optional
// address/optional keychain tag/optional derivation index).
package utxo

import "github.com/djschnei21/btcops/amount"

// Keychain identifies which side of a <0;1> multipath descriptor a Utxo's address
// was derived from, when known.
type Keychain int

const (
	KeychainUnknown Keychain = iota
	KeychainExternal
	KeychainInternal
)

// Outpoint is a transaction id and output index.
type Outpoint struct {
	Txid string
	Vout uint32
}

// Utxo is one unspent transaction output as seen by a ChainBackend scan.
type Utxo struct {
	Outpoint      Outpoint
	ScriptPubKey  []byte
	Amount        amount.Amount
	Confirmations uint32
	// Address is the owning address, when the backend could determine or derive it.
	Address string
	// Keychain is set when the Utxo was produced by a descriptor-driven scan that
	// knows which multipath branch it came from.
	Keychain Keychain
	// HasDerivationIndex reports whether DerivationIndex is meaningful.
	HasDerivationIndex bool
	DerivationIndex    uint32
}

// IsMempool reports whether the output has zero confirmations.
func (u Utxo) IsMempool() bool { return u.Confirmations == 0 }

// Set is a deduplicated collection of Utxo keyed by outpoint.
type Set struct {
	byOutpoint map[Outpoint]Utxo
	order      []Outpoint
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byOutpoint: make(map[Outpoint]Utxo)}
}

// Add inserts u, ignoring it if its outpoint is already present (first write wins,
// matching the "duplicates removed by outpoint" contract in spec.md §4.3).
func (s *Set) Add(u Utxo) {
	if _, exists := s.byOutpoint[u.Outpoint]; exists {
		return
	}
	s.byOutpoint[u.Outpoint] = u
	s.order = append(s.order, u.Outpoint)
}

// Merge adds every Utxo from other into s.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, op := range other.order {
		s.Add(other.byOutpoint[op])
	}
}

// Get looks up a Utxo by outpoint.
func (s *Set) Get(op Outpoint) (Utxo, bool) {
	u, ok := s.byOutpoint[op]
	return u, ok
}

// Len returns the number of distinct outpoints in the set.
func (s *Set) Len() int { return len(s.order) }

// Slice returns the contained Utxos in insertion order.
func (s *Set) Slice() []Utxo {
	out := make([]Utxo, 0, len(s.order))
	for _, op := range s.order {
		out = append(out, s.byOutpoint[op])
	}
	return out
}

// Total sums the amount of every Utxo in the set.
func (s *Set) Total() amount.Amount {
	total := amount.Zero
	for _, u := range s.byOutpoint {
		total = total.Add(u.Amount)
	}
	return total
}
