// Package coinselect implements the pure, fee-blind input selector
// (spec.md §4.5). Grounded on the largest-first sort/accumulate shape of
// SelectUTXOs in wallet/transaction.go, with that function's fee-awareness
// deliberately stripped: fee adequacy is the caller's concern here, not the
// selector's.
package coinselect

import (
	"sort"

	"github.com/djschnei21/btcops/amount"
	"github.com/djschnei21/btcops/utxo"
)

// Select returns candidates unchanged when maxAmount is nil. Otherwise it
// sorts a copy of candidates by amount descending and accumulates until the
// running total reaches or exceeds maxAmount, returning the prefix selected.
// If the full candidate set's total never reaches maxAmount, all candidates
// are returned.
func Select(candidates []utxo.Utxo, maxAmount *amount.Amount) []utxo.Utxo {
	if maxAmount == nil {
		return candidates
	}

	sorted := make([]utxo.Utxo, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.Cmp(sorted[j].Amount) > 0
	})

	var total amount.Amount
	selected := make([]utxo.Utxo, 0, len(sorted))
	for _, u := range sorted {
		selected = append(selected, u)
		total = total.Add(u.Amount)
		if total.Cmp(*maxAmount) >= 0 {
			break
		}
	}
	return selected
}
