package coinselect

import (
	"testing"

	"github.com/djschnei21/btcops/amount"
	"github.com/djschnei21/btcops/utxo"
)

func mkUtxo(txid string, sats uint64) utxo.Utxo {
	return utxo.Utxo{
		Outpoint: utxo.Outpoint{Txid: txid, Vout: 0},
		Amount:   amount.FromSats(sats),
	}
}

func TestSelectNoCapReturnsUnchanged(t *testing.T) {
	candidates := []utxo.Utxo{mkUtxo("a", 100), mkUtxo("b", 50)}
	got := Select(candidates, nil)
	if len(got) != 2 || got[0].Outpoint.Txid != "a" || got[1].Outpoint.Txid != "b" {
		t.Fatalf("Select(nil) reordered or dropped candidates: %+v", got)
	}
}

func TestSelectAccumulatesLargestFirst(t *testing.T) {
	candidates := []utxo.Utxo{
		mkUtxo("small", 10),
		mkUtxo("big", 100),
		mkUtxo("mid", 50),
	}
	cap := amount.FromSats(120)
	got := Select(candidates, &cap)

	if len(got) != 2 {
		t.Fatalf("expected 2 selected utxos, got %d: %+v", len(got), got)
	}
	if got[0].Outpoint.Txid != "big" || got[1].Outpoint.Txid != "mid" {
		t.Fatalf("expected [big, mid], got %+v", got)
	}
}

func TestSelectExhaustsWhenCapUnreachable(t *testing.T) {
	candidates := []utxo.Utxo{mkUtxo("a", 10), mkUtxo("b", 20)}
	cap := amount.FromSats(1000)
	got := Select(candidates, &cap)
	if len(got) != 2 {
		t.Fatalf("expected all candidates returned when cap unreachable, got %d", len(got))
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	candidates := []utxo.Utxo{mkUtxo("a", 10), mkUtxo("b", 20)}
	cap := amount.FromSats(15)
	_ = Select(candidates, &cap)
	if candidates[0].Outpoint.Txid != "a" || candidates[1].Outpoint.Txid != "b" {
		t.Fatalf("Select mutated caller's slice: %+v", candidates)
	}
}
