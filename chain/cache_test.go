package chain

import (
	"testing"
	"time"

	"github.com/djschnei21/btcops/utxo"
)

func TestScanCacheGetPutInvalidate(t *testing.T) {
	c := NewScanCache()

	if _, ok := c.Get("desc-a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	set := utxo.NewSet()
	set.Add(utxo.Utxo{Outpoint: utxo.Outpoint{Txid: "abc", Vout: 0}})
	c.Put("desc-a", set)

	got, ok := c.Get("desc-a")
	if !ok || got != set {
		t.Fatal("expected cache hit returning the stored set")
	}

	c.Invalidate("desc-a")
	if _, ok := c.Get("desc-a"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestScanCacheExpires(t *testing.T) {
	c := NewScanCache()
	set := utxo.NewSet()
	c.mu.Lock()
	c.entries["desc-b"] = scanEntry{set: set, fetched: time.Now().Add(-MaxCacheAge - time.Second)}
	c.mu.Unlock()

	if _, ok := c.Get("desc-b"); ok {
		t.Fatal("expected expired entry to miss")
	}
}
