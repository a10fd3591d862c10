package esplora

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestTipHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blocks/tip/height" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte("870123"))
	}))
	defer srv.Close()

	b := New(srv.URL, &chaincfg.MainNetParams, nil)
	got, err := b.TipHeight(t.Context())
	if err != nil {
		t.Fatalf("TipHeight: %v", err)
	}
	if got != 870123 {
		t.Errorf("TipHeight = %d, want 870123", got)
	}
}

func TestGetTxBlockInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tx/abc123/status":
			w.Write([]byte(`{"confirmed":true,"block_height":800000,"block_hash":"deadbeef"}`))
		case "/block/deadbeef":
			w.Write([]byte(`{"timestamp":1700000000}`))
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	b := New(srv.URL, &chaincfg.MainNetParams, nil)
	height, ts, err := b.GetTxBlockInfo(t.Context(), "abc123")
	if err != nil {
		t.Fatalf("GetTxBlockInfo: %v", err)
	}
	if height != 800000 || ts != 1700000000 {
		t.Errorf("GetTxBlockInfo = (%d, %d), want (800000, 1700000000)", height, ts)
	}
}

func TestGetTxBlockInfoUnconfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"confirmed":false}`))
	}))
	defer srv.Close()

	b := New(srv.URL, &chaincfg.MainNetParams, nil)
	if _, _, err := b.GetTxBlockInfo(t.Context(), "abc123"); err == nil {
		t.Fatal("expected error for unconfirmed transaction")
	}
}
