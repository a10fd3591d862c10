package psbt

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	stdpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/djschnei21/btcops/amount"
	"github.com/djschnei21/btcops/btcerr"
	"github.com/djschnei21/btcops/descriptor"
	"github.com/djschnei21/btcops/utxo"
)

const fakeDesc = "wpkh([deadbeef/84h/1h/0h]tpub.../0/*)"

// fakeBackend is a minimal chain.Backend plus descriptor.Indexer/UsageChecker
// stand-in: one fixed UTXO set keyed by descriptor string, and deterministic
// addresses derived by incrementing a counter rather than real BIP-32 math,
// since PsbtBuilder never inspects the addresses it did not itself derive.
type fakeBackend struct {
	sets      map[string]*utxo.Set
	tip       uint64
	usedBelow uint32 // addresses with index < usedBelow report HasReceived=true
}

func (f *fakeBackend) Scan(ctx context.Context, desc string) (*utxo.Set, error) {
	if s, ok := f.sets[desc]; ok {
		return s, nil
	}
	return utxo.NewSet(), nil
}

func (f *fakeBackend) ListUnspent(ctx context.Context, addresses []string, minConf, maxConf uint32) (*utxo.Set, error) {
	return utxo.NewSet(), nil
}

func (f *fakeBackend) TipHeight(ctx context.Context) (uint64, error) { return f.tip, nil }

func (f *fakeBackend) GetTxBlockInfo(ctx context.Context, txid string) (uint64, int64, error) {
	return 0, 0, btcerr.New(btcerr.KindBackendError, "not implemented in fake")
}

func (f *fakeBackend) DeriveAddress(ctx context.Context, desc string, index uint32) (string, error) {
	return addressForIndex(index), nil
}

func (f *fakeBackend) HasReceived(ctx context.Context, address string) (bool, error) {
	idx := indexForAddress(address)
	return idx < f.usedBelow, nil
}

// addressForIndex/indexForAddress give the fake a stable, round-trippable
// address per index without doing real key derivation: a valid P2WPKH
// address whose 20-byte witness program is the big-endian encoding of index.
func addressForIndex(index uint32) string {
	hash := make([]byte, 20)
	hash[16] = byte(index >> 24)
	hash[17] = byte(index >> 16)
	hash[18] = byte(index >> 8)
	hash[19] = byte(index)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.RegressionNetParams)
	if err != nil {
		panic(err)
	}
	return addr.EncodeAddress()
}

func indexForAddress(address string) uint32 {
	addr, err := btcutil.DecodeAddress(address, &chaincfg.RegressionNetParams)
	if err != nil {
		return 0
	}
	wpkh, ok := addr.(*btcutil.AddressWitnessPubKeyHash)
	if !ok {
		return 0
	}
	data := wpkh.WitnessProgram()
	if len(data) != 20 {
		return 0
	}
	return uint32(data[16])<<24 | uint32(data[17])<<16 | uint32(data[18])<<8 | uint32(data[19])
}

func mkUtxo(t *testing.T, txid string, vout uint32, sats uint64, address string) utxo.Utxo {
	t.Helper()
	script, err := testBuilder(t).scriptFor(address)
	if err != nil {
		t.Fatalf("scriptFor: %v", err)
	}
	return utxo.Utxo{
		Outpoint:      utxo.Outpoint{Txid: txid, Vout: vout},
		ScriptPubKey:  script,
		Amount:        amount.FromSats(sats),
		Confirmations: 6,
		Address:       address,
	}
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{Params: &chaincfg.RegressionNetParams}
}

func decodePsbtOrFail(t *testing.T, b64 string) *stdpsbt.Packet {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decoding base64 psbt: %v", err)
	}
	p, err := stdpsbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		t.Fatalf("psbt failed to round-trip through standard deserializer: %v", err)
	}
	return p
}

func btcerrIs(err error, kind btcerr.Kind) bool {
	return errors.Is(err, btcerr.Of(kind))
}

func TestManualSelectsNamedOutpoint(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	addr := addressForIndex(0)
	txid := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	set := utxo.NewSet()
	set.Add(mkUtxo(t, txid, 0, 100_000, addr))

	backend := &fakeBackend{sets: map[string]*utxo.Set{fakeDesc: set}, tip: 800_000}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	destAddr := addressForIndex(1)
	rate := 5.0
	resp, err := b.Manual(context.Background(), fakeDesc, []string{txid + ":0"}, []Output{{Address: destAddr, Amount: amount.FromSats(50_000)}}, &rate)
	if err != nil {
		t.Fatalf("Manual: %v", err)
	}
	if resp.PsbtBase64 == "" {
		t.Fatal("expected non-empty PSBT")
	}
	if resp.FeeSats.IsZero() {
		t.Error("expected a non-zero reported fee when a fee rate is supplied")
	}
	p := decodePsbtOrFail(t, resp.PsbtBase64)
	if len(p.UnsignedTx.TxIn) != 1 || len(p.UnsignedTx.TxOut) != 1 {
		t.Fatalf("unexpected tx shape: %d inputs, %d outputs", len(p.UnsignedTx.TxIn), len(p.UnsignedTx.TxOut))
	}
	if p.UnsignedTx.TxOut[0].Value != 50_000 {
		t.Errorf("output value = %d, want 50000", p.UnsignedTx.TxOut[0].Value)
	}
}

func TestManualRejectsUnknownOutpoint(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	addr := addressForIndex(0)
	set := utxo.NewSet()
	set.Add(mkUtxo(t, "bbbb000000000000000000000000000000000000000000000000000000bbbb", 0, 100_000, addr))

	backend := &fakeBackend{sets: map[string]*utxo.Set{fakeDesc: set}, tip: 800_000}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	_, err := b.Manual(context.Background(), fakeDesc,
		[]string{"cccc00000000000000000000000000000000000000000000000000000000cccc:0"},
		[]Output{{Address: addressForIndex(1), Amount: amount.FromSats(1000)}}, nil)
	if !btcerrIs(err, btcerr.KindInputNotFound) {
		t.Fatalf("err = %v, want KindInputNotFound", err)
	}
}

func TestFundedProducesChangeOutput(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	addr := addressForIndex(5)
	txid := "dddd000000000000000000000000000000000000000000000000000000dddd"

	set := utxo.NewSet()
	set.Add(mkUtxo(t, txid, 0, 1_000_000, addr))

	backend := &fakeBackend{sets: map[string]*utxo.Set{fakeDesc: set}, tip: 800_000, usedBelow: 0}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	destAddr := addressForIndex(1)
	resp, err := b.Funded(context.Background(), fakeDesc, []Output{{Address: destAddr, Amount: amount.FromSats(200_000)}}, nil)
	if err != nil {
		t.Fatalf("Funded: %v", err)
	}
	if resp.ChangePosition == nil {
		t.Fatal("expected a change output")
	}
	p := decodePsbtOrFail(t, resp.PsbtBase64)
	if len(p.UnsignedTx.TxOut) != 2 {
		t.Fatalf("got %d outputs, want 2 (destination + change)", len(p.UnsignedTx.TxOut))
	}
}

func TestFundedInsufficientFunds(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	addr := addressForIndex(5)
	txid := "eeee000000000000000000000000000000000000000000000000000000eeee"

	set := utxo.NewSet()
	set.Add(mkUtxo(t, txid, 0, 1_000, addr))

	backend := &fakeBackend{sets: map[string]*utxo.Set{fakeDesc: set}, tip: 800_000}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	_, err := b.Funded(context.Background(), fakeDesc, []Output{{Address: addressForIndex(1), Amount: amount.FromSats(900_000)}}, nil)
	if !btcerrIs(err, btcerr.KindInsufficientFunds) {
		t.Fatalf("err = %v, want KindInsufficientFunds", err)
	}
}

func TestMoveRequiresExactlyOneFeePolicy(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	backend := &fakeBackend{sets: map[string]*utxo.Set{}, tip: 800_000}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	rate := 5.0
	sats := amount.FromSats(100)
	_, err := b.Move(context.Background(), fakeDesc, addressForIndex(1), &rate, &sats, nil)
	if !btcerrIs(err, btcerr.KindFeePolicyConflict) {
		t.Fatalf("both supplied: err = %v, want KindFeePolicyConflict", err)
	}

	_, err = b.Move(context.Background(), fakeDesc, addressForIndex(1), nil, nil, nil)
	if !btcerrIs(err, btcerr.KindFeePolicyConflict) {
		t.Fatalf("neither supplied: err = %v, want KindFeePolicyConflict", err)
	}
}

// TestMoveInsufficientFunds reproduces the literal test vector: inputs
// totaling 1000 sats, requested absolute fee 1500 sats, must fail with
// InsufficientFunds rather than producing a negative-value output.
func TestMoveInsufficientFunds(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	addr := addressForIndex(3)
	txid := "ffff000000000000000000000000000000000000000000000000000000ffff"

	set := utxo.NewSet()
	set.Add(mkUtxo(t, txid, 0, 1000, addr))

	backend := &fakeBackend{sets: map[string]*utxo.Set{fakeDesc: set}, tip: 800_000}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	fee := amount.FromSats(1500)
	_, err := b.Move(context.Background(), fakeDesc, addressForIndex(1), nil, &fee, nil)
	if !btcerrIs(err, btcerr.KindInsufficientFunds) {
		t.Fatalf("err = %v, want KindInsufficientFunds", err)
	}
}

func TestMoveConsolidatesToSingleOutput(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	addr1 := addressForIndex(3)
	addr2 := addressForIndex(4)

	set := utxo.NewSet()
	set.Add(mkUtxo(t, "1111111111111111111111111111111111111111111111111111111111aaaa", 0, 50_000, addr1))
	set.Add(mkUtxo(t, "1111111111111111111111111111111111111111111111111111111111bbbb", 1, 70_000, addr2))

	backend := &fakeBackend{sets: map[string]*utxo.Set{fakeDesc: set}, tip: 800_000}
	b := New(backend, descriptor.NewDeriver(backend, backend), params)

	fee := amount.FromSats(1000)
	resp, err := b.Move(context.Background(), fakeDesc, addressForIndex(1), nil, &fee, nil)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	p := decodePsbtOrFail(t, resp.PsbtBase64)
	if len(p.UnsignedTx.TxIn) != 2 {
		t.Fatalf("got %d inputs, want 2", len(p.UnsignedTx.TxIn))
	}
	if len(p.UnsignedTx.TxOut) != 1 {
		t.Fatalf("got %d outputs, want 1", len(p.UnsignedTx.TxOut))
	}
	if got, want := p.UnsignedTx.TxOut[0].Value, int64(119_000); got != want {
		t.Errorf("consolidated output = %d, want %d", got, want)
	}
}
