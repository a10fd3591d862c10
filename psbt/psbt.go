// Package psbt implements PsbtBuilder (spec.md §4.7): three entry points —
// Manual, Funded, and Move — that each open a chain.Backend, expand the
// source descriptor, scan for the current UTXO set, and compose an unsigned
// PSBT. Grounded on the transaction-building shape in path_wallet_psbt.go and
// path_wallet_consolidate.go (tx construction, witness-UTXO population,
// change-output handling), generalized to spec.md's backend-agnostic,
// no-private-keys-in-core contract: unlike the teacher, this builder never
// signs — every PSBT it returns is handed off to a hardware wallet or
// external signer.
package psbt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	stdpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/djschnei21/btcops/amount"
	"github.com/djschnei21/btcops/btcerr"
	"github.com/djschnei21/btcops/chain"
	"github.com/djschnei21/btcops/coinselect"
	"github.com/djschnei21/btcops/descriptor"
	"github.com/djschnei21/btcops/fee"
	"github.com/djschnei21/btcops/utxo"
)

// DustLimit is the minimum viable output value, grounded on DustLimit in
// wallet/transaction.go.
const DustLimit = amount.MsatsPerSat * 546

// DefaultFeeRate is used when a caller supplies no fee policy at all,
// grounded on DefaultFeeRate in wallet/transaction.go.
const DefaultFeeRate = 10.0

// Output is a single payment destination.
type Output struct {
	Address string
	Amount  amount.Amount
}

// FeePolicy resolves to exactly one absolute fee: an explicit rate, an
// explicit absolute amount, or (for Funded PSBTs only) the backend default.
// Exactly one of Rate or Sats should be set for Move; Funded additionally
// allows both unset to fall back to DefaultFeeRate.
type FeePolicy struct {
	Rate *float64
	Sats *amount.Amount
}

// Response is the common result shape of every builder entry point
// (spec.md §3's PsbtResponse).
type Response struct {
	PsbtBase64     string
	FeeSats        amount.Amount
	ChangePosition *int
}

// Builder composes PsbtBuilder's three entry points against one backend,
// descriptor-derived address deriver, and network.
type Builder struct {
	Backend chain.Backend
	Deriver *descriptor.Deriver
	Params  *chaincfg.Params
	Fee     fee.Estimator
}

// New constructs a Builder with a default FeeEstimator.
func New(backend chain.Backend, deriver *descriptor.Deriver, params *chaincfg.Params) *Builder {
	return &Builder{Backend: backend, Deriver: deriver, Params: params, Fee: fee.New()}
}

func (b *Builder) scriptFor(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, b.Params)
	if err != nil {
		return nil, btcerr.Wrap(btcerr.KindInvalidFormat, "invalid address "+address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("building scriptPubKey for %s: %w", address, err)
	}
	return script, nil
}

// parseOutpointSpec parses one manual-input spec string: "txid:vout" (64 hex
// chars + unsigned decimal) or, if it contains '(' or '[', an output
// descriptor to expand into all of its current UTXOs (reported with ok=false).
func parseOutpointSpec(spec string) (utxo.Outpoint, bool, error) {
	if descriptor.IsDescriptor(spec) {
		return utxo.Outpoint{}, false, nil
	}
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return utxo.Outpoint{}, false, btcerr.New(btcerr.KindInvalidInputSpec, "expected txid:vout, got "+spec)
	}
	if _, err := hex.DecodeString(parts[0]); len(parts[0]) != 64 || err != nil {
		return utxo.Outpoint{}, false, btcerr.New(btcerr.KindInvalidInputSpec, "txid must be 64 hex characters: "+spec)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return utxo.Outpoint{}, false, btcerr.Wrap(btcerr.KindInvalidInputSpec, "invalid vout in "+spec, err)
	}
	return utxo.Outpoint{Txid: parts[0], Vout: uint32(vout)}, true, nil
}

func buildUnsignedTx(inputs []utxo.Utxo, outputs []wire.TxOut) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.Outpoint.Txid)
		if err != nil {
			return nil, btcerr.Wrap(btcerr.KindInvalidInputSpec, "invalid txid "+in.Outpoint.Txid, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Outpoint.Vout), nil, nil))
	}
	for i := range outputs {
		tx.AddTxOut(&outputs[i])
	}
	return tx, nil
}

func serializeWithWitnessUTXOs(tx *wire.MsgTx, inputs []utxo.Utxo) (string, error) {
	p, err := stdpsbt.NewFromUnsignedTx(tx)
	if err != nil {
		return "", btcerr.Wrap(btcerr.KindInvalidPsbt, "constructing PSBT from unsigned transaction", err)
	}
	for i, in := range inputs {
		p.Inputs[i].WitnessUtxo = &wire.TxOut{
			Value:    int64(in.Amount.AsSats()),
			PkScript: in.ScriptPubKey,
		}
	}

	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", btcerr.Wrap(btcerr.KindInvalidPsbt, "serializing PSBT", err)
	}

	// Round-trip through the standard deserializer to satisfy the
	// "every PSBT returned must deserialize without error" post-condition
	// (spec.md §4.7, §8) before handing it back to the caller.
	if _, err := stdpsbt.NewFromRawBytes(bytes.NewReader(buf.Bytes()), false); err != nil {
		return "", btcerr.Wrap(btcerr.KindInvalidPsbt, "round-trip deserialization failed", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Manual builds a PSBT from explicit inputs and outputs. A fee rate, if
// supplied, is only used to compute the fee reported in the response — per
// spec.md §9's resolved open question, the builder never injects or adjusts
// outputs to enforce it.
func (b *Builder) Manual(ctx context.Context, sourceDescriptor string, inputSpecs []string, outputs []Output, feeRate *float64) (Response, error) {
	scanned, err := b.Backend.Scan(ctx, sourceDescriptor)
	if err != nil {
		return Response{}, fmt.Errorf("scanning source descriptor: %w", err)
	}

	var selected []utxo.Utxo
	for _, spec := range inputSpecs {
		op, isOutpoint, err := parseOutpointSpec(spec)
		if err != nil {
			return Response{}, err
		}
		if isOutpoint {
			u, ok := scanned.Get(op)
			if !ok {
				return Response{}, btcerr.New(btcerr.KindInputNotFound, spec)
			}
			selected = append(selected, u)
			continue
		}

		subScanned, err := b.Backend.Scan(ctx, spec)
		if err != nil {
			return Response{}, fmt.Errorf("scanning input descriptor %s: %w", spec, err)
		}
		selected = append(selected, subScanned.Slice()...)
	}

	txOutputs := make([]wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		script, err := b.scriptFor(out.Address)
		if err != nil {
			return Response{}, err
		}
		txOutputs = append(txOutputs, wire.TxOut{Value: int64(out.Amount.AsSats()), PkScript: script})
	}

	tx, err := buildUnsignedTx(selected, txOutputs)
	if err != nil {
		return Response{}, err
	}

	var computedFee amount.Amount
	if feeRate != nil {
		computedFee = b.Fee.Fee(len(selected), len(outputs), *feeRate)
	}

	encoded, err := serializeWithWitnessUTXOs(tx, selected)
	if err != nil {
		return Response{}, err
	}

	return Response{PsbtBase64: encoded, FeeSats: computedFee}, nil
}

// Funded selects inputs itself from the backend's scan of sourceDescriptor
// (largest first, via selectForTarget), derives a change address from the
// source descriptor's <0;1> fragment, and uses feeRate, or DefaultFeeRate when
// feeRate is nil. The backend does not fund the PSBT (no
// walletcreatefundedpsbt call), and there is no confirmation-target fee policy.
func (b *Builder) Funded(ctx context.Context, sourceDescriptor string, outputs []Output, feeRate *float64) (Response, error) {
	scanned, err := b.Backend.Scan(ctx, sourceDescriptor)
	if err != nil {
		return Response{}, fmt.Errorf("scanning source descriptor: %w", err)
	}

	rate := DefaultFeeRate
	if feeRate != nil {
		rate = *feeRate
	}

	var targetTotal amount.Amount
	txOutputs := make([]wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		script, err := b.scriptFor(out.Address)
		if err != nil {
			return Response{}, err
		}
		txOutputs = append(txOutputs, wire.TxOut{Value: int64(out.Amount.AsSats()), PkScript: script})
		targetTotal = targetTotal.Add(out.Amount)
	}

	candidates := coinselect.Select(scanned.Slice(), nil)
	selected, total, estimatedFee, err := selectForTarget(candidates, targetTotal, len(outputs)+1, rate, b.Fee)
	if err != nil {
		return Response{}, err
	}

	changeAmount, ok := total.Sub(targetTotal)
	if !ok {
		return Response{}, btcerr.New(btcerr.KindInsufficientFunds, "selected inputs do not cover outputs")
	}
	changeAmount, ok = changeAmount.Sub(estimatedFee)
	if !ok {
		return Response{}, btcerr.New(btcerr.KindInsufficientFunds, "selected inputs do not cover outputs plus fee")
	}

	var changePos *int
	if changeAmount.AsMsats() > DustLimit {
		changeAddr, _, err := b.Deriver.FindFirstUnusedChange(ctx, sourceDescriptor)
		if err != nil {
			return Response{}, fmt.Errorf("deriving change address: %w", err)
		}
		changeScript, err := b.scriptFor(changeAddr)
		if err != nil {
			return Response{}, err
		}
		pos := len(txOutputs)
		txOutputs = append(txOutputs, wire.TxOut{Value: int64(changeAmount.AsSats()), PkScript: changeScript})
		changePos = &pos
	}

	tx, err := buildUnsignedTx(selected, txOutputs)
	if err != nil {
		return Response{}, err
	}
	encoded, err := serializeWithWitnessUTXOs(tx, selected)
	if err != nil {
		return Response{}, err
	}

	return Response{PsbtBase64: encoded, FeeSats: estimatedFee, ChangePosition: changePos}, nil
}

// selectForTarget accumulates candidates largest-first until the running
// total covers target plus the fee of the inputs selected so far (fee grows
// with input count, so it is recomputed after each addition), grounded on the
// iterative refinement in SelectUTXOs (wallet/transaction.go).
func selectForTarget(candidates []utxo.Utxo, target amount.Amount, numOutputs int, satPerVB float64, estimator fee.Estimator) ([]utxo.Utxo, amount.Amount, amount.Amount, error) {
	var selected []utxo.Utxo
	var total amount.Amount
	var estimatedFee amount.Amount

	sorted := make([]utxo.Utxo, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.Cmp(sorted[j].Amount) > 0
	})

	for _, u := range sorted {
		selected = append(selected, u)
		total = total.Add(u.Amount)
		estimatedFee = estimator.Fee(len(selected), numOutputs, satPerVB)

		need := target.Add(estimatedFee)
		if total.Cmp(need) >= 0 {
			return selected, total, estimatedFee, nil
		}
	}

	return nil, amount.Zero, amount.Zero, btcerr.New(btcerr.KindInsufficientFunds,
		fmt.Sprintf("have %d sats, need %d sats plus fee", total.AsSats(), target.AsSats()))
}

// Move builds a consolidation PSBT: every resolved input (optionally capped by
// maxAmount via CoinSelector) is spent to a single destination, which receives
// total inputs minus fee. Exactly one of feeRate or feeSats must be supplied.
func (b *Builder) Move(ctx context.Context, sourceDescriptor, destination string, feeRate *float64, feeSats *amount.Amount, maxAmount *amount.Amount) (Response, error) {
	if (feeRate == nil) == (feeSats == nil) {
		return Response{}, btcerr.New(btcerr.KindFeePolicyConflict, "exactly one of fee_rate or fee_sats must be supplied")
	}

	scanned, err := b.Backend.Scan(ctx, sourceDescriptor)
	if err != nil {
		return Response{}, fmt.Errorf("scanning source descriptor: %w", err)
	}

	selected := coinselect.Select(scanned.Slice(), maxAmount)
	if len(selected) == 0 {
		return Response{}, btcerr.New(btcerr.KindInsufficientFunds, "no inputs available to consolidate")
	}

	var total amount.Amount
	for _, u := range selected {
		total = total.Add(u.Amount)
	}

	var computedFee amount.Amount
	if feeRate != nil {
		computedFee = b.Fee.Fee(len(selected), 1, *feeRate)
	} else {
		computedFee = *feeSats
	}

	destAmount, ok := total.Sub(computedFee)
	if !ok || destAmount.IsZero() {
		return Response{}, btcerr.New(btcerr.KindInsufficientFunds,
			fmt.Sprintf("total inputs %d sats do not cover fee %d sats", total.AsSats(), computedFee.AsSats()))
	}

	script, err := b.scriptFor(destination)
	if err != nil {
		return Response{}, err
	}
	txOutputs := []wire.TxOut{{Value: int64(destAmount.AsSats()), PkScript: script}}

	tx, err := buildUnsignedTx(selected, txOutputs)
	if err != nil {
		return Response{}, err
	}
	encoded, err := serializeWithWitnessUTXOs(tx, selected)
	if err != nil {
		return Response{}, err
	}

	return Response{PsbtBase64: encoded, FeeSats: computedFee}, nil
}
