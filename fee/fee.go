// Package fee implements the weight-based fee estimator. Its per-input/per-output
// sizes are grounded on the vbyte constants in
// _examples/djschnei21-vault-plugin-btc/wallet/transaction.go
// (P2WPKHInputSize, P2WPKHOutputSize, TxOverhead), expressed here in weight units so
// the ceil(weight/4) conversion to virtual bytes required by the spec is explicit
// rather than folded into a pre-computed vbyte constant.
package fee

import (
	"math"

	"github.com/djschnei21/btcops/amount"
)

const (
	// txOverheadWU is the fixed per-transaction weight: version, locktime, segwit
	// marker/flag, and varint counts. 10 vbytes * 4.
	txOverheadWU = 10 * 4
	// p2wpkhInputWU is the weight of one P2WPKH input including its witness.
	// 68 vbytes * 4.
	p2wpkhInputWU = 68 * 4
	// p2wpkhOutputWU is the weight of one P2WPKH output. 31 vbytes * 4.
	p2wpkhOutputWU = 31 * 4
	// p2trInputWU is the weight of one P2TR key-path input. 58 vbytes * 4.
	p2trInputWU = 58 * 4
	// p2trOutputWU is the weight of one P2TR output. 43 vbytes * 4.
	p2trOutputWU = 43 * 4
)

// Estimator computes absolute fees from a transaction shape and a fee rate.
// It holds no state; it is safe for concurrent use by multiple callers.
type Estimator struct{}

// New returns a ready-to-use Estimator.
func New() Estimator { return Estimator{} }

// Fee predicts the weight of a transaction with numInputs P2WPKH inputs and
// numOutputs P2WPKH outputs (including any change output the caller has already
// accounted for), converts the weight to virtual bytes with ceil(weight/4), and
// rounds the product vbytes*satPerVB to the nearest integer satoshi.
func (Estimator) Fee(numInputs, numOutputs int, satPerVB float64) amount.Amount {
	return feeForWeight(weightP2WPKH(numInputs, numOutputs), satPerVB)
}

// FeeTaproot is the Taproot-input/output analogue of Fee, used when the caller
// knows every input and output in the transaction is a P2TR key-path spend.
func (Estimator) FeeTaproot(numInputs, numOutputs int, satPerVB float64) amount.Amount {
	return feeForWeight(weightP2TR(numInputs, numOutputs), satPerVB)
}

func weightP2WPKH(numInputs, numOutputs int) int {
	return txOverheadWU + numInputs*p2wpkhInputWU + numOutputs*p2wpkhOutputWU
}

func weightP2TR(numInputs, numOutputs int) int {
	return txOverheadWU + numInputs*p2trInputWU + numOutputs*p2trOutputWU
}

func feeForWeight(weightUnits int, satPerVB float64) amount.Amount {
	vbytes := int(math.Ceil(float64(weightUnits) / 4))
	sats := math.Round(float64(vbytes) * satPerVB)
	if sats < 0 {
		sats = 0
	}
	return amount.FromSats(uint64(sats))
}

// Vsize returns the predicted virtual size, in vbytes, of a transaction with
// numInputs P2WPKH inputs and numOutputs P2WPKH outputs. Exposed for callers (the
// PsbtBuilder) that need the raw vsize alongside the fee.
func (Estimator) Vsize(numInputs, numOutputs int) int {
	return int(math.Ceil(float64(weightP2WPKH(numInputs, numOutputs)) / 4))
}
