// Package chain defines ChainBackend (spec.md §4.3), the common contract
// implemented by the bitcoincore, electrum, and esplora sub-packages.
package chain

import (
	"context"

	"github.com/djschnei21/btcops/utxo"
)

// Backend is the chain-data source PsbtBuilder and the CLI front-end operate
// against. Every operation is safe to call concurrently unless a specific
// implementation documents otherwise.
type Backend interface {
	// Scan performs a full gap-limited descriptor scan, deduplicating by
	// outpoint and including mempool outputs at confirmation 0 when the backend
	// supports it.
	Scan(ctx context.Context, descriptor string) (*utxo.Set, error)

	// ListUnspent returns the unspent outputs of addresses with a confirmation
	// count in [minConf, maxConf].
	ListUnspent(ctx context.Context, addresses []string, minConf, maxConf uint32) (*utxo.Set, error)

	// TipHeight returns the current chain tip height.
	TipHeight(ctx context.Context) (uint64, error)

	// GetTxBlockInfo returns the confirming block height and its unix timestamp
	// for txid. Optional for PSBT flows; used by the DCA reporter collaborator.
	GetTxBlockInfo(ctx context.Context, txid string) (height uint64, unixTime int64, err error)
}

// Config is the ambient configuration shared by every backend: network choice
// and minimum confirmations. No backend embeds it; each takes its own
// connection parameters (bitcoincore.Config, electrum.Dial, esplora.New).
// Populated by the CLI from flags, or from the environment via
// kelseyhightower/envconfig for unattended/service use.
type Config struct {
	Network        string `envconfig:"BTCOPS_NETWORK" default:"mainnet"`
	MinConfirmations uint32 `envconfig:"BTCOPS_MIN_CONFIRMATIONS" default:"1"`
}
