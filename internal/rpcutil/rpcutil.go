// Package rpcutil loads Bitcoin Core RPC connection settings from the
// environment, for front ends (a test harness, an unattended daemon wrapping
// the core) that want env-driven configuration instead of flags. Grounded on
// the shape of btcConfig in path_config.go (ElectrumURL/Network/
// MinConfirmations read from Vault storage), adapted to
// github.com/kelseyhightower/envconfig since there is no storage backend
// here to read from.
package rpcutil

import "github.com/kelseyhightower/envconfig"

// BitcoinCoreEnv holds the connection settings for a Bitcoin Core JSON-RPC
// endpoint, populated from environment variables with the BTCOPS_CORE_ prefix.
type BitcoinCoreEnv struct {
	URL        string `envconfig:"URL" default:"http://127.0.0.1:8332"`
	BitcoinDir string `envconfig:"BITCOIN_DIR"`
	Username   string `envconfig:"USERNAME"`
	Password   string `envconfig:"PASSWORD"`
}

// LoadBitcoinCoreEnv reads BTCOPS_CORE_URL, BTCOPS_CORE_BITCOIN_DIR,
// BTCOPS_CORE_USERNAME, and BTCOPS_CORE_PASSWORD into a BitcoinCoreEnv.
func LoadBitcoinCoreEnv() (BitcoinCoreEnv, error) {
	var env BitcoinCoreEnv
	if err := envconfig.Process("btcops_core", &env); err != nil {
		return BitcoinCoreEnv{}, err
	}
	return env, nil
}
