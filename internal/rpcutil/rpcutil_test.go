package rpcutil

import "testing"

func TestLoadBitcoinCoreEnvDefaults(t *testing.T) {
	env, err := LoadBitcoinCoreEnv()
	if err != nil {
		t.Fatalf("LoadBitcoinCoreEnv: %v", err)
	}
	if env.URL != "http://127.0.0.1:8332" {
		t.Errorf("URL = %q, want default", env.URL)
	}
}

func TestLoadBitcoinCoreEnvOverrides(t *testing.T) {
	t.Setenv("BTCOPS_CORE_URL", "http://node.example:8332")
	t.Setenv("BTCOPS_CORE_BITCOIN_DIR", "/data/bitcoin")
	t.Setenv("BTCOPS_CORE_USERNAME", "alice")
	t.Setenv("BTCOPS_CORE_PASSWORD", "hunter2")

	env, err := LoadBitcoinCoreEnv()
	if err != nil {
		t.Fatalf("LoadBitcoinCoreEnv: %v", err)
	}
	if env.URL != "http://node.example:8332" {
		t.Errorf("URL = %q", env.URL)
	}
	if env.BitcoinDir != "/data/bitcoin" {
		t.Errorf("BitcoinDir = %q", env.BitcoinDir)
	}
	if env.Username != "alice" || env.Password != "hunter2" {
		t.Errorf("Username/Password = %q/%q", env.Username, env.Password)
	}
}
