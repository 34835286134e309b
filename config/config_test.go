package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"peerlend/crypto"
)

func testAddr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestLoadParsesLedgerSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "gov.keystore")
	t.Setenv("PEERLEND_TEST_PASS", "hunter2")
	contents := fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
StorageBackend = "bolt"
GovernanceKeystorePath = "%s"
KeystorePassphraseEnv = "PEERLEND_TEST_PASS"
KeystoreKDF = "light"
Governance = "%s"
FeeReceiver = "%s"
FeeBps = 250
PausedModules = ["lending"]

[[Tokens]]
Address = "%s"
Symbol = "usdc"
Decimals = 6

[[Tokens]]
Address = "%s"
Symbol = "WETH"
Decimals = 18
`, keystorePath,
		crypto.FormatAddress(testAddr(0x60)),
		crypto.HexAddress(testAddr(0x61)),
		crypto.FormatAddress(testAddr(0x10)),
		crypto.FormatAddress(testAddr(0x20)))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" || cfg.StorageBackend != "bolt" || cfg.FeeBps != 250 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := os.Stat(keystorePath); err != nil {
		t.Fatalf("keystore should be generated: %v", err)
	}
	if _, err := crypto.LoadFromKeystore(keystorePath, cfg.Passphrase()); err != nil {
		t.Fatalf("keystore should decrypt with the env passphrase: %v", err)
	}

	addrs, err := cfg.Addresses()
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if addrs.Governance != testAddr(0x60) || addrs.FeeReceiver != testAddr(0x61) {
		t.Fatalf("unexpected addresses %+v", addrs)
	}
	if addrs.Custody != DefaultCustody() {
		t.Fatalf("empty custody should use the default")
	}

	tokens, err := cfg.BankTokens()
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Symbol != "USDC" || tokens[1].Decimals != 18 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if !cfg.Pauses().IsPaused("lending") {
		t.Fatalf("lending should be paused")
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GovernanceKeystorePath != filepath.Join(dir, "governance.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.GovernanceKeystorePath)
	}
	key, err := crypto.LoadFromKeystore(cfg.GovernanceKeystorePath, "")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	addrs, err := cfg.Addresses()
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if addrs.Governance != key.PubKey().Address() {
		t.Fatalf("governance should be the generated key")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Governance != cfg.Governance || reloaded.FeeBps != 100 {
		t.Fatalf("default config not persisted: %+v", reloaded)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	base := func() *Config {
		return &Config{
			StorageBackend: "memory",
			Governance:     crypto.FormatAddress(testAddr(0x60)),
			Tokens: []TokenConfig{
				{Address: crypto.FormatAddress(testAddr(0x10)), Symbol: "USDC", Decimals: 6},
			},
		}
	}
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"backend":         {func(c *Config) { c.StorageBackend = "redis" }, "unknown backend"},
		"fee":             {func(c *Config) { c.FeeBps = 5001 }, "FeeBps"},
		"kdf":             {func(c *Config) { c.KeystoreKDF = "argon" }, "KeystoreKDF"},
		"governance":      {func(c *Config) { c.Governance = "nope" }, "Governance"},
		"receiver":        {func(c *Config) { c.FeeReceiver = "0x1234" }, "FeeReceiver"},
		"token address":   {func(c *Config) { c.Tokens[0].Address = "" }, "Tokens[0].Address"},
		"token symbol":    {func(c *Config) { c.Tokens[0].Symbol = " " }, "symbol must not be empty"},
		"token decimals":  {func(c *Config) { c.Tokens[0].Decimals = 77 }, "decimals"},
		"duplicate token": {func(c *Config) { c.Tokens = append(c.Tokens, c.Tokens[0]) }, "duplicate address"},
	}
	if err := ValidateConfig(base()); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
	for name, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		err := ValidateConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", name, tc.want, err)
		}
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}
