package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  issuer: " peerlend "
  audience:
    - " lendingd "
    - " "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.LedgerConfig != "config.toml" {
		t.Fatalf("unexpected ledger config: %q", cfg.LedgerConfig)
	}
	if cfg.Auth.Issuer != "peerlend" || cfg.Auth.SecretEnv != "LENDINGD_JWT_SECRET" {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
	if len(cfg.Auth.Audience) != 1 {
		t.Fatalf("expected 1 trimmed audience, got %d", len(cfg.Auth.Audience))
	}
	if cfg.Journal.Driver != "sqlite" || cfg.Journal.DSN != "lendingd-journal.db" {
		t.Fatalf("unexpected journal defaults: %+v", cfg.Journal)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
	if cfg.TLS.Enabled() {
		t.Fatalf("tls should be disabled")
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"missing issuer": {`
tls: {allow_insecure: true}
`, "issuer is required"},
		"tls pair": {`
tls: {cert: "server.crt"}
auth: {issuer: peerlend}
`, "cert and key"},
		"tls required": {`
auth: {issuer: peerlend}
`, "allow_insecure"},
		"journal driver": {`
tls: {allow_insecure: true}
auth: {issuer: peerlend}
journal: {driver: mysql}
`, "unknown driver"},
		"postgres dsn": {`
tls: {allow_insecure: true}
auth: {issuer: peerlend}
journal: {driver: postgres}
`, "dsn is required"},
		"log level": {`
tls: {allow_insecure: true}
auth: {issuer: peerlend}
log: {level: loud}
`, "unknown level"},
		"unknown field": {`
tls: {allow_insecure: true}
auth: {issuer: peerlend, api_tokens: [x]}
`, "api_tokens"},
	}
	for name, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", name, tc.want, err)
		}
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	cfg := Config{Auth: AuthConfig{SecretEnv: "LENDINGD_TEST_SECRET"}}
	t.Setenv("LENDINGD_TEST_SECRET", "")
	if _, err := cfg.Secret(); err == nil {
		t.Fatalf("expected missing secret error")
	}
	t.Setenv("LENDINGD_TEST_SECRET", " s3cret ")
	secret, err := cfg.Secret()
	if err != nil || string(secret) != "s3cret" {
		t.Fatalf("unexpected secret %q (%v)", secret, err)
	}
}
