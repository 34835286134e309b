package crypto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressFormatsRoundTrip(t *testing.T) {
	var addr [20]byte
	for i := range addr {
		addr[i] = byte(i + 1)
	}
	encoded := FormatAddress(addr)
	if !strings.HasPrefix(encoded, AddressHRP+"1") {
		t.Fatalf("unexpected bech32 prefix: %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if parsed != addr {
		t.Fatalf("bech32 mismatch: %x != %x", parsed, addr)
	}
	parsed, err = ParseAddress(HexAddress(addr))
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed != addr {
		t.Fatalf("hex mismatch: %x != %x", parsed, addr)
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "0x1234", "cosmos1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq", "not-an-address"} {
		if _, err := ParseAddress(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "governance.json")
	if err := SaveToKeystore(path, key, "secret", KeystoreLight); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("address mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
