package config

import (
	"fmt"
	"strings"

	"peerlend/native/lending"
	"peerlend/storage"
)

// MaxTokenDecimals bounds display precision so amounts stay renderable.
var MaxTokenDecimals = uint8(36)

func ValidateConfig(c *Config) error {
	switch strings.ToLower(strings.TrimSpace(c.StorageBackend)) {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.StorageBackend)
	}
	if c.FeeBps > lending.MaxFeeBps {
		return fmt.Errorf("fees: FeeBps %d above %d", c.FeeBps, lending.MaxFeeBps)
	}
	switch strings.ToLower(strings.TrimSpace(c.KeystoreKDF)) {
	case "", "standard", "light":
	default:
		return fmt.Errorf("keystore: unknown KeystoreKDF %q", c.KeystoreKDF)
	}
	if _, err := c.Addresses(); err != nil {
		return err
	}
	tokens, err := c.BankTokens()
	if err != nil {
		return err
	}
	seenAddr := make(map[[20]byte]struct{}, len(tokens))
	seenSymbol := make(map[string]struct{}, len(tokens))
	for i, token := range tokens {
		if token.Symbol == "" {
			return fmt.Errorf("Tokens[%d]: symbol must not be empty", i)
		}
		if token.Decimals > MaxTokenDecimals {
			return fmt.Errorf("Tokens[%d]: decimals %d above %d", i, token.Decimals, MaxTokenDecimals)
		}
		if _, dup := seenAddr[token.Address]; dup {
			return fmt.Errorf("Tokens[%d]: duplicate address", i)
		}
		if _, dup := seenSymbol[token.Symbol]; dup {
			return fmt.Errorf("Tokens[%d]: duplicate symbol %s", i, token.Symbol)
		}
		seenAddr[token.Address] = struct{}{}
		seenSymbol[token.Symbol] = struct{}{}
	}
	return nil
}
