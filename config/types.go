package config

import (
	"fmt"
	"strings"

	"peerlend/crypto"
	"peerlend/native/bank"
	nativecommon "peerlend/native/common"
)

// TokenConfig registers one fungible token with the in-process bank.
type TokenConfig struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// Addresses are the parsed ledger identities.
type Addresses struct {
	Governance  [20]byte
	FeeReceiver [20]byte
	Custody     [20]byte
}

// Addresses parses the configured identities. An empty fee receiver stays
// zero so the engine falls back to governance; an empty custody uses
// DefaultCustody.
func (c *Config) Addresses() (Addresses, error) {
	var out Addresses
	var err error
	if out.Governance, err = crypto.ParseAddress(c.Governance); err != nil {
		return out, fmt.Errorf("Governance: %w", err)
	}
	if strings.TrimSpace(c.FeeReceiver) != "" {
		if out.FeeReceiver, err = crypto.ParseAddress(c.FeeReceiver); err != nil {
			return out, fmt.Errorf("FeeReceiver: %w", err)
		}
	}
	out.Custody = DefaultCustody()
	if strings.TrimSpace(c.Custody) != "" {
		if out.Custody, err = crypto.ParseAddress(c.Custody); err != nil {
			return out, fmt.Errorf("Custody: %w", err)
		}
	}
	return out, nil
}

// BankTokens converts the token table into bank registrations.
func (c *Config) BankTokens() ([]bank.Token, error) {
	out := make([]bank.Token, 0, len(c.Tokens))
	for i, token := range c.Tokens {
		addr, err := crypto.ParseAddress(token.Address)
		if err != nil {
			return nil, fmt.Errorf("Tokens[%d].Address: %w", i, err)
		}
		out = append(out, bank.Token{
			Address:  addr,
			Symbol:   strings.ToUpper(strings.TrimSpace(token.Symbol)),
			Decimals: token.Decimals,
		})
	}
	return out, nil
}

// Pauses returns the operator pause switches.
func (c *Config) Pauses() nativecommon.StaticPauses {
	return nativecommon.NewStaticPauses(c.PausedModules...)
}
