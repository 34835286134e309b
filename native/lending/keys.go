package lending

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PoolIDFor derives the deterministic pool identifier. An owner therefore has
// at most one pool per token pair.
func PoolIDFor(lender, loanToken, collateralToken [20]byte) PoolID {
	return PoolID(ethcrypto.Keccak256Hash(lender[:], loanToken[:], collateralToken[:]))
}

// String renders the id as 0x-prefixed hex.
func (id PoolID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParsePoolID decodes a 32-byte hex identifier with or without 0x.
func ParsePoolID(value string) (PoolID, error) {
	var id PoolID
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("lending: invalid pool id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("lending: pool id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
