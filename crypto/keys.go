package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressHRP is the human-readable part used when rendering ledger addresses.
const AddressHRP = "plend"

var errEmptyAddress = errors.New("crypto: empty address")

// FormatAddress renders a 20-byte account or token identifier as bech32.
func FormatAddress(addr [20]byte) string {
	conv, err := bech32.ConvertBits(addr[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// HexAddress renders addr as an EIP-55 checksummed hex string.
func HexAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

// ParseAddress accepts either a bech32 address carrying AddressHRP or a
// 0x-prefixed hex address.
func ParseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, errEmptyAddress
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return out, fmt.Errorf("crypto: invalid hex address %q", value)
		}
		return [20]byte(common.HexToAddress(trimmed)), nil
	}
	prefix, decoded, err := bech32.Decode(strings.ToLower(trimmed))
	if err != nil {
		return out, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressHRP {
		return out, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != len(out) {
		return out, fmt.Errorf("crypto: address must be 20 bytes, got %d", len(conv))
	}
	copy(out[:], conv)
	return out, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the ledger identity controlled by the key.
func (k *PublicKey) Address() [20]byte {
	return [20]byte(crypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
