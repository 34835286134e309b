package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"peerlend/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FormatAddress(addr)
}

func formatPoolID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
