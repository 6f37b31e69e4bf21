package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// NormalizeAddress validates a wallet address and returns its canonical
// form. EVM addresses are returned in EIP-55 checksum form; base58 public
// keys (32 bytes encode to 32..44 characters) are returned unchanged.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", ErrInvalidAddress.WithDetail("empty")
	}
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		if !common.IsHexAddress(addr) {
			return "", ErrInvalidAddress.WithDetail("malformed hex address")
		}
		return common.HexToAddress(addr).Hex(), nil
	}
	if len(addr) < 32 || len(addr) > 44 {
		return "", ErrInvalidAddress.WithDetail("base58 key length %d", len(addr))
	}
	for _, c := range addr {
		if !strings.ContainsRune(base58Alphabet, c) {
			return "", ErrInvalidAddress.WithDetail("character %q outside base58 alphabet", c)
		}
	}
	return addr, nil
}
