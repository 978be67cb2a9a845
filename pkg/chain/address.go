// Package chain validates and normalizes EVM addresses, transaction hashes and ether amounts.
package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress  = errors.New("address must be 0x followed by 40 hex characters")
	ErrBadChecksum     = errors.New("address checksum does not match")
	ErrInvalidTxHash   = errors.New("transaction hash must be 0x followed by 64 hex characters")
	ErrInvalidEthValue = errors.New("amount must be a positive decimal")
)

// NormalizeAddress validates an address and returns it lower-cased.
// Mixed-case input must carry a valid EIP-55 checksum.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if !isHexWithPrefix(addr, 40) {
		return "", ErrInvalidAddress
	}
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if Checksum(addr) != "0x"+body {
			return "", ErrBadChecksum
		}
	}
	return "0x" + strings.ToLower(body), nil
}

// Checksum returns the EIP-55 mixed-case form of addr. addr must already be well formed.
func Checksum(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	digest := hex.EncodeToString(hasher.Sum(nil))

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// SameAddress compares two addresses ignoring case.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeTxHash validates a transaction hash and returns it lower-cased.
func NormalizeTxHash(raw string) (string, error) {
	hash := strings.TrimSpace(raw)
	if !isHexWithPrefix(hash, 64) {
		return "", ErrInvalidTxHash
	}
	return strings.ToLower(hash), nil
}

// ParseEther parses a positive decimal ether amount.
func ParseEther(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !value.IsPositive() {
		return decimal.Zero, ErrInvalidEthValue
	}
	return value, nil
}

func isHexWithPrefix(value string, digits int) bool {
	if len(value) != digits+2 || (value[:2] != "0x" && value[:2] != "0X") {
		return false
	}
	_, err := hex.DecodeString(value[2:])
	return err == nil
}
