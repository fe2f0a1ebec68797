// Package solana validates Solana addresses declared in strategy catalogs.
package solana

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Address errors
var (
	ErrEmptyAddress   = errors.New("empty address")
	ErrInvalidAddress = errors.New("invalid base58 address")
)

// Address is a decoded 32-byte Solana public key.
type Address [32]byte

// ParseAddress decodes a base58 public key.
func ParseAddress(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, ErrEmptyAddress
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("%w: decoded to %d bytes", ErrInvalidAddress, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}
