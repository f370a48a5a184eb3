package ton

import (
	"errors"
	"strings"

	"github.com/tonkeeper/tongo/ton"
)

var ErrInvalidAddress = errors.New("invalid TON address")

// ValidateAddress checks if the TON address parses in raw or user-friendly form
func ValidateAddress(address string) bool {
	_, err := NormalizeAddress(address)
	return err == nil
}

// NormalizeAddress converts any address format to raw (workchain:hex)
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", ErrInvalidAddress
	}
	acc, err := ton.ParseAccountID(address)
	if err != nil {
		return "", ErrInvalidAddress
	}
	return acc.ToRaw(), nil
}

// FriendlyAddress renders an address in bounceable URL-safe form for display
func FriendlyAddress(address string, network Network) string {
	acc, err := ton.ParseAccountID(address)
	if err != nil {
		return address
	}
	return acc.ToHuman(true, network == NetworkTestnet)
}
