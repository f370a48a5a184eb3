package ton

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NanoTON is the smallest TON unit (1 TON = 10^9 nanoTON)
	NanoTON = 1_000_000_000

	// ProofTTL is how long a TON Connect proof is valid
	ProofTTL = 15 * time.Minute

	// DefaultPayoutTimeout bounds a single payout HTTP call
	DefaultPayoutTimeout = 30 * time.Second
)

// Network represents TON network type
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// TON API endpoints
const (
	TonAPIMainnet = "https://tonapi.io/v2"
	TonAPITestnet = "https://testnet.tonapi.io/v2"
)

// ToNano converts a TON-denominated decimal to nanoTON, truncating dust.
func ToNano(amount decimal.Decimal) int64 {
	return amount.Shift(9).Truncate(0).IntPart()
}

// FromNano converts nanoTON to TON.
func FromNano(nano int64) decimal.Decimal {
	return decimal.New(nano, -9)
}
