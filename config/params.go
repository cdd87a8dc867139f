// Package config holds protocol parameters and node configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: consensus constants that must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import "math"

// Transaction structural limits.
const (
	MaxTxInputs   = 1024
	MaxTxOutputs  = 1024
	MaxScriptData = 1024 // bytes per output script
)

// Token consensus constants. These are protocol rules: changing any of
// them is a hard fork.
const (
	// TokenIDRange bounds the identifier space assigned at issuance.
	TokenIDRange = 16

	// TokenMinConfs is the confirmation depth a token output must exceed
	// before the wallet will spend it. Eligibility requires strictly more
	// than TokenMinConfs confirmations.
	TokenMinConfs = 1

	// TokenNameMinLen and TokenNameMaxLen bound the asset name length.
	TokenNameMinLen = 3
	TokenNameMaxLen = 12

	// TokenValueMax caps the value carried by a single token output.
	TokenValueMax = uint64(math.MaxInt32)
)

// Params holds per-network consensus parameters.
type Params struct {
	// TokenActivationHeight is the first height at which token scripts
	// are valid. FindLastTokenUse never scans below it.
	TokenActivationHeight uint64

	// IssuanceCollateral is the minimum plain value an issuance
	// transaction must commit alongside the token output.
	IssuanceCollateral uint64

	// CoinbaseMaturity is the confirmation depth before coinbase
	// outputs become spendable.
	CoinbaseMaturity uint64
}

// MainnetParams returns consensus parameters for mainnet.
func MainnetParams() Params {
	return Params{
		TokenActivationHeight: 1000,
		IssuanceCollateral:    500000 * Coin,
		CoinbaseMaturity:      100,
	}
}

// TestnetParams returns consensus parameters for testnet.
func TestnetParams() Params {
	return Params{
		TokenActivationHeight: 10,
		IssuanceCollateral:    100 * Coin,
		CoinbaseMaturity:      10,
	}
}

// RegtestParams returns consensus parameters for local regression testing:
// tokens active from genesis, no collateral burden.
func RegtestParams() Params {
	return Params{
		TokenActivationHeight: 0,
		IssuanceCollateral:    0,
		CoinbaseMaturity:      1,
	}
}

// Coin is the number of base units per coin.
const Coin = 100_000_000
