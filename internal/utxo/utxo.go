// Package utxo manages the unspent transaction output set.
package utxo

import "github.com/datosdrive/datos/pkg/types"

// UTXO represents an unspent transaction output.
type UTXO struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Value    uint64         `json:"value"`
	Script   types.Script   `json:"script"`
	Height   uint64         `json:"height"`
	Coinbase bool           `json:"coinbase"`
}

// Coin is the read-only view of a previous output, as seen by validators
// and the signer. A spent or unknown outpoint yields Spent=true.
type Coin struct {
	Spent    bool
	Value    uint64
	Script   types.Script
	Height   uint64
	Coinbase bool
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(utxo *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}

// View resolves outpoints to coins. Implementations include the confirmed
// set and transient overlays that layer mempool outputs on top of it.
type View interface {
	// AccessCoin returns the coin for an outpoint. Missing or spent
	// outpoints return a Coin with Spent=true, never an error.
	AccessCoin(outpoint types.Outpoint) Coin
}

// SetView adapts a Set to the View interface.
type SetView struct {
	Set Set
}

// AccessCoin resolves an outpoint against the underlying set.
func (v SetView) AccessCoin(outpoint types.Outpoint) Coin {
	u, err := v.Set.Get(outpoint)
	if err != nil {
		return Coin{Spent: true}
	}
	return Coin{
		Value:    u.Value,
		Script:   u.Script,
		Height:   u.Height,
		Coinbase: u.Coinbase,
	}
}
