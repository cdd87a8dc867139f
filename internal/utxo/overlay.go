package utxo

import "github.com/datosdrive/datos/pkg/types"

// Overlay is a transient coin view assembled from a base view plus a set of
// unconfirmed outputs and spends. It is a snapshot: callers build it while
// holding the chain and mempool locks, then release the locks and resolve
// coins against the overlay at leisure.
type Overlay struct {
	base    View
	created map[types.Outpoint]Coin
	spent   map[types.Outpoint]bool
}

// NewOverlay creates an overlay on top of the base view.
func NewOverlay(base View) *Overlay {
	return &Overlay{
		base:    base,
		created: make(map[types.Outpoint]Coin),
		spent:   make(map[types.Outpoint]bool),
	}
}

// AddCoin records an unconfirmed output in the overlay.
func (o *Overlay) AddCoin(outpoint types.Outpoint, coin Coin) {
	o.created[outpoint] = coin
}

// MarkSpent records an outpoint consumed by an unconfirmed transaction.
func (o *Overlay) MarkSpent(outpoint types.Outpoint) {
	o.spent[outpoint] = true
}

// AccessCoin resolves an outpoint: overlay spends shadow everything,
// overlay-created coins shadow the base view.
func (o *Overlay) AccessCoin(outpoint types.Outpoint) Coin {
	if o.spent[outpoint] {
		return Coin{Spent: true}
	}
	if coin, ok := o.created[outpoint]; ok {
		return coin
	}
	return o.base.AccessCoin(outpoint)
}
