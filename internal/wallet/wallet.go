// Package wallet tracks owned outputs and builds, funds and signs
// token transactions.
package wallet

import (
	"errors"
	"sync"

	"github.com/datosdrive/datos/internal/log"
	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
	"github.com/rs/zerolog"
)

// Wallet errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAddress    = errors.New("address not in wallet")
	ErrNoKey             = errors.New("no key for input owner")
)

// ChainView is the slice of chain state the wallet reads.
type ChainView interface {
	Height() uint64
}

// PoolView is the slice of the mempool the wallet reads: pending
// transactions, spender lookups, and a coin view layered over the
// confirmed set.
type PoolView interface {
	Transactions() []*tx.Transaction
	SpenderOf(op types.Outpoint) (types.Hash, bool)
	OverlayView() *utxo.Overlay
}

// Wallet holds spending keys and an index of owned outputs. The index
// preserves insertion order so funding passes enumerate candidates
// deterministically.
type Wallet struct {
	mu sync.RWMutex

	keys  map[types.Address]*crypto.PrivateKey
	order []types.Outpoint
	owned map[types.Outpoint]*utxo.UTXO

	chain     ChainView
	pool      PoolView
	confirmed utxo.View
	log       zerolog.Logger
}

// New creates an empty wallet bound to its chain, mempool and confirmed
// coin views.
func New(chain ChainView, pool PoolView, confirmed utxo.View) *Wallet {
	return &Wallet{
		keys:      make(map[types.Address]*crypto.PrivateKey),
		owned:     make(map[types.Outpoint]*utxo.UTXO),
		chain:     chain,
		pool:      pool,
		confirmed: confirmed,
		log:       log.Wallet,
	}
}

// ImportKey adds a spending key and returns its address.
func (w *Wallet) ImportKey(key *crypto.PrivateKey) types.Address {
	addr := crypto.AddressFromPubKey(key.PublicKey())
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[addr] = key
	return addr
}

// KeyFor returns the spending key for an address.
func (w *Wallet) KeyFor(addr types.Address) (*crypto.PrivateKey, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	key, ok := w.keys[addr]
	return key, ok
}

// Addresses returns every address the wallet can spend from.
func (w *Wallet) Addresses() []types.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	addrs := make([]types.Address, 0, len(w.keys))
	for a := range w.keys {
		addrs = append(addrs, a)
	}
	return addrs
}

// IsMine reports whether the wallet owns the script's spend path.
func (w *Wallet) IsMine(script types.Script) bool {
	owner, ok := scriptOwner(script)
	if !ok {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, mine := w.keys[owner]
	return mine
}

// scriptOwner resolves the address entitled to spend a script.
func scriptOwner(script types.Script) (types.Address, bool) {
	switch {
	case script.Type == types.ScriptTypeP2PKH && len(script.Data) == len(types.Address{}):
		var addr types.Address
		copy(addr[:], script.Data)
		return addr, true
	case script.IsPayToToken():
		_, owner, ok, err := token.DecodeTokenScript(script)
		if err != nil || !ok {
			return types.Address{}, false
		}
		return owner, true
	default:
		return types.Address{}, false
	}
}

// AddUTXO records an owned output. Re-adding an outpoint keeps its
// original position.
func (w *Wallet) AddUTXO(u *utxo.UTXO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.owned[u.Outpoint]; !exists {
		w.order = append(w.order, u.Outpoint)
	}
	w.owned[u.Outpoint] = u
}

// RemoveUTXO drops an output from the index.
func (w *Wallet) RemoveUTXO(op types.Outpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.owned[op]; !exists {
		return
	}
	delete(w.owned, op)
	for i, o := range w.order {
		if o == op {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// HasUTXO reports whether the wallet tracks an outpoint.
func (w *Wallet) HasUTXO(op types.Outpoint) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.owned[op]
	return ok
}

// utxosInOrder snapshots the owned outputs in insertion order.
func (w *Wallet) utxosInOrder() []*utxo.UTXO {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*utxo.UTXO, 0, len(w.order))
	for _, op := range w.order {
		if u, ok := w.owned[op]; ok {
			out = append(out, u)
		}
	}
	return out
}

// Refresh rebuilds the owned-output index from the confirmed set's
// address index. Insertion order becomes store enumeration order.
func (w *Wallet) Refresh(store *utxo.Store) error {
	addrs := w.Addresses()

	var rebuilt []*utxo.UTXO
	for _, addr := range addrs {
		owned, err := store.GetByAddress(addr)
		if err != nil {
			return err
		}
		rebuilt = append(rebuilt, owned...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.order = w.order[:0]
	w.owned = make(map[types.Outpoint]*utxo.UTXO, len(rebuilt))
	for _, u := range rebuilt {
		w.order = append(w.order, u.Outpoint)
		w.owned[u.Outpoint] = u
	}
	return nil
}

// AbandonStale drops owned outputs that no longer resolve in the
// confirmed set. Used after a reorg so the wallet does not keep
// offering orphaned coins for funding. Outputs referenced by pending
// transactions are kept; the funding filters already skip those.
func (w *Wallet) AbandonStale() int {
	view := w.confirmed
	w.mu.Lock()
	defer w.mu.Unlock()
	dropped := 0
	kept := w.order[:0]
	for _, op := range w.order {
		coin := view.AccessCoin(op)
		if coin.Spent {
			delete(w.owned, op)
			dropped++
			continue
		}
		kept = append(kept, op)
	}
	w.order = kept
	if dropped > 0 {
		w.log.Info().Int("dropped", dropped).Msg("abandoned stale wallet outputs")
	}
	return dropped
}
