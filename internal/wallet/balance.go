package wallet

import (
	"fmt"

	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/pkg/types"
)

// GetUnconfirmedTokenBalance totals wallet-owned token value pending in
// the mempool, keyed by asset name. Outputs consumed by another pending
// transaction are excluded, so an issuance chained to its own transfer
// counts once. The first output that fails contextual validation aborts
// the whole aggregation; a partially summed balance is never returned.
// Such a failure means the pool admitted something it should not have,
// which is surfaced as a corrupt-mempool diagnostic rather than a
// routine rejection.
func (w *Wallet) GetUnconfirmedTokenBalance(validator *token.Validator) (map[string]uint64, error) {
	balances := make(map[string]uint64)

	for _, t := range w.pool.Transactions() {
		txid := t.Hash()
		for i, out := range t.Outputs {
			if !out.Script.IsPayToToken() {
				continue
			}
			if !w.IsMine(out.Script) {
				continue
			}
			op := types.Outpoint{TxID: txid, Index: uint32(i)}
			if _, respent := w.pool.SpenderOf(op); respent {
				continue
			}
			tok, err := validator.ContextualCheckToken(out.Script)
			if err != nil {
				return nil, fmt.Errorf("%w: output %s: %v", token.ErrCorruptMempool, op, err)
			}
			balances[tok.Name] += out.Value
		}
	}
	return balances, nil
}
