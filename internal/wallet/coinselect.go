package wallet

import (
	"fmt"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/internal/utxo"
)

// eligible applies the common funding filters to one owned output. It
// returns false when the output is referenced by a pending transaction,
// no longer unspent, not actually spendable by this wallet, or not yet
// buried strictly deeper than the minimum confirmation count.
func (w *Wallet) eligible(u *utxo.UTXO) bool {
	if _, pending := w.pool.SpenderOf(u.Outpoint); pending {
		return false
	}
	if w.confirmed.AccessCoin(u.Outpoint).Spent {
		return false
	}
	if !w.IsMine(u.Script) {
		return false
	}
	confs := int64(w.chain.Height()) - int64(u.Height) + 1
	return confs > int64(config.TokenMinConfs)
}

// FundMintTransaction selects plain-value outputs covering the target.
// Candidates are visited in insertion order and selection succeeds as
// soon as the running total reaches the target; it does not hunt for a
// minimal-waste combination. A failed pass returns nothing, never a
// partial selection.
func (w *Wallet) FundMintTransaction(target uint64) ([]*utxo.UTXO, error) {
	if target == 0 {
		return nil, fmt.Errorf("target must be positive")
	}

	var selected []*utxo.UTXO
	var total uint64
	for _, u := range w.utxosInOrder() {
		if !w.eligible(u) {
			continue
		}
		// Token and checksum outputs never fund plain value.
		if u.Script.IsPayToToken() || u.Script.IsChecksumData() {
			continue
		}
		selected = append(selected, u)
		total += u.Value
		if total >= target {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, target)
}

// FundTokenTransaction selects outputs carrying the named token. The
// filter chain matches FundMintTransaction; outputs whose script does
// not decode as this token are silently skipped.
func (w *Wallet) FundTokenTransaction(name string, target uint64) ([]*utxo.UTXO, error) {
	if target == 0 {
		return nil, fmt.Errorf("target must be positive")
	}

	var selected []*utxo.UTXO
	var total uint64
	for _, u := range w.utxosInOrder() {
		if !w.eligible(u) {
			continue
		}
		tok, ok, err := token.TokenFromScript(u.Script)
		if err != nil || !ok || tok.Name != name {
			continue
		}
		selected = append(selected, u)
		total += u.Value
		if total >= target {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("%w: token %q: have %d, need %d", ErrInsufficientFunds, name, total, target)
}
