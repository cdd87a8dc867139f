package wallet

import (
	"errors"
	"fmt"

	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/tx"
)

// ErrScriptVerification wraps the engine reason when a freshly signed
// input fails re-verification.
var ErrScriptVerification = errors.New("script verification failed")

// SignTokenTransaction resolves every input against a snapshot of
// confirmed coins overlaid with the mempool, signs the inputs the
// wallet owns, and re-verifies the assembled transaction. The snapshot
// is taken under the pool's lock and released before any signing work.
//
// Inputs that arrive with a signature already attached are left as they
// are and only re-verified. A SINGLE-type signature is never produced
// for an input without a matching output index.
func (w *Wallet) SignTokenTransaction(t *tx.Transaction) error {
	view := w.pool.OverlayView()

	for i := range t.Inputs {
		in := &t.Inputs[i]
		if in.PrevOut.IsZero() {
			continue
		}
		coin := view.AccessCoin(in.PrevOut)
		if coin.Spent {
			return fmt.Errorf("%w: %s", token.ErrInputNotFound, in.PrevOut)
		}

		// Merge: keep partial signature data already on the input.
		if len(in.Signature) > 0 && len(in.PubKey) > 0 {
			continue
		}

		owner, ok := scriptOwner(coin.Script)
		if !ok {
			return fmt.Errorf("%w: input %d script is unspendable", ErrScriptVerification, i)
		}
		key, ok := w.KeyFor(owner)
		if !ok {
			return fmt.Errorf("%w: input %d owner %s", ErrNoKey, i, owner)
		}

		hashType := in.HashType.Normalize()
		if hashType == tx.SigHashSingle && i >= len(t.Outputs) {
			return fmt.Errorf("input %d: %w", i, tx.ErrSingleNoOutput)
		}
		if err := t.SignInput(i, key, hashType); err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
	}

	// Re-verify the assembled transaction input by input, surfacing the
	// engine reason. This also covers signatures merged from callers.
	for i := range t.Inputs {
		in := &t.Inputs[i]
		if in.PrevOut.IsZero() {
			continue
		}
		coin := view.AccessCoin(in.PrevOut)
		if coin.Spent {
			return fmt.Errorf("%w: %s", token.ErrInputNotFound, in.PrevOut)
		}
		owner, _ := scriptOwner(coin.Script)
		if crypto.AddressFromPubKey(in.PubKey) != owner {
			return fmt.Errorf("%w: input %d: key does not match output owner", ErrScriptVerification, i)
		}
		if err := t.VerifyInput(i); err != nil {
			return fmt.Errorf("%w: %v", ErrScriptVerification, err)
		}
	}
	return nil
}
