package token

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/internal/log"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
	"github.com/rs/zerolog"
)

// BlockSource provides transactions by height for backward scans. The
// chain package implements it.
type BlockSource interface {
	Height() uint64
	TransactionsAt(height uint64) ([]*tx.Transaction, error)
}

// PoolView is the slice of the mempool the validator needs: which
// transaction, if any, currently holds a token name.
type PoolView interface {
	TokenNameHeld(name string) (types.Hash, bool)
}

// Validator checks token-bearing transactions against the chain view
// and the uniqueness bookkeeping. It never initiates a reorg; it only
// reacts to connect and disconnect calls from the chain manager.
type Validator struct {
	params config.Params
	claims *ClaimSet
	blocks BlockSource
	log    zerolog.Logger
}

// NewValidator wires the validator to its chain view and claim set.
func NewValidator(params config.Params, claims *ClaimSet, blocks BlockSource) *Validator {
	return &Validator{
		params: params,
		claims: claims,
		blocks: blocks,
		log:    log.Token,
	}
}

// Claims exposes the uniqueness bookkeeping for callers that only read.
func (v *Validator) Claims() *ClaimSet { return v.claims }

// GenerateUID draws a fresh 64-bit identifier for an issuance. The
// identifier space is config.TokenIDRange hex digits wide.
func GenerateUID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:config.TokenIDRange/2]); err != nil {
		return 0, fmt.Errorf("draw token id: %w", err)
	}
	uid := binary.LittleEndian.Uint64(buf[:])
	if uid == 0 {
		uid = 1
	}
	return uid, nil
}

// ContextualCheckToken decodes a script and validates the decoded
// record against structural invariants. It is an error to call it on a
// script that is not a token script.
func (v *Validator) ContextualCheckToken(script types.Script) (Token, error) {
	t, _, ok, err := DecodeTokenScript(script)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, ErrNoTokenOutput
	}
	if t.Version == 0 || t.Version > CurrentVersion {
		return Token{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedScript, t.Version)
	}
	if t.UID == 0 {
		return Token{}, fmt.Errorf("%w: zero identifier", ErrMalformedScript)
	}
	return t, nil
}

// checkValue applies the token output value bounds.
func checkValue(value uint64) error {
	if value == 0 || value > config.TokenValueMax {
		return fmt.Errorf("%w: %d", ErrValueRange, value)
	}
	return nil
}

// CheckTokenMempool rejects a transaction whose token operation
// conflicts with an entry already pending for the same name. It applies
// the strict rule: any pending holder other than the transaction itself
// is a conflict. The pool's own admission path is more permissive, it
// additionally admits a transfer that spends from the pending holder,
// so this check serves callers screening transactions before handing
// them to the pool, such as relay acceptance.
func (v *Validator) CheckTokenMempool(pool PoolView, t *tx.Transaction) error {
	txid := t.Hash()
	for _, out := range t.Outputs {
		if !out.Script.IsPayToToken() {
			continue
		}
		tok, err := v.ContextualCheckToken(out.Script)
		if err != nil {
			return err
		}
		if holder, ok := pool.TokenNameHeld(tok.Name); ok && holder != txid {
			return fmt.Errorf("%w: %q pending in %s", ErrMempoolConflict, tok.Name, holder)
		}
	}
	return nil
}

// CheckTokenIssuance validates an issuance transaction. With onlyCheck
// the uniqueness bookkeeping is left untouched; the authoritative call
// at block connection passes onlyCheck=false and records the claim.
func (v *Validator) CheckTokenIssuance(t *tx.Transaction, height uint64, onlyCheck bool) error {
	txid := t.Hash()
	var collateral uint64
	issued := 0
	for _, out := range t.Outputs {
		if !out.Script.IsPayToToken() {
			if out.Script.Type == types.ScriptTypeP2PKH {
				collateral += out.Value
			}
			continue
		}
		tok, err := v.ContextualCheckToken(out.Script)
		if err != nil {
			return err
		}
		if !tok.IsIssuance() {
			continue
		}
		issued++
		if err := checkValue(out.Value); err != nil {
			return err
		}
		// The claim is keyed on the issuing transaction, not just the
		// identity, so an issuance that copies the live (uid, name) is
		// still a second claim on the name and is rejected.
		if existing, ok := v.claims.Get(tok.Name); ok && existing.OriginTx != txid {
			return fmt.Errorf("%w: %q issued in %s at height %d",
				ErrNameTaken, tok.Name, existing.OriginTx, existing.Height)
		}
		if !onlyCheck {
			if err := v.claims.Apply(Claim{
				UID:      tok.UID,
				Name:     tok.Name,
				OriginTx: txid,
				Height:   height,
			}); err != nil {
				return err
			}
		}
	}
	if issued == 0 {
		return ErrNoTokenOutput
	}
	if collateral < v.params.IssuanceCollateral {
		return fmt.Errorf("%w: issuance collateral %d below %d",
			ErrValueRange, collateral, v.params.IssuanceCollateral)
	}
	return nil
}

// CheckTokenInputs verifies that every transfer output spends an input
// that actually carries the same identity. Identity forgery, where a
// transfer claims a (uid, name) none of its inputs hold, is rejected.
func (v *Validator) CheckTokenInputs(t *tx.Transaction, view utxo.View) error {
	for _, out := range t.Outputs {
		if !out.Script.IsPayToToken() {
			continue
		}
		tok, err := v.ContextualCheckToken(out.Script)
		if err != nil {
			return err
		}
		if !tok.IsTransfer() {
			continue
		}
		if err := v.matchTransferInput(t, view, tok); err != nil {
			return err
		}
	}
	return nil
}

// matchTransferInput finds an input coin carrying the transfer's
// identity.
func (v *Validator) matchTransferInput(t *tx.Transaction, view utxo.View, want Token) error {
	sawToken := false
	for _, in := range t.Inputs {
		coin := view.AccessCoin(in.PrevOut)
		if coin.Spent {
			return fmt.Errorf("%w: %s", ErrInputNotFound, in.PrevOut)
		}
		if !coin.Script.IsPayToToken() {
			continue
		}
		// Fast path: the uid alone rules out most mismatches.
		uid, ok := GetTokenUIDFromScript(coin.Script)
		if !ok || uid != want.UID {
			continue
		}
		prev, _, ok, err := DecodeTokenScript(coin.Script)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		sawToken = true
		if prev.Equal(want) {
			return nil
		}
	}
	if sawToken {
		return fmt.Errorf("%w: no input carries (uid=%d, name=%q)", ErrIdentityMismatch, want.UID, want.Name)
	}
	return fmt.Errorf("%w: transfer of %q spends no token input", ErrIdentityMismatch, want.Name)
}

// CheckToken is the top-level dispatch combining the issuance and
// transfer paths with the minimum-confirmation rule on spent token
// outputs.
func (v *Validator) CheckToken(t *tx.Transaction, height uint64, view utxo.View, onlyCheck bool) error {
	hasIssuance := false
	hasTransfer := false
	for _, out := range t.Outputs {
		if !out.Script.IsPayToToken() {
			continue
		}
		tok, err := v.ContextualCheckToken(out.Script)
		if err != nil {
			return err
		}
		if err := checkValue(out.Value); err != nil {
			return err
		}
		switch {
		case tok.IsIssuance():
			hasIssuance = true
		case tok.IsTransfer():
			hasTransfer = true
		}
	}
	if !hasIssuance && !hasTransfer {
		return ErrNoTokenOutput
	}
	if hasIssuance {
		if err := v.CheckTokenIssuance(t, height, onlyCheck); err != nil {
			return err
		}
	}
	if hasTransfer {
		if err := v.CheckTokenInputs(t, view); err != nil {
			return err
		}
		if err := v.checkInputMaturity(t, height, view); err != nil {
			return err
		}
	}
	return nil
}

// checkInputMaturity requires every spent token output to be buried
// strictly deeper than the minimum confirmation count.
func (v *Validator) checkInputMaturity(t *tx.Transaction, height uint64, view utxo.View) error {
	for _, in := range t.Inputs {
		coin := view.AccessCoin(in.PrevOut)
		if coin.Spent || !coin.Script.IsPayToToken() {
			continue
		}
		confs := int64(height) - int64(coin.Height) + 1
		if confs <= int64(config.TokenMinConfs) {
			return fmt.Errorf("%w: %s has %d, need more than %d",
				ErrInsufficientConfs, in.PrevOut, confs, config.TokenMinConfs)
		}
	}
	return nil
}

// FindLastTokenUse scans the chain backward from lastHeight and returns
// the most recent outpoint holding the name. An issuance must find
// none; a transfer must extend the outpoint this returns.
func (v *Validator) FindLastTokenUse(name string, lastHeight uint64) (types.Outpoint, bool, error) {
	floor := v.params.TokenActivationHeight
	for h := lastHeight; h >= floor; h-- {
		txs, err := v.blocks.TransactionsAt(h)
		if err != nil {
			return types.Outpoint{}, false, fmt.Errorf("scan height %d: %w", h, err)
		}
		for _, t := range txs {
			txid := t.Hash()
			for i, out := range t.Outputs {
				if !out.Script.IsPayToToken() {
					continue
				}
				tok, _, ok, err := DecodeTokenScript(out.Script)
				if err != nil || !ok {
					continue
				}
				if tok.Name == name {
					return types.Outpoint{TxID: txid, Index: uint32(i)}, true, nil
				}
			}
		}
		if h == 0 {
			break
		}
	}
	return types.Outpoint{}, false, nil
}

// UndoTokenIssuance releases the uniqueness claim for one token. The
// origin must be the transaction that recorded the claim; a disconnect
// of some other issuance of the name leaves the live claim untouched.
func (v *Validator) UndoTokenIssuance(uid uint64, name string, origin types.Hash) error {
	return v.claims.Revert(uid, name, origin)
}

// UndoTokenIssuancesInBlock releases the claims recorded for every
// issuance in a disconnected block. Failures are logged and skipped so
// the disconnect path always completes; a leaked claim is repaired by
// the chain scan on restart.
func (v *Validator) UndoTokenIssuancesInBlock(txs []*tx.Transaction) {
	for _, t := range txs {
		txid := t.Hash()
		for _, out := range t.Outputs {
			if !out.Script.IsPayToToken() {
				continue
			}
			tok, _, ok, err := DecodeTokenScript(out.Script)
			if err != nil || !ok || !tok.IsIssuance() {
				continue
			}
			if err := v.UndoTokenIssuance(tok.UID, tok.Name, txid); err != nil {
				v.log.Error().Err(err).
					Str("name", tok.Name).
					Uint64("uid", tok.UID).
					Msg("failed to release token claim on disconnect")
			}
		}
	}
}
