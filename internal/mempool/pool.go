// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
	ErrMissingInput  = errors.New("transaction input not found")
)

// entry wraps a transaction with its fee and admission order.
type entry struct {
	tx      *tx.Transaction
	txHash  types.Hash
	fee     uint64
	feeRate float64 // fee per byte of SigningBytes.
	seq     uint64  // admission order, for deterministic iteration.
}

// Pool holds unconfirmed transactions. Beyond the usual double-spend
// index it keeps a token-name index so concurrent issuances of one
// name cannot coexist in flight.
type Pool struct {
	mu         sync.RWMutex
	txs        map[types.Hash]*entry
	spends     map[types.Outpoint]types.Hash // outpoint -> spending tx
	names      map[string]types.Hash         // token name -> latest holder
	seq        uint64
	maxSize    int
	minFeeRate uint64

	view      utxo.View // confirmed coins
	validator *token.Validator
	heightFn  func() uint64
}

// New creates a mempool over the confirmed coin view.
func New(view utxo.View, validator *token.Validator, heightFn func() uint64, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:       make(map[types.Hash]*entry),
		spends:    make(map[types.Outpoint]types.Hash),
		names:     make(map[string]types.Hash),
		maxSize:   maxSize,
		view:      view,
		validator: validator,
		heightFn:  heightFn,
	}
}

// SetMinFeeRate sets the minimum fee rate in base units per byte.
func (p *Pool) SetMinFeeRate(rate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

// TokenNameHeld reports which pending transaction currently holds a
// token name, if any.
func (p *Pool) TokenNameHeld(name string) (types.Hash, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.names[name]
	return h, ok
}

// OverlayView returns a snapshot view layering every pending output and
// spend over the confirmed set. Callers use it without holding the pool
// lock; it does not observe later pool mutations.
func (p *Pool) OverlayView() *utxo.Overlay {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.overlayLocked()
}

func (p *Pool) overlayLocked() *utxo.Overlay {
	ov := utxo.NewOverlay(p.view)
	height := p.heightFn()
	for txHash, e := range p.txs {
		for i, out := range e.tx.Outputs {
			ov.AddCoin(types.Outpoint{TxID: txHash, Index: uint32(i)}, utxo.Coin{
				Value:  out.Value,
				Script: out.Script,
				Height: height + 1,
			})
		}
	}
	for op := range p.spends {
		ov.MarkSpent(op)
	}
	return ov
}

// Add validates and admits a transaction, returning its fee.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := transaction.Hash()
	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	if err := transaction.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		if spender, exists := p.spends[in.PrevOut]; exists {
			return 0, fmt.Errorf("%w: input %s already spent by %s", ErrConflict, in.PrevOut, spender)
		}
	}

	// Resolve every input against confirmed coins plus pending outputs,
	// checking that the presented key actually owns each coin.
	ov := p.overlayLocked()
	var inValue uint64
	for i, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		coin := ov.AccessCoin(in.PrevOut)
		if coin.Spent {
			return 0, fmt.Errorf("%w: %s", ErrMissingInput, in.PrevOut)
		}
		owner, ok := scriptOwner(coin.Script)
		if !ok {
			return 0, fmt.Errorf("%w: input %d spends unspendable script", ErrValidation, i)
		}
		if crypto.AddressFromPubKey(in.PubKey) != owner {
			return 0, fmt.Errorf("%w: input %d key does not own %s", ErrValidation, i, in.PrevOut)
		}
		inValue += coin.Value
	}
	if err := transaction.VerifySignatures(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	outValue, err := transaction.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if outValue > inValue {
		return 0, fmt.Errorf("%w: outputs %d exceed inputs %d", ErrValidation, outValue, inValue)
	}
	fee := inValue - outValue

	tokenNames, err := p.checkTokenLocked(transaction, txHash, ov)
	if err != nil {
		return 0, err
	}

	sigBytes := len(transaction.SigningBytes())
	var feeRate float64
	if sigBytes > 0 {
		feeRate = float64(fee) / float64(sigBytes)
	}
	if p.minFeeRate > 0 && fee < p.minFeeRate*uint64(sigBytes) {
		return 0, fmt.Errorf("%w: got %d, need %d", ErrFeeTooLow, fee, p.minFeeRate*uint64(sigBytes))
	}

	if len(p.txs) >= p.maxSize {
		lowestHash, lowestRate := p.findLowestFeeRate()
		if feeRate <= lowestRate {
			return 0, ErrPoolFull
		}
		p.removeLocked(lowestHash)
	}

	p.seq++
	p.txs[txHash] = &entry{
		tx:      transaction,
		txHash:  txHash,
		fee:     fee,
		feeRate: feeRate,
		seq:     p.seq,
	}
	for _, in := range transaction.Inputs {
		if !in.PrevOut.IsZero() {
			p.spends[in.PrevOut] = txHash
		}
	}
	for _, name := range tokenNames {
		p.names[name] = txHash
	}

	return fee, nil
}

// checkTokenLocked runs the token admission rules and returns the names
// the transaction touches. A name already held in the pool is allowed
// only when the candidate chains onto the holder by spending one of its
// outputs; unrelated operations on the same name are rejected.
func (p *Pool) checkTokenLocked(transaction *tx.Transaction, txHash types.Hash, ov *utxo.Overlay) ([]string, error) {
	if p.validator == nil || !transaction.HasTokenOutput() {
		return nil, nil
	}

	var names []string
	hasIssuance := false
	for _, out := range transaction.Outputs {
		if !out.Script.IsPayToToken() {
			continue
		}
		tok, err := p.validator.ContextualCheckToken(out.Script)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if tok.IsIssuance() {
			hasIssuance = true
		}
		if holder, held := p.names[tok.Name]; held && holder != txHash && !spendsFrom(transaction, holder) {
			return nil, fmt.Errorf("%w: token %q pending in %s", ErrConflict, tok.Name, holder)
		}
		names = append(names, tok.Name)
	}

	if hasIssuance {
		if err := p.validator.CheckTokenIssuance(transaction, p.heightFn()+1, true); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	// Identity continuity for transfers. The maturity rule is enforced
	// at block connection, not here, so chains onto pending outputs are
	// admissible.
	if err := p.validator.CheckTokenInputs(transaction, ov); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return names, nil
}

// scriptOwner resolves the address entitled to spend an output script.
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
		// Checksum outputs commit data and are never spendable.
		return types.Address{}, false
	}
}

// spendsFrom reports whether the transaction spends any output of the
// given transaction.
func spendsFrom(transaction *tx.Transaction, from types.Hash) bool {
	for _, in := range transaction.Inputs {
		if in.PrevOut.TxID == from {
			return true
		}
	}
	return false
}

// Remove removes a transaction by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	for _, in := range e.tx.Inputs {
		if !in.PrevOut.IsZero() {
			delete(p.spends, in.PrevOut)
		}
	}
	for name, holder := range p.names {
		if holder == txHash {
			delete(p.names, name)
		}
	}
	delete(p.txs, txHash)
}

// RemoveConfirmed removes all transactions included in a block.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction, or nil.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// SpenderOf reports which pending transaction spends an outpoint.
func (p *Pool) SpenderOf(op types.Outpoint) (types.Hash, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.spends[op]
	return h, ok
}

// Count returns the number of pending transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Transactions returns pending transactions in admission order.
func (p *Pool) Transactions() []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	result := make([]*tx.Transaction, len(entries))
	for i, e := range entries {
		result[i] = e.tx
	}
	return result
}

// findLowestFeeRate returns the lowest fee-rate entry. Caller holds p.mu.
func (p *Pool) findLowestFeeRate() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := math.MaxFloat64
	for h, e := range p.txs {
		if e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowestHash = h
		}
	}
	return lowestHash, lowestRate
}

// SelectForBlock returns pending transactions ordered by fee rate,
// highest first, up to limit.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].feeRate > entries[j].feeRate })

	if limit > len(entries) || limit <= 0 {
		limit = len(entries)
	}
	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].tx
	}
	return result
}
