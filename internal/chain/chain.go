// Package chain maintains the active block chain: block storage, the
// confirmed UTXO set, and the connect/disconnect cycle that drives the
// token claim bookkeeping.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/internal/log"
	"github.com/datosdrive/datos/internal/storage"
	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/pkg/block"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
	"github.com/rs/zerolog"
)

// Chain errors.
var (
	ErrOrphanBlock   = errors.New("block does not extend the current tip")
	ErrBadMerkleRoot = errors.New("merkle root does not commit to transactions")
	ErrEmptyChain    = errors.New("chain has no blocks")
	ErrSpentInput    = errors.New("block spends a missing or spent output")
)

// UndoRecord captures what a block consumed so disconnecting it can
// restore the prior UTXO state exactly.
type UndoRecord struct {
	Spent []*utxo.UTXO `json:"spent"`
}

// Chain is the active chain state. Connect and disconnect are
// serialized by its lock; the token validator's claim mutations happen
// inside that critical section, exactly once per block.
type Chain struct {
	mu sync.RWMutex

	params    config.Params
	store     *BlockStore
	utxos     *utxo.Store
	validator *token.Validator
	log       zerolog.Logger

	tipHash   types.Hash
	tipHeight uint64
	hasTip    bool
}

// New opens the chain over its backing stores. The token validator is
// attached afterward with SetTokenValidator because the validator scans
// blocks through the chain itself.
func New(params config.Params, db storage.DB, utxos *utxo.Store) (*Chain, error) {
	c := &Chain{
		params: params,
		store:  NewBlockStore(db),
		utxos:  utxos,
		log:    log.Chain,
	}
	hash, height, err := c.store.GetTip()
	switch {
	case err == nil:
		c.tipHash = hash
		c.tipHeight = height
		c.hasTip = true
	case errors.Is(err, storage.ErrNotFound):
		// Fresh store.
	default:
		return nil, fmt.Errorf("load tip: %w", err)
	}
	return c, nil
}

// SetTokenValidator attaches the token rule engine. Blocks connected
// without one skip token checks.
func (c *Chain) SetTokenValidator(v *token.Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = v
}

// Height returns the current tip height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHeight
}

// TipHash returns the current tip hash.
func (c *Chain) TipHash() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHash
}

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.store.GetBlock(hash)
}

// GetBlockByHeight retrieves the active-chain block at a height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.store.GetBlockByHeight(height)
}

// TransactionsAt returns the transactions of the active-chain block at
// a height. A missing height yields an empty slice so backward scans
// can run past pruned or pre-genesis heights.
func (c *Chain) TransactionsAt(height uint64) ([]*tx.Transaction, error) {
	blk, err := c.store.GetBlockByHeight(height)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blk.Transactions, nil
}

// Confirmations returns how deep a block at includingHeight is buried.
func (c *Chain) Confirmations(includingHeight uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasTip || includingHeight > c.tipHeight {
		return 0
	}
	return c.tipHeight - includingHeight + 1
}

// ConnectBlock validates a block against the tip, applies its UTXO
// changes and token claims, and advances the tip. The claim mutation
// happens exactly once, inside this critical section.
func (c *Chain) ConnectBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(blk)
}

func (c *Chain) connectLocked(blk *block.Block) error {
	hash := blk.Hash()
	if c.hasTip {
		if blk.Header.PrevHash != c.tipHash || blk.Header.Height != c.tipHeight+1 {
			return fmt.Errorf("%w: %s at height %d onto tip %s at %d",
				ErrOrphanBlock, hash, blk.Header.Height, c.tipHash, c.tipHeight)
		}
	} else if blk.Header.Height != 0 {
		return fmt.Errorf("%w: first block must be at height 0, got %d", ErrOrphanBlock, blk.Header.Height)
	}
	if !blk.CheckMerkleRoot() {
		return fmt.Errorf("%w: %s", ErrBadMerkleRoot, hash)
	}

	height := blk.Header.Height

	// Token rules run before any UTXO mutation so a rejection leaves
	// coin state untouched. The authoritative pass records claims; every
	// failure after that point unwinds the claims applied so far.
	var applied []*tx.Transaction
	fail := func(err error) error {
		if c.validator != nil {
			c.validator.UndoTokenIssuancesInBlock(applied)
		}
		return err
	}
	if c.validator != nil && height >= c.params.TokenActivationHeight {
		view := utxo.SetView{Set: c.utxos}
		for _, t := range blk.Transactions {
			if !t.HasTokenOutput() {
				continue
			}
			if err := c.validator.CheckToken(t, height, view, false); err != nil {
				return fail(fmt.Errorf("token check %s: %w", t.Hash(), err))
			}
			applied = append(applied, t)
		}
	}

	undo := &UndoRecord{}
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		coinbase := isCoinbase(t)
		for _, in := range t.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			prev, err := c.utxos.Get(in.PrevOut)
			if err != nil {
				return fail(fmt.Errorf("%w: %s", ErrSpentInput, in.PrevOut))
			}
			undo.Spent = append(undo.Spent, prev)
			if err := c.utxos.Delete(in.PrevOut); err != nil {
				return fail(fmt.Errorf("spend %s: %w", in.PrevOut, err))
			}
		}
		for i, out := range t.Outputs {
			u := &utxo.UTXO{
				Outpoint: types.Outpoint{TxID: txHash, Index: uint32(i)},
				Value:    out.Value,
				Script:   out.Script,
				Height:   height,
				Coinbase: coinbase,
			}
			if err := c.utxos.Put(u); err != nil {
				return fail(fmt.Errorf("create %s: %w", u.Outpoint, err))
			}
		}
	}

	if err := c.store.PutBlock(blk); err != nil {
		return fail(fmt.Errorf("store block %s: %w", hash, err))
	}
	if err := c.store.PutUndo(hash, undo); err != nil {
		return fail(fmt.Errorf("store undo %s: %w", hash, err))
	}
	if err := c.store.SetTip(hash, height); err != nil {
		return fail(fmt.Errorf("advance tip: %w", err))
	}
	c.tipHash = hash
	c.tipHeight = height
	c.hasTip = true

	c.log.Info().
		Str("hash", hash.String()).
		Uint64("height", height).
		Int("txs", len(blk.Transactions)).
		Msg("block connected")
	return nil
}

// DisconnectBlock removes the tip block, restores the UTXOs it spent,
// and releases the token claims it recorded. It returns the
// disconnected block so callers can requeue its transactions.
func (c *Chain) DisconnectBlock() (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Chain) disconnectLocked() (*block.Block, error) {
	if !c.hasTip {
		return nil, ErrEmptyChain
	}
	hash := c.tipHash
	blk, err := c.store.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("load tip block %s: %w", hash, err)
	}
	undo, err := c.store.GetUndo(hash)
	if err != nil {
		return nil, fmt.Errorf("load undo %s: %w", hash, err)
	}

	for _, t := range blk.Transactions {
		txHash := t.Hash()
		for i := range t.Outputs {
			op := types.Outpoint{TxID: txHash, Index: uint32(i)}
			if err := c.utxos.Delete(op); err != nil {
				return nil, fmt.Errorf("remove %s: %w", op, err)
			}
		}
	}
	for _, u := range undo.Spent {
		if err := c.utxos.Put(u); err != nil {
			return nil, fmt.Errorf("restore %s: %w", u.Outpoint, err)
		}
	}

	// Claim release is logged, never fatal: the disconnect must finish.
	if c.validator != nil {
		c.validator.UndoTokenIssuancesInBlock(blk.Transactions)
	}

	if err := c.store.DeleteUndo(hash); err != nil {
		return nil, fmt.Errorf("drop undo %s: %w", hash, err)
	}
	if err := c.store.DeleteHeightIndex(blk.Header.Height); err != nil {
		return nil, fmt.Errorf("drop height index %d: %w", blk.Header.Height, err)
	}

	if blk.Header.Height == 0 {
		c.hasTip = false
		c.tipHash = types.Hash{}
		c.tipHeight = 0
	} else {
		prev, err := c.store.GetBlock(blk.Header.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("load previous block %s: %w", blk.Header.PrevHash, err)
		}
		if err := c.store.SetTip(prev.Hash(), prev.Header.Height); err != nil {
			return nil, fmt.Errorf("rewind tip: %w", err)
		}
		c.tipHash = prev.Hash()
		c.tipHeight = prev.Header.Height
	}

	c.log.Info().
		Str("hash", hash.String()).
		Uint64("height", blk.Header.Height).
		Msg("block disconnected")
	return blk, nil
}

// isCoinbase reports whether every input references the zero outpoint.
func isCoinbase(t *tx.Transaction) bool {
	if len(t.Inputs) == 0 {
		return false
	}
	for _, in := range t.Inputs {
		if !in.PrevOut.IsZero() {
			return false
		}
	}
	return true
}
