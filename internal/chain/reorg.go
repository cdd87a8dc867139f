package chain

import (
	"errors"
	"fmt"

	"github.com/datosdrive/datos/pkg/block"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
)

// ErrBadBranch rejects a replacement branch that does not attach to the
// chain or fails validation part-way through.
var ErrBadBranch = errors.New("replacement branch is invalid")

// Reorg switches the active chain to a replacement branch: blocks above
// the branch's fork point are disconnected in tip order, then the new
// blocks are connected in ascending order. Disconnected transactions
// that did not make it into the new branch are returned so the caller
// can offer them back to the mempool. Token claims are released and
// re-recorded through the ordinary disconnect and connect paths.
func (c *Chain) Reorg(branch []*block.Block) ([]*tx.Transaction, error) {
	if len(branch) == 0 {
		return nil, fmt.Errorf("%w: empty branch", ErrBadBranch)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	forkHeight := branch[0].Header.Height

	var orphaned []*tx.Transaction
	for c.hasTip && c.tipHeight >= forkHeight {
		blk, err := c.disconnectLocked()
		if err != nil {
			return nil, fmt.Errorf("disconnect during reorg: %w", err)
		}
		orphaned = append(orphaned, blk.Transactions...)
	}

	for _, blk := range branch {
		if err := c.connectLocked(blk); err != nil {
			return nil, fmt.Errorf("%w: connect %s: %v", ErrBadBranch, blk.Hash(), err)
		}
	}

	// Drop orphaned transactions that the new branch confirmed anyway.
	confirmed := make(map[types.Hash]struct{})
	for _, blk := range branch {
		for _, t := range blk.Transactions {
			confirmed[t.Hash()] = struct{}{}
		}
	}
	kept := orphaned[:0]
	for _, t := range orphaned {
		if _, ok := confirmed[t.Hash()]; !ok {
			kept = append(kept, t)
		}
	}

	c.log.Info().
		Uint64("fork_height", forkHeight).
		Int("connected", len(branch)).
		Int("orphaned_txs", len(kept)).
		Msg("chain reorganized")
	return kept, nil
}
