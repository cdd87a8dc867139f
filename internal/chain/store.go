package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/datosdrive/datos/internal/storage"
	"github.com/datosdrive/datos/pkg/block"
	"github.com/datosdrive/datos/pkg/types"
)

// Key prefixes.
const (
	prefixBlock  = "b/" // b/<hash> -> block JSON
	prefixHeight = "h/" // h/<height BE> -> block hash
	prefixUndo   = "r/" // r/<hash> -> undo record JSON
	keyTip       = "tip"
)

// BlockStore persists blocks, the height index, the tip pointer and
// per-block undo records.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by db.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

func blockKey(hash types.Hash) []byte {
	return append([]byte(prefixBlock), hash[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func undoKey(hash types.Hash) []byte {
	return append([]byte(prefixUndo), hash[:]...)
}

// PutBlock stores a block and indexes it by height.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("encode block %s: %w", blk.Hash(), err)
	}
	hash := blk.Hash()
	if err := bs.db.Put(blockKey(hash), data); err != nil {
		return err
	}
	return bs.db.Put(heightKey(blk.Header.Height), hash[:])
}

// GetBlock retrieves a block by hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves the block at a height on the active chain.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	raw, err := bs.db.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	var hash types.Hash
	copy(hash[:], raw)
	return bs.GetBlock(hash)
}

// DeleteHeightIndex removes the active-chain entry for a height.
func (bs *BlockStore) DeleteHeightIndex(height uint64) error {
	return bs.db.Delete(heightKey(height))
}

// HasBlock reports whether a block is stored.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// tipRecord is the persisted chain tip.
type tipRecord struct {
	Hash   types.Hash `json:"hash"`
	Height uint64     `json:"height"`
}

// SetTip records the active chain tip.
func (bs *BlockStore) SetTip(hash types.Hash, height uint64) error {
	data, err := json.Marshal(tipRecord{Hash: hash, Height: height})
	if err != nil {
		return err
	}
	return bs.db.Put([]byte(keyTip), data)
}

// GetTip returns the active chain tip. storage.ErrNotFound means the
// store is empty.
func (bs *BlockStore) GetTip() (types.Hash, uint64, error) {
	data, err := bs.db.Get([]byte(keyTip))
	if err != nil {
		return types.Hash{}, 0, err
	}
	var tip tipRecord
	if err := json.Unmarshal(data, &tip); err != nil {
		return types.Hash{}, 0, fmt.Errorf("decode tip: %w", err)
	}
	return tip.Hash, tip.Height, nil
}

// PutUndo stores the undo record for a block.
func (bs *BlockStore) PutUndo(hash types.Hash, undo *UndoRecord) error {
	data, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("encode undo %s: %w", hash, err)
	}
	return bs.db.Put(undoKey(hash), data)
}

// GetUndo retrieves the undo record for a block.
func (bs *BlockStore) GetUndo(hash types.Hash) (*UndoRecord, error) {
	data, err := bs.db.Get(undoKey(hash))
	if err != nil {
		return nil, err
	}
	var undo UndoRecord
	if err := json.Unmarshal(data, &undo); err != nil {
		return nil, fmt.Errorf("decode undo %s: %w", hash, err)
	}
	return &undo, nil
}

// DeleteUndo removes the undo record for a block.
func (bs *BlockStore) DeleteUndo(hash types.Hash) error {
	return bs.db.Delete(undoKey(hash))
}
