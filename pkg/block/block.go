// Package block defines block types and merkle commitments.
package block

import (
	"encoding/binary"

	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
)

// Header contains block metadata. Proof fields live with the external
// consensus engine; the ledger only needs linkage and the merkle root.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Height     uint64     `json:"height"`
	Nonce      uint64     `json:"nonce"`
}

// SigningBytes returns the canonical header bytes.
// Format: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) | height(8) | nonce(8)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 92)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	return buf
}

// Hash computes the block header hash.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// Block is a header plus its transactions.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// New assembles a block and fills in the merkle root.
func New(prevHash types.Hash, height, timestamp uint64, txs []*tx.Transaction) *Block {
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	return &Block{
		Header: &Header{
			Version:    1,
			PrevHash:   prevHash,
			MerkleRoot: ComputeMerkleRoot(hashes),
			Timestamp:  timestamp,
			Height:     height,
		},
		Transactions: txs,
	}
}

// Hash returns the block's header hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}

// CheckMerkleRoot verifies the header commits to the transactions.
func (b *Block) CheckMerkleRoot() bool {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return ComputeMerkleRoot(hashes) == b.Header.MerkleRoot
}
