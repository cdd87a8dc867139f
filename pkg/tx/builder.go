package tx

import (
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{
		tx: &Transaction{Version: 1},
	}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput adds an output with a value and script.
func (b *Builder) AddOutput(value uint64, script types.Script) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Value: value, Script: script})
	return b
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint64) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// Sign signs every input with the provided private key using SigHashAll.
func (b *Builder) Sign(key *crypto.PrivateKey) error {
	for i := range b.tx.Inputs {
		if b.tx.Inputs[i].PrevOut.IsZero() {
			continue // Coinbase input.
		}
		if err := b.tx.SignInput(i, key, SigHashAll); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the constructed transaction. It does not validate;
// call tx.Validate() separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
