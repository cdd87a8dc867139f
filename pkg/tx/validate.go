package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs           = errors.New("transaction has no inputs")
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrZeroOutput         = errors.New("output value is zero")
	ErrMissingPubKey      = errors.New("input missing public key")
	ErrMissingSig         = errors.New("input missing signature")
	ErrInvalidSig         = errors.New("invalid signature")
	ErrSingleNoOutput     = errors.New("single-output signature with no corresponding output")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptDataTooLarge = errors.New("script data too large")
)

// Validate checks transaction structure and basic rules.
// This does NOT check UTXO existence (that requires the UTXO set).
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), config.MaxTxInputs)
	}
	if len(tx.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), config.MaxTxOutputs)
	}

	// Check for duplicate inputs.
	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	// Validate inputs have signatures and public keys.
	// Coinbase inputs (zero outpoint) are exempt.
	for i, in := range tx.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		if len(in.PubKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
		}
		if len(in.Signature) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
	}

	// Validate outputs. Checksum outputs may carry zero value (they only
	// commit data); every other output must move value.
	var totalOutput uint64
	for i, out := range tx.Outputs {
		if out.Value == 0 && !out.Script.IsChecksumData() {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if len(out.Script.Data) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptDataTooLarge, len(out.Script.Data), config.MaxScriptData)
		}
		if totalOutput > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value
	}

	return nil
}

// VerifySignatures checks that every non-coinbase input signature is valid
// against its declared hash type.
func (tx *Transaction) VerifySignatures() error {
	for i := range tx.Inputs {
		if tx.Inputs[i].PrevOut.IsZero() {
			continue // Coinbase input.
		}
		if err := tx.VerifyInput(i); err != nil {
			return err
		}
	}
	return nil
}

// VerifyInput verifies the signature on a single input.
func (tx *Transaction) VerifyInput(inputIndex int) error {
	in := tx.Inputs[inputIndex]
	hashType := in.HashType.Normalize()
	if hashType == SigHashSingle && inputIndex >= len(tx.Outputs) {
		return fmt.Errorf("input %d: %w", inputIndex, ErrSingleNoOutput)
	}
	hash := tx.SignatureHash(inputIndex, hashType)
	if !crypto.VerifySignature(hash[:], in.Signature, in.PubKey) {
		return fmt.Errorf("input %d: %w", inputIndex, ErrInvalidSig)
	}
	return nil
}
