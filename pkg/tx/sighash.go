package tx

import (
	"encoding/binary"

	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/types"
)

// SigHashType selects which parts of a transaction a signature commits to.
type SigHashType uint8

const (
	// SigHashAll commits to all outputs (the default; 0 is treated as ALL).
	SigHashAll SigHashType = 0x01
	// SigHashSingle commits only to the output at the same index as the
	// input being signed. A SINGLE signature is only produced when that
	// output exists.
	SigHashSingle SigHashType = 0x03
)

// Normalize maps the zero value to SigHashAll.
func (ht SigHashType) Normalize() SigHashType {
	if ht == 0 {
		return SigHashAll
	}
	return ht
}

// SignatureHash computes the digest an input signature commits to.
// Format: version(4) | inputIndex(4) | [prevout(36)]... | hashType(1) |
// committed outputs | locktime(8).
//
// For SigHashSingle with no corresponding output the digest is still
// well-defined (no outputs committed), but callers must not produce a
// signature in that case; VerifyInput enforces the same rule.
func (tx *Transaction) SignatureHash(inputIndex int, hashType SigHashType) types.Hash {
	hashType = hashType.Normalize()

	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(inputIndex))

	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = append(buf, byte(hashType))

	switch hashType {
	case SigHashSingle:
		if inputIndex < len(tx.Outputs) {
			buf = appendOutput(buf, tx.Outputs[inputIndex])
		}
	default: // SigHashAll
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
		for _, out := range tx.Outputs {
			buf = appendOutput(buf, out)
		}
	}

	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)

	return crypto.Hash(buf)
}

// SignInput signs the input at the given index with the key and hash type,
// attaching the signature and public key to the input.
func (tx *Transaction) SignInput(inputIndex int, key *crypto.PrivateKey, hashType SigHashType) error {
	hash := tx.SignatureHash(inputIndex, hashType)
	sig, err := key.Sign(hash[:])
	if err != nil {
		return err
	}
	tx.Inputs[inputIndex].Signature = sig
	tx.Inputs[inputIndex].PubKey = key.PublicKey()
	tx.Inputs[inputIndex].HashType = hashType.Normalize()
	return nil
}
