// Package crypto provides hashing and signature primitives for datos.
package crypto

import (
	"github.com/datosdrive/datos/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// Hash160 computes a 160-bit digest: the first 20 bytes of BLAKE3-256.
// Used for addresses and checksum commitments.
func Hash160(data []byte) [20]byte {
	h := Hash(data)
	var d [20]byte
	copy(d[:], h[:20])
	return d
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	return types.Address(Hash160(pubKey))
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
