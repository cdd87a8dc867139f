package wallet

import (
	"fmt"

	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 path constants: m/44'/coin'/account'/change/index.
const (
	purposeBIP44 = bip32.FirstHardenedChild + 44
	coinTypeData = bip32.FirstHardenedChild + 3035

	// ChangeExternal derives receiving addresses, ChangeInternal change.
	ChangeExternal = 0
	ChangeInternal = 1
)

// HDKey is a BIP-32 hierarchical deterministic key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates the wallet's root key from a seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// Derive walks a sequence of child indices. Add
// bip32.FirstHardenedChild for hardened steps.
func (k *HDKey) Derive(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// DeriveAddressKey derives the key at m/44'/3035'/account'/change/index.
func (k *HDKey) DeriveAddressKey(account, change, index uint32) (*HDKey, error) {
	return k.Derive(purposeBIP44, coinTypeData, bip32.FirstHardenedChild+account, change, index)
}

// Signer converts the key into a spending key. Fails on a public-only
// key.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("cannot sign with a public-only key")
	}
	raw := k.key.Key
	// bip32 private key material carries a leading zero pad byte.
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// Address returns the payment address for this key.
func (k *HDKey) Address() types.Address {
	return crypto.AddressFromPubKey(k.key.PublicKey().Key)
}

// Neuter strips the private material for watch-only use.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}

// IsPrivate reports whether the key can sign.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}
