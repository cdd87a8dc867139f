package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/datosdrive/datos/internal/storage"
	"github.com/datosdrive/datos/pkg/types"
)

// claimPrefix namespaces issuance claims in the database.
const claimPrefix = "tc/"

// Claim records one live issuance of a name.
type Claim struct {
	UID      uint64     `json:"uid"`
	Name     string     `json:"name"`
	OriginTx types.Hash `json:"origin_tx"`
	Height   uint64     `json:"height"`
}

// ClaimSet is the uniqueness bookkeeping: at most one live claim per
// name. It is persisted so a restart does not forget claims; the chain
// scan (FindLastTokenUse) remains the authoritative fallback. Writers
// are serialized by the chain lock, the internal mutex only guards
// concurrent readers against the connect/disconnect critical section.
type ClaimSet struct {
	mu     sync.RWMutex
	db     storage.DB
	byName map[string]Claim
}

// NewClaimSet loads existing claims from the database.
func NewClaimSet(db storage.DB) (*ClaimSet, error) {
	cs := &ClaimSet{
		db:     db,
		byName: make(map[string]Claim),
	}
	err := db.ForEach([]byte(claimPrefix), func(key, value []byte) error {
		var c Claim
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("decode claim %s: %w", key, err)
		}
		cs.byName[c.Name] = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func claimKey(name string) []byte {
	return []byte(claimPrefix + name)
}

// Get returns the live claim for a name, if any.
func (cs *ClaimSet) Get(name string) (Claim, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.byName[name]
	return c, ok
}

// Has reports whether a name is currently claimed.
func (cs *ClaimSet) Has(name string) bool {
	_, ok := cs.Get(name)
	return ok
}

// Apply records a claim. Re-applying the exact claim, same identity and
// same origin transaction, is a no-op so a replayed connect does not
// error. Any other issuance of a taken name is rejected; a forged
// issuance that copies the live (uid, name) still carries a different
// origin and does not pass.
func (cs *ClaimSet) Apply(c Claim) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if existing, ok := cs.byName[c.Name]; ok {
		if existing.UID == c.UID && existing.OriginTx == c.OriginTx {
			return nil
		}
		return fmt.Errorf("%w: %q issued in %s", ErrNameTaken, c.Name, existing.OriginTx)
	}
	value, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := cs.db.Put(claimKey(c.Name), value); err != nil {
		return fmt.Errorf("persist claim %q: %w", c.Name, err)
	}
	cs.byName[c.Name] = c
	return nil
}

// Revert releases a claim. Releasing a name that holds no claim is a
// no-op so a partially failed connect can still be unwound. A claim is
// only released by the issuance that recorded it: a disconnect whose
// origin does not match leaves the live claim in place.
func (cs *ClaimSet) Revert(uid uint64, name string, origin types.Hash) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	existing, ok := cs.byName[name]
	if !ok {
		return nil
	}
	if existing.OriginTx != origin {
		return nil
	}
	if existing.UID != uid {
		return fmt.Errorf("%w: revert uid %d but %q held by uid %d",
			ErrIdentityMismatch, uid, name, existing.UID)
	}
	if err := cs.db.Delete(claimKey(name)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("drop claim %q: %w", name, err)
	}
	delete(cs.byName, name)
	return nil
}

// Len returns the number of live claims.
func (cs *ClaimSet) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.byName)
}
