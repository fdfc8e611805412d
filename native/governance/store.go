package governance

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"

	"hedgeline/storage"
)

var registryKey = []byte("governance/registry")

// Store persists the registry snapshot in a key-value database.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store { return &Store{db: db} }

// LoadGovernance implements registryState.
func (s *Store) LoadGovernance() (*Snapshot, bool, error) {
	raw, err := s.db.Get(registryKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	snap := new(Snapshot)
	if err := rlp.DecodeBytes(raw, snap); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// SaveGovernance implements registryState.
func (s *Store) SaveGovernance(snap *Snapshot) error {
	encoded, err := rlp.EncodeToBytes(snap)
	if err != nil {
		return err
	}
	return s.db.Put(registryKey, encoded)
}
