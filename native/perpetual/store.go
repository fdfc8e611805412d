package perpetual

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"hedgeline/storage"
)

var (
	positionPrefix = []byte("perpetual/position/")
	operatorPrefix = []byte("perpetual/operator/")
	globalsKey     = []byte("perpetual/globals")
	paramsKey      = []byte("perpetual/params")
)

func positionKey(id uint64) []byte {
	key := make([]byte, len(positionPrefix)+8)
	copy(key, positionPrefix)
	binary.BigEndian.PutUint64(key[len(positionPrefix):], id)
	return key
}

func operatorKey(owner, operator ethcommon.Address) []byte {
	key := make([]byte, 0, len(operatorPrefix)+2*ethcommon.AddressLength)
	key = append(key, operatorPrefix...)
	key = append(key, owner.Bytes()...)
	return append(key, operator.Bytes()...)
}

// Store persists the ledger in a key-value database. Positions are keyed by
// big-endian id so prefix iteration yields them in id order.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store { return &Store{db: db} }

// LoadLedger implements engineState.
func (s *Store) LoadLedger() (*LedgerSnapshot, bool, error) {
	snap := new(LedgerSnapshot)
	found := false

	raw, err := s.db.Get(globalsKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, false, err
	default:
		g := new(Globals)
		if err := rlp.DecodeBytes(raw, g); err != nil {
			return nil, false, fmt.Errorf("decode globals: %w", err)
		}
		snap.Globals = g
		found = true
	}

	raw, err = s.db.Get(paramsKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, false, err
	default:
		p := new(Params)
		if err := rlp.DecodeBytes(raw, p); err != nil {
			return nil, false, fmt.Errorf("decode params: %w", err)
		}
		snap.Params = p
		found = true
	}

	var decodeErr error
	if err := s.db.Iterate(positionPrefix, func(_, value []byte) bool {
		p := new(Perpetual)
		if decodeErr = rlp.DecodeBytes(value, p); decodeErr != nil {
			return false
		}
		snap.Perpetuals = append(snap.Perpetuals, p)
		return true
	}); err != nil {
		return nil, false, err
	}
	if decodeErr != nil {
		return nil, false, fmt.Errorf("decode position: %w", decodeErr)
	}

	if err := s.db.Iterate(operatorPrefix, func(key, _ []byte) bool {
		rest := key[len(operatorPrefix):]
		if len(rest) != 2*ethcommon.AddressLength {
			return true
		}
		snap.Operators = append(snap.Operators, OperatorGrant{
			Owner:    ethcommon.BytesToAddress(rest[:ethcommon.AddressLength]),
			Operator: ethcommon.BytesToAddress(rest[ethcommon.AddressLength:]),
			Approved: true,
		})
		return true
	}); err != nil {
		return nil, false, err
	}
	return snap, found, nil
}

// CommitLedger implements engineState by writing the change set in one batch.
func (s *Store) CommitLedger(cs *ChangeSet) error {
	batch := new(storage.Batch)
	for _, p := range cs.Puts {
		encoded, err := rlp.EncodeToBytes(p)
		if err != nil {
			return fmt.Errorf("encode position %d: %w", p.ID, err)
		}
		batch.Put(positionKey(p.ID), encoded)
	}
	for _, id := range cs.Deletes {
		batch.Delete(positionKey(id))
	}
	if cs.Globals != nil {
		encoded, err := rlp.EncodeToBytes(cs.Globals)
		if err != nil {
			return fmt.Errorf("encode globals: %w", err)
		}
		batch.Put(globalsKey, encoded)
	}
	if cs.Params != nil {
		encoded, err := rlp.EncodeToBytes(cs.Params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		batch.Put(paramsKey, encoded)
	}
	for _, g := range cs.Operators {
		if g.Approved {
			batch.Put(operatorKey(g.Owner, g.Operator), []byte{1})
		} else {
			batch.Delete(operatorKey(g.Owner, g.Operator))
		}
	}
	return s.db.Write(batch)
}
