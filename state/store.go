// Package state implements the engines' state interfaces over a key-value
// storage.Database. Records are JSON-encoded; key layout:
//
//	instrument/<id>            registry.Instrument
//	evidence/<hex>             uint64 instrument id
//	registry/seq               uint64 id sequence
//	registry/totals            registry.Totals
//	registry/quota/<origin>    common.QuotaNow
//	fund/<id>                  fund.Fund
//	balance/<fund>/<principal> big.Int units
//	alloc/<fund>/<instrument>  fund.Allocation
//	allocowner/<instrument>    string fund id
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"recvault/storage"
)

// Store adapts a storage.Database to the registry and fund state interfaces.
type Store struct {
	db storage.Database

	seqMu sync.Mutex
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *Store) putJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

// getJSON decodes the record at key into out. It reports whether the key
// existed; decoding or storage failures surface as errors.
func (s *Store) getJSON(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func decodeJSON(key, raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("state: decode %s: %w", key, err)
	}
	return nil
}
