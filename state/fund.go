package state

import (
	"errors"
	"fmt"
	"math/big"

	"recvault/native/fund"
	"recvault/storage"
)

const (
	fundPrefix       = "fund/"
	balancePrefix    = "balance/"
	allocPrefix      = "alloc/"
	allocOwnerPrefix = "allocowner/"
)

func balanceKey(fundID, principal string) string {
	return balancePrefix + fundID + "/" + principal
}

func allocKey(fundID string, instrumentID uint64) string {
	return fmt.Sprintf("%s%s/%020d", allocPrefix, fundID, instrumentID)
}

// FundPut persists the fund record.
func (s *Store) FundPut(f *fund.Fund) error {
	if f == nil {
		return fmt.Errorf("state: nil fund")
	}
	return s.putJSON(fundPrefix+f.ID, f)
}

// FundGet loads the fund with the given id.
func (s *Store) FundGet(id string) (*fund.Fund, bool) {
	var f fund.Fund
	ok, err := s.getJSON(fundPrefix+id, &f)
	if err != nil || !ok {
		return nil, false
	}
	return &f, true
}

// FundIDs lists every stored fund id.
func (s *Store) FundIDs() ([]string, error) {
	keys, err := s.db.Keys([]byte(fundPrefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, string(key[len(fundPrefix):]))
	}
	return out, nil
}

// BalanceGet loads the principal's unit balance; missing records yield zero.
func (s *Store) BalanceGet(fundID, principal string) (*big.Int, error) {
	units := new(big.Int)
	ok, err := s.getJSON(balanceKey(fundID, principal), units)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return units, nil
}

// BalancePut persists the principal's unit balance.
func (s *Store) BalancePut(fundID, principal string, units *big.Int) error {
	if units == nil {
		units = big.NewInt(0)
	}
	return s.putJSON(balanceKey(fundID, principal), units)
}

// AllocationPut persists the fund's allocation record.
func (s *Store) AllocationPut(fundID string, alloc *fund.Allocation) error {
	if alloc == nil {
		return fmt.Errorf("state: nil allocation")
	}
	return s.putJSON(allocKey(fundID, alloc.InstrumentID), alloc)
}

// AllocationGet loads the fund's allocation against the instrument.
func (s *Store) AllocationGet(fundID string, instrumentID uint64) (*fund.Allocation, bool) {
	var alloc fund.Allocation
	ok, err := s.getJSON(allocKey(fundID, instrumentID), &alloc)
	if err != nil || !ok {
		return nil, false
	}
	return &alloc, true
}

// AllocationDelete removes the allocation record entirely. The engine uses
// this only to roll back a partially applied allocation.
func (s *Store) AllocationDelete(fundID string, instrumentID uint64) error {
	return s.db.Delete([]byte(allocKey(fundID, instrumentID)))
}

// AllocationsList returns the fund's allocations ordered by instrument id.
func (s *Store) AllocationsList(fundID string) ([]*fund.Allocation, error) {
	keys, err := s.db.Keys([]byte(allocPrefix + fundID + "/"))
	if err != nil {
		return nil, err
	}
	out := make([]*fund.Allocation, 0, len(keys))
	for _, key := range keys {
		raw, err := s.db.Get(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var alloc fund.Allocation
		if err := decodeJSON(key, raw, &alloc); err != nil {
			return nil, err
		}
		out = append(out, &alloc)
	}
	return out, nil
}

// AllocationOwner reports which fund holds the instrument, if any.
func (s *Store) AllocationOwner(instrumentID uint64) (string, bool) {
	var fundID string
	ok, err := s.getJSON(fmt.Sprintf("%s%020d", allocOwnerPrefix, instrumentID), &fundID)
	if err != nil || !ok {
		return "", false
	}
	return fundID, true
}

// AllocationOwnerPut records the instrument's owning fund in the global index.
func (s *Store) AllocationOwnerPut(instrumentID uint64, fundID string) error {
	return s.putJSON(fmt.Sprintf("%s%020d", allocOwnerPrefix, instrumentID), fundID)
}

// AllocationOwnerDelete clears the instrument's entry from the owner index.
func (s *Store) AllocationOwnerDelete(instrumentID uint64) error {
	return s.db.Delete([]byte(fmt.Sprintf("%s%020d", allocOwnerPrefix, instrumentID)))
}
