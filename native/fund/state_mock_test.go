package fund

import (
	"fmt"
	"math/big"
	"sort"

	"recvault/native/registry"
)

type mockEngineState struct {
	funds       map[string]*Fund
	balances    map[string]*big.Int
	allocations map[string]*Allocation
	owners      map[uint64]string

	fundPutErr error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		funds:       make(map[string]*Fund),
		balances:    make(map[string]*big.Int),
		allocations: make(map[string]*Allocation),
		owners:      make(map[uint64]string),
	}
}

func (s *mockEngineState) balanceKey(fundID, principal string) string {
	return fundID + "/" + principal
}

func (s *mockEngineState) allocKey(fundID string, instrumentID uint64) string {
	return fmt.Sprintf("%s/%d", fundID, instrumentID)
}

func (s *mockEngineState) FundPut(f *Fund) error {
	if s.fundPutErr != nil {
		return s.fundPutErr
	}
	s.funds[f.ID] = f.Clone()
	return nil
}

func (s *mockEngineState) FundGet(id string) (*Fund, bool) {
	f, ok := s.funds[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

func (s *mockEngineState) FundIDs() ([]string, error) {
	ids := make([]string, 0, len(s.funds))
	for id := range s.funds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *mockEngineState) BalanceGet(fundID, principal string) (*big.Int, error) {
	bal, ok := s.balances[s.balanceKey(fundID, principal)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (s *mockEngineState) BalancePut(fundID, principal string, units *big.Int) error {
	s.balances[s.balanceKey(fundID, principal)] = new(big.Int).Set(units)
	return nil
}

func (s *mockEngineState) AllocationPut(fundID string, alloc *Allocation) error {
	s.allocations[s.allocKey(fundID, alloc.InstrumentID)] = alloc.Clone()
	return nil
}

func (s *mockEngineState) AllocationGet(fundID string, instrumentID uint64) (*Allocation, bool) {
	alloc, ok := s.allocations[s.allocKey(fundID, instrumentID)]
	if !ok {
		return nil, false
	}
	return alloc.Clone(), true
}

func (s *mockEngineState) AllocationDelete(fundID string, instrumentID uint64) error {
	delete(s.allocations, s.allocKey(fundID, instrumentID))
	return nil
}

func (s *mockEngineState) AllocationsList(fundID string) ([]*Allocation, error) {
	out := make([]*Allocation, 0)
	for key, alloc := range s.allocations {
		if key == s.allocKey(fundID, alloc.InstrumentID) {
			out = append(out, alloc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

func (s *mockEngineState) AllocationOwner(instrumentID uint64) (string, bool) {
	owner, ok := s.owners[instrumentID]
	return owner, ok
}

func (s *mockEngineState) AllocationOwnerPut(instrumentID uint64, fundID string) error {
	s.owners[instrumentID] = fundID
	return nil
}

func (s *mockEngineState) AllocationOwnerDelete(instrumentID uint64) error {
	delete(s.owners, instrumentID)
	return nil
}

// mockRegistry implements RegistryView over an in-memory instrument set.
type mockRegistry struct {
	instruments map[uint64]*registry.Instrument
	markFunded  func(id uint64) error
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{instruments: make(map[uint64]*registry.Instrument)}
}

func (m *mockRegistry) add(inst *registry.Instrument) {
	m.instruments[inst.ID] = inst
}

func (m *mockRegistry) Get(id uint64) (*registry.Instrument, error) {
	inst, ok := m.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", registry.ErrNotFound, id)
	}
	return inst.Clone(), nil
}

func (m *mockRegistry) MarkFunded(id uint64) (*registry.Instrument, error) {
	if m.markFunded != nil {
		if err := m.markFunded(id); err != nil {
			return nil, err
		}
	}
	inst, ok := m.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", registry.ErrNotFound, id)
	}
	if inst.Status != registry.StatusVerified {
		return nil, fmt.Errorf("%w: cannot fund instrument %d", registry.ErrStateConflict, id)
	}
	inst.Status = registry.StatusFunded
	return inst.Clone(), nil
}
