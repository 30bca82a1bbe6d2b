package registry

import (
	"recvault/native/common"
)

type mockEngineState struct {
	instruments map[uint64]*Instrument
	evidence    map[[32]byte]uint64
	quotas      map[string]common.QuotaNow
	totals      *Totals
	seq         uint64

	putErr error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		instruments: make(map[uint64]*Instrument),
		evidence:    make(map[[32]byte]uint64),
		quotas:      make(map[string]common.QuotaNow),
	}
}

func (s *mockEngineState) InstrumentPut(i *Instrument) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.instruments[i.ID] = i.Clone()
	return nil
}

func (s *mockEngineState) InstrumentGet(id uint64) (*Instrument, bool) {
	inst, ok := s.instruments[id]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

func (s *mockEngineState) InstrumentIDs() ([]uint64, error) {
	ids := make([]uint64, 0, len(s.instruments))
	for id := range s.instruments {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *mockEngineState) EvidenceOwner(hash [32]byte) (uint64, bool) {
	id, ok := s.evidence[hash]
	return id, ok
}

func (s *mockEngineState) EvidenceConsume(hash [32]byte, id uint64) error {
	s.evidence[hash] = id
	return nil
}

func (s *mockEngineState) EvidenceRelease(hash [32]byte) error {
	delete(s.evidence, hash)
	return nil
}

func (s *mockEngineState) NextInstrumentID() (uint64, error) {
	s.seq++
	return s.seq, nil
}

func (s *mockEngineState) TotalsGet() (*Totals, error) {
	if s.totals == nil {
		return nil, nil
	}
	return s.totals.Clone(), nil
}

func (s *mockEngineState) TotalsPut(t *Totals) error {
	s.totals = t.Clone()
	return nil
}

func (s *mockEngineState) QuotaGet(originator string) (common.QuotaNow, error) {
	return s.quotas[originator], nil
}

func (s *mockEngineState) QuotaPut(originator string, now common.QuotaNow) error {
	s.quotas[originator] = now
	return nil
}
