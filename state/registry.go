package state

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"recvault/native/common"
	"recvault/native/registry"
)

const (
	instrumentPrefix = "instrument/"
	evidencePrefix   = "evidence/"
	registrySeqKey   = "registry/seq"
	registryTotals   = "registry/totals"
	quotaPrefix      = "registry/quota/"
)

func instrumentKey(id uint64) string {
	// Zero-padded so lexical key order matches numeric id order.
	return fmt.Sprintf("%s%020d", instrumentPrefix, id)
}

// InstrumentPut persists the instrument record.
func (s *Store) InstrumentPut(inst *registry.Instrument) error {
	if inst == nil {
		return fmt.Errorf("state: nil instrument")
	}
	return s.putJSON(instrumentKey(inst.ID), inst)
}

// InstrumentGet loads the instrument with the given id.
func (s *Store) InstrumentGet(id uint64) (*registry.Instrument, bool) {
	var inst registry.Instrument
	ok, err := s.getJSON(instrumentKey(id), &inst)
	if err != nil || !ok {
		return nil, false
	}
	return &inst, true
}

// InstrumentIDs lists every stored instrument id in ascending order.
func (s *Store) InstrumentIDs() ([]uint64, error) {
	keys, err := s.db.Keys([]byte(instrumentPrefix))
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(keys))
	for _, key := range keys {
		raw := strings.TrimPrefix(string(key), instrumentPrefix)
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("state: malformed instrument key %q: %w", key, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// EvidenceOwner reports which instrument consumed the evidence hash.
func (s *Store) EvidenceOwner(hash [32]byte) (uint64, bool) {
	var id uint64
	ok, err := s.getJSON(evidencePrefix+hex.EncodeToString(hash[:]), &id)
	if err != nil || !ok {
		return 0, false
	}
	return id, true
}

// EvidenceConsume binds the evidence hash to the instrument id.
func (s *Store) EvidenceConsume(hash [32]byte, id uint64) error {
	return s.putJSON(evidencePrefix+hex.EncodeToString(hash[:]), id)
}

// EvidenceRelease removes the evidence binding so the hash can be consumed
// again. Used to unwind a submission whose instrument record failed to write.
func (s *Store) EvidenceRelease(hash [32]byte) error {
	return s.db.Delete([]byte(evidencePrefix + hex.EncodeToString(hash[:])))
}

// NextInstrumentID advances and returns the monotonic id sequence. The first
// id issued is 1.
func (s *Store) NextInstrumentID() (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	var seq uint64
	if _, err := s.getJSON(registrySeqKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := s.putJSON(registrySeqKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// TotalsGet loads the registry-wide aggregates; nil when never written.
func (s *Store) TotalsGet() (*registry.Totals, error) {
	var totals registry.Totals
	ok, err := s.getJSON(registryTotals, &totals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &totals, nil
}

// TotalsPut persists the registry-wide aggregates.
func (s *Store) TotalsPut(totals *registry.Totals) error {
	if totals == nil {
		return fmt.Errorf("state: nil totals")
	}
	return s.putJSON(registryTotals, totals)
}

// QuotaGet loads the originator's quota counters; missing records yield zero
// usage.
func (s *Store) QuotaGet(originator string) (common.QuotaNow, error) {
	var usage common.QuotaNow
	if _, err := s.getJSON(quotaPrefix+originator, &usage); err != nil {
		return common.QuotaNow{}, err
	}
	return usage, nil
}

// QuotaPut persists the originator's quota counters.
func (s *Store) QuotaPut(originator string, now common.QuotaNow) error {
	return s.putJSON(quotaPrefix+originator, now)
}
