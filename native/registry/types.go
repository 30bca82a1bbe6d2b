package registry

import (
	"fmt"
	"math/big"
	"strings"
)

// InstrumentStatus represents the lifecycle states supported by the receivable
// registry engine.
type InstrumentStatus uint8

const (
	StatusPending InstrumentStatus = iota
	StatusVerified
	StatusFunded
	StatusPaid
	StatusPartiallyPaid
	StatusDefaulted
)

// Valid reports whether the status value is within the supported range.
func (s InstrumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusFunded, StatusPaid, StatusPartiallyPaid, StatusDefaulted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the instrument lifecycle. Terminal
// instruments are retained for audit and never transition again.
func (s InstrumentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusDefaulted
}

// String renders the canonical lowercase status name.
func (s InstrumentStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusFunded:
		return "funded"
	case StatusPaid:
		return "paid"
	case StatusPartiallyPaid:
		return "partially_paid"
	case StatusDefaulted:
		return "defaulted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus resolves a status from its canonical name. Matching is
// case-insensitive and tolerates surrounding whitespace.
func ParseStatus(raw string) (InstrumentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "verified":
		return StatusVerified, nil
	case "funded":
		return StatusFunded, nil
	case "paid":
		return StatusPaid, nil
	case "partially_paid", "partiallypaid":
		return StatusPartiallyPaid, nil
	case "defaulted":
		return StatusDefaulted, nil
	default:
		return 0, fmt.Errorf("registry: unknown status %q", raw)
	}
}

// Instrument captures the immutable metadata and runtime status of a single
// tokenized receivable. Monetary amounts are denominated in the smallest
// currency unit and expressed as big integers.
type Instrument struct {
	ID                 uint64
	Originator         string
	DebtorRef          string
	FaceValue          *big.Int
	DiscountedValue    *big.Int
	DiscountRateBp     uint32
	Maturity           int64
	EvidenceHash       [32]byte
	AmountPaid         *big.Int
	Status             InstrumentStatus
	VerificationFailed bool
	CreatedAt          int64
	UpdatedAt          int64
}

// Clone returns a deep copy of the instrument so callers can safely mutate the
// copy without affecting the stored instance.
func (i *Instrument) Clone() *Instrument {
	if i == nil {
		return nil
	}
	clone := *i
	clone.FaceValue = cloneBigInt(i.FaceValue)
	clone.DiscountedValue = cloneBigInt(i.DiscountedValue)
	clone.AmountPaid = cloneBigInt(i.AmountPaid)
	return &clone
}

// Outstanding returns the unpaid remainder of the face value.
func (i *Instrument) Outstanding() *big.Int {
	if i == nil {
		return big.NewInt(0)
	}
	face := cloneBigInt(i.FaceValue)
	return face.Sub(face, cloneBigInt(i.AmountPaid))
}

// Matured reports whether the instrument's maturity has passed at the supplied
// unix timestamp.
func (i *Instrument) Matured(now int64) bool {
	if i == nil {
		return false
	}
	return now > i.Maturity
}

// Totals aggregates registry-wide accounting figures. The engine updates the
// totals atomically with the per-instrument state change they derive from.
type Totals struct {
	Submitted    uint64
	Funded       uint64
	Defaulted    uint64
	FundedValue  *big.Int
	PaidValue    *big.Int
	RealizedLoss *big.Int
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return nil
	}
	clone := *t
	clone.FundedValue = cloneBigInt(t.FundedValue)
	clone.PaidValue = cloneBigInt(t.PaidValue)
	clone.RealizedLoss = cloneBigInt(t.RealizedLoss)
	return &clone
}

func newTotals() *Totals {
	return &Totals{
		FundedValue:  big.NewInt(0),
		PaidValue:    big.NewInt(0),
		RealizedLoss: big.NewInt(0),
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
