package registry

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"recvault/core/events"
	"recvault/native/common"
)

const (
	// ModuleName identifies the registry for pause guards and metrics.
	ModuleName = "registry"

	basisPointDenominator = 10_000
	maxDiscountRateBp     = 5_000
)

// EngineState abstracts the persistence backend used by the registry engine.
// Implementations must make each Put visible to subsequent Gets before the
// call returns; the engine layers its own per-instrument serialization on top.
type EngineState interface {
	InstrumentPut(*Instrument) error
	InstrumentGet(id uint64) (*Instrument, bool)
	InstrumentIDs() ([]uint64, error)
	EvidenceOwner(hash [32]byte) (uint64, bool)
	EvidenceConsume(hash [32]byte, id uint64) error
	EvidenceRelease(hash [32]byte) error
	NextInstrumentID() (uint64, error)
	TotalsGet() (*Totals, error)
	TotalsPut(*Totals) error
	QuotaGet(originator string) (common.QuotaNow, error)
	QuotaPut(originator string, now common.QuotaNow) error
}

// Engine owns the receivable lifecycle state machine. It is the single writer
// of instrument state; the fund ledger only reads instruments apart from the
// funded marker it sets through MarkFunded.
type Engine struct {
	state   EngineState
	emitter events.Emitter
	pauses  common.PauseView
	quota   common.Quota
	nowFn   func() int64

	submitMu sync.Mutex
	locks    sync.Map // instrument id -> *sync.Mutex
	totalsMu sync.Mutex
}

// NewEngine creates a registry engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetQuota configures the per-originator submission quota. A zero quota
// disables enforcement.
func (e *Engine) SetQuota(q common.Quota) { e.quota = q }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) lockFor(id uint64) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// DiscountValue computes the discounted value of a face amount using integer
// arithmetic with truncation: floor(face * (10000 - rateBp) / 10000).
func DiscountValue(face *big.Int, rateBp uint32) *big.Int {
	if face == nil || face.Sign() <= 0 {
		return big.NewInt(0)
	}
	retained := big.NewInt(basisPointDenominator - int64(rateBp))
	value := new(big.Int).Mul(face, retained)
	return value.Quo(value, big.NewInt(basisPointDenominator))
}

// Submit validates and persists a new receivable in Pending state, consuming
// the evidence hash so the same source document can never be tokenized twice.
func (e *Engine) Submit(originator string, faceValue *big.Int, maturity int64, debtorRef string, evidenceHash [32]byte, discountRateBp uint32) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	originator = strings.TrimSpace(originator)
	if originator == "" {
		return nil, fmt.Errorf("%w: originator required", ErrValidation)
	}
	debtorRef = strings.TrimSpace(debtorRef)
	if debtorRef == "" {
		return nil, fmt.Errorf("%w: debtor reference required", ErrValidation)
	}
	if faceValue == nil || faceValue.Sign() <= 0 {
		return nil, fmt.Errorf("%w: face value must be positive", ErrValidation)
	}
	if discountRateBp == 0 || discountRateBp > maxDiscountRateBp {
		return nil, fmt.Errorf("%w: discount rate %d bp outside (0, %d]", ErrValidation, discountRateBp, maxDiscountRateBp)
	}
	if evidenceHash == ([32]byte{}) {
		return nil, fmt.Errorf("%w: evidence hash required", ErrValidation)
	}
	discounted := DiscountValue(faceValue, discountRateBp)
	if discounted.Sign() == 0 {
		return nil, fmt.Errorf("%w: face value %s too small for discount rate %d bp", ErrValidation, faceValue, discountRateBp)
	}
	now := e.now()
	if maturity <= now {
		return nil, fmt.Errorf("%w: maturity must be in the future", ErrValidation)
	}

	// Serialize submissions: id assignment and evidence consumption must be
	// atomic with respect to concurrent submitters.
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if owner, used := e.state.EvidenceOwner(evidenceHash); used {
		return nil, fmt.Errorf("%w: evidence hash already consumed by instrument %d", ErrValidation, owner)
	}
	if e.quota.Enabled() {
		epochSeconds := int64(e.quota.EpochSeconds)
		if epochSeconds <= 0 {
			epochSeconds = 60
		}
		usage, err := e.state.QuotaGet(originator)
		if err != nil {
			return nil, err
		}
		face := faceValue.Uint64()
		if !faceValue.IsUint64() {
			face = math.MaxUint64
		}
		next, err := common.CheckQuota(e.quota, uint64(now/epochSeconds), usage, 1, face)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}
		if err := e.state.QuotaPut(originator, next); err != nil {
			return nil, err
		}
	}

	id, err := e.state.NextInstrumentID()
	if err != nil {
		return nil, err
	}
	inst := &Instrument{
		ID:              id,
		Originator:      originator,
		DebtorRef:       debtorRef,
		FaceValue:       cloneBigInt(faceValue),
		DiscountedValue: discounted,
		DiscountRateBp:  discountRateBp,
		Maturity:        maturity,
		EvidenceHash:    evidenceHash,
		AmountPaid:      big.NewInt(0),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.state.EvidenceConsume(evidenceHash, id); err != nil {
		return nil, err
	}
	if err := e.state.InstrumentPut(inst); err != nil {
		// Release the hash so a later resubmission is not locked out by an
		// instrument that never existed.
		_ = e.state.EvidenceRelease(evidenceHash)
		return nil, err
	}
	if err := e.updateTotals(func(t *Totals) { t.Submitted++ }); err != nil {
		return nil, err
	}
	e.emit(NewSubmittedEvent(inst))
	return inst.Clone(), nil
}

// RecordVerification applies an authenticity verdict to a pending instrument.
// A successful verdict moves it to Verified; a failed verdict leaves it in
// Pending as a permanent dead end so the submission history stays auditable.
func (e *Engine) RecordVerification(id uint64, isValid bool) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.loadInstrument(id)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot verify instrument %d in status %s", ErrStateConflict, id, inst.Status)
	}
	if inst.VerificationFailed {
		return nil, fmt.Errorf("%w: instrument %d failed verification and is closed", ErrStateConflict, id)
	}
	now := e.now()
	if now >= inst.Maturity {
		return nil, fmt.Errorf("%w: instrument %d matured before verification", ErrStateConflict, id)
	}
	if !isValid {
		inst.VerificationFailed = true
		inst.UpdatedAt = now
		if err := e.state.InstrumentPut(inst); err != nil {
			return nil, err
		}
		e.emit(NewVerificationFailedEvent(inst))
		return inst.Clone(), nil
	}
	inst.Status = StatusVerified
	inst.UpdatedAt = now
	if err := e.state.InstrumentPut(inst); err != nil {
		return nil, err
	}
	e.emit(NewVerifiedEvent(inst))
	return inst.Clone(), nil
}

// MarkFunded records that a fund has allocated capital against the instrument.
// The call is deliberately not idempotent: it moves fund-wide funded totals,
// so a second invocation must fail rather than silently succeed.
func (e *Engine) MarkFunded(id uint64) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.loadInstrument(id)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusVerified {
		return nil, fmt.Errorf("%w: cannot fund instrument %d in status %s", ErrStateConflict, id, inst.Status)
	}
	inst.Status = StatusFunded
	inst.UpdatedAt = e.now()
	if err := e.state.InstrumentPut(inst); err != nil {
		return nil, err
	}
	if err := e.updateTotals(func(t *Totals) {
		t.Funded++
		t.FundedValue.Add(t.FundedValue, inst.FaceValue)
	}); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(inst))
	return inst.Clone(), nil
}

// RecordPayment applies a repayment to a funded instrument. Overpayment is
// rejected rather than clamped; partial payments accumulate until the face
// value is covered, at which point the instrument becomes Paid.
func (e *Engine) RecordPayment(id uint64, amount *big.Int) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.loadInstrument(id)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusFunded && inst.Status != StatusPartiallyPaid {
		return nil, fmt.Errorf("%w: cannot record payment for instrument %d in status %s", ErrStateConflict, id, inst.Status)
	}
	paid := new(big.Int).Add(inst.AmountPaid, amount)
	if paid.Cmp(inst.FaceValue) > 0 {
		return nil, fmt.Errorf("%w: payment of %s would exceed face value %s (already paid %s)", ErrValidation, amount, inst.FaceValue, inst.AmountPaid)
	}
	inst.AmountPaid = paid
	if paid.Cmp(inst.FaceValue) == 0 {
		inst.Status = StatusPaid
	} else {
		inst.Status = StatusPartiallyPaid
	}
	inst.UpdatedAt = e.now()
	if err := e.state.InstrumentPut(inst); err != nil {
		return nil, err
	}
	if err := e.updateTotals(func(t *Totals) {
		t.PaidValue.Add(t.PaidValue, amount)
	}); err != nil {
		return nil, err
	}
	e.emit(NewPaymentRecordedEvent(inst, amount))
	if inst.Status == StatusPaid {
		e.emit(NewPaidEvent(inst))
	}
	return inst.Clone(), nil
}

// MarkDefaulted moves a matured, not fully repaid instrument into the terminal
// Defaulted state and records the unpaid remainder as a realized loss figure.
func (e *Engine) MarkDefaulted(id uint64) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.loadInstrument(id)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return nil, fmt.Errorf("%w: instrument %d already terminal in status %s", ErrStateConflict, id, inst.Status)
	}
	now := e.now()
	if now <= inst.Maturity {
		return nil, fmt.Errorf("%w: instrument %d has not matured", ErrStateConflict, id)
	}
	if inst.AmountPaid.Cmp(inst.FaceValue) >= 0 {
		return nil, fmt.Errorf("%w: instrument %d fully repaid", ErrStateConflict, id)
	}
	loss := inst.Outstanding()
	inst.Status = StatusDefaulted
	inst.UpdatedAt = now
	if err := e.state.InstrumentPut(inst); err != nil {
		return nil, err
	}
	if err := e.updateTotals(func(t *Totals) {
		t.Defaulted++
		t.RealizedLoss.Add(t.RealizedLoss, loss)
	}); err != nil {
		return nil, err
	}
	e.emit(NewDefaultedEvent(inst, loss))
	return inst.Clone(), nil
}

// Get returns a copy of the instrument with the given id.
func (e *Engine) Get(id uint64) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadInstrument(id)
}

// ListByStatus returns copies of all instruments currently in the supplied
// status, ordered by id.
func (e *Engine) ListByStatus(status InstrumentStatus) ([]*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %d", ErrValidation, status)
	}
	ids, err := e.state.InstrumentIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Instrument, 0, len(ids))
	for _, id := range ids {
		inst, ok := e.state.InstrumentGet(id)
		if !ok {
			continue
		}
		if inst.Status == status {
			out = append(out, inst.Clone())
		}
	}
	return out, nil
}

// List returns copies of every instrument ever submitted, ordered by id.
func (e *Engine) List() ([]*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.InstrumentIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Instrument, 0, len(ids))
	for _, id := range ids {
		inst, ok := e.state.InstrumentGet(id)
		if !ok {
			continue
		}
		out = append(out, inst.Clone())
	}
	return out, nil
}

// Totals returns a copy of the registry-wide aggregate figures.
func (e *Engine) Totals() (*Totals, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.totalsMu.Lock()
	defer e.totalsMu.Unlock()
	totals, err := e.state.TotalsGet()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = newTotals()
	}
	return totals.Clone(), nil
}

func (e *Engine) loadInstrument(id uint64) (*Instrument, error) {
	inst, ok := e.state.InstrumentGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return inst.Clone(), nil
}

func (e *Engine) updateTotals(apply func(*Totals)) error {
	e.totalsMu.Lock()
	defer e.totalsMu.Unlock()
	totals, err := e.state.TotalsGet()
	if err != nil {
		return err
	}
	if totals == nil {
		totals = newTotals()
	} else {
		totals = totals.Clone()
	}
	apply(totals)
	return e.state.TotalsPut(totals)
}
