package reconciler

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"recvault/native/registry"
)

type mockBackend struct {
	instruments map[uint64]*registry.Instrument

	verifications map[uint64]bool
	payments      map[uint64]*big.Int
	defaulted     map[uint64]bool

	verifyErr  error
	paymentErr error
	defaultErr error
}

func newMockBackend(instruments ...*registry.Instrument) *mockBackend {
	b := &mockBackend{
		instruments:   make(map[uint64]*registry.Instrument),
		verifications: make(map[uint64]bool),
		payments:      make(map[uint64]*big.Int),
		defaulted:     make(map[uint64]bool),
	}
	for _, inst := range instruments {
		b.instruments[inst.ID] = inst
	}
	return b
}

func (b *mockBackend) ListByStatus(status registry.InstrumentStatus) ([]*registry.Instrument, error) {
	out := make([]*registry.Instrument, 0)
	for _, inst := range b.instruments {
		if inst.Status == status {
			out = append(out, inst.Clone())
		}
	}
	return out, nil
}

func (b *mockBackend) RecordVerification(id uint64, isValid bool) (*registry.Instrument, error) {
	if b.verifyErr != nil {
		return nil, b.verifyErr
	}
	inst, ok := b.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", registry.ErrNotFound, id)
	}
	b.verifications[id] = isValid
	if isValid {
		inst.Status = registry.StatusVerified
	} else {
		inst.VerificationFailed = true
	}
	return inst.Clone(), nil
}

func (b *mockBackend) RecordPayment(id uint64, amount *big.Int) (*registry.Instrument, error) {
	if b.paymentErr != nil {
		return nil, b.paymentErr
	}
	inst, ok := b.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", registry.ErrNotFound, id)
	}
	total := b.payments[id]
	if total == nil {
		total = big.NewInt(0)
	}
	b.payments[id] = new(big.Int).Add(total, amount)
	inst.AmountPaid = new(big.Int).Add(inst.AmountPaid, amount)
	if inst.AmountPaid.Cmp(inst.FaceValue) == 0 {
		inst.Status = registry.StatusPaid
	} else {
		inst.Status = registry.StatusPartiallyPaid
	}
	return inst.Clone(), nil
}

func (b *mockBackend) MarkDefaulted(id uint64) (*registry.Instrument, error) {
	if b.defaultErr != nil {
		return nil, b.defaultErr
	}
	inst, ok := b.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", registry.ErrNotFound, id)
	}
	b.defaulted[id] = true
	inst.Status = registry.StatusDefaulted
	return inst.Clone(), nil
}

func pendingInstrument(id uint64, maturity int64) *registry.Instrument {
	return &registry.Instrument{
		ID:              id,
		Originator:      "acme",
		DebtorRef:       "debtor",
		FaceValue:       big.NewInt(100_000),
		DiscountedValue: big.NewInt(95_000),
		DiscountRateBp:  500,
		Maturity:        maturity,
		AmountPaid:      big.NewInt(0),
		Status:          registry.StatusPending,
	}
}

func fundedInstrument(id uint64, maturity int64) *registry.Instrument {
	inst := pendingInstrument(id, maturity)
	inst.Status = registry.StatusFunded
	return inst
}

func testMonitor(t *testing.T, backend RegistryBackend, source VerificationSource, now time.Time) *Monitor {
	t.Helper()
	mon, err := New(backend, source, Config{}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return mon
}

func TestVerificationPassAppliesVerdicts(t *testing.T) {
	backend := newMockBackend(pendingInstrument(1, 5_000), pendingInstrument(2, 5_000))
	source := SourceFuncs{
		VerifyFn: func(_ context.Context, inst *registry.Instrument) (bool, error) {
			return inst.ID == 1, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.VerificationPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if valid, ok := backend.verifications[1]; !ok || !valid {
		t.Fatalf("expected instrument 1 verified")
	}
	if valid, ok := backend.verifications[2]; !ok || valid {
		t.Fatalf("expected instrument 2 rejected")
	}
}

func TestVerificationPassIsolatesSourceFailures(t *testing.T) {
	backend := newMockBackend(pendingInstrument(1, 5_000), pendingInstrument(2, 5_000))
	source := SourceFuncs{
		VerifyFn: func(_ context.Context, inst *registry.Instrument) (bool, error) {
			if inst.ID == 1 {
				return false, fmt.Errorf("%w: upstream down", ErrExternalSource)
			}
			return true, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.VerificationPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if _, ok := backend.verifications[1]; ok {
		t.Fatalf("expected no verdict recorded for failing instrument")
	}
	if valid, ok := backend.verifications[2]; !ok || !valid {
		t.Fatalf("expected instrument 2 still processed")
	}
}

func TestVerificationPassSkipsDeadEndInstruments(t *testing.T) {
	inst := pendingInstrument(1, 5_000)
	inst.VerificationFailed = true
	backend := newMockBackend(inst)
	calls := 0
	source := SourceFuncs{
		VerifyFn: func(_ context.Context, _ *registry.Instrument) (bool, error) {
			calls++
			return true, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.VerificationPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no source calls for dead-end instrument, got %d", calls)
	}
}

func TestVerificationPassSwallowsStateConflicts(t *testing.T) {
	backend := newMockBackend(pendingInstrument(1, 5_000))
	backend.verifyErr = fmt.Errorf("%w: already verified", registry.ErrStateConflict)
	source := SourceFuncs{
		VerifyFn: func(_ context.Context, _ *registry.Instrument) (bool, error) { return true, nil },
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.VerificationPass(context.Background()); err != nil {
		t.Fatalf("expected conflict swallowed, got %v", err)
	}
}

func TestPaymentPassRecordsObservedDelta(t *testing.T) {
	backend := newMockBackend(fundedInstrument(1, 5_000))
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) {
			return PaymentStatus{Amount: big.NewInt(60_000)}, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if got := backend.payments[1]; got == nil || got.Cmp(big.NewInt(60_000)) != 0 {
		t.Fatalf("expected 60000 recorded, got %v", got)
	}
	if backend.instruments[1].Status != registry.StatusPartiallyPaid {
		t.Fatalf("expected partially paid, got %s", backend.instruments[1].Status)
	}
}

func TestPaymentPassOnlyRecordsIncrement(t *testing.T) {
	inst := fundedInstrument(1, 5_000)
	inst.AmountPaid = big.NewInt(40_000)
	inst.Status = registry.StatusPartiallyPaid
	backend := newMockBackend(inst)
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) {
			return PaymentStatus{Amount: big.NewInt(100_000), Settled: true}, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if got := backend.payments[1]; got == nil || got.Cmp(big.NewInt(60_000)) != 0 {
		t.Fatalf("expected delta of 60000, got %v", got)
	}
	if backend.instruments[1].Status != registry.StatusPaid {
		t.Fatalf("expected paid, got %s", backend.instruments[1].Status)
	}
}

func TestPaymentPassClampsOverreportedAmount(t *testing.T) {
	backend := newMockBackend(fundedInstrument(1, 5_000))
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) {
			return PaymentStatus{Amount: big.NewInt(150_000), Settled: true}, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if got := backend.payments[1]; got == nil || got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected payment clamped to face value, got %v", got)
	}
}

func TestPaymentPassDefaultsMaturedUnpaid(t *testing.T) {
	backend := newMockBackend(fundedInstrument(1, 5_000))
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) {
			return PaymentStatus{}, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(6_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if !backend.defaulted[1] {
		t.Fatalf("expected instrument defaulted")
	}
}

func TestPaymentPassDoesNotDefaultBeforeMaturity(t *testing.T) {
	backend := newMockBackend(fundedInstrument(1, 5_000))
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) {
			return PaymentStatus{}, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(4_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if backend.defaulted[1] {
		t.Fatalf("expected no default before maturity")
	}
}

func TestPaymentPassDefaultsMaturedUnpaidWhenSourceDown(t *testing.T) {
	backend := newMockBackend(fundedInstrument(1, 5_000))
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) {
			return PaymentStatus{}, fmt.Errorf("%w: upstream down", ErrExternalSource)
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(6_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if !backend.defaulted[1] {
		t.Fatalf("expected matured unpaid instrument defaulted despite source outage")
	}
	if _, ok := backend.payments[1]; ok {
		t.Fatalf("expected no payment recorded while source down")
	}
}

func TestPaymentPassIsolatesSourceFailures(t *testing.T) {
	backend := newMockBackend(fundedInstrument(1, 5_000), fundedInstrument(2, 5_000))
	source := SourceFuncs{
		CheckPaymentFn: func(_ context.Context, inst *registry.Instrument) (PaymentStatus, error) {
			if inst.ID == 1 {
				return PaymentStatus{}, fmt.Errorf("%w: upstream down", ErrExternalSource)
			}
			return PaymentStatus{Amount: big.NewInt(100_000)}, nil
		},
	}
	mon := testMonitor(t, backend, source, time.Unix(1_000, 0))
	if err := mon.PaymentPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if _, ok := backend.payments[1]; ok {
		t.Fatalf("expected no payment recorded for failing instrument")
	}
	if got := backend.payments[2]; got == nil || got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected instrument 2 fully paid, got %v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	backend := newMockBackend()
	source := SourceFuncs{
		VerifyFn:       func(_ context.Context, _ *registry.Instrument) (bool, error) { return true, nil },
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (PaymentStatus, error) { return PaymentStatus{}, nil },
	}
	mon, err := New(backend, source, Config{VerifyInterval: time.Millisecond, PaymentInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop after cancel")
	}
}

func TestSimulatedSourceDeterministic(t *testing.T) {
	source := &SimulatedSource{VerifyFailureBp: 2_000, Seed: 42}
	inst := pendingInstrument(7, 5_000)
	first, err := source.Verify(context.Background(), inst)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := source.Verify(context.Background(), inst)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if again != first {
			t.Fatalf("expected deterministic verdict")
		}
	}
}

func TestSimulatedSourcePartialPayments(t *testing.T) {
	source := &SimulatedSource{PartialBp: 10_000, Seed: 42}
	inst := fundedInstrument(7, 5_000)
	inst.UpdatedAt = 0

	first, err := source.CheckPayment(context.Background(), inst)
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if first.Amount == nil || first.Amount.Sign() <= 0 {
		t.Fatalf("expected a positive partial amount, got %v", first.Amount)
	}
	if first.Amount.Cmp(inst.FaceValue) >= 0 {
		t.Fatalf("expected partial amount below face value, got %s", first.Amount)
	}
	if first.Settled {
		t.Fatalf("expected partial settlement to leave the obligation open")
	}

	// Repeated checks report the same cumulative observation.
	again, err := source.CheckPayment(context.Background(), inst)
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if again.Amount.Cmp(first.Amount) != 0 {
		t.Fatalf("expected deterministic amount, got %s then %s", first.Amount, again.Amount)
	}
}

func TestSimulatedSourceDelayJitterDeterministic(t *testing.T) {
	inst := fundedInstrument(7, 5_000)
	inst.UpdatedAt = time.Now().Unix()

	a := &SimulatedSource{PayAfterJitter: 2 * time.Hour, Seed: 42}
	b := &SimulatedSource{PayAfterJitter: 2 * time.Hour, Seed: 42}
	statusA, err := a.CheckPayment(context.Background(), inst)
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	statusB, err := b.CheckPayment(context.Background(), inst)
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if (statusA.Amount == nil) != (statusB.Amount == nil) || statusA.Settled != statusB.Settled {
		t.Fatalf("expected identical outcomes for identical seeds, got %+v and %+v", statusA, statusB)
	}
}
