package reconciler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"recvault/native/registry"
)

// ErrExternalSource wraps transient failures reported by the verification
// backend. Callers retry on the next pass rather than treating these as
// instrument-level verdicts.
var ErrExternalSource = errors.New("reconciler: external source failure")

// PaymentStatus reports what the external source observed about repayment of
// one instrument since submission.
type PaymentStatus struct {
	// Amount is the cumulative repayment observed off-platform. Nil means no
	// payment information is available yet.
	Amount *big.Int
	// Settled indicates the debtor's obligation is closed at the source, even
	// when Amount does not cover the full face value.
	Settled bool
}

// VerificationSource answers authenticity and repayment questions about
// instruments by consulting systems outside the core, e.g. an e-invoicing
// network or a bank statement feed.
type VerificationSource interface {
	// Verify returns the authenticity verdict for a pending instrument. An
	// error means no verdict could be obtained; the instrument stays pending.
	Verify(ctx context.Context, inst *registry.Instrument) (bool, error)
	// CheckPayment reports the cumulative observed repayment for a funded
	// instrument.
	CheckPayment(ctx context.Context, inst *registry.Instrument) (PaymentStatus, error)
}

// SimulatedSource is a deterministic stand-in for a real verification backend,
// used in development deployments and tests. Verdicts derive from the
// instrument id and the configured rates, so repeated calls agree.
type SimulatedSource struct {
	// VerifyFailureBp is the per-instrument probability, in basis points, that
	// verification rejects the instrument.
	VerifyFailureBp uint32
	// ErrorBp is the per-call probability, in basis points, of a transient
	// source error.
	ErrorBp uint32
	// PayAfter is how long after funding the simulated debtor settles.
	PayAfter time.Duration
	// PayAfterJitter widens the settlement delay: each instrument waits an
	// extra deterministic duration in [0, PayAfterJitter) on top of PayAfter.
	PayAfterJitter time.Duration
	// PartialBp is the per-instrument probability, in basis points, that the
	// debtor settles only part of the face value.
	PartialBp uint32
	// Seed perturbs the deterministic verdicts between deployments.
	Seed int64

	mu    sync.Mutex
	calls uint64
}

func (s *SimulatedSource) roll(id uint64, salt uint64) uint32 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], id)
	binary.BigEndian.PutUint64(buf[8:16], salt)
	digest := fnv.New64a()
	digest.Write(buf[:])
	src := rand.NewSource(int64(digest.Sum64()) ^ s.Seed)
	return uint32(rand.New(src).Intn(10_000))
}

func (s *SimulatedSource) transientError() bool {
	if s.ErrorBp == 0 {
		return false
	}
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()
	return s.roll(calls, 0xe44) < s.ErrorBp
}

// Verify implements the VerificationSource interface.
func (s *SimulatedSource) Verify(ctx context.Context, inst *registry.Instrument) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if inst == nil {
		return false, fmt.Errorf("%w: nil instrument", ErrExternalSource)
	}
	if s.transientError() {
		return false, fmt.Errorf("%w: simulated outage", ErrExternalSource)
	}
	return s.roll(inst.ID, 0x5e1) >= s.VerifyFailureBp, nil
}

// CheckPayment implements the VerificationSource interface. The simulated
// debtor settles once PayAfter plus a per-instrument slice of PayAfterJitter
// has elapsed since the instrument was last updated, paying the full face
// value or, with probability PartialBp, a per-instrument fraction of it.
func (s *SimulatedSource) CheckPayment(ctx context.Context, inst *registry.Instrument) (PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return PaymentStatus{}, err
	}
	if inst == nil {
		return PaymentStatus{}, fmt.Errorf("%w: nil instrument", ErrExternalSource)
	}
	if s.transientError() {
		return PaymentStatus{}, fmt.Errorf("%w: simulated outage", ErrExternalSource)
	}
	delay := s.PayAfter
	if s.PayAfterJitter > 0 {
		delay += time.Duration(s.roll(inst.ID, 0xd31)) * s.PayAfterJitter / 10_000
	}
	payAt := inst.UpdatedAt + int64(delay/time.Second)
	if time.Now().Unix() < payAt {
		return PaymentStatus{}, nil
	}
	amount := new(big.Int).Set(inst.FaceValue)
	settled := true
	if s.PartialBp > 0 && s.roll(inst.ID, 0x9a7) < s.PartialBp {
		// Partial settlement covers between 1 and 9999 bp of the face value.
		fraction := int64(s.roll(inst.ID, 0x3f2))%9_999 + 1
		amount.Mul(amount, big.NewInt(fraction))
		amount.Quo(amount, big.NewInt(10_000))
		settled = false
		if amount.Sign() == 0 {
			return PaymentStatus{}, nil
		}
	}
	return PaymentStatus{Amount: amount, Settled: settled}, nil
}

// SourceFuncs adapts plain functions to VerificationSource, primarily for
// tests.
type SourceFuncs struct {
	VerifyFn       func(ctx context.Context, inst *registry.Instrument) (bool, error)
	CheckPaymentFn func(ctx context.Context, inst *registry.Instrument) (PaymentStatus, error)
}

// Verify implements the VerificationSource interface.
func (s SourceFuncs) Verify(ctx context.Context, inst *registry.Instrument) (bool, error) {
	if s.VerifyFn == nil {
		return false, fmt.Errorf("%w: no verify function", ErrExternalSource)
	}
	return s.VerifyFn(ctx, inst)
}

// CheckPayment implements the VerificationSource interface.
func (s SourceFuncs) CheckPayment(ctx context.Context, inst *registry.Instrument) (PaymentStatus, error) {
	if s.CheckPaymentFn == nil {
		return PaymentStatus{}, fmt.Errorf("%w: no payment function", ErrExternalSource)
	}
	return s.CheckPaymentFn(ctx, inst)
}
