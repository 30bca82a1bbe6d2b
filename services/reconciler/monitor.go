// Package reconciler polls an external verification source and applies the
// resulting verdicts to the instrument registry: authenticity checks for
// pending instruments on one cadence, repayment and default detection for
// funded instruments on another.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"recvault/native/registry"
)

// RegistryBackend is the slice of the registry engine the monitor drives.
type RegistryBackend interface {
	ListByStatus(status registry.InstrumentStatus) ([]*registry.Instrument, error)
	RecordVerification(id uint64, isValid bool) (*registry.Instrument, error)
	RecordPayment(id uint64, amount *big.Int) (*registry.Instrument, error)
	MarkDefaulted(id uint64) (*registry.Instrument, error)
}

// PassObserver receives a summary of every completed pass, e.g. to export
// metrics.
type PassObserver interface {
	ObservePass(kind string, scanned, applied, failed int, elapsed time.Duration)
}

// Config captures the monitor cadence and source protection settings.
type Config struct {
	// VerifyInterval is the cadence of authenticity passes over pending
	// instruments.
	VerifyInterval time.Duration
	// PaymentInterval is the cadence of repayment passes over funded
	// instruments.
	PaymentInterval time.Duration
	// CallTimeout bounds each individual source call.
	CallTimeout time.Duration
	// SourceRate caps source calls per second; zero disables the limiter.
	SourceRate float64
	// SourceBurst is the limiter burst size when SourceRate is set.
	SourceBurst int
}

func (c Config) sanitize() Config {
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = 30 * time.Second
	}
	if c.PaymentInterval <= 0 {
		c.PaymentInterval = time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.SourceBurst <= 0 {
		c.SourceBurst = 1
	}
	return c
}

// Monitor orchestrates the two reconciliation cadences. A failure against one
// instrument never blocks progress on the rest of the pass.
type Monitor struct {
	logger   *slog.Logger
	backend  RegistryBackend
	source   VerificationSource
	audit    *AuditLog
	observer PassObserver
	limiter  *rate.Limiter
	cfg      Config
	nowFn    func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.nowFn = now
		}
	}
}

// WithAudit records pass summaries and per-instrument actions to the supplied
// audit log.
func WithAudit(a *AuditLog) Option {
	return func(m *Monitor) {
		m.audit = a
	}
}

// WithObserver installs a pass observer.
func WithObserver(o PassObserver) Option {
	return func(m *Monitor) {
		m.observer = o
	}
}

// New constructs a monitor instance.
func New(backend RegistryBackend, source VerificationSource, cfg Config, opts ...Option) (*Monitor, error) {
	if backend == nil {
		return nil, fmt.Errorf("reconciler: registry backend required")
	}
	if source == nil {
		return nil, fmt.Errorf("reconciler: verification source required")
	}
	cfg = cfg.sanitize()
	mon := &Monitor{
		logger:  slog.Default(),
		backend: backend,
		source:  source,
		cfg:     cfg,
		nowFn:   time.Now,
	}
	if cfg.SourceRate > 0 {
		mon.limiter = rate.NewLimiter(rate.Limit(cfg.SourceRate), cfg.SourceBurst)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mon)
		}
	}
	return mon, nil
}

// Run blocks, alternating verification and payment passes on their configured
// cadences until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("reconciler: monitor not configured")
	}
	m.logger.Info("reconciler started",
		"verify_interval", m.cfg.VerifyInterval,
		"payment_interval", m.cfg.PaymentInterval)
	verifyTicker := time.NewTicker(m.cfg.VerifyInterval)
	defer verifyTicker.Stop()
	paymentTicker := time.NewTicker(m.cfg.PaymentInterval)
	defer paymentTicker.Stop()

	if err := m.VerificationPass(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("verification pass failed", "err", err)
	}
	if err := m.PaymentPass(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("payment pass failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-verifyTicker.C:
			if err := m.VerificationPass(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("verification pass failed", "err", err)
			}
		case <-paymentTicker.C:
			if err := m.PaymentPass(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("payment pass failed", "err", err)
			}
		}
	}
}

func (m *Monitor) waitSource(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.Wait(ctx)
}

func (m *Monitor) recordFact(ctx context.Context, passID string, instrumentID uint64, action, detail string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.RecordFact(ctx, passID, instrumentID, action, detail); err != nil {
		m.logger.Error("audit fact write failed", "err", err, "instrument", instrumentID)
	}
}

func (m *Monitor) finishPass(ctx context.Context, kind, passID string, started time.Time, scanned, applied, failed int) {
	finished := m.nowFn()
	if m.observer != nil {
		m.observer.ObservePass(kind, scanned, applied, failed, finished.Sub(started))
	}
	if m.audit == nil {
		return
	}
	summary := PassSummary{
		ID:       passID,
		Kind:     kind,
		Started:  started,
		Finished: finished,
		Scanned:  scanned,
		Applied:  applied,
		Errors:   failed,
	}
	if err := m.audit.RecordPass(ctx, summary); err != nil {
		m.logger.Error("audit pass write failed", "err", err, "pass", passID)
	}
}

// VerificationPass fetches one authenticity verdict for every pending
// instrument that has not already failed verification. Source failures and
// concurrent state changes are logged and skipped.
func (m *Monitor) VerificationPass(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("reconciler: monitor not configured")
	}
	passID := uuid.NewString()
	started := m.nowFn()
	pending, err := m.backend.ListByStatus(registry.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	var scanned, applied, failed int
	for _, inst := range pending {
		if ctx.Err() != nil {
			break
		}
		if inst == nil || inst.VerificationFailed {
			continue
		}
		scanned++
		if err := m.waitSource(ctx); err != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		verdict, err := m.source.Verify(callCtx, inst)
		cancel()
		if err != nil {
			failed++
			m.logger.Warn("verification source failed", "instrument", inst.ID, "err", err)
			m.recordFact(ctx, passID, inst.ID, "verify_error", err.Error())
			continue
		}
		if _, err := m.backend.RecordVerification(inst.ID, verdict); err != nil {
			// Another actor may have moved the instrument since listing.
			if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrStateConflict) {
				m.logger.Debug("verification verdict skipped", "instrument", inst.ID, "err", err)
				continue
			}
			failed++
			m.logger.Error("apply verification failed", "instrument", inst.ID, "err", err)
			continue
		}
		applied++
		m.recordFact(ctx, passID, inst.ID, "verified", fmt.Sprintf("valid=%t", verdict))
	}
	m.finishPass(ctx, "verification", passID, started, scanned, applied, failed)
	return ctx.Err()
}

// PaymentPass checks repayment for every funded or partially paid instrument,
// records observed payment deltas, and defaults instruments whose maturity has
// passed without full repayment.
func (m *Monitor) PaymentPass(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("reconciler: monitor not configured")
	}
	passID := uuid.NewString()
	started := m.nowFn()
	funded, err := m.backend.ListByStatus(registry.StatusFunded)
	if err != nil {
		return fmt.Errorf("list funded: %w", err)
	}
	partial, err := m.backend.ListByStatus(registry.StatusPartiallyPaid)
	if err != nil {
		return fmt.Errorf("list partially paid: %w", err)
	}
	var scanned, applied, failed int
	for _, inst := range append(funded, partial...) {
		if ctx.Err() != nil {
			break
		}
		if inst == nil {
			continue
		}
		scanned++
		acted, err := m.reconcilePayment(ctx, passID, inst)
		if acted {
			applied++
		}
		if err != nil {
			failed++
		}
	}
	m.finishPass(ctx, "payment", passID, started, scanned, applied, failed)
	return ctx.Err()
}

func (m *Monitor) reconcilePayment(ctx context.Context, passID string, inst *registry.Instrument) (bool, error) {
	if err := m.waitSource(ctx); err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	status, sourceErr := m.source.CheckPayment(callCtx, inst)
	cancel()
	acted := false
	paid := new(big.Int).Set(inst.AmountPaid)
	if sourceErr != nil {
		// A failed check yields no new payment information. Maturity is local
		// knowledge, so the default check below still runs.
		m.logger.Warn("payment source failed", "instrument", inst.ID, "err", sourceErr)
		m.recordFact(ctx, passID, inst.ID, "payment_error", sourceErr.Error())
	} else if status.Amount != nil && status.Amount.Cmp(paid) > 0 {
		delta := new(big.Int).Sub(status.Amount, paid)
		// The source reports cumulative observations; never push the
		// instrument past its face value.
		if room := inst.Outstanding(); delta.Cmp(room) > 0 {
			delta = room
		}
		if delta.Sign() > 0 {
			updated, err := m.backend.RecordPayment(inst.ID, delta)
			if err != nil {
				if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrStateConflict) {
					m.logger.Debug("payment skipped", "instrument", inst.ID, "err", err)
					return false, nil
				}
				m.logger.Error("apply payment failed", "instrument", inst.ID, "err", err)
				return false, err
			}
			inst = updated
			paid = new(big.Int).Set(updated.AmountPaid)
			acted = true
			m.recordFact(ctx, passID, inst.ID, "payment", delta.String())
		}
	}
	if inst.Status.Terminal() {
		return acted, sourceErr
	}
	if inst.Matured(m.nowFn().Unix()) && paid.Cmp(inst.FaceValue) < 0 {
		if _, err := m.backend.MarkDefaulted(inst.ID); err != nil {
			if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrStateConflict) {
				m.logger.Debug("default skipped", "instrument", inst.ID, "err", err)
				return acted, sourceErr
			}
			m.logger.Error("mark defaulted failed", "instrument", inst.ID, "err", err)
			return acted, err
		}
		acted = true
		m.recordFact(ctx, passID, inst.ID, "defaulted", paid.String())
	}
	return acted, sourceErr
}
