package scenarios_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recvault/native/fund"
	"recvault/native/registry"
	"recvault/services/reconciler"
	"recvault/state"
	"recvault/storage"
)

type harness struct {
	now   int64
	store *state.Store
	reg   *registry.Engine
	funds *fund.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := state.NewStore(storage.NewMemDB())
	require.NoError(t, err)

	h := &harness{now: 1_000, store: store}

	h.reg = registry.NewEngine()
	h.reg.SetState(store)
	h.reg.SetNowFunc(func() int64 { return h.now })

	h.funds = fund.NewEngine()
	h.funds.SetState(store)
	h.funds.SetRegistry(h.reg)
	h.funds.SetNowFunc(func() int64 { return h.now })
	return h
}

func (h *harness) monitor(t *testing.T, source reconciler.VerificationSource) *reconciler.Monitor {
	t.Helper()
	mon, err := reconciler.New(h.reg, source, reconciler.Config{},
		reconciler.WithClock(func() time.Time { return time.Unix(h.now, 0) }))
	require.NoError(t, err)
	return mon
}

func evidence(b byte) [32]byte {
	var hash [32]byte
	for i := range hash {
		hash[i] = b
	}
	return hash
}

// A receivable travels the whole happy path: submission at a 500 bp discount,
// reconciler-driven verification, funding out of a pool, and full repayment.
func TestReceivableHappyPath(t *testing.T) {
	h := newHarness(t)
	maturity := h.now + 90*24*3600

	inst, err := h.reg.Submit("acme", big.NewInt(100_000), maturity, "debtor-1", evidence(1), 500)
	require.NoError(t, err)
	require.Equal(t, "95000", inst.DiscountedValue.String())
	require.Equal(t, registry.StatusPending, inst.Status)

	verifySource := reconciler.SourceFuncs{
		VerifyFn: func(_ context.Context, _ *registry.Instrument) (bool, error) { return true, nil },
	}
	require.NoError(t, h.monitor(t, verifySource).VerificationPass(context.Background()))

	inst, err = h.reg.Get(inst.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusVerified, inst.Status)

	_, err = h.funds.CreateFund(fund.Config{ID: "senior"})
	require.NoError(t, err)
	units, err := h.funds.Deposit("senior", big.NewInt(95_000), "alice")
	require.NoError(t, err)
	require.Equal(t, "95000", units.String())

	alloc, err := h.funds.AddAllocation("senior", inst.ID)
	require.NoError(t, err)
	require.True(t, alloc.Active)

	inst, err = h.reg.Get(inst.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusFunded, inst.Status)

	paySource := reconciler.SourceFuncs{
		CheckPaymentFn: func(_ context.Context, i *registry.Instrument) (reconciler.PaymentStatus, error) {
			return reconciler.PaymentStatus{Amount: new(big.Int).Set(i.FaceValue), Settled: true}, nil
		},
	}
	require.NoError(t, h.monitor(t, paySource).PaymentPass(context.Background()))

	inst, err = h.reg.Get(inst.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusPaid, inst.Status)
	require.Equal(t, "100000", inst.AmountPaid.String())

	// The repayment proceeds land in the pool as realized yield.
	require.NoError(t, h.funds.PostYield("senior", big.NewInt(5_000)))
	f, err := h.funds.GetFund("senior")
	require.NoError(t, err)
	require.Equal(t, "100000", f.TotalAssets.String())

	totals, err := h.reg.Totals()
	require.NoError(t, err)
	require.EqualValues(t, 1, totals.Submitted)
	require.EqualValues(t, 1, totals.Funded)
	require.Equal(t, "100000", totals.PaidValue.String())
}

// A funded receivable whose maturity passes without repayment defaults, and
// later payments are rejected.
func TestMaturedUnpaidReceivableDefaults(t *testing.T) {
	h := newHarness(t)
	maturity := h.now + 3_600

	inst, err := h.reg.Submit("acme", big.NewInt(100_000), maturity, "debtor-1", evidence(2), 500)
	require.NoError(t, err)
	_, err = h.reg.RecordVerification(inst.ID, true)
	require.NoError(t, err)
	_, err = h.funds.CreateFund(fund.Config{ID: "senior"})
	require.NoError(t, err)
	_, err = h.funds.Deposit("senior", big.NewInt(95_000), "alice")
	require.NoError(t, err)
	_, err = h.funds.AddAllocation("senior", inst.ID)
	require.NoError(t, err)

	h.now = maturity + 60

	silent := reconciler.SourceFuncs{
		CheckPaymentFn: func(_ context.Context, _ *registry.Instrument) (reconciler.PaymentStatus, error) {
			return reconciler.PaymentStatus{}, nil
		},
	}
	require.NoError(t, h.monitor(t, silent).PaymentPass(context.Background()))

	inst, err = h.reg.Get(inst.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusDefaulted, inst.Status)

	_, err = h.reg.RecordPayment(inst.ID, big.NewInt(1))
	require.ErrorIs(t, err, registry.ErrStateConflict)

	totals, err := h.reg.Totals()
	require.NoError(t, err)
	require.EqualValues(t, 1, totals.Defaulted)
	require.Equal(t, "100000", totals.RealizedLoss.String())

	// The fund writes off its claim and records the loss for reporting.
	_, err = h.funds.RemoveAllocation("senior", inst.ID, "")
	require.NoError(t, err)
	require.NoError(t, h.funds.PostLoss("senior", inst.ID, big.NewInt(95_000)))
	f, err := h.funds.GetFund("senior")
	require.NoError(t, err)
	require.Equal(t, "95000", f.CumulativeLoss.String())
	require.Equal(t, "95000", f.TotalAssets.String())
}

// Two equal depositors share posted yield pro rata and can drain the fund to
// the last unit with no value left behind.
func TestYieldSharedProRata(t *testing.T) {
	h := newHarness(t)
	_, err := h.funds.CreateFund(fund.Config{ID: "senior"})
	require.NoError(t, err)

	aliceUnits, err := h.funds.Deposit("senior", big.NewInt(500), "alice")
	require.NoError(t, err)
	bobUnits, err := h.funds.Deposit("senior", big.NewInt(500), "bob")
	require.NoError(t, err)
	require.Equal(t, "500", aliceUnits.String())
	require.Equal(t, "500", bobUnits.String())

	require.NoError(t, h.funds.PostYield("senior", big.NewInt(100)))

	price, err := h.funds.SharePrice("senior")
	require.NoError(t, err)
	require.Equal(t, "1100000000000000000", price.String())

	aliceOut, err := h.funds.Withdraw("senior", aliceUnits, "alice", "alice")
	require.NoError(t, err)
	bobOut, err := h.funds.Withdraw("senior", bobUnits, "bob", "bob")
	require.NoError(t, err)

	total := new(big.Int).Add(aliceOut, bobOut)
	require.Equal(t, "1100", total.String())

	f, err := h.funds.GetFund("senior")
	require.NoError(t, err)
	require.Equal(t, "0", f.TotalAssets.String())
	require.Equal(t, "0", f.TotalUnits.String())
}

// The same evidence document can never be tokenized twice, even across the
// full lifecycle of the first instrument.
func TestEvidenceUniqueAcrossLifecycle(t *testing.T) {
	h := newHarness(t)
	maturity := h.now + 3_600

	inst, err := h.reg.Submit("acme", big.NewInt(50_000), maturity, "debtor-1", evidence(3), 250)
	require.NoError(t, err)
	_, err = h.reg.RecordVerification(inst.ID, true)
	require.NoError(t, err)
	_, err = h.reg.MarkFunded(inst.ID)
	require.NoError(t, err)
	_, err = h.reg.RecordPayment(inst.ID, big.NewInt(50_000))
	require.NoError(t, err)

	_, err = h.reg.Submit("acme", big.NewInt(50_000), maturity, "debtor-2", evidence(3), 250)
	require.ErrorIs(t, err, registry.ErrValidation)
}

// An instrument can back only one fund at a time; rollback on a funding race
// leaves no dangling allocation.
func TestAllocationExclusiveAcrossFunds(t *testing.T) {
	h := newHarness(t)
	maturity := h.now + 3_600

	inst, err := h.reg.Submit("acme", big.NewInt(100_000), maturity, "debtor-1", evidence(4), 500)
	require.NoError(t, err)
	_, err = h.reg.RecordVerification(inst.ID, true)
	require.NoError(t, err)

	for _, id := range []string{"senior", "junior"} {
		_, err = h.funds.CreateFund(fund.Config{ID: id})
		require.NoError(t, err)
		_, err = h.funds.Deposit(id, big.NewInt(95_000), "alice")
		require.NoError(t, err)
	}

	_, err = h.funds.AddAllocation("senior", inst.ID)
	require.NoError(t, err)
	_, err = h.funds.AddAllocation("junior", inst.ID)
	require.ErrorIs(t, err, fund.ErrStateConflict)

	junior, err := h.funds.Allocations("junior")
	require.NoError(t, err)
	require.Empty(t, junior)
}
