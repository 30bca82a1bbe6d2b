package fund

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"recvault/core/events"
	"recvault/native/common"
	"recvault/native/registry"
)

// ModuleName identifies the fund ledger for pause guards and metrics.
const ModuleName = "fund"

// EngineState abstracts the persistence backend used by the fund engine.
// The allocation owner index is global across funds so an instrument can
// never back more than one pool.
type EngineState interface {
	FundPut(*Fund) error
	FundGet(id string) (*Fund, bool)
	FundIDs() ([]string, error)
	BalanceGet(fundID, principal string) (*big.Int, error)
	BalancePut(fundID, principal string, units *big.Int) error
	AllocationPut(fundID string, alloc *Allocation) error
	AllocationGet(fundID string, instrumentID uint64) (*Allocation, bool)
	AllocationDelete(fundID string, instrumentID uint64) error
	AllocationsList(fundID string) ([]*Allocation, error)
	AllocationOwner(instrumentID uint64) (string, bool)
	AllocationOwnerPut(instrumentID uint64, fundID string) error
	AllocationOwnerDelete(instrumentID uint64) error
}

// RegistryView is the slice of the instrument registry the fund engine needs:
// reads for valuation plus the single cross-component mutation, MarkFunded.
type RegistryView interface {
	Get(id uint64) (*registry.Instrument, error)
	MarkFunded(id uint64) (*registry.Instrument, error)
}

// ComplianceGate answers whether a principal may currently transact. It is
// consulted synchronously on every deposit and withdrawal.
type ComplianceGate interface {
	IsAuthorized(principal string) bool
}

type allowAllGate struct{}

func (allowAllGate) IsAuthorized(string) bool { return true }

// Engine owns tranche accounting: unit balances, allocations, yield and loss
// counters. It is the single writer of fund state and only a reader of
// instrument state apart from MarkFunded.
type Engine struct {
	state    EngineState
	registry RegistryView
	gate     ComplianceGate
	emitter  events.Emitter
	pauses   common.PauseView
	nowFn    func() int64

	locks sync.Map // fund id -> *sync.Mutex
}

// NewEngine creates a fund engine with a no-op emitter and an allow-all
// compliance gate. Callers override both via the setters.
func NewEngine() *Engine {
	return &Engine{
		gate:    allowAllGate{},
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetRegistry configures the instrument registry view.
func (e *Engine) SetRegistry(view RegistryView) { e.registry = view }

// SetComplianceGate configures the authorization check for deposits and
// withdrawals. Passing nil resets to the allow-all gate.
func (e *Engine) SetComplianceGate(gate ComplianceGate) {
	if gate == nil {
		e.gate = allowAllGate{}
		return
	}
	e.gate = gate
}

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

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

func (e *Engine) lockFor(fundID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(fundID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) loadFund(id string) (*Fund, error) {
	fund, ok := e.state.FundGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: fund %q", ErrNotFound, id)
	}
	return fund.Clone(), nil
}

// CreateFund initialises and persists a new tranche. Deposits and withdrawals
// start enabled.
func (e *Engine) CreateFund(cfg Config) (*Fund, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	cfg, err := cfg.Sanitize()
	if err != nil {
		return nil, err
	}
	mu := e.lockFor(cfg.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, exists := e.state.FundGet(cfg.ID); exists {
		return nil, fmt.Errorf("%w: fund %q already exists", ErrStateConflict, cfg.ID)
	}
	fund := &Fund{
		ID:                 cfg.ID,
		TotalAssets:        big.NewInt(0),
		TotalUnits:         big.NewInt(0),
		HoldingsValue:      big.NewInt(0),
		TargetYieldBp:      cfg.TargetYieldBp,
		MinDeposit:         cloneBigInt(cfg.MinDeposit),
		DepositCap:         cfg.DepositCap,
		DepositsEnabled:    true,
		WithdrawalsEnabled: true,
		CumulativeYield:    big.NewInt(0),
		CumulativeLoss:     big.NewInt(0),
		CreatedAt:          e.now(),
	}
	if err := e.state.FundPut(fund); err != nil {
		return nil, err
	}
	e.emit(NewFundCreatedEvent(fund))
	return fund.Clone(), nil
}

// SetDepositsEnabled toggles the deposit flag.
func (e *Engine) SetDepositsEnabled(fundID string, enabled bool) error {
	return e.toggleFlag(fundID, func(f *Fund) { f.DepositsEnabled = enabled })
}

// SetWithdrawalsEnabled toggles the withdrawal flag.
func (e *Engine) SetWithdrawalsEnabled(fundID string, enabled bool) error {
	return e.toggleFlag(fundID, func(f *Fund) { f.WithdrawalsEnabled = enabled })
}

func (e *Engine) toggleFlag(fundID string, apply func(*Fund)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()
	fund, err := e.loadFund(fundID)
	if err != nil {
		return err
	}
	apply(fund)
	return e.state.FundPut(fund)
}

// Deposit pools assets from the beneficiary, minting ownership units at the
// current share price. Minting rounds down so existing holders never leak
// value to an incoming depositor.
func (e *Engine) Deposit(fundID string, assets *big.Int, beneficiary string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	beneficiary = strings.TrimSpace(beneficiary)
	if beneficiary == "" {
		return nil, fmt.Errorf("%w: beneficiary required", ErrValidation)
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrValidation)
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return nil, err
	}
	if !fund.DepositsEnabled {
		return nil, fmt.Errorf("%w: deposits disabled for fund %q", ErrStateConflict, fundID)
	}
	if !e.gate.IsAuthorized(beneficiary) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, beneficiary)
	}
	if assets.Cmp(fund.MinDeposit) < 0 {
		return nil, fmt.Errorf("%w: deposit %s below minimum %s", ErrValidation, assets, fund.MinDeposit)
	}
	if fund.DepositCap != nil {
		projected := new(big.Int).Add(fund.TotalAssets, assets)
		if projected.Cmp(fund.DepositCap) > 0 {
			return nil, fmt.Errorf("%w: deposit would exceed cap %s", ErrValidation, fund.DepositCap)
		}
	}
	units := unitsForDeposit(assets, fund.TotalAssets, fund.TotalUnits)
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint units", ErrValidation)
	}
	balance, err := e.state.BalanceGet(fundID, beneficiary)
	if err != nil {
		return nil, err
	}
	balance = cloneBigInt(balance)
	balance.Add(balance, units)
	fund.TotalAssets = new(big.Int).Add(fund.TotalAssets, assets)
	fund.TotalUnits = new(big.Int).Add(fund.TotalUnits, units)
	if err := e.state.BalancePut(fundID, beneficiary, balance); err != nil {
		return nil, err
	}
	if err := e.state.FundPut(fund); err != nil {
		return nil, err
	}
	e.emit(NewDepositEvent(fund, beneficiary, assets, units))
	return units, nil
}

// Withdraw burns the owner's units and pays out the backing assets to the
// beneficiary. The units-to-assets conversion rounds down in the pool's
// favour so the payout is never larger than the burned units are backed by.
func (e *Engine) Withdraw(fundID string, units *big.Int, beneficiary, owner string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	beneficiary = strings.TrimSpace(beneficiary)
	owner = strings.TrimSpace(owner)
	if beneficiary == "" || owner == "" {
		return nil, fmt.Errorf("%w: beneficiary and owner required", ErrValidation)
	}
	if units == nil || units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: unit amount must be positive", ErrValidation)
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return nil, err
	}
	if !fund.WithdrawalsEnabled {
		return nil, fmt.Errorf("%w: withdrawals disabled for fund %q", ErrStateConflict, fundID)
	}
	if !e.gate.IsAuthorized(beneficiary) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, beneficiary)
	}
	balance, err := e.state.BalanceGet(fundID, owner)
	if err != nil {
		return nil, err
	}
	balance = cloneBigInt(balance)
	if balance.Cmp(units) < 0 {
		return nil, fmt.Errorf("%w: owner %s holds %s units, requested %s", ErrValidation, owner, balance, units)
	}
	assets := assetsForUnits(units, fund.TotalAssets, fund.TotalUnits)
	if assets.Sign() <= 0 {
		return nil, fmt.Errorf("%w: units too few to redeem assets", ErrValidation)
	}
	balance.Sub(balance, units)
	fund.TotalAssets = new(big.Int).Sub(fund.TotalAssets, assets)
	fund.TotalUnits = new(big.Int).Sub(fund.TotalUnits, units)
	if err := e.state.BalancePut(fundID, owner, balance); err != nil {
		return nil, err
	}
	if err := e.state.FundPut(fund); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawEvent(fund, beneficiary, owner, assets, units))
	return assets, nil
}

// RedeemAssets withdraws an exact asset amount, burning the number of units
// required at the current share price. Unit burning rounds up so the
// redemption can never extract more than its proportional share.
func (e *Engine) RedeemAssets(fundID string, assets *big.Int, beneficiary, owner string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	beneficiary = strings.TrimSpace(beneficiary)
	owner = strings.TrimSpace(owner)
	if beneficiary == "" || owner == "" {
		return nil, fmt.Errorf("%w: beneficiary and owner required", ErrValidation)
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("%w: asset amount must be positive", ErrValidation)
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return nil, err
	}
	if !fund.WithdrawalsEnabled {
		return nil, fmt.Errorf("%w: withdrawals disabled for fund %q", ErrStateConflict, fundID)
	}
	if !e.gate.IsAuthorized(beneficiary) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, beneficiary)
	}
	if assets.Cmp(fund.TotalAssets) > 0 {
		return nil, fmt.Errorf("%w: fund cannot cover redemption of %s", ErrValidation, assets)
	}
	// Burn enough units to cover the exact payout; rounding up keeps the
	// pool from paying out more than the burned units are backed by.
	units := unitsForAssetsOut(assets, fund.TotalAssets, fund.TotalUnits)
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: fund holds no units to burn", ErrValidation)
	}
	balance, err := e.state.BalanceGet(fundID, owner)
	if err != nil {
		return nil, err
	}
	balance = cloneBigInt(balance)
	if balance.Cmp(units) < 0 {
		return nil, fmt.Errorf("%w: owner %s holds %s units, redemption needs %s", ErrValidation, owner, balance, units)
	}
	balance.Sub(balance, units)
	fund.TotalAssets = new(big.Int).Sub(fund.TotalAssets, assets)
	fund.TotalUnits = new(big.Int).Sub(fund.TotalUnits, units)
	if err := e.state.BalancePut(fundID, owner, balance); err != nil {
		return nil, err
	}
	if err := e.state.FundPut(fund); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawEvent(fund, beneficiary, owner, assets, units))
	return units, nil
}

// AddAllocation backs the fund with a verified, unexpired instrument. The
// allocation write and the registry funded-marking form one transaction: when
// MarkFunded fails the allocation is rolled back before returning.
func (e *Engine) AddAllocation(fundID string, instrumentID uint64) (*Allocation, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return nil, err
	}
	inst, err := e.registry.Get(instrumentID)
	if err != nil {
		return nil, err
	}
	if inst.Status != registry.StatusVerified {
		return nil, fmt.Errorf("%w: instrument %d not verified (status %s)", ErrStateConflict, instrumentID, inst.Status)
	}
	now := e.now()
	if inst.Matured(now) {
		return nil, fmt.Errorf("%w: instrument %d already matured", ErrStateConflict, instrumentID)
	}
	if owner, allocated := e.state.AllocationOwner(instrumentID); allocated {
		return nil, fmt.Errorf("%w: instrument %d already allocated to fund %q", ErrStateConflict, instrumentID, owner)
	}

	alloc := &Allocation{
		InstrumentID: instrumentID,
		FaceValue:    cloneBigInt(inst.FaceValue),
		AddedAt:      now,
		Active:       true,
	}
	if err := e.state.AllocationOwnerPut(instrumentID, fundID); err != nil {
		return nil, err
	}
	if err := e.state.AllocationPut(fundID, alloc); err != nil {
		_ = e.state.AllocationOwnerDelete(instrumentID)
		return nil, err
	}
	prevHoldings := fund.HoldingsValue
	fund.HoldingsValue = new(big.Int).Add(fund.HoldingsValue, alloc.FaceValue)
	if err := e.state.FundPut(fund); err != nil {
		_ = e.state.AllocationDelete(fundID, instrumentID)
		_ = e.state.AllocationOwnerDelete(instrumentID)
		return nil, err
	}
	// MarkFunded moves registry-wide totals and has no inverse, so it must be
	// the last mutation; everything before it can be compensated.
	if _, err := e.registry.MarkFunded(instrumentID); err != nil {
		fund.HoldingsValue = prevHoldings
		_ = e.state.FundPut(fund)
		_ = e.state.AllocationDelete(fundID, instrumentID)
		_ = e.state.AllocationOwnerDelete(instrumentID)
		return nil, err
	}
	e.emit(NewAllocationAddedEvent(fund, alloc))
	return alloc.Clone(), nil
}

// RemoveAllocation deactivates the fund's claim against an instrument. Once
// the instrument is terminal no reason is required; an earlier removal is an
// operator override and must carry an explicit reason code for audit.
func (e *Engine) RemoveAllocation(fundID string, instrumentID uint64, reason string) (*Allocation, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return nil, err
	}
	alloc, ok := e.state.AllocationGet(fundID, instrumentID)
	if !ok {
		return nil, fmt.Errorf("%w: allocation for instrument %d", ErrNotFound, instrumentID)
	}
	alloc = alloc.Clone()
	if !alloc.Active {
		return nil, fmt.Errorf("%w: allocation for instrument %d already removed", ErrStateConflict, instrumentID)
	}
	inst, err := e.registry.Get(instrumentID)
	if err != nil {
		return nil, err
	}
	if !inst.Status.Terminal() {
		if reason == "" {
			return nil, fmt.Errorf("%w: instrument %d not terminal, operator reason required", ErrStateConflict, instrumentID)
		}
	} else if reason == "" {
		reason = inst.Status.String()
	}
	now := e.now()
	alloc.Active = false
	alloc.RemovedAt = now
	alloc.RemovedReason = reason
	if err := e.state.AllocationPut(fundID, alloc); err != nil {
		return nil, err
	}
	if err := e.state.AllocationOwnerDelete(instrumentID); err != nil {
		return nil, err
	}
	fund.HoldingsValue = new(big.Int).Sub(fund.HoldingsValue, alloc.FaceValue)
	if err := e.state.FundPut(fund); err != nil {
		return nil, err
	}
	e.emit(NewAllocationRemovedEvent(fund, alloc))
	return alloc.Clone(), nil
}

// PostYield books realized repayment proceeds into the pool. Assets rise while
// units stay constant, so the share price strictly increases.
func (e *Engine) PostYield(fundID string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: yield amount must be positive", ErrValidation)
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return err
	}
	fund.TotalAssets = new(big.Int).Add(fund.TotalAssets, amount)
	fund.CumulativeYield = new(big.Int).Add(fund.CumulativeYield, amount)
	if err := e.state.FundPut(fund); err != nil {
		return err
	}
	e.emit(NewYieldPostedEvent(fund, amount))
	return nil
}

// PostLoss records a write-off against an allocated instrument for reporting.
// Total assets are left untouched: they track realized transfers only, and
// the unpaid remainder never entered the pool in the first place.
func (e *Engine) PostLoss(fundID string, instrumentID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: loss amount must be positive", ErrValidation)
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, err := e.loadFund(fundID)
	if err != nil {
		return err
	}
	if _, ok := e.state.AllocationGet(fundID, instrumentID); !ok {
		return fmt.Errorf("%w: allocation for instrument %d", ErrNotFound, instrumentID)
	}
	fund.CumulativeLoss = new(big.Int).Add(fund.CumulativeLoss, amount)
	if err := e.state.FundPut(fund); err != nil {
		return err
	}
	e.emit(NewLossRecordedEvent(fund, instrumentID, amount))
	return nil
}

// ExpectedYieldBp computes the annualized yield in basis points implied by the
// discount spread of all active allocations whose instruments are not yet
// terminal. Returns zero when the fund holds no qualifying allocations.
func (e *Engine) ExpectedYieldBp(fundID string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	if _, ok := e.state.FundGet(fundID); !ok {
		return nil, fmt.Errorf("%w: fund %q", ErrNotFound, fundID)
	}
	allocs, err := e.state.AllocationsList(fundID)
	if err != nil {
		return nil, err
	}
	totalYield := big.NewInt(0)
	totalFace := big.NewInt(0)
	var totalDuration int64
	var active int64
	for _, alloc := range allocs {
		if alloc == nil || !alloc.Active {
			continue
		}
		inst, err := e.registry.Get(alloc.InstrumentID)
		if err != nil {
			return nil, err
		}
		if inst.Status.Terminal() {
			continue
		}
		spread := new(big.Int).Sub(inst.FaceValue, inst.DiscountedValue)
		totalYield.Add(totalYield, spread)
		totalFace.Add(totalFace, inst.FaceValue)
		if duration := inst.Maturity - alloc.AddedAt; duration > 0 {
			totalDuration += duration
		}
		active++
	}
	if active == 0 || totalFace.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return annualizedYieldBp(totalYield, totalFace, totalDuration/active), nil
}

// SharePrice reports the 1e18 fixed-point assets-per-unit ratio, falling back
// to the baseline price while no units are outstanding.
func (e *Engine) SharePrice(fundID string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()
	fund, ok := e.state.FundGet(fundID)
	if !ok {
		return nil, fmt.Errorf("%w: fund %q", ErrNotFound, fundID)
	}
	return sharePrice(fund.TotalAssets, fund.TotalUnits), nil
}

// Position summarises the principal's stake: units held, floor asset value,
// and the share of the fund in basis points.
func (e *Engine) Position(fundID, principal string) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return nil, fmt.Errorf("%w: principal required", ErrValidation)
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()

	fund, ok := e.state.FundGet(fundID)
	if !ok {
		return nil, fmt.Errorf("%w: fund %q", ErrNotFound, fundID)
	}
	units, err := e.state.BalanceGet(fundID, principal)
	if err != nil {
		return nil, err
	}
	units = cloneBigInt(units)
	pos := &Position{
		Principal:   principal,
		Units:       units,
		AssetsValue: assetsForUnits(units, fund.TotalAssets, fund.TotalUnits),
	}
	if fund.TotalUnits.Sign() > 0 {
		percent := new(big.Int).Mul(units, basisPoints)
		percent.Quo(percent, fund.TotalUnits)
		pos.PercentOfFund = uint32(percent.Uint64())
	}
	return pos, nil
}

// GetFund returns a copy of the tranche accounting state.
func (e *Engine) GetFund(fundID string) (*Fund, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()
	return e.loadFund(fundID)
}

// Allocations returns copies of all allocations held by the fund.
func (e *Engine) Allocations(fundID string) ([]*Allocation, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(fundID)
	mu.Lock()
	defer mu.Unlock()
	if _, ok := e.state.FundGet(fundID); !ok {
		return nil, fmt.Errorf("%w: fund %q", ErrNotFound, fundID)
	}
	allocs, err := e.state.AllocationsList(fundID)
	if err != nil {
		return nil, err
	}
	out := make([]*Allocation, 0, len(allocs))
	for _, alloc := range allocs {
		out = append(out, alloc.Clone())
	}
	return out, nil
}
