package fund

import (
	"math/big"
	"strconv"

	"recvault/core/events"
)

const (
	EventTypeFundCreated       = "fund.created"
	EventTypeFundDeposit       = "fund.deposit"
	EventTypeFundWithdraw      = "fund.withdraw"
	EventTypeAllocationAdded   = "fund.allocation_added"
	EventTypeAllocationRemoved = "fund.allocation_removed"
	EventTypeYieldPosted       = "fund.yield_posted"
	EventTypeLossRecorded      = "fund.loss_recorded"
)

// NewFundCreatedEvent returns the canonical payload for a newly created
// tranche.
func NewFundCreatedEvent(f *Fund) *events.Event {
	return newFundEvent(EventTypeFundCreated, f, nil)
}

// NewDepositEvent returns the payload emitted when units are minted against a
// deposit.
func NewDepositEvent(f *Fund, beneficiary string, assets, units *big.Int) *events.Event {
	return newFundEvent(EventTypeFundDeposit, f, map[string]string{
		"beneficiary": beneficiary,
		"assets":      formatAmount(assets),
		"units":       formatAmount(units),
	})
}

// NewWithdrawEvent returns the payload emitted when units are burned for an
// asset payout.
func NewWithdrawEvent(f *Fund, beneficiary, owner string, assets, units *big.Int) *events.Event {
	return newFundEvent(EventTypeFundWithdraw, f, map[string]string{
		"beneficiary": beneficiary,
		"owner":       owner,
		"assets":      formatAmount(assets),
		"units":       formatAmount(units),
	})
}

// NewAllocationAddedEvent returns the payload emitted when an instrument is
// allocated to the fund.
func NewAllocationAddedEvent(f *Fund, alloc *Allocation) *events.Event {
	attrs := map[string]string{}
	if alloc != nil {
		attrs["instrumentId"] = strconv.FormatUint(alloc.InstrumentID, 10)
		attrs["allocationFace"] = formatAmount(alloc.FaceValue)
	}
	return newFundEvent(EventTypeAllocationAdded, f, attrs)
}

// NewAllocationRemovedEvent returns the payload emitted when an allocation is
// deactivated, carrying the audit reason code.
func NewAllocationRemovedEvent(f *Fund, alloc *Allocation) *events.Event {
	attrs := map[string]string{}
	if alloc != nil {
		attrs["instrumentId"] = strconv.FormatUint(alloc.InstrumentID, 10)
		attrs["reason"] = alloc.RemovedReason
	}
	return newFundEvent(EventTypeAllocationRemoved, f, attrs)
}

// NewYieldPostedEvent returns the payload emitted when repayment proceeds are
// booked into the pool.
func NewYieldPostedEvent(f *Fund, amount *big.Int) *events.Event {
	return newFundEvent(EventTypeYieldPosted, f, map[string]string{
		"amount": formatAmount(amount),
	})
}

// NewLossRecordedEvent returns the payload emitted when a write-off is
// recorded against an allocated instrument.
func NewLossRecordedEvent(f *Fund, instrumentID uint64, amount *big.Int) *events.Event {
	return newFundEvent(EventTypeLossRecorded, f, map[string]string{
		"instrumentId": strconv.FormatUint(instrumentID, 10),
		"amount":       formatAmount(amount),
	})
}

func newFundEvent(eventType string, f *Fund, extra map[string]string) *events.Event {
	attrs := map[string]string{}
	if f != nil {
		attrs["fund"] = f.ID
		attrs["totalAssets"] = formatAmount(f.TotalAssets)
		attrs["totalUnits"] = formatAmount(f.TotalUnits)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
