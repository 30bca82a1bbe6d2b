package registry

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"recvault/core/events"
)

const (
	EventTypeInstrumentSubmitted          = "instrument.submitted"
	EventTypeInstrumentVerified           = "instrument.verified"
	EventTypeInstrumentVerificationFailed = "instrument.verification_failed"
	EventTypeInstrumentFunded             = "instrument.funded"
	EventTypeInstrumentPaymentRecorded    = "instrument.payment_recorded"
	EventTypeInstrumentPaid               = "instrument.paid"
	EventTypeInstrumentDefaulted          = "instrument.defaulted"
)

// NewSubmittedEvent returns the canonical event payload for a newly submitted
// receivable.
func NewSubmittedEvent(i *Instrument) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentSubmitted, i, nil)
}

// NewVerifiedEvent returns the canonical event payload emitted when an
// instrument passes external verification. Allocators treat this as the
// ready-to-fund signal.
func NewVerifiedEvent(i *Instrument) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentVerified, i, nil)
}

// NewVerificationFailedEvent returns the payload emitted when verification
// rejects a submission. The instrument stays in the registry for audit.
func NewVerificationFailedEvent(i *Instrument) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentVerificationFailed, i, nil)
}

// NewFundedEvent returns the canonical event payload emitted when a fund
// allocates capital against the instrument.
func NewFundedEvent(i *Instrument) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentFunded, i, nil)
}

// NewPaymentRecordedEvent returns the payload for a repayment application.
func NewPaymentRecordedEvent(i *Instrument, amount *big.Int) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentPaymentRecorded, i, map[string]string{
		"amount": formatAmount(amount),
	})
}

// NewPaidEvent returns the payload emitted when repayments cover the full face
// value.
func NewPaidEvent(i *Instrument) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentPaid, i, nil)
}

// NewDefaultedEvent returns the payload emitted when a matured instrument is
// written off, carrying the unpaid remainder.
func NewDefaultedEvent(i *Instrument, loss *big.Int) *events.Event {
	return newInstrumentEvent(EventTypeInstrumentDefaulted, i, map[string]string{
		"loss": formatAmount(loss),
	})
}

func newInstrumentEvent(eventType string, i *Instrument, extra map[string]string) *events.Event {
	if i == nil {
		return &events.Event{Type: eventType, Attributes: map[string]string{}}
	}
	attrs := map[string]string{
		"id":           strconv.FormatUint(i.ID, 10),
		"originator":   i.Originator,
		"status":       i.Status.String(),
		"faceValue":    formatAmount(i.FaceValue),
		"amountPaid":   formatAmount(i.AmountPaid),
		"maturity":     strconv.FormatInt(i.Maturity, 10),
		"evidenceHash": hex.EncodeToString(i.EvidenceHash[:]),
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
