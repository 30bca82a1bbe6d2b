package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaSubmissionsExceeded = errors.New("quota submissions exceeded")
	ErrQuotaFaceValueExceeded   = errors.New("quota face value cap exceeded")
	ErrQuotaCounterOverflow     = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an originator.
type QuotaNow struct {
	SubmitCount uint32
	FaceUsed    uint64
	EpochID     uint64
}

// Quota defines the submission limits enforced per originator per epoch.
type Quota struct {
	MaxSubmissionsPerEpoch uint32
	MaxFaceValuePerEpoch   uint64
	EpochSeconds           uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxSubmissionsPerEpoch > 0 || q.MaxFaceValuePerEpoch > 0
}

// CheckQuota verifies whether an additional submission carrying the given face
// value fits within the configured quota. The returned QuotaNow reflects the
// updated counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addSubmits uint32, addFace uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addSubmits > 0 {
		if next.SubmitCount > math.MaxUint32-addSubmits {
			return prev, ErrQuotaCounterOverflow
		}
		next.SubmitCount += addSubmits
	}
	if q.MaxSubmissionsPerEpoch > 0 && next.SubmitCount > q.MaxSubmissionsPerEpoch {
		return prev, ErrQuotaSubmissionsExceeded
	}

	if addFace > 0 {
		if next.FaceUsed > math.MaxUint64-addFace {
			return prev, ErrQuotaCounterOverflow
		}
		next.FaceUsed += addFace
	}
	if q.MaxFaceValuePerEpoch > 0 && next.FaceUsed > q.MaxFaceValuePerEpoch {
		return prev, ErrQuotaFaceValueExceeded
	}

	return next, nil
}
