package fund

import (
	"fmt"
	"math/big"
	"strings"
)

// Fund captures the accounting state of one pooled-ownership tranche. Amounts
// are denominated in the smallest currency unit; ownership units share the
// same integer precision.
type Fund struct {
	ID                 string
	TotalAssets        *big.Int
	TotalUnits         *big.Int
	HoldingsValue      *big.Int
	TargetYieldBp      uint32
	MinDeposit         *big.Int
	DepositCap         *big.Int
	DepositsEnabled    bool
	WithdrawalsEnabled bool
	CumulativeYield    *big.Int
	CumulativeLoss     *big.Int
	CreatedAt          int64
}

// Clone returns a deep copy of the fund so callers can safely mutate the copy
// without affecting the stored instance.
func (f *Fund) Clone() *Fund {
	if f == nil {
		return nil
	}
	clone := *f
	clone.TotalAssets = cloneBigInt(f.TotalAssets)
	clone.TotalUnits = cloneBigInt(f.TotalUnits)
	clone.HoldingsValue = cloneBigInt(f.HoldingsValue)
	clone.MinDeposit = cloneBigInt(f.MinDeposit)
	if f.DepositCap != nil {
		clone.DepositCap = new(big.Int).Set(f.DepositCap)
	}
	clone.CumulativeYield = cloneBigInt(f.CumulativeYield)
	clone.CumulativeLoss = cloneBigInt(f.CumulativeLoss)
	return &clone
}

// Config carries the parameters for creating a tranche.
type Config struct {
	ID            string
	TargetYieldBp uint32
	MinDeposit    *big.Int
	DepositCap    *big.Int
}

// Sanitize validates and normalises the configuration.
func (c Config) Sanitize() (Config, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return c, fmt.Errorf("%w: fund id required", ErrValidation)
	}
	if c.MinDeposit == nil || c.MinDeposit.Sign() < 0 {
		c.MinDeposit = big.NewInt(0)
	}
	if c.DepositCap != nil && c.DepositCap.Sign() <= 0 {
		return c, fmt.Errorf("%w: deposit cap must be positive when set", ErrValidation)
	}
	return c, nil
}

// Allocation is the fund's claim against one specific instrument. The fund
// tracks only which instruments back its pool; the registry owns the
// instrument lifecycle.
type Allocation struct {
	InstrumentID  uint64
	FaceValue     *big.Int
	AddedAt       int64
	Active        bool
	RemovedAt     int64
	RemovedReason string
}

// Clone returns a deep copy of the allocation.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	clone := *a
	clone.FaceValue = cloneBigInt(a.FaceValue)
	return &clone
}

// Position summarises one principal's stake in a fund.
type Position struct {
	Principal     string
	Units         *big.Int
	AssetsValue   *big.Int
	PercentOfFund uint32 // basis points
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
