package fund

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	priceScale  = mustBigInt("1000000000000000000") // 1e18 fixed-point share price
	secondsYear = big.NewInt(365 * 86_400)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// unitsForDeposit converts deposited assets into ownership units, rounding
// down so a depositor can never mint units worth more than the assets brought
// in. At bootstrap (zero units outstanding) units are issued 1:1.
func unitsForDeposit(assets, totalAssets, totalUnits *big.Int) *big.Int {
	if assets == nil || assets.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalUnits == nil || totalUnits.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	if totalAssets == nil || totalAssets.Sign() == 0 {
		return big.NewInt(0)
	}
	units := new(big.Int).Mul(assets, totalUnits)
	return units.Quo(units, totalAssets)
}

// assetsForUnits converts ownership units into an asset payout, rounding down
// so the pool never pays out more than the units are backed by.
func assetsForUnits(units, totalAssets, totalUnits *big.Int) *big.Int {
	if units == nil || units.Sign() <= 0 || totalUnits == nil || totalUnits.Sign() == 0 {
		return big.NewInt(0)
	}
	assets := new(big.Int).Mul(units, totalAssets)
	return assets.Quo(assets, totalUnits)
}

// unitsForAssetsOut computes the units that must be burned to withdraw an
// exact asset amount, rounding up so the redemption can never extract more
// value than the burned units represent.
func unitsForAssetsOut(assets, totalAssets, totalUnits *big.Int) *big.Int {
	if assets == nil || assets.Sign() <= 0 || totalAssets == nil || totalAssets.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalUnits == nil || totalUnits.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(assets, totalUnits)
	numerator.Add(numerator, new(big.Int).Sub(totalAssets, big.NewInt(1)))
	return numerator.Quo(numerator, totalAssets)
}

// sharePrice renders assets-per-unit scaled by 1e18. An empty fund reports the
// baseline price of exactly one asset per unit.
func sharePrice(totalAssets, totalUnits *big.Int) *big.Int {
	if totalUnits == nil || totalUnits.Sign() == 0 {
		return new(big.Int).Set(priceScale)
	}
	price := new(big.Int).Mul(cloneBigInt(totalAssets), priceScale)
	return price.Quo(price, totalUnits)
}

// annualizedYieldBp derives the expected APY in basis points from the total
// discount spread, total face value, and average duration in seconds:
// totalYield * secondsPerYear * 10000 / (totalFace * avgDuration).
func annualizedYieldBp(totalYield, totalFace *big.Int, avgDurationSeconds int64) *big.Int {
	if totalYield == nil || totalYield.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalFace == nil || totalFace.Sign() == 0 || avgDurationSeconds <= 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(totalYield, secondsYear)
	numerator.Mul(numerator, basisPoints)
	denominator := new(big.Int).Mul(totalFace, big.NewInt(avgDurationSeconds))
	return numerator.Quo(numerator, denominator)
}
