// Package yield computes transit yield accrued on a principal while a bridge is in flight.
package yield

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OneYear is the accrual basis
const OneYear = 365 * 24 * time.Hour

// APYSource reports the current annual yield for a token. Settlement providers
// that front liquidity from a yield-bearing vault implement it.
type APYSource interface {
	CurrentAPY(ctx context.Context, token string) (decimal.Decimal, error)
}

// Accrue returns principal * apy * elapsed/OneYear. It is zero for non-positive
// inputs and non-decreasing in elapsed for fixed principal and apy.
func Accrue(principal decimal.Decimal, elapsed time.Duration, apy decimal.Decimal) decimal.Decimal {
	if elapsed <= 0 || !principal.IsPositive() || !apy.IsPositive() {
		return decimal.Zero
	}
	fraction := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(OneYear)))
	return principal.Mul(apy).Mul(fraction).Round(8)
}

// Calculator applies Accrue with a configured baseline APY
type Calculator struct {
	baselineAPY decimal.Decimal
}

func NewCalculator(baselineAPY decimal.Decimal) *Calculator {
	if baselineAPY.IsNegative() {
		baselineAPY = decimal.Zero
	}
	return &Calculator{baselineAPY: baselineAPY}
}

// BaselineAPY is the configured fallback rate
func (c *Calculator) BaselineAPY() decimal.Decimal {
	return c.baselineAPY
}

// Estimate projects yield over the expected bridge duration at the baseline rate
func (c *Calculator) Estimate(principal decimal.Decimal, projected time.Duration) decimal.Decimal {
	return Accrue(principal, projected, c.baselineAPY)
}

// Final computes yield over the actual elapsed time. A non-positive apy falls
// back to the baseline; choosing the source of apy is the caller's job.
func (c *Calculator) Final(principal decimal.Decimal, elapsed time.Duration, apy decimal.Decimal) decimal.Decimal {
	if !apy.IsPositive() {
		apy = c.baselineAPY
	}
	return Accrue(principal, elapsed, apy)
}
