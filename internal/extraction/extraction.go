// Package extraction computes how much of a trade amount is saved and how the
// saved amount splits between the user and the treasury. Everything here is
// pure; callers persist auto-increment themselves, once per trade.
package extraction

import (
	"github.com/holiman/uint256"

	"github.com/R3E-Network/spendsave/internal/domain/strategy"
)

// DefaultRoundUpUnit is one whole token at 8 decimals.
const DefaultRoundUpUnit = 100_000_000

var basisPoints = uint256.NewInt(strategy.BasisPoints)

// Result is one computed contribution.
type Result struct {
	Gross *uint256.Int
	Net   *uint256.Int
	Fee   *uint256.Int
}

// IsZero reports whether nothing is saved.
func (r Result) IsZero() bool {
	return r.Gross == nil || r.Gross.IsZero()
}

// Calculator holds the rounding granularity used by round-up policies.
type Calculator struct {
	unit uint256.Int
}

// NewCalculator creates a calculator that rounds up to multiples of unit.
// A zero unit falls back to DefaultRoundUpUnit.
func NewCalculator(unit uint64) *Calculator {
	if unit == 0 {
		unit = DefaultRoundUpUnit
	}
	c := &Calculator{}
	c.unit.SetUint64(unit)
	return c
}

// Unit returns the rounding granularity.
func (c *Calculator) Unit() *uint256.Int {
	return new(uint256.Int).Set(&c.unit)
}

// Gross returns the amount to save from amount under cfg: the percentage
// share, rounded up when cfg asks for it, clamped to the max percentage and
// to amount itself.
func (c *Calculator) Gross(amount *uint256.Int, cfg strategy.Config) *uint256.Int {
	if amount == nil || amount.IsZero() || cfg.Percentage == 0 {
		return new(uint256.Int)
	}
	gross := share(amount, cfg.Percentage)

	if cfg.RoundUpSavings {
		rem := new(uint256.Int).Mod(gross, &c.unit)
		if !rem.IsZero() {
			step := new(uint256.Int).Sub(&c.unit, rem)
			if _, overflow := gross.AddOverflow(gross, step); overflow {
				gross.Set(amount)
			}
		}
	}

	if cfg.MaxPercentage > 0 {
		if ceiling := share(amount, cfg.MaxPercentage); gross.Gt(ceiling) {
			gross = ceiling
		}
	}
	if gross.Gt(amount) {
		gross.Set(amount)
	}
	return gross
}

// Split divides gross into the user's net share and the treasury fee.
func Split(gross *uint256.Int, feeBps uint16) (net, fee *uint256.Int) {
	if gross == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	fee = new(uint256.Int)
	if feeBps > 0 {
		fee = share(gross, feeBps)
	}
	net = new(uint256.Int).Sub(gross, fee)
	return net, fee
}

// Contribution is Gross followed by Split.
func (c *Calculator) Contribution(amount *uint256.Int, cfg strategy.Config, feeBps uint16) Result {
	gross := c.Gross(amount, cfg)
	net, fee := Split(gross, feeBps)
	return Result{Gross: gross, Net: net, Fee: fee}
}

// ComputeContribution returns the net and fee parts of saving from amount,
// using the default rounding unit.
func ComputeContribution(amount *uint256.Int, cfg strategy.Config, feeBps uint16) (net, fee *uint256.Int) {
	r := NewCalculator(DefaultRoundUpUnit).Contribution(amount, cfg, feeBps)
	return r.Net, r.Fee
}

// share returns floor(amount * bps / 10000). The product is computed at 512
// bits, so it never overflows for bps <= 10000.
func share(amount *uint256.Int, bps uint16) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(uint64(bps)), basisPoints)
	return z
}
