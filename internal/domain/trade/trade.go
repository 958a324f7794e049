// Package trade describes the trades the exchange venue executes and the
// results the interception callbacks hand back to it.
package trade

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Key identifies the venue pool a trade executes against.
type Key struct {
	Venue   util.Uint160 `json:"venue"`
	Asset0  util.Uint160 `json:"asset0"`
	Asset1  util.Uint160 `json:"asset1"`
	FeeTier uint32       `json:"fee_tier"`
}

// String returns a compact label for logs.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Asset0.StringLE(), k.Asset1.StringLE(), k.FeeTier)
}

// Params are the caller's declared trade parameters.
type Params struct {
	// ZeroForOne trades Asset0 for Asset1.
	ZeroForOne bool `json:"zero_for_one"`
	// ExactInput means Amount is the input; otherwise Amount is the desired output.
	ExactInput bool `json:"exact_input"`
	// Amount is the specified amount.
	Amount *uint256.Int `json:"amount"`
}

// Assets returns the input and output assets of p against k.
func (p Params) Assets(k Key) (in, out util.Uint160) {
	if p.ZeroForOne {
		return k.Asset0, k.Asset1
	}
	return k.Asset1, k.Asset0
}

// SpecifiedAmount returns Amount or zero when unset.
func (p Params) SpecifiedAmount() *uint256.Int {
	if p.Amount == nil {
		return new(uint256.Int)
	}
	return p.Amount
}

// Delta is the realized outcome of an executed trade.
type Delta struct {
	AmountIn  *uint256.Int `json:"amount_in"`
	AmountOut *uint256.Int `json:"amount_out"`
}

// In returns AmountIn or zero when unset.
func (d Delta) In() *uint256.Int {
	if d.AmountIn == nil {
		return new(uint256.Int)
	}
	return d.AmountIn
}

// Out returns AmountOut or zero when unset.
func (d Delta) Out() *uint256.Int {
	if d.AmountOut == nil {
		return new(uint256.Int)
	}
	return d.AmountOut
}

// Status tags the callback that produced a result.
type Status string

const (
	StatusBeforeTrade Status = "beforeTrade"
	StatusAfterTrade  Status = "afterTrade"
)

// NoFeeOverride leaves the pool fee unchanged.
const NoFeeOverride uint32 = 0

// BeforeResult is returned by the pre-trade callback.
type BeforeResult struct {
	Status Status `json:"status"`
	// SpecifiedAdjustment is claimed from the specified amount; positive
	// values shrink the amount that is actually traded.
	SpecifiedAdjustment *big.Int `json:"specified_adjustment"`
	FeeOverride         uint32   `json:"fee_override"`
}

// AfterResult is returned by the post-trade callback.
type AfterResult struct {
	Status Status `json:"status"`
	// UnspecifiedAdjustment is claimed from the unspecified side of the trade:
	// the output for exact-input trades, the input for exact-output trades.
	UnspecifiedAdjustment *big.Int `json:"unspecified_adjustment"`
}

// ZeroBefore is the zero-effect pre-trade result.
func ZeroBefore() BeforeResult {
	return BeforeResult{Status: StatusBeforeTrade, SpecifiedAdjustment: new(big.Int), FeeOverride: NoFeeOverride}
}

// ZeroAfter is the zero-effect post-trade result.
func ZeroAfter() AfterResult {
	return AfterResult{Status: StatusAfterTrade, UnspecifiedAdjustment: new(big.Int)}
}

// Claim converts an unsigned amount into a positive signed adjustment.
func Claim(amount *uint256.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return amount.ToBig()
}
