package testutil

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/trade"
	"github.com/R3E-Network/spendsave/internal/kernel"
)

// Callbacks is the interception surface a venue calls around each trade.
type Callbacks interface {
	BeforeTrade(ctx context.Context, caller util.Uint160, key trade.Key, params trade.Params, data []byte) (trade.BeforeResult, error)
	AfterTrade(ctx context.Context, caller util.Uint160, key trade.Key, params trade.Params, delta trade.Delta, data []byte) (trade.AfterResult, error)
}

// SwapResult is what a simulated trade produced.
type SwapResult struct {
	Before trade.BeforeResult
	After  trade.AfterResult
	// Executed is the delta the pool settled.
	Executed trade.Delta
	// User is what the trader paid and received after adjustments.
	User trade.Delta
}

// Venue is a constant-rate exchange that calls the interception callbacks
// inside one kernel operation, the way a real venue wraps a swap.
type Venue struct {
	k       *kernel.Kernel
	hooks   Callbacks
	addr    util.Uint160
	rateNum uint64
	rateDen uint64
}

// NewVenue creates a venue at addr pricing one unit of input at num/den
// units of output.
func NewVenue(k *kernel.Kernel, hooks Callbacks, addr util.Uint160, num, den uint64) *Venue {
	if den == 0 {
		den = 1
	}
	return &Venue{k: k, hooks: hooks, addr: addr, rateNum: num, rateDen: den}
}

// Address returns the venue address passed as caller to the callbacks.
func (v *Venue) Address() util.Uint160 { return v.addr }

// Swap executes one trade.
func (v *Venue) Swap(ctx context.Context, key trade.Key, params trade.Params, data []byte) (SwapResult, error) {
	var res SwapResult
	err := v.k.Execute(ctx, "venue.Swap", func(ctx context.Context) error {
		r, err := v.swap(ctx, key, params, data)
		res = r
		return err
	})
	if err != nil {
		return SwapResult{}, err
	}
	return res, nil
}

// SwapInOperation executes a trade inside the caller's operation.
func (v *Venue) SwapInOperation(ctx context.Context, key trade.Key, params trade.Params, data []byte) (SwapResult, error) {
	return v.swap(ctx, key, params, data)
}

func (v *Venue) swap(ctx context.Context, key trade.Key, params trade.Params, data []byte) (SwapResult, error) {
	before, err := v.hooks.BeforeTrade(ctx, v.addr, key, params, data)
	if err != nil {
		return SwapResult{}, err
	}

	specified, err := applyAdjustment(params.SpecifiedAmount(), before.SpecifiedAdjustment)
	if err != nil {
		return SwapResult{}, err
	}

	var executed trade.Delta
	if params.ExactInput {
		out := mulDiv(specified, v.rateNum, v.rateDen)
		executed = trade.Delta{AmountIn: specified, AmountOut: out}
	} else {
		in := mulDivUp(specified, v.rateDen, v.rateNum)
		executed = trade.Delta{AmountIn: in, AmountOut: specified}
	}

	after, err := v.hooks.AfterTrade(ctx, v.addr, key, params, executed, data)
	if err != nil {
		return SwapResult{}, err
	}

	user := trade.Delta{AmountIn: new(uint256.Int).Set(executed.In()), AmountOut: new(uint256.Int).Set(executed.Out())}
	claim, overflow := uint256.FromBig(after.UnspecifiedAdjustment)
	if overflow || after.UnspecifiedAdjustment.Sign() < 0 {
		return SwapResult{}, fmt.Errorf("venue: bad unspecified adjustment %s", after.UnspecifiedAdjustment)
	}
	if params.ExactInput {
		if user.AmountOut.Lt(claim) {
			return SwapResult{}, fmt.Errorf("venue: claim %s exceeds output %s", claim.Dec(), user.AmountOut.Dec())
		}
		user.AmountOut.Sub(user.AmountOut, claim)
		// The trader still pays the claimed pre-trade contribution.
		user.AmountIn = new(uint256.Int).Set(params.SpecifiedAmount())
	} else {
		user.AmountIn.Add(user.AmountIn, claim)
	}
	return SwapResult{Before: before, After: after, Executed: executed, User: user}, nil
}

func applyAdjustment(amount *uint256.Int, adj *big.Int) (*uint256.Int, error) {
	if adj == nil || adj.Sign() == 0 {
		return new(uint256.Int).Set(amount), nil
	}
	a, overflow := uint256.FromBig(adj)
	if overflow || adj.Sign() < 0 || a.Gt(amount) {
		return nil, fmt.Errorf("venue: bad specified adjustment %s for amount %s", adj, amount.Dec())
	}
	return new(uint256.Int).Sub(amount, a), nil
}

func mulDiv(x *uint256.Int, num, den uint64) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(num), uint256.NewInt(den))
	return z
}

func mulDivUp(x *uint256.Int, num, den uint64) *uint256.Int {
	z := mulDiv(x, num, den)
	check := mulDiv(z, den, num)
	if check.Lt(x) {
		z.AddUint64(z, 1)
	}
	return z
}
