package dca

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Request asks the router to convert Amount of FromAsset into ToAsset.
type Request struct {
	ConversionID   string
	User           util.Uint160
	FromAsset      util.Uint160
	ToAsset        util.Uint160
	Amount         *uint256.Int
	MaxSlippageBps uint16
}

// Router executes conversions against an external venue and reports the
// amount of ToAsset received.
type Router interface {
	Convert(ctx context.Context, req Request) (*uint256.Int, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, req Request) (*uint256.Int, error)

// Convert calls f.
func (f RouterFunc) Convert(ctx context.Context, req Request) (*uint256.Int, error) {
	return f(ctx, req)
}

// FixedRateRouter converts at a constant num/den rate. It stands in for a
// real venue in development setups.
type FixedRateRouter struct {
	Num uint64
	Den uint64
}

// Convert implements Router.
func (r FixedRateRouter) Convert(_ context.Context, req Request) (*uint256.Int, error) {
	den := r.Den
	if den == 0 {
		den = 1
	}
	out, _ := new(uint256.Int).MulDivOverflow(req.Amount, uint256.NewInt(r.Num), uint256.NewInt(den))
	return out, nil
}
