package kernel

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	"github.com/R3E-Network/spendsave/internal/engine/state"
)

// TxContext is the scratch state linking the two phases of one user's trade.
// It lives in the operation's transient store and is gone when the outer
// operation ends.
type TxContext struct {
	PendingSaveAmount        uint256.Int
	CurrentPercentage        uint16
	MaxPercentage            uint16
	HasStrategy              bool
	SavingsTokenType         strategy.TokenType
	SpecificSavingsAsset     util.Uint160
	RoundUpSavings           bool
	EnableDeferredConversion bool
	ExactInput               bool
	Phase                    state.Phase
}

// Snapshot returns the configuration fields captured at trade start.
func (c TxContext) Snapshot() strategy.Config {
	return strategy.Config{
		Percentage:               c.CurrentPercentage,
		MaxPercentage:            c.MaxPercentage,
		RoundUpSavings:           c.RoundUpSavings,
		SavingsTokenType:         c.SavingsTokenType,
		SpecificSavingsAsset:     c.SpecificSavingsAsset,
		EnableDeferredConversion: c.EnableDeferredConversion,
	}
}

func (c TxContext) String() string {
	return fmt.Sprintf("pending=%s pct=%d strategy=%v type=%s phase=%s",
		c.PendingSaveAmount.Dec(), c.CurrentPercentage, c.HasStrategy, c.SavingsTokenType, c.Phase)
}

type transientKey struct {
	user util.Uint160
}

// SetTransactionContext writes user's transaction context for the current
// operation. Interceptor-only. Without an operation the write lands in a
// single-call operation and is discarded when it ends.
func (k *Kernel) SetTransactionContext(ctx context.Context, caller, user util.Uint160, tc TxContext) error {
	const op = "kernel.SetTransactionContext"
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireCapability(op, caller, CapInterceptor); err != nil {
			return err
		}
		key := transientKey{user: user}
		prev, had := f.transient[key]
		f.transient[key] = tc
		f.record(func() {
			if f.transient == nil {
				return
			}
			if had {
				f.transient[key] = prev
			} else {
				delete(f.transient, key)
			}
		})
		f.emit(f.event(events.EventContextWritten).
			Subject(identity.String(user)).
			Phase(tc.Phase).
			Change(prev.String(), tc.String()).
			Build())
		return nil
	})
}

// GetTransactionContext returns user's transaction context in the current
// operation, or the zero context when none was written. Interceptor-only.
func (k *Kernel) GetTransactionContext(ctx context.Context, caller, user util.Uint160) (TxContext, error) {
	const op = "kernel.GetTransactionContext"
	var (
		tc  TxContext
		err error
	)
	k.read(ctx, func() {
		if err = k.requireCapability(op, caller, CapInterceptor); err != nil {
			return
		}
		if f := k.frameFrom(ctx); f != nil {
			tc = f.transient[transientKey{user: user}]
		}
	})
	return tc, err
}

// ClearTransactionContext removes user's transaction context. Interceptor-only.
func (k *Kernel) ClearTransactionContext(ctx context.Context, caller, user util.Uint160) error {
	const op = "kernel.ClearTransactionContext"
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireCapability(op, caller, CapInterceptor); err != nil {
			return err
		}
		key := transientKey{user: user}
		prev, had := f.transient[key]
		if !had {
			return nil
		}
		delete(f.transient, key)
		f.record(func() {
			if f.transient != nil {
				f.transient[key] = prev
			}
		})
		f.emit(f.event(events.EventContextCleared).
			Subject(identity.String(user)).
			Change(prev.String(), "").
			Build())
		return nil
	})
}

// TransientSize returns the number of live transaction contexts in the
// current operation.
func (k *Kernel) TransientSize(ctx context.Context) int {
	if f := k.frameFrom(ctx); f != nil {
		return len(f.transient)
	}
	return 0
}
