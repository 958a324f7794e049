package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// ConversionParams are a user's deferred conversion settings.
type ConversionParams struct {
	TargetAsset    util.Uint160
	MinAmount      uint256.Int
	MaxSlippageBps uint16
}

func (p ConversionParams) String() string {
	return fmt.Sprintf("%s min=%s slippage=%d", identity.String(p.TargetAsset), p.MinAmount.Dec(), p.MaxSlippageBps)
}

// Conversion is one queued conversion of saved funds.
type Conversion struct {
	ID        string
	User      util.Uint160
	FromAsset util.Uint160
	ToAsset   util.Uint160
	Amount    uint256.Int
	QueuedAt  time.Time
}

var conversionWriters = []Capability{CapSavings, CapConversion, CapInterceptor}

// SetConversionParams stores user's conversion settings; nil clears them.
// Strategy-only.
func (k *Kernel) SetConversionParams(ctx context.Context, caller, user util.Uint160, params *ConversionParams) error {
	const op = "kernel.SetConversionParams"
	if params != nil {
		if params.TargetAsset.Equals(util.Uint160{}) {
			return svcerrors.InvalidConfiguration(op, "zero target asset")
		}
		if params.MaxSlippageBps > strategy.BasisPoints {
			return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "slippage %d exceeds %d", params.MaxSlippageBps, strategy.BasisPoints)
		}
	}
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireCapability(op, caller, CapStrategy); err != nil {
			return err
		}
		prev, had := k.conversionParams[user]
		if params == nil {
			if !had {
				return nil
			}
			delete(k.conversionParams, user)
		} else {
			k.conversionParams[user] = *params
		}
		f.record(func() {
			if had {
				k.conversionParams[user] = prev
			} else {
				delete(k.conversionParams, user)
			}
		})

		before, after := "", ""
		if had {
			before = prev.String()
		}
		if params != nil {
			after = params.String()
		}
		f.emit(f.event(events.EventConversionParams).
			Subject(identity.String(user)).
			Change(before, after).
			Build())
		return nil
	})
}

// ConversionParamsOf returns user's conversion settings.
func (k *Kernel) ConversionParamsOf(ctx context.Context, user util.Uint160) (ConversionParams, bool) {
	var (
		p  ConversionParams
		ok bool
	)
	k.read(ctx, func() { p, ok = k.conversionParams[user] })
	return p, ok
}

// EnqueueConversion appends a conversion to the queue and returns it.
func (k *Kernel) EnqueueConversion(ctx context.Context, caller, user, from, to util.Uint160, amount *uint256.Int) (Conversion, error) {
	const op = "kernel.EnqueueConversion"
	if amount.IsZero() {
		return Conversion{}, svcerrors.New(svcerrors.ErrInvalidInput, op, "zero amount")
	}
	c := Conversion{
		ID:        uuid.NewString(),
		User:      user,
		FromAsset: from,
		ToAsset:   to,
		Amount:    *amount,
		QueuedAt:  time.Now().UTC(),
	}
	err := k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireCapability(op, caller, conversionWriters...); err != nil {
			return err
		}
		n := len(k.queue)
		k.queue = append(k.queue, c)
		f.record(func() { k.queue = k.queue[:n] })
		f.emit(f.event(events.EventConversionQueued).
			Subject(identity.String(user)).
			Metadata("conversion_id", c.ID).
			Metadata("from", identity.String(from)).
			Metadata("to", identity.String(to)).
			Metadata("amount", amount.Dec()).
			Build())
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}
	return c, nil
}

// PendingConversions returns queued conversions in FIFO order. A zero user
// returns the whole queue.
func (k *Kernel) PendingConversions(ctx context.Context, user util.Uint160) []Conversion {
	var out []Conversion
	all := user.Equals(util.Uint160{})
	k.read(ctx, func() {
		for _, c := range k.queue {
			if all || c.User.Equals(user) {
				out = append(out, c)
			}
		}
	})
	return out
}

// QueueDepth returns the number of queued conversions.
func (k *Kernel) QueueDepth(ctx context.Context) int {
	var n int
	k.read(ctx, func() { n = len(k.queue) })
	return n
}

// DequeueConversion removes the queued conversion with the given id.
// Conversion-only.
func (k *Kernel) DequeueConversion(ctx context.Context, caller util.Uint160, id string) (Conversion, error) {
	const op = "kernel.DequeueConversion"
	var removed Conversion
	err := k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireCapability(op, caller, CapConversion); err != nil {
			return err
		}
		idx := -1
		for i, c := range k.queue {
			if c.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return svcerrors.Newf(svcerrors.ErrNotFound, op, "conversion %s", id)
		}
		removed = k.queue[idx]
		k.queue = append(k.queue[:idx:idx], k.queue[idx+1:]...)
		f.record(func() {
			q := make([]Conversion, 0, len(k.queue)+1)
			q = append(q, k.queue[:idx]...)
			q = append(q, removed)
			k.queue = append(q, k.queue[idx:]...)
		})
		f.emit(f.event(events.EventConversionDequeued).
			Subject(identity.String(removed.User)).
			Change(fmt.Sprint(len(k.queue)+1), fmt.Sprint(len(k.queue))).
			Metadata("conversion_id", removed.ID).
			Metadata("from", identity.String(removed.FromAsset)).
			Metadata("to", identity.String(removed.ToAsset)).
			Metadata("amount", removed.Amount.Dec()).
			Build())
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}
	return removed, nil
}
