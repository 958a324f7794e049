// Package hook implements the two-phase interception callbacks the exchange
// venue invokes around every trade.
//
// BeforeTrade snapshots the user's policy into the transaction context and,
// for input-side savings on exact-input trades, claims the contribution from
// the specified amount. AfterTrade computes the remaining contributions from
// the realized delta, credits them through the savings module and clears the
// transaction context. Users without an active policy take a fast path that
// reads the configuration slot and nothing else.
//
// Both callbacks must run inside the venue's kernel operation so the
// transaction context survives between them and any failure reverts the
// whole trade.
package hook

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/domain/trade"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	"github.com/R3E-Network/spendsave/internal/engine/state"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/extraction"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/internal/savings"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Name is the module name used in logs and events.
const Name = "hook"

// Trade paths recorded in metrics.
const (
	pathFast     = "fast"
	pathStrategy = "strategy"
	pathSkipped  = "skipped"
)

// Processor credits computed contributions.
type Processor interface {
	Process(ctx context.Context, caller util.Uint160, d savings.Deposit) (savings.Receipt, error)
}

// Hook is the interception engine.
type Hook struct {
	k       *kernel.Kernel
	addr    util.Uint160
	calc    *extraction.Calculator
	savings Processor
	guard   *kernel.Guard
	venue   util.Uint160
	log     *logger.Logger
}

// Option configures a Hook.
type Option func(*Hook)

// WithVenue restricts callbacks to the given venue address.
func WithVenue(venue util.Uint160) Option {
	return func(h *Hook) { h.venue = venue }
}

// WithCalculator sets the extraction calculator.
func WithCalculator(c *extraction.Calculator) Option {
	return func(h *Hook) { h.calc = c }
}

// New creates the interception engine acting as addr.
func New(k *kernel.Kernel, addr util.Uint160, sv Processor, log *logger.Logger, opts ...Option) *Hook {
	if log == nil {
		log = logger.NewDefault(Name)
	}
	h := &Hook{
		k:       k,
		addr:    addr,
		savings: sv,
		guard:   kernel.NewGuard(Name),
		log:     log,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.calc == nil {
		h.calc = extraction.NewCalculator(extraction.DefaultRoundUpUnit)
	}
	return h
}

func (h *Hook) Name() string          { return Name }
func (h *Hook) Address() util.Uint160 { return h.addr }

func (h *Hook) checkVenue(op string, caller util.Uint160) error {
	if h.venue.Equals(util.Uint160{}) || caller.Equals(h.venue) {
		return nil
	}
	return svcerrors.Unauthorized(op, identity.String(caller))
}

// BeforeTrade is the pre-trade callback.
func (h *Hook) BeforeTrade(ctx context.Context, caller util.Uint160, key trade.Key, params trade.Params, data []byte) (trade.BeforeResult, error) {
	const op = "hook.BeforeTrade"
	if err := h.checkVenue(op, caller); err != nil {
		return trade.BeforeResult{}, err
	}
	user, ok := DecodeUser(data)
	if !ok {
		h.k.Metrics().RecordTrade("before", pathFast)
		return trade.ZeroBefore(), nil
	}
	cfg, err := h.k.GetUserConfig(ctx, user)
	if err != nil {
		return trade.BeforeResult{}, err
	}
	if !cfg.Active() {
		h.k.Metrics().RecordTrade("before", pathFast)
		return trade.ZeroBefore(), nil
	}
	if !h.k.InOperation(ctx) {
		return trade.BeforeResult{}, svcerrors.New(svcerrors.ErrNoOperation, op, "callback outside a venue operation")
	}

	result := trade.ZeroBefore()
	err = h.k.ExecuteGuarded(ctx, h.guard, op, func(ctx context.Context) error {
		prev, err := h.k.GetTransactionContext(ctx, h.addr, user)
		if err != nil {
			return err
		}
		phase, err := state.Transition(prev.Phase, state.PhasePreTrade)
		if err != nil {
			return err
		}

		tc := kernel.TxContext{
			CurrentPercentage:        cfg.Percentage,
			MaxPercentage:            cfg.MaxPercentage,
			HasStrategy:              true,
			SavingsTokenType:         cfg.SavingsTokenType,
			SpecificSavingsAsset:     cfg.SpecificSavingsAsset,
			RoundUpSavings:           cfg.RoundUpSavings,
			EnableDeferredConversion: cfg.EnableDeferredConversion,
			ExactInput:               params.ExactInput,
			Phase:                    phase,
		}
		if cfg.SavingsTokenType == strategy.TokenInput && params.ExactInput {
			gross := h.calc.Gross(params.SpecifiedAmount(), cfg)
			tc.PendingSaveAmount = *gross
			result.SpecifiedAdjustment = trade.Claim(gross)
		}
		if err := h.k.SetTransactionContext(ctx, h.addr, user, tc); err != nil {
			return err
		}
		h.emitPhase(ctx, user, prev.Phase, phase)
		return nil
	})
	if err != nil {
		h.log.WithError(err).WithField("user", identity.String(user)).Warn("before-trade failed")
		return trade.BeforeResult{}, err
	}
	h.k.Metrics().RecordTrade("before", pathStrategy)
	return result, nil
}

// AfterTrade is the post-trade callback.
func (h *Hook) AfterTrade(ctx context.Context, caller util.Uint160, key trade.Key, params trade.Params, delta trade.Delta, data []byte) (trade.AfterResult, error) {
	const op = "hook.AfterTrade"
	if err := h.checkVenue(op, caller); err != nil {
		return trade.AfterResult{}, err
	}
	user, ok := DecodeUser(data)
	if !ok {
		h.k.Metrics().RecordTrade("after", pathFast)
		return trade.ZeroAfter(), nil
	}
	if !h.k.InOperation(ctx) {
		cfg, err := h.k.GetUserConfig(ctx, user)
		if err != nil {
			return trade.AfterResult{}, err
		}
		if cfg.Active() {
			return trade.AfterResult{}, svcerrors.New(svcerrors.ErrNoOperation, op, "callback outside a venue operation")
		}
		h.k.Metrics().RecordTrade("after", pathFast)
		return trade.ZeroAfter(), nil
	}

	// Trades that never went through the strategy path are left alone,
	// including ones nested inside another user's callback.
	tc, err := h.k.GetTransactionContext(ctx, h.addr, user)
	if err != nil {
		return trade.AfterResult{}, err
	}
	if !tc.HasStrategy {
		h.k.Metrics().RecordTrade("after", pathFast)
		return trade.ZeroAfter(), nil
	}

	result := trade.ZeroAfter()
	path := pathStrategy
	err = h.k.ExecuteGuarded(ctx, h.guard, op, func(ctx context.Context) error {
		phase, err := state.Transition(tc.Phase, state.PhasePostTrade)
		if err != nil {
			return err
		}
		h.emitPhase(ctx, user, tc.Phase, phase)

		snap := tc.Snapshot()
		in, out := params.Assets(key)
		var (
			gross  *uint256.Int
			asset  util.Uint160
			claim  bool
			reason string
		)
		switch tc.SavingsTokenType {
		case strategy.TokenInput:
			asset = in
			if tc.ExactInput {
				gross = new(uint256.Int).Set(&tc.PendingSaveAmount)
			} else {
				gross = h.calc.Gross(delta.In(), snap)
				claim = true
			}
		default:
			asset = out
			if tc.ExactInput {
				gross = h.calc.Gross(delta.Out(), snap)
				claim = true
			} else {
				reason = "output amount is fixed on exact-output trades"
			}
		}

		switch {
		case reason != "":
			path = pathSkipped
			h.k.Emit(ctx, events.NewEvent(events.EventSavingsSkipped).
				Module(Name).
				Component(Name).
				Subject(identity.String(user)).
				Message(reason).
				Metadata("token_type", tc.SavingsTokenType.String()).
				Build())
		case !gross.IsZero():
			path = pathStrategy
			if _, err := h.savings.Process(ctx, h.addr, savings.Deposit{User: user, Asset: asset, Gross: gross, Config: snap}); err != nil {
				return err
			}
			if claim {
				result.UnspecifiedAdjustment = trade.Claim(gross)
			}
			if err := h.autoIncrement(ctx, user); err != nil {
				return err
			}
		default:
			path = pathStrategy
		}

		if err := h.k.ClearTransactionContext(ctx, h.addr, user); err != nil {
			return err
		}
		idle, err := state.Transition(phase, state.PhaseIdle)
		if err != nil {
			return err
		}
		h.emitPhase(ctx, user, phase, idle)
		return nil
	})
	if err != nil {
		h.log.WithError(err).WithField("user", identity.String(user)).Warn("after-trade failed")
		return trade.AfterResult{}, err
	}
	h.k.Metrics().RecordTrade("after", path)
	return result, nil
}

// autoIncrement applies one auto-increment step to user's stored policy.
func (h *Hook) autoIncrement(ctx context.Context, user util.Uint160) error {
	cfg, err := h.k.GetUserConfig(ctx, user)
	if err != nil {
		return err
	}
	next, changed := cfg.Incremented()
	if !changed {
		return nil
	}
	if err := h.k.SetUserConfig(ctx, h.addr, user, next); err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{
		"user":       identity.String(user),
		"percentage": next.Percentage,
	}).Debug("auto-increment applied")
	return nil
}

func (h *Hook) emitPhase(ctx context.Context, user util.Uint160, from, to state.Phase) {
	h.k.Emit(ctx, events.NewEvent(events.EventPhaseChanged).
		Module(Name).
		Component(Name).
		Subject(identity.String(user)).
		Phase(to).
		Change(from.String(), to.String()).
		Build())
}
