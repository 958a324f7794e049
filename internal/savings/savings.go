// Package savings credits computed contributions to the ledger, takes the
// treasury fee and queues deferred conversions.
package savings

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/extraction"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Name is the module name used in logs and events.
const Name = "savings"

// Deposit is one contribution to credit.
type Deposit struct {
	User   util.Uint160
	Asset  util.Uint160
	Gross  *uint256.Int
	Config strategy.Config
}

// Receipt reports what Process did.
type Receipt struct {
	AssetID    uint64
	Net        *uint256.Int
	Fee        *uint256.Int
	Conversion *kernel.Conversion
}

// Payout hands withdrawn savings to external custody.
type Payout interface {
	Pay(ctx context.Context, user, asset util.Uint160, amount *uint256.Int) error
}

// PayoutFunc adapts a function to Payout.
type PayoutFunc func(ctx context.Context, user, asset util.Uint160, amount *uint256.Int) error

func (f PayoutFunc) Pay(ctx context.Context, user, asset util.Uint160, amount *uint256.Int) error {
	return f(ctx, user, asset, amount)
}

// Module is the savings module.
type Module struct {
	k      *kernel.Kernel
	addr   util.Uint160
	log    *logger.Logger
	payout Payout
	guard  *kernel.Guard
}

// Option configures a Module.
type Option func(*Module)

// WithPayout sets the custody sink used by Withdraw.
func WithPayout(p Payout) Option {
	return func(m *Module) { m.payout = p }
}

// New creates the savings module acting as addr.
func New(k *kernel.Kernel, addr util.Uint160, log *logger.Logger, opts ...Option) *Module {
	if log == nil {
		log = logger.NewDefault(Name)
	}
	m := &Module{k: k, addr: addr, log: log, guard: kernel.NewGuard(Name)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string          { return Name }
func (m *Module) Address() util.Uint160 { return m.addr }

// processors may credit savings on a user's behalf.
var processors = []kernel.Capability{kernel.CapInterceptor, kernel.CapCoordinator}

// Process credits d: the net share to the user, the fee to the treasury, and
// a deferred conversion when the policy asks for one. Any failure reverts all
// of it.
func (m *Module) Process(ctx context.Context, caller util.Uint160, d Deposit) (Receipt, error) {
	const op = "savings.Process"
	if d.Gross == nil || d.Gross.IsZero() {
		return Receipt{Net: new(uint256.Int), Fee: new(uint256.Int)}, nil
	}

	var receipt Receipt
	err := m.k.ExecuteGuarded(ctx, m.guard, op, func(ctx context.Context) error {
		if err := m.k.RequireCapability(ctx, op, caller, processors...); err != nil {
			return err
		}
		ledger, err := m.k.Ledger(ctx)
		if err != nil {
			return err
		}
		id, err := ledger.RegisterAsset(ctx, m.addr, d.Asset)
		if err != nil {
			return err
		}

		treasury, feeBps := m.k.Treasury(ctx)
		net, fee := extraction.Split(d.Gross, feeBps)
		if !net.IsZero() {
			if err := ledger.Mint(ctx, m.addr, d.User, id, net); err != nil {
				return err
			}
		}
		if !fee.IsZero() {
			if err := ledger.Mint(ctx, m.addr, treasury, id, fee); err != nil {
				return err
			}
		}
		receipt = Receipt{AssetID: id, Net: net, Fee: fee}

		if target, ok := m.conversionTarget(ctx, d, net); ok {
			c, err := m.k.EnqueueConversion(ctx, m.addr, d.User, d.Asset, target, net)
			if err != nil {
				return err
			}
			receipt.Conversion = &c
		}

		m.k.Emit(ctx, events.NewEvent(events.EventSavingsRecorded).
			Module(Name).
			Component(Name).
			Subject(identity.String(d.User)).
			Metadata("asset", identity.String(d.Asset)).
			Metadata("asset_id", fmt.Sprint(id)).
			Metadata("token_type", d.Config.SavingsTokenType.String()).
			Metadata("gross", d.Gross.Dec()).
			Metadata("net", net.Dec()).
			Metadata("fee", fee.Dec()).
			Build())
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	m.k.Metrics().RecordContribution(d.Config.SavingsTokenType.String())
	m.log.WithFields(logrus.Fields{
		"user":  identity.String(d.User),
		"asset": identity.String(d.Asset),
		"net":   receipt.Net.Dec(),
		"fee":   receipt.Fee.Dec(),
	}).Debug("savings recorded")
	return receipt, nil
}

// conversionTarget decides whether net should be queued for conversion and
// into which asset. SPECIFIC policies always convert into their asset;
// otherwise the user's deferred conversion settings apply when enabled.
func (m *Module) conversionTarget(ctx context.Context, d Deposit, net *uint256.Int) (util.Uint160, bool) {
	if net.IsZero() {
		return util.Uint160{}, false
	}
	if d.Config.SavingsTokenType == strategy.TokenSpecific {
		target := d.Config.SpecificSavingsAsset
		return target, !target.Equals(d.Asset)
	}
	if !d.Config.EnableDeferredConversion {
		return util.Uint160{}, false
	}
	params, ok := m.k.ConversionParamsOf(ctx, d.User)
	if !ok || params.TargetAsset.Equals(d.Asset) {
		return util.Uint160{}, false
	}
	if net.Lt(&params.MinAmount) {
		return util.Uint160{}, false
	}
	return params.TargetAsset, true
}

// Withdraw burns amount of user's asset savings and hands it to the payout
// sink. The caller must be user or an approved delegate. A payout that calls
// back into the module fails with ErrReentrancyDetected and reverts the burn.
func (m *Module) Withdraw(ctx context.Context, caller, user, asset util.Uint160, amount *uint256.Int) error {
	const op = "savings.Withdraw"
	if amount == nil || amount.IsZero() {
		return svcerrors.New(svcerrors.ErrInvalidInput, op, "zero amount")
	}
	err := m.k.ExecuteGuarded(ctx, m.guard, op, func(ctx context.Context) error {
		if err := m.k.RequireSelfOrDelegate(ctx, op, user, caller); err != nil {
			return err
		}
		id := m.k.AssetIDOf(ctx, asset)
		if id == 0 {
			return svcerrors.New(svcerrors.ErrAssetNotRegistered, op, identity.String(asset))
		}
		ledger, err := m.k.Ledger(ctx)
		if err != nil {
			return err
		}
		if err := ledger.Burn(ctx, m.addr, user, id, amount); err != nil {
			return err
		}
		if m.payout != nil {
			if err := m.payout.Pay(ctx, user, asset, amount); err != nil {
				return fmt.Errorf("%s: payout: %w", op, err)
			}
		}
		m.k.Emit(ctx, events.NewEvent(events.EventSavingsWithdrawn).
			Module(Name).
			Component(Name).
			Subject(identity.String(user)).
			Metadata("asset", identity.String(asset)).
			Metadata("amount", amount.Dec()).
			Metadata("caller", identity.String(caller)).
			Build())
		return nil
	})
	if err != nil {
		m.log.WithError(err).WithField("user", identity.String(user)).Warn("withdraw failed")
	}
	return err
}
