// Package dca drains the deferred conversion queue. Each queued item is
// converted in its own nested scope: the saved source asset is burned, the
// router is called and the proceeds are minted in the target asset. A failed
// item is reverted and stays queued for the next sweep.
package dca

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Name is the module name used in logs and events.
const Name = "dca"

// Summary reports one sweep.
type Summary struct {
	Executed int
	Failed   int
	// Err aggregates the per-item failures.
	Err error
}

// Processor executes queued conversions as the holder of the conversion
// capability.
type Processor struct {
	k           *kernel.Kernel
	addr        util.Uint160
	router      Router
	limiter     *rate.Limiter
	maxPerSweep int
	log         *logger.Logger
	guard       *kernel.Guard
}

// Option configures a Processor.
type Option func(*Processor)

// WithRateLimit throttles router calls to perSecond with the given burst.
// A zero rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Processor) {
		if perSecond <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxPerSweep caps how many items ProcessAll handles per call. Zero
// means no cap.
func WithMaxPerSweep(n int) Option {
	return func(p *Processor) { p.maxPerSweep = n }
}

// New creates a processor acting as addr.
func New(k *kernel.Kernel, addr util.Uint160, router Router, log *logger.Logger, opts ...Option) *Processor {
	if log == nil {
		log = logger.NewDefault(Name)
	}
	p := &Processor{
		k:       k,
		addr:    addr,
		router:  router,
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     log,
		guard:   kernel.NewGuard(Name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Name() string          { return Name }
func (p *Processor) Address() util.Uint160 { return p.addr }

// ProcessUser converts every item queued for user.
func (p *Processor) ProcessUser(ctx context.Context, user util.Uint160) (Summary, error) {
	if user.Equals(util.Uint160{}) {
		return Summary{}, svcerrors.New(svcerrors.ErrInvalidInput, "dca.ProcessUser", "zero user")
	}
	return p.process(ctx, p.k.PendingConversions(ctx, user), 0)
}

// ProcessAll converts queued items in FIFO order, up to the sweep cap.
func (p *Processor) ProcessAll(ctx context.Context) (Summary, error) {
	return p.process(ctx, p.k.PendingConversions(ctx, util.Uint160{}), p.maxPerSweep)
}

func (p *Processor) process(ctx context.Context, items []kernel.Conversion, limit int) (Summary, error) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	var (
		sum  Summary
		errs *multierror.Error
	)
	for _, c := range items {
		// The limiter blocks, so it is consulted before the kernel lock is taken.
		if err := p.limiter.Wait(ctx); err != nil {
			sum.Err = errs.ErrorOrNil()
			return sum, err
		}
		if err := p.convert(ctx, c); err != nil {
			sum.Failed++
			errs = multierror.Append(errs, fmt.Errorf("conversion %s: %w", c.ID, err))
			p.k.Metrics().RecordConversion(err)
			p.k.Emit(ctx, events.NewEvent(events.EventConversionFailed).
				Module(Name).
				Component(Name).
				Severity(events.SeverityWarning).
				Subject(identity.String(c.User)).
				ErrorFrom(err).
				Metadata("conversion_id", c.ID).
				Build())
			p.log.WithError(err).WithField("conversion_id", c.ID).Warn("conversion failed; left queued")
			continue
		}
		sum.Executed++
		p.k.Metrics().RecordConversion(nil)
	}
	p.k.Metrics().RecordQueueDepth(p.k.QueueDepth(ctx))
	sum.Err = errs.ErrorOrNil()
	if sum.Executed+sum.Failed > 0 {
		p.log.WithFields(logrus.Fields{
			"executed": sum.Executed,
			"failed":   sum.Failed,
		}).Info("conversion sweep finished")
	}
	return sum, nil
}

// convert executes one queued item as an operation of its own. A router that
// sweeps the queue again from inside Convert gets ErrReentrancyDetected for
// every item it touches.
func (p *Processor) convert(ctx context.Context, c kernel.Conversion) error {
	const op = "dca.Convert"
	return p.k.ExecuteGuarded(ctx, p.guard, op, func(ctx context.Context) error {
		item, err := p.k.DequeueConversion(ctx, p.addr, c.ID)
		if err != nil {
			return err
		}
		ledger, err := p.k.Ledger(ctx)
		if err != nil {
			return err
		}
		fromID := p.k.AssetIDOf(ctx, item.FromAsset)
		if fromID == 0 {
			return svcerrors.New(svcerrors.ErrAssetNotRegistered, op, identity.String(item.FromAsset))
		}
		if err := ledger.Burn(ctx, p.addr, item.User, fromID, &item.Amount); err != nil {
			return err
		}

		req := Request{
			ConversionID: item.ID,
			User:         item.User,
			FromAsset:    item.FromAsset,
			ToAsset:      item.ToAsset,
			Amount:       &item.Amount,
		}
		if params, ok := p.k.ConversionParamsOf(ctx, item.User); ok {
			req.MaxSlippageBps = params.MaxSlippageBps
		}
		out, err := p.router.Convert(ctx, req)
		if err != nil {
			return fmt.Errorf("router: %w", err)
		}
		if out == nil || out.IsZero() {
			return svcerrors.New(svcerrors.ErrInvalidInput, op, "router returned nothing")
		}

		toID, err := ledger.RegisterAsset(ctx, p.addr, item.ToAsset)
		if err != nil {
			return err
		}
		if err := ledger.Mint(ctx, p.addr, item.User, toID, out); err != nil {
			return err
		}
		p.k.Emit(ctx, events.NewEvent(events.EventConversionExecuted).
			Module(Name).
			Component(Name).
			Subject(identity.String(item.User)).
			Metadata("conversion_id", item.ID).
			Metadata("from", identity.String(item.FromAsset)).
			Metadata("to", identity.String(item.ToAsset)).
			Metadata("amount_in", item.Amount.Dec()).
			Metadata("amount_out", out.Dec()).
			Build())
		return nil
	})
}
