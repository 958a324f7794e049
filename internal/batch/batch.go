// Package batch coordinates sets of independent ledger and extraction calls.
//
// Two modes are offered. ExecuteAll runs every call in one operation and
// commits only when all of them succeed. ExecuteBestEffort runs each call in
// its own nested scope so a failed call is reverted alone while earlier
// successes stay applied; it is the one place partial application is
// intended, and its Report lists every call's outcome.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
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
const Name = "batch"

// DefaultMaxSize bounds a batch when no size is configured.
const DefaultMaxSize = 50

// Mode names a coordinator mode in events and metrics.
type Mode string

const (
	ModeRequireAll Mode = "require_all"
	ModeBestEffort Mode = "best_effort"
)

// Op is the ledger or extraction call a batch element performs.
type Op uint8

const (
	OpMint Op = iota + 1
	OpBurn
	OpTransfer
	OpRegisterAsset
	OpContribution
)

// String returns the string representation of the op.
func (o Op) String() string {
	switch o {
	case OpMint:
		return "mint"
	case OpBurn:
		return "burn"
	case OpTransfer:
		return "transfer"
	case OpRegisterAsset:
		return "register_asset"
	case OpContribution:
		return "contribution"
	default:
		return fmt.Sprintf("op(%d)", o)
	}
}

// Call is one batch element. Fields not used by Op are ignored.
type Call struct {
	Op Op `json:"op"`
	// Owner is the balance holder for mint and burn, and the sender for transfer.
	Owner   util.Uint160 `json:"owner"`
	To      util.Uint160 `json:"to"`
	Asset   util.Uint160 `json:"asset"`
	AssetID uint64       `json:"asset_id"`
	Amount  *uint256.Int `json:"amount"`
	// Config is the policy a contribution is computed under.
	Config strategy.Config `json:"config"`
}

// Output is what a successful call produced.
type Output struct {
	AssetID uint64       `json:"asset_id,omitempty"`
	Net     *uint256.Int `json:"net,omitempty"`
	Fee     *uint256.Int `json:"fee,omitempty"`
}

// Receipt is the result of an all-or-nothing batch. It exists only when
// every call succeeded.
type Receipt struct {
	ID      string   `json:"id"`
	Outputs []Output `json:"outputs"`
}

// Outcome is one call's result in a best-effort batch.
type Outcome struct {
	Index  int    `json:"index"`
	Op     Op     `json:"op"`
	Output Output `json:"output"`
	Err    error  `json:"-"`
}

// OK reports whether the call was applied.
func (o Outcome) OK() bool { return o.Err == nil }

// Report is the result of a best-effort batch.
type Report struct {
	ID       string    `json:"id"`
	Outcomes []Outcome `json:"outcomes"`
}

// Failed returns the number of calls that were reverted.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Err aggregates the failed calls, or returns nil when all succeeded.
func (r Report) Err() error {
	var result *multierror.Error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			result = multierror.Append(result, fmt.Errorf("call %d (%s): %w", o.Index, o.Op, o.Err))
		}
	}
	return result.ErrorOrNil()
}

// Coordinator executes batches as the holder of the coordinator capability.
type Coordinator struct {
	k       *kernel.Kernel
	addr    util.Uint160
	calc    *extraction.Calculator
	maxSize int
	log     *logger.Logger
	guard   *kernel.Guard
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxSize bounds the number of calls per batch.
func WithMaxSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithCalculator sets the extraction calculator used for contribution calls.
func WithCalculator(calc *extraction.Calculator) Option {
	return func(c *Coordinator) { c.calc = calc }
}

// New creates a coordinator acting as addr.
func New(k *kernel.Kernel, addr util.Uint160, log *logger.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.NewDefault(Name)
	}
	c := &Coordinator{k: k, addr: addr, maxSize: DefaultMaxSize, log: log, guard: kernel.NewGuard(Name)}
	for _, opt := range opts {
		opt(c)
	}
	if c.calc == nil {
		c.calc = extraction.NewCalculator(extraction.DefaultRoundUpUnit)
	}
	return c
}

func (c *Coordinator) Name() string          { return Name }
func (c *Coordinator) Address() util.Uint160 { return c.addr }

// MaxSize returns the configured batch bound.
func (c *Coordinator) MaxSize() int { return c.maxSize }

func (c *Coordinator) checkSize(op string, calls []Call) error {
	if len(calls) == 0 {
		return svcerrors.New(svcerrors.ErrEmptyBatch, op, "no calls")
	}
	if len(calls) > c.maxSize {
		return svcerrors.Newf(svcerrors.ErrBatchTooLarge, op, "%d calls exceeds %d", len(calls), c.maxSize)
	}
	return nil
}

// ExecuteAll runs calls as one operation. Any failure reverts every call and
// is returned with the failing index.
func (c *Coordinator) ExecuteAll(ctx context.Context, caller util.Uint160, calls []Call) (Receipt, error) {
	const op = "batch.ExecuteAll"
	if err := c.checkSize(op, calls); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{ID: uuid.NewString(), Outputs: make([]Output, 0, len(calls))}
	err := c.k.ExecuteGuarded(ctx, c.guard, op, func(ctx context.Context) error {
		for i, call := range calls {
			out, err := c.apply(ctx, caller, call)
			if err != nil {
				return fmt.Errorf("call %d (%s): %w", i, call.Op, err)
			}
			receipt.Outputs = append(receipt.Outputs, out)
		}
		c.emit(ctx, receipt.ID, ModeRequireAll, len(calls), 0)
		return nil
	})
	c.k.Metrics().RecordBatch(string(ModeRequireAll), len(calls), err)
	if err != nil {
		c.log.WithError(err).WithField("batch_id", receipt.ID).Warn("batch reverted")
		return Receipt{}, err
	}
	c.log.WithFields(logrus.Fields{
		"batch_id": receipt.ID,
		"calls":    len(calls),
	}).Debug("batch committed")
	return receipt, nil
}

// ExecuteBestEffort runs each call in its own nested scope. A failed call is
// reverted alone and recorded in the report; earlier successes remain. The
// returned error covers only rejections of the batch as a whole.
func (c *Coordinator) ExecuteBestEffort(ctx context.Context, caller util.Uint160, calls []Call) (Report, error) {
	const op = "batch.ExecuteBestEffort"
	if err := c.checkSize(op, calls); err != nil {
		return Report{}, err
	}

	report := Report{ID: uuid.NewString(), Outcomes: make([]Outcome, len(calls))}
	err := c.k.ExecuteGuarded(ctx, c.guard, op, func(ctx context.Context) error {
		for i, call := range calls {
			oc := Outcome{Index: i, Op: call.Op}
			oc.Err = c.k.Execute(ctx, "batch.call", func(ctx context.Context) error {
				out, err := c.apply(ctx, caller, call)
				oc.Output = out
				return err
			})
			if oc.Err != nil {
				oc.Output = Output{}
			}
			report.Outcomes[i] = oc
		}
		c.emit(ctx, report.ID, ModeBestEffort, len(calls), report.Failed())
		return nil
	})
	if err != nil {
		c.k.Metrics().RecordBatch(string(ModeBestEffort), len(calls), err)
		return Report{}, err
	}
	c.k.Metrics().RecordBatch(string(ModeBestEffort), len(calls), report.Err())
	if failed := report.Failed(); failed > 0 {
		c.log.WithFields(logrus.Fields{
			"batch_id": report.ID,
			"calls":    len(calls),
			"failed":   failed,
		}).Info("batch partially applied")
	}
	return report, nil
}

// apply performs one call. Mint, burn and asset registration are privileged
// and reserved to the kernel owner and registered modules; transfers carry
// the caller through to the ledger's own self-or-delegate check.
func (c *Coordinator) apply(ctx context.Context, caller util.Uint160, call Call) (Output, error) {
	const op = "batch.apply"
	switch call.Op {
	case OpContribution:
		if call.Amount == nil {
			return Output{}, svcerrors.New(svcerrors.ErrInvalidInput, op, "nil amount")
		}
		if err := call.Config.Validate(); err != nil {
			return Output{}, err
		}
		_, feeBps := c.k.Treasury(ctx)
		net, fee := extraction.Split(c.calc.Gross(call.Amount, call.Config), feeBps)
		return Output{Net: net, Fee: fee}, nil
	case OpMint, OpBurn, OpTransfer, OpRegisterAsset:
	default:
		return Output{}, svcerrors.Newf(svcerrors.ErrInvalidInput, op, "unknown op %d", call.Op)
	}

	ledger, err := c.k.Ledger(ctx)
	if err != nil {
		return Output{}, err
	}
	if call.Op == OpTransfer {
		return Output{AssetID: call.AssetID}, ledger.Transfer(ctx, caller, call.Owner, call.To, call.AssetID, call.Amount)
	}

	if !caller.Equals(c.k.Owner(ctx)) && !c.k.IsModule(ctx, caller) {
		return Output{}, svcerrors.Unauthorized(op, identity.String(caller))
	}
	switch call.Op {
	case OpMint:
		return Output{AssetID: call.AssetID}, ledger.Mint(ctx, c.addr, call.Owner, call.AssetID, call.Amount)
	case OpBurn:
		return Output{AssetID: call.AssetID}, ledger.Burn(ctx, c.addr, call.Owner, call.AssetID, call.Amount)
	default:
		id, err := ledger.RegisterAsset(ctx, c.addr, call.Asset)
		return Output{AssetID: id}, err
	}
}

func (c *Coordinator) emit(ctx context.Context, id string, mode Mode, size, failed int) {
	c.k.Emit(ctx, events.NewEvent(events.EventBatchExecuted).
		Module(Name).
		Component(Name).
		Message(string(mode)).
		Metadata("batch_id", id).
		Metadata("mode", string(mode)).
		Metadata("size", fmt.Sprint(size)).
		Metadata("failed", fmt.Sprint(failed)).
		Build())
}
