// Package kernel owns all shared savings state: the module registry, user
// configuration records, transaction contexts, ledger balances, delegates,
// the treasury and the deferred conversion queue.
//
// Every write goes through one of four authorization tiers:
//
//   - owner-only: RegisterModule, TransferOwnership, SetTreasury, Restore
//   - module-only: ledger slot writes and asset registration; any registered
//     module may write any user's balance and is trusted to have authorized
//     its own caller first
//   - capability-only: SetUserConfig, transaction contexts, conversion queue
//   - self-or-delegate: SetDelegate here, and user-facing module entry points
//     through IsAuthorized
//
// Writes are journaled in the operation scope opened by Execute and undone
// if the operation fails.
package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	"github.com/R3E-Network/spendsave/internal/engine/metrics"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// =============================================================================
// Module traits
// =============================================================================

// Module is anything that can hold a capability.
type Module interface {
	Name() string
	Address() util.Uint160
}

// LedgerModule is the trait of the module holding CapLedger.
type LedgerModule interface {
	Module
	RegisterAsset(ctx context.Context, caller, asset util.Uint160) (uint64, error)
	Mint(ctx context.Context, caller, owner util.Uint160, id uint64, amount *uint256.Int) error
	Burn(ctx context.Context, caller, owner util.Uint160, id uint64, amount *uint256.Int) error
	Transfer(ctx context.Context, caller, from, to util.Uint160, id uint64, amount *uint256.Int) error
}

// =============================================================================
// Kernel
// =============================================================================

type balanceKey struct {
	owner util.Uint160
	id    uint64
}

// Kernel is the authorization facade over shared state.
type Kernel struct {
	mu sync.RWMutex

	log     *logger.Logger
	events  events.EventLogger
	metrics metrics.MetricsCollector

	owner       util.Uint160
	modules     map[Capability]Module
	configs     map[util.Uint160]strategy.Slot
	balances    map[balanceKey]uint256.Int
	supply      map[uint64]uint256.Int
	assetIDs    map[util.Uint160]uint64
	assets      map[uint64]util.Uint160
	nextAssetID uint64
	delegates   map[util.Uint160]map[util.Uint160]bool

	treasury       util.Uint160
	treasuryFeeBps uint16

	conversionParams map[util.Uint160]ConversionParams
	queue            []Conversion
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(k *Kernel) { k.log = log }
}

// WithEvents sets the event sink committed events are published to.
func WithEvents(sink events.EventLogger) Option {
	return func(k *Kernel) { k.events = sink }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(k *Kernel) { k.metrics = m }
}

// WithTreasury sets the initial treasury and fee rate.
func WithTreasury(treasury util.Uint160, feeBps uint16) Option {
	return func(k *Kernel) {
		k.treasury = treasury
		k.treasuryFeeBps = feeBps
	}
}

// New creates a kernel owned by owner.
func New(owner util.Uint160, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		owner:            owner,
		modules:          make(map[Capability]Module),
		configs:          make(map[util.Uint160]strategy.Slot),
		balances:         make(map[balanceKey]uint256.Int),
		supply:           make(map[uint64]uint256.Int),
		assetIDs:         make(map[util.Uint160]uint64),
		assets:           make(map[uint64]util.Uint160),
		nextAssetID:      1,
		delegates:        make(map[util.Uint160]map[util.Uint160]bool),
		conversionParams: make(map[util.Uint160]ConversionParams),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = logger.NewDefault("kernel")
	}
	if k.events == nil {
		k.events = events.NoOpLogger{}
	}
	if k.metrics == nil {
		k.metrics = metrics.NewNoOpCollector()
	}
	if k.treasuryFeeBps > strategy.BasisPoints {
		return nil, svcerrors.Newf(svcerrors.ErrInvalidConfiguration, "kernel.New", "treasury fee %d exceeds %d", k.treasuryFeeBps, strategy.BasisPoints)
	}
	if k.treasury.Equals(util.Uint160{}) {
		k.treasury = owner
	}
	return k, nil
}

// Events returns the sink committed events are published to.
func (k *Kernel) Events() events.EventLogger {
	return k.events
}

// Metrics returns the metrics collector.
func (k *Kernel) Metrics() metrics.MetricsCollector {
	return k.metrics
}

// Logger returns the kernel logger.
func (k *Kernel) Logger() *logger.Logger {
	return k.log
}

// =============================================================================
// Authorization tiers
// =============================================================================

func (k *Kernel) requireOwner(op string, caller util.Uint160) error {
	if !caller.Equals(k.owner) {
		return svcerrors.Unauthorized(op, identity.String(caller))
	}
	return nil
}

func (k *Kernel) requireCapability(op string, caller util.Uint160, caps ...Capability) error {
	for _, c := range caps {
		if m, ok := k.modules[c]; ok && m.Address().Equals(caller) {
			return nil
		}
	}
	return svcerrors.Unauthorized(op, identity.String(caller))
}

// requireTrustedModule is the single check behind every module-only write.
// Any registered module passes, whatever capability it holds, and the kernel
// does not check which user the write affects: modules are trusted to
// authorize their own callers (the ledger's Transfer checks IsAuthorized
// before calling in). Keep this the only place the rule lives.
func (k *Kernel) requireTrustedModule(op string, caller util.Uint160) error {
	if k.isModuleLocked(caller) {
		return nil
	}
	return svcerrors.Unauthorized(op, identity.String(caller))
}

func (k *Kernel) isModuleLocked(addr util.Uint160) bool {
	for _, m := range k.modules {
		if m.Address().Equals(addr) {
			return true
		}
	}
	return false
}

// IsModule reports whether addr holds any capability.
func (k *Kernel) IsModule(ctx context.Context, addr util.Uint160) bool {
	var ok bool
	k.read(ctx, func() { ok = k.isModuleLocked(addr) })
	return ok
}

// RequireCapability returns Unauthorized unless caller holds one of caps.
func (k *Kernel) RequireCapability(ctx context.Context, op string, caller util.Uint160, caps ...Capability) error {
	var err error
	k.read(ctx, func() { err = k.requireCapability(op, caller, caps...) })
	return err
}

// IsAuthorized reports whether caller may act for user: caller is user or an
// approved delegate of user.
func (k *Kernel) IsAuthorized(ctx context.Context, user, caller util.Uint160) bool {
	if user.Equals(caller) {
		return true
	}
	var ok bool
	k.read(ctx, func() { ok = k.delegates[user][caller] })
	return ok
}

// RequireSelfOrDelegate returns Unauthorized unless IsAuthorized holds.
func (k *Kernel) RequireSelfOrDelegate(ctx context.Context, op string, user, caller util.Uint160) error {
	if k.IsAuthorized(ctx, user, caller) {
		return nil
	}
	return svcerrors.Unauthorized(op, identity.String(caller))
}

// =============================================================================
// Ownership
// =============================================================================

// Owner returns the kernel owner.
func (k *Kernel) Owner(ctx context.Context) util.Uint160 {
	var owner util.Uint160
	k.read(ctx, func() { owner = k.owner })
	return owner
}

// TransferOwnership hands the owner role to next.
func (k *Kernel) TransferOwnership(ctx context.Context, caller, next util.Uint160) error {
	const op = "kernel.TransferOwnership"
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireOwner(op, caller); err != nil {
			return err
		}
		prev := k.owner
		k.owner = next
		f.record(func() { k.owner = prev })
		f.emit(f.event(events.EventOwnershipTransfer).
			Subject(identity.String(next)).
			Change(identity.String(prev), identity.String(next)).
			Build())
		return nil
	})
}

// =============================================================================
// Module registry
// =============================================================================

// RegisterModule makes m the holder of capability c, replacing any previous
// holder. Owner-only.
func (k *Kernel) RegisterModule(ctx context.Context, caller util.Uint160, c Capability, m Module) error {
	const op = "kernel.RegisterModule"
	if m == nil {
		return svcerrors.New(svcerrors.ErrInvalidInput, op, "nil module")
	}
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireOwner(op, caller); err != nil {
			return err
		}
		prev, had := k.modules[c]
		k.modules[c] = m
		f.record(func() {
			if had {
				k.modules[c] = prev
			} else {
				delete(k.modules, c)
			}
		})

		before := ""
		if had {
			before = identity.String(prev.Address())
		}
		f.emit(f.event(events.EventModuleRegistered).
			Module(m.Name()).
			Metadata("capability", c.String()).
			Change(before, identity.String(m.Address())).
			Build())

		k.log.WithFields(logrus.Fields{
			"capability": c.String(),
			"module":     m.Name(),
			"address":    identity.String(m.Address()),
		}).Info("module registered")
		return nil
	})
}

// GetModule returns the address holding capability c.
func (k *Kernel) GetModule(ctx context.Context, c Capability) (util.Uint160, error) {
	m, err := k.ModuleFor(ctx, c)
	if err != nil {
		return util.Uint160{}, err
	}
	return m.Address(), nil
}

// ModuleFor returns the module handle holding capability c.
func (k *Kernel) ModuleFor(ctx context.Context, c Capability) (Module, error) {
	var (
		m  Module
		ok bool
	)
	k.read(ctx, func() { m, ok = k.modules[c] })
	if !ok {
		return nil, svcerrors.New(svcerrors.ErrModuleNotRegistered, "kernel.ModuleFor", c.String())
	}
	return m, nil
}

// Ledger returns the holder of CapLedger through the LedgerModule trait.
func (k *Kernel) Ledger(ctx context.Context) (LedgerModule, error) {
	m, err := k.ModuleFor(ctx, CapLedger)
	if err != nil {
		return nil, err
	}
	l, ok := m.(LedgerModule)
	if !ok {
		return nil, svcerrors.Newf(svcerrors.ErrModuleNotRegistered, "kernel.Ledger", "%s does not implement the ledger trait", m.Name())
	}
	return l, nil
}

// Modules returns the registry as capability name to address.
func (k *Kernel) Modules(ctx context.Context) map[Capability]util.Uint160 {
	out := make(map[Capability]util.Uint160)
	k.read(ctx, func() {
		for c, m := range k.modules {
			out[c] = m.Address()
		}
	})
	return out
}

// =============================================================================
// Treasury
// =============================================================================

// SetTreasury sets the fee recipient and fee rate in basis points. Owner-only.
func (k *Kernel) SetTreasury(ctx context.Context, caller, treasury util.Uint160, feeBps uint16) error {
	const op = "kernel.SetTreasury"
	if feeBps > strategy.BasisPoints {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "treasury fee %d exceeds %d", feeBps, strategy.BasisPoints)
	}
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireOwner(op, caller); err != nil {
			return err
		}
		prevAddr, prevFee := k.treasury, k.treasuryFeeBps
		k.treasury, k.treasuryFeeBps = treasury, feeBps
		f.record(func() { k.treasury, k.treasuryFeeBps = prevAddr, prevFee })
		f.emit(f.event(events.EventTreasuryUpdated).
			Subject(identity.String(treasury)).
			Change(fmt.Sprintf("%s@%d", identity.String(prevAddr), prevFee), fmt.Sprintf("%s@%d", identity.String(treasury), feeBps)).
			Build())
		return nil
	})
}

// Treasury returns the fee recipient and fee rate.
func (k *Kernel) Treasury(ctx context.Context) (util.Uint160, uint16) {
	var (
		addr util.Uint160
		fee  uint16
	)
	k.read(ctx, func() { addr, fee = k.treasury, k.treasuryFeeBps })
	return addr, fee
}

// =============================================================================
// Delegates
// =============================================================================

// SetDelegate approves or revokes delegate acting for owner. Only owner
// itself may call.
func (k *Kernel) SetDelegate(ctx context.Context, caller, owner, delegate util.Uint160, approved bool) error {
	const op = "kernel.SetDelegate"
	if !caller.Equals(owner) {
		return svcerrors.Unauthorized(op, identity.String(caller))
	}
	return k.mutate(ctx, op, func(f *frame) error {
		was := k.delegates[owner][delegate]
		k.setDelegateLocked(owner, delegate, approved)
		f.record(func() { k.setDelegateLocked(owner, delegate, was) })
		f.emit(f.event(events.EventDelegateUpdated).
			Subject(identity.String(owner)).
			Metadata("delegate", identity.String(delegate)).
			Change(fmt.Sprint(was), fmt.Sprint(approved)).
			Build())
		return nil
	})
}

func (k *Kernel) setDelegateLocked(owner, delegate util.Uint160, approved bool) {
	if approved {
		if k.delegates[owner] == nil {
			k.delegates[owner] = make(map[util.Uint160]bool)
		}
		k.delegates[owner][delegate] = true
		return
	}
	delete(k.delegates[owner], delegate)
	if len(k.delegates[owner]) == 0 {
		delete(k.delegates, owner)
	}
}
