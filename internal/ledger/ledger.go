// Package ledger is the multi-asset savings balance store. Balances and supply
// live in the kernel; this module owns the rules for changing them.
package ledger

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Name is the module name used in logs and events.
const Name = "ledger"

// Ledger implements kernel.LedgerModule.
type Ledger struct {
	k    *kernel.Kernel
	addr util.Uint160
	log  *logger.Logger
}

var _ kernel.LedgerModule = (*Ledger)(nil)

// New creates the ledger module acting as addr.
func New(k *kernel.Kernel, addr util.Uint160, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewDefault(Name)
	}
	return &Ledger{k: k, addr: addr, log: log}
}

func (l *Ledger) Name() string          { return Name }
func (l *Ledger) Address() util.Uint160 { return l.addr }

// requireModule admits registered modules only. End users reach mint and
// burn through the savings module, never directly.
func (l *Ledger) requireModule(ctx context.Context, op string, caller util.Uint160) error {
	if l.k.IsModule(ctx, caller) {
		return nil
	}
	return svcerrors.Unauthorized(op, identity.String(caller))
}

func (l *Ledger) observe(op string, err error) error {
	l.k.Metrics().RecordLedgerOp(op, err)
	return err
}

// RegisterAsset returns asset's ledger id, assigning one on first use.
// Registered modules and the kernel owner may call.
func (l *Ledger) RegisterAsset(ctx context.Context, caller, asset util.Uint160) (uint64, error) {
	const op = "ledger.RegisterAsset"
	if !caller.Equals(l.k.Owner(ctx)) {
		if err := l.requireModule(ctx, op, caller); err != nil {
			return 0, l.observe(op, err)
		}
	}
	id, err := l.k.RegisterAsset(ctx, l.addr, asset)
	return id, l.observe(op, err)
}

// Mint credits amount of asset id to owner. Module-only.
func (l *Ledger) Mint(ctx context.Context, caller, owner util.Uint160, id uint64, amount *uint256.Int) error {
	const op = "ledger.Mint"
	return l.observe(op, l.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := l.requireModule(ctx, op, caller); err != nil {
			return err
		}
		return l.mint(ctx, op, owner, id, amount)
	}))
}

func (l *Ledger) mint(ctx context.Context, op string, owner util.Uint160, id uint64, amount *uint256.Int) error {
	if amount == nil {
		return svcerrors.New(svcerrors.ErrInvalidInput, op, "nil amount")
	}
	bal := l.k.BalanceOf(ctx, owner, id)
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return svcerrors.Overflow(op)
	}
	if err := l.k.SetLedgerBalance(ctx, l.addr, owner, id, next); err != nil {
		return err
	}
	if err := l.k.IncreaseTotalSupply(ctx, l.addr, id, amount); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{
		"owner":    identity.String(owner),
		"asset_id": id,
		"amount":   amount.Dec(),
	}).Debug("minted")
	return nil
}

// Burn debits amount of asset id from owner. Module-only.
func (l *Ledger) Burn(ctx context.Context, caller, owner util.Uint160, id uint64, amount *uint256.Int) error {
	const op = "ledger.Burn"
	return l.observe(op, l.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := l.requireModule(ctx, op, caller); err != nil {
			return err
		}
		return l.burn(ctx, op, owner, id, amount)
	}))
}

func (l *Ledger) burn(ctx context.Context, op string, owner util.Uint160, id uint64, amount *uint256.Int) error {
	if amount == nil {
		return svcerrors.New(svcerrors.ErrInvalidInput, op, "nil amount")
	}
	bal := l.k.BalanceOf(ctx, owner, id)
	if bal.Lt(amount) {
		return svcerrors.InsufficientBalance(op, bal, amount)
	}
	if err := l.k.SetLedgerBalance(ctx, l.addr, owner, id, new(uint256.Int).Sub(bal, amount)); err != nil {
		return err
	}
	if err := l.k.DecreaseTotalSupply(ctx, l.addr, id, amount); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{
		"owner":    identity.String(owner),
		"asset_id": id,
		"amount":   amount.Dec(),
	}).Debug("burned")
	return nil
}

// Transfer moves amount of asset id from one owner to another. The caller
// must be from or an approved delegate of from.
func (l *Ledger) Transfer(ctx context.Context, caller, from, to util.Uint160, id uint64, amount *uint256.Int) error {
	const op = "ledger.Transfer"
	return l.observe(op, l.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := l.k.RequireSelfOrDelegate(ctx, op, from, caller); err != nil {
			return err
		}
		return l.transfer(ctx, op, from, to, id, amount)
	}))
}

func (l *Ledger) transfer(ctx context.Context, op string, from, to util.Uint160, id uint64, amount *uint256.Int) error {
	if amount == nil {
		return svcerrors.New(svcerrors.ErrInvalidInput, op, "nil amount")
	}
	if to.Equals(util.Uint160{}) {
		return svcerrors.New(svcerrors.ErrInvalidInput, op, "transfer to zero address")
	}
	src := l.k.BalanceOf(ctx, from, id)
	if src.Lt(amount) {
		return svcerrors.InsufficientBalance(op, src, amount)
	}
	if from.Equals(to) {
		if _, err := l.k.AddressOfAsset(ctx, id); err != nil {
			return err
		}
		return nil
	}
	dst := l.k.BalanceOf(ctx, to, id)
	next, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return svcerrors.Overflow(op)
	}
	if err := l.k.SetLedgerBalance(ctx, l.addr, from, id, new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return l.k.SetLedgerBalance(ctx, l.addr, to, id, next)
}

// =============================================================================
// Queries
// =============================================================================

// BalanceOf returns owner's balance of asset id.
func (l *Ledger) BalanceOf(ctx context.Context, owner util.Uint160, id uint64) *uint256.Int {
	return l.k.BalanceOf(ctx, owner, id)
}

// TotalSupply returns the supply of asset id.
func (l *Ledger) TotalSupply(ctx context.Context, id uint64) *uint256.Int {
	return l.k.TotalSupply(ctx, id)
}

// AssetIDOf returns the id of asset, 0 when unregistered.
func (l *Ledger) AssetIDOf(ctx context.Context, asset util.Uint160) uint64 {
	return l.k.AssetIDOf(ctx, asset)
}

// AddressOfAsset returns the asset behind id.
func (l *Ledger) AddressOfAsset(ctx context.Context, id uint64) (util.Uint160, error) {
	return l.k.AddressOfAsset(ctx, id)
}
