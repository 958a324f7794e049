package kernel

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// =============================================================================
// Asset registry
// =============================================================================

// RegisterAsset assigns asset its ledger id. Registering a known asset
// returns the id it already has. Modules and the owner may call.
func (k *Kernel) RegisterAsset(ctx context.Context, caller, asset util.Uint160) (uint64, error) {
	const op = "kernel.RegisterAsset"
	if asset.Equals(util.Uint160{}) {
		return 0, svcerrors.New(svcerrors.ErrInvalidInput, op, "zero asset address")
	}
	var id uint64
	err := k.mutate(ctx, op, func(f *frame) error {
		if !caller.Equals(k.owner) {
			if err := k.requireTrustedModule(op, caller); err != nil {
				return err
			}
		}
		id = k.registerAssetLocked(f, asset)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (k *Kernel) registerAssetLocked(f *frame, asset util.Uint160) uint64 {
	if id, ok := k.assetIDs[asset]; ok {
		return id
	}
	id := k.nextAssetID
	k.assetIDs[asset] = id
	k.assets[id] = asset
	k.nextAssetID++
	f.record(func() {
		delete(k.assetIDs, asset)
		delete(k.assets, id)
		k.nextAssetID = id
	})
	f.emit(f.event(events.EventAssetRegistered).
		Subject(identity.String(asset)).
		Metadata("asset_id", fmt.Sprint(id)).
		Change("0", fmt.Sprint(id)).
		Build())
	return id
}

// AssetIDOf returns asset's ledger id, or 0 when unregistered.
func (k *Kernel) AssetIDOf(ctx context.Context, asset util.Uint160) uint64 {
	var id uint64
	k.read(ctx, func() { id = k.assetIDs[asset] })
	return id
}

// AddressOfAsset returns the asset behind id.
func (k *Kernel) AddressOfAsset(ctx context.Context, id uint64) (util.Uint160, error) {
	var (
		asset util.Uint160
		ok    bool
	)
	k.read(ctx, func() { asset, ok = k.assets[id] })
	if !ok {
		return util.Uint160{}, svcerrors.Newf(svcerrors.ErrAssetNotRegistered, "kernel.AddressOfAsset", "asset id %d", id)
	}
	return asset, nil
}

// AssetCount returns the number of registered assets.
func (k *Kernel) AssetCount(ctx context.Context) int {
	var n int
	k.read(ctx, func() { n = len(k.assets) })
	return n
}

// =============================================================================
// Balance and supply slots
// =============================================================================

// SetLedgerBalance overwrites owner's balance of asset id. Module-only; the
// caller keeps total supply in step.
func (k *Kernel) SetLedgerBalance(ctx context.Context, caller, owner util.Uint160, id uint64, amount *uint256.Int) error {
	const op = "kernel.SetLedgerBalance"
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireTrustedModule(op, caller); err != nil {
			return err
		}
		if err := k.requireAssetLocked(op, id); err != nil {
			return err
		}
		key := balanceKey{owner: owner, id: id}
		prev, had := k.balances[key]
		k.putBalanceLocked(key, amount)
		f.record(func() {
			if had {
				k.balances[key] = prev
			} else {
				delete(k.balances, key)
			}
		})
		f.emit(f.event(events.EventBalanceChanged).
			Subject(identity.String(owner)).
			Metadata("asset_id", fmt.Sprint(id)).
			Change(prev.Dec(), amount.Dec()).
			Build())
		return nil
	})
}

func (k *Kernel) putBalanceLocked(key balanceKey, amount *uint256.Int) {
	if amount.IsZero() {
		delete(k.balances, key)
		return
	}
	k.balances[key] = *amount
}

// IncreaseTotalSupply adds amount to the supply of asset id. Module-only.
func (k *Kernel) IncreaseTotalSupply(ctx context.Context, caller util.Uint160, id uint64, amount *uint256.Int) error {
	const op = "kernel.IncreaseTotalSupply"
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireTrustedModule(op, caller); err != nil {
			return err
		}
		if err := k.requireAssetLocked(op, id); err != nil {
			return err
		}
		prev := k.supply[id]
		next, overflow := new(uint256.Int).AddOverflow(&prev, amount)
		if overflow {
			return svcerrors.Overflow(op)
		}
		k.setSupplyLocked(f, id, prev, next)
		return nil
	})
}

// DecreaseTotalSupply subtracts amount from the supply of asset id.
// Module-only.
func (k *Kernel) DecreaseTotalSupply(ctx context.Context, caller util.Uint160, id uint64, amount *uint256.Int) error {
	const op = "kernel.DecreaseTotalSupply"
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireTrustedModule(op, caller); err != nil {
			return err
		}
		if err := k.requireAssetLocked(op, id); err != nil {
			return err
		}
		prev := k.supply[id]
		if prev.Lt(amount) {
			return svcerrors.InsufficientBalance(op, &prev, amount)
		}
		next := new(uint256.Int).Sub(&prev, amount)
		k.setSupplyLocked(f, id, prev, next)
		return nil
	})
}

func (k *Kernel) setSupplyLocked(f *frame, id uint64, prev uint256.Int, next *uint256.Int) {
	_, had := k.supply[id]
	if next.IsZero() {
		delete(k.supply, id)
	} else {
		k.supply[id] = *next
	}
	f.record(func() {
		if had {
			k.supply[id] = prev
		} else {
			delete(k.supply, id)
		}
	})
	f.emit(f.event(events.EventSupplyChanged).
		Metadata("asset_id", fmt.Sprint(id)).
		Change(prev.Dec(), next.Dec()).
		Build())
}

func (k *Kernel) requireAssetLocked(op string, id uint64) error {
	if _, ok := k.assets[id]; !ok {
		return svcerrors.Newf(svcerrors.ErrAssetNotRegistered, op, "asset id %d", id)
	}
	return nil
}

// BalanceOf returns owner's balance of asset id.
func (k *Kernel) BalanceOf(ctx context.Context, owner util.Uint160, id uint64) *uint256.Int {
	out := new(uint256.Int)
	k.read(ctx, func() {
		if b, ok := k.balances[balanceKey{owner: owner, id: id}]; ok {
			out.Set(&b)
		}
	})
	return out
}

// TotalSupply returns the total supply of asset id.
func (k *Kernel) TotalSupply(ctx context.Context, id uint64) *uint256.Int {
	out := new(uint256.Int)
	k.read(ctx, func() {
		if s, ok := k.supply[id]; ok {
			out.Set(&s)
		}
	})
	return out
}

// CheckConservation recomputes the sum of balances of asset id and compares
// it against total supply.
func (k *Kernel) CheckConservation(ctx context.Context, id uint64) error {
	var err error
	k.read(ctx, func() { err = k.checkConservationLocked(id) })
	return err
}

func (k *Kernel) checkConservationLocked(id uint64) error {
	sum := new(uint256.Int)
	for key, b := range k.balances {
		if key.id != id {
			continue
		}
		if _, overflow := sum.AddOverflow(sum, &b); overflow {
			return svcerrors.Overflow("kernel.CheckConservation")
		}
	}
	supply := k.supply[id]
	if !sum.Eq(&supply) {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, "kernel.CheckConservation",
			"asset %d: balances sum to %s, supply is %s", id, sum.Dec(), supply.Dec())
	}
	return nil
}
