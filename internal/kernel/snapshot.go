package kernel

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// Snapshot is the persisted state of a kernel, one entry per slot. Slices
// are sorted so equal states produce equal snapshots.
type Snapshot struct {
	Owner            util.Uint160
	Treasury         util.Uint160
	TreasuryFeeBps   uint16
	NextAssetID      uint64
	Modules          []ModuleEntry
	Configs          []ConfigEntry
	Assets           []AssetEntry
	Balances         []BalanceEntry
	Supply           []SupplyEntry
	Delegates        []DelegateEntry
	ConversionParams []ConversionParamsEntry
	Queue            []Conversion
}

// ModuleEntry records which address held a capability. Restore does not
// re-register modules; handles are wired at startup.
type ModuleEntry struct {
	Capability Capability
	Name       string
	Address    util.Uint160
}

type ConfigEntry struct {
	User util.Uint160
	Slot strategy.Slot
}

type AssetEntry struct {
	ID    uint64
	Asset util.Uint160
}

type BalanceEntry struct {
	Owner   util.Uint160
	AssetID uint64
	Amount  uint256.Int
}

type SupplyEntry struct {
	AssetID uint64
	Total   uint256.Int
}

type DelegateEntry struct {
	Owner    util.Uint160
	Delegate util.Uint160
}

type ConversionParamsEntry struct {
	User   util.Uint160
	Params ConversionParams
}

func less160(a, b util.Uint160) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Snapshot exports the kernel state.
func (k *Kernel) Snapshot(ctx context.Context) Snapshot {
	var s Snapshot
	k.read(ctx, func() { s = k.snapshotLocked() })
	return s
}

func (k *Kernel) snapshotLocked() Snapshot {
	s := Snapshot{
		Owner:          k.owner,
		Treasury:       k.treasury,
		TreasuryFeeBps: k.treasuryFeeBps,
		NextAssetID:    k.nextAssetID,
	}
	for c, m := range k.modules {
		s.Modules = append(s.Modules, ModuleEntry{Capability: c, Name: m.Name(), Address: m.Address()})
	}
	sort.Slice(s.Modules, func(i, j int) bool {
		return bytes.Compare(s.Modules[i].Capability[:], s.Modules[j].Capability[:]) < 0
	})

	for u, slot := range k.configs {
		s.Configs = append(s.Configs, ConfigEntry{User: u, Slot: slot})
	}
	sort.Slice(s.Configs, func(i, j int) bool { return less160(s.Configs[i].User, s.Configs[j].User) })

	for id, a := range k.assets {
		s.Assets = append(s.Assets, AssetEntry{ID: id, Asset: a})
	}
	sort.Slice(s.Assets, func(i, j int) bool { return s.Assets[i].ID < s.Assets[j].ID })

	for key, b := range k.balances {
		s.Balances = append(s.Balances, BalanceEntry{Owner: key.owner, AssetID: key.id, Amount: b})
	}
	sort.Slice(s.Balances, func(i, j int) bool {
		if s.Balances[i].AssetID != s.Balances[j].AssetID {
			return s.Balances[i].AssetID < s.Balances[j].AssetID
		}
		return less160(s.Balances[i].Owner, s.Balances[j].Owner)
	})

	for id, t := range k.supply {
		s.Supply = append(s.Supply, SupplyEntry{AssetID: id, Total: t})
	}
	sort.Slice(s.Supply, func(i, j int) bool { return s.Supply[i].AssetID < s.Supply[j].AssetID })

	for owner, ds := range k.delegates {
		for d := range ds {
			s.Delegates = append(s.Delegates, DelegateEntry{Owner: owner, Delegate: d})
		}
	}
	sort.Slice(s.Delegates, func(i, j int) bool {
		if !s.Delegates[i].Owner.Equals(s.Delegates[j].Owner) {
			return less160(s.Delegates[i].Owner, s.Delegates[j].Owner)
		}
		return less160(s.Delegates[i].Delegate, s.Delegates[j].Delegate)
	})

	for u, p := range k.conversionParams {
		s.ConversionParams = append(s.ConversionParams, ConversionParamsEntry{User: u, Params: p})
	}
	sort.Slice(s.ConversionParams, func(i, j int) bool {
		return less160(s.ConversionParams[i].User, s.ConversionParams[j].User)
	})

	s.Queue = append(s.Queue, k.queue...)
	return s
}

// Validate checks the snapshot is a state the kernel could have reached.
func (s Snapshot) Validate() error {
	const op = "kernel.Snapshot.Validate"
	byAsset := make(map[util.Uint160]bool, len(s.Assets))
	ids := make(map[uint64]bool, len(s.Assets))
	for _, a := range s.Assets {
		if a.ID == 0 || a.ID >= s.NextAssetID {
			return svcerrors.Newf(svcerrors.ErrInvalidInput, op, "asset id %d out of range", a.ID)
		}
		if ids[a.ID] || byAsset[a.Asset] {
			return svcerrors.Newf(svcerrors.ErrInvalidInput, op, "asset %s registered twice", identity.String(a.Asset))
		}
		ids[a.ID], byAsset[a.Asset] = true, true
	}
	for _, c := range s.Configs {
		if _, err := strategy.Decode(c.Slot); err != nil {
			return err
		}
	}
	if s.TreasuryFeeBps > strategy.BasisPoints {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "treasury fee %d exceeds %d", s.TreasuryFeeBps, strategy.BasisPoints)
	}

	sums := make(map[uint64]*uint256.Int)
	for _, b := range s.Balances {
		if !ids[b.AssetID] {
			return svcerrors.Newf(svcerrors.ErrAssetNotRegistered, op, "balance of asset id %d", b.AssetID)
		}
		sum, ok := sums[b.AssetID]
		if !ok {
			sum = new(uint256.Int)
			sums[b.AssetID] = sum
		}
		amount := b.Amount
		if _, overflow := sum.AddOverflow(sum, &amount); overflow {
			return svcerrors.Overflow(op)
		}
	}
	supplies := make(map[uint64]bool, len(s.Supply))
	for _, t := range s.Supply {
		if !ids[t.AssetID] {
			return svcerrors.Newf(svcerrors.ErrAssetNotRegistered, op, "supply of asset id %d", t.AssetID)
		}
		supplies[t.AssetID] = true
		sum := sums[t.AssetID]
		if sum == nil {
			sum = new(uint256.Int)
		}
		total := t.Total
		if !sum.Eq(&total) {
			return svcerrors.Newf(svcerrors.ErrInvalidInput, op, "asset %d: balances sum to %s, supply is %s", t.AssetID, sum.Dec(), total.Dec())
		}
	}
	for id, sum := range sums {
		if !supplies[id] && !sum.IsZero() {
			return svcerrors.Newf(svcerrors.ErrInvalidInput, op, "asset %d has balances but no supply", id)
		}
	}
	return nil
}

type kernelState struct {
	owner            util.Uint160
	treasury         util.Uint160
	treasuryFeeBps   uint16
	nextAssetID      uint64
	configs          map[util.Uint160]strategy.Slot
	balances         map[balanceKey]uint256.Int
	supply           map[uint64]uint256.Int
	assetIDs         map[util.Uint160]uint64
	assets           map[uint64]util.Uint160
	delegates        map[util.Uint160]map[util.Uint160]bool
	conversionParams map[util.Uint160]ConversionParams
	queue            []Conversion
}

func (k *Kernel) swapState(next kernelState) kernelState {
	prev := kernelState{
		owner:            k.owner,
		treasury:         k.treasury,
		treasuryFeeBps:   k.treasuryFeeBps,
		nextAssetID:      k.nextAssetID,
		configs:          k.configs,
		balances:         k.balances,
		supply:           k.supply,
		assetIDs:         k.assetIDs,
		assets:           k.assets,
		delegates:        k.delegates,
		conversionParams: k.conversionParams,
		queue:            k.queue,
	}
	k.owner, k.treasury, k.treasuryFeeBps, k.nextAssetID = next.owner, next.treasury, next.treasuryFeeBps, next.nextAssetID
	k.configs, k.balances, k.supply = next.configs, next.balances, next.supply
	k.assetIDs, k.assets, k.delegates = next.assetIDs, next.assets, next.delegates
	k.conversionParams, k.queue = next.conversionParams, next.queue
	return prev
}

// Restore replaces the kernel state with s. The module registry is kept as
// wired. Owner-only; the caller must own the running kernel.
func (k *Kernel) Restore(ctx context.Context, caller util.Uint160, s Snapshot) error {
	const op = "kernel.Restore"
	if err := s.Validate(); err != nil {
		return err
	}
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireOwner(op, caller); err != nil {
			return err
		}
		next := kernelState{
			owner:            s.Owner,
			treasury:         s.Treasury,
			treasuryFeeBps:   s.TreasuryFeeBps,
			nextAssetID:      s.NextAssetID,
			configs:          make(map[util.Uint160]strategy.Slot, len(s.Configs)),
			balances:         make(map[balanceKey]uint256.Int, len(s.Balances)),
			supply:           make(map[uint64]uint256.Int, len(s.Supply)),
			assetIDs:         make(map[util.Uint160]uint64, len(s.Assets)),
			assets:           make(map[uint64]util.Uint160, len(s.Assets)),
			delegates:        make(map[util.Uint160]map[util.Uint160]bool),
			conversionParams: make(map[util.Uint160]ConversionParams, len(s.ConversionParams)),
			queue:            append([]Conversion(nil), s.Queue...),
		}
		if next.owner.Equals(util.Uint160{}) {
			next.owner = k.owner
		}
		if next.nextAssetID == 0 {
			next.nextAssetID = 1
		}
		for _, c := range s.Configs {
			if !c.Slot.IsZero() {
				next.configs[c.User] = c.Slot
			}
		}
		for _, a := range s.Assets {
			next.assetIDs[a.Asset] = a.ID
			next.assets[a.ID] = a.Asset
		}
		for _, b := range s.Balances {
			if !b.Amount.IsZero() {
				next.balances[balanceKey{owner: b.Owner, id: b.AssetID}] = b.Amount
			}
		}
		for _, t := range s.Supply {
			if !t.Total.IsZero() {
				next.supply[t.AssetID] = t.Total
			}
		}
		for _, d := range s.Delegates {
			if next.delegates[d.Owner] == nil {
				next.delegates[d.Owner] = make(map[util.Uint160]bool)
			}
			next.delegates[d.Owner][d.Delegate] = true
		}
		for _, p := range s.ConversionParams {
			next.conversionParams[p.User] = p.Params
		}

		prev := k.swapState(next)
		f.record(func() { k.swapState(prev) })
		f.emit(f.event(events.EventSnapshotRestored).
			Subject(identity.String(next.owner)).
			Metadata("assets", fmt.Sprint(len(s.Assets))).
			Metadata("balances", fmt.Sprint(len(s.Balances))).
			Metadata("configs", fmt.Sprint(len(s.Configs))).
			Metadata("queued", fmt.Sprint(len(s.Queue))).
			Build())
		return nil
	})
}
