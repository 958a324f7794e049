package ledger

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// Batch primitives are all-or-nothing: elements run in one nested operation,
// and the first failure reverts every element before it.

func checkLengths(op string, ids []uint64, amounts []*uint256.Int) error {
	if len(ids) != len(amounts) {
		return svcerrors.ArrayLengthMismatch(op, len(ids), len(amounts))
	}
	if len(ids) == 0 {
		return svcerrors.New(svcerrors.ErrEmptyBatch, op, "")
	}
	for _, a := range amounts {
		if a == nil {
			return svcerrors.New(svcerrors.ErrInvalidInput, op, "nil amount")
		}
	}
	return nil
}

// BatchMint mints amounts[i] of ids[i] to owner. Module-only.
func (l *Ledger) BatchMint(ctx context.Context, caller, owner util.Uint160, ids []uint64, amounts []*uint256.Int) error {
	const op = "ledger.BatchMint"
	if err := checkLengths(op, ids, amounts); err != nil {
		return l.observe(op, err)
	}
	return l.observe(op, l.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := l.requireModule(ctx, op, caller); err != nil {
			return err
		}
		for i := range ids {
			if err := l.mint(ctx, op, owner, ids[i], amounts[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

// BatchBurn burns amounts[i] of ids[i] from owner. Module-only.
func (l *Ledger) BatchBurn(ctx context.Context, caller, owner util.Uint160, ids []uint64, amounts []*uint256.Int) error {
	const op = "ledger.BatchBurn"
	if err := checkLengths(op, ids, amounts); err != nil {
		return l.observe(op, err)
	}
	return l.observe(op, l.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := l.requireModule(ctx, op, caller); err != nil {
			return err
		}
		for i := range ids {
			if err := l.burn(ctx, op, owner, ids[i], amounts[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

// BatchTransfer moves amounts[i] of ids[i] from one owner to another. Same
// authorization as Transfer.
func (l *Ledger) BatchTransfer(ctx context.Context, caller, from, to util.Uint160, ids []uint64, amounts []*uint256.Int) error {
	const op = "ledger.BatchTransfer"
	if err := checkLengths(op, ids, amounts); err != nil {
		return l.observe(op, err)
	}
	return l.observe(op, l.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := l.k.RequireSelfOrDelegate(ctx, op, from, caller); err != nil {
			return err
		}
		for i := range ids {
			if err := l.transfer(ctx, op, from, to, ids[i], amounts[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

// BatchRegisterAssets registers every asset and returns their ids in order.
func (l *Ledger) BatchRegisterAssets(ctx context.Context, caller util.Uint160, assets []util.Uint160) ([]uint64, error) {
	const op = "ledger.BatchRegisterAssets"
	if len(assets) == 0 {
		return nil, l.observe(op, svcerrors.New(svcerrors.ErrEmptyBatch, op, ""))
	}
	ids := make([]uint64, len(assets))
	err := l.k.Execute(ctx, op, func(ctx context.Context) error {
		for i, a := range assets {
			id, err := l.RegisterAsset(ctx, caller, a)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, l.observe(op, err)
	}
	return ids, l.observe(op, nil)
}
