package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/internal/ledger"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

var (
	owner    = identity.FromByte(1)
	treasury = identity.FromByte(2)
	alice    = identity.FromByte(3)
	bob      = identity.FromByte(4)
	carol    = identity.FromByte(5)
	usdc     = identity.FromByte(100)
	neo      = identity.FromByte(101)
)

type fixture struct {
	k   *kernel.Kernel
	rb  *events.RingBuffer
	c   *Coordinator
	ids []uint64
}

func newFixture(t *testing.T, feeBps uint16, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	rb := events.NewRingBuffer(200)
	k, err := kernel.New(owner,
		kernel.WithLogger(logger.NewNop()),
		kernel.WithEvents(rb),
		kernel.WithTreasury(treasury, feeBps))
	require.NoError(t, err)
	l := ledger.New(k, identity.FromByte(12), logger.NewNop())
	c := New(k, identity.FromByte(14), logger.NewNop(), opts...)
	require.NoError(t, k.RegisterModule(ctx, owner, kernel.CapLedger, l))
	require.NoError(t, k.RegisterModule(ctx, owner, kernel.CapCoordinator, c))

	ids, err := l.BatchRegisterAssets(ctx, owner, []util.Uint160{usdc, neo})
	require.NoError(t, err)
	require.NoError(t, l.BatchMint(ctx, c.Address(), alice, ids, []*uint256.Int{uint256.NewInt(100), uint256.NewInt(100)}))
	rb.Clear()
	return &fixture{k: k, rb: rb, c: c, ids: ids}
}

func (f *fixture) balance(who util.Uint160, i int) uint64 {
	return f.k.BalanceOf(context.Background(), who, f.ids[i]).Uint64()
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "mint", OpMint.String())
	assert.Equal(t, "register_asset", OpRegisterAsset.String())
	assert.Equal(t, "op(99)", Op(99).String())
}

func TestBatchSizeBounds(t *testing.T) {
	f := newFixture(t, 0, WithMaxSize(2))
	ctx := context.Background()

	_, err := f.c.ExecuteAll(ctx, owner, nil)
	assert.True(t, errors.Is(err, svcerrors.ErrEmptyBatch))
	_, err = f.c.ExecuteBestEffort(ctx, owner, []Call{})
	assert.True(t, errors.Is(err, svcerrors.ErrEmptyBatch))

	three := make([]Call, 3)
	for i := range three {
		three[i] = Call{Op: OpMint, Owner: bob, AssetID: f.ids[0], Amount: uint256.NewInt(1)}
	}
	_, err = f.c.ExecuteAll(ctx, owner, three)
	assert.True(t, errors.Is(err, svcerrors.ErrBatchTooLarge))
	_, err = f.c.ExecuteBestEffort(ctx, owner, three)
	assert.True(t, errors.Is(err, svcerrors.ErrBatchTooLarge))
	assert.Zero(t, f.balance(bob, 0))
	assert.Equal(t, 2, f.c.MaxSize())
}

// threeCalls has an invalid second element: bob holds nothing to burn.
func (f *fixture) threeCalls() []Call {
	return []Call{
		{Op: OpTransfer, Owner: alice, To: carol, AssetID: f.ids[0], Amount: uint256.NewInt(40)},
		{Op: OpBurn, Owner: bob, AssetID: f.ids[1], Amount: uint256.NewInt(1)},
		{Op: OpMint, Owner: carol, AssetID: f.ids[1], Amount: uint256.NewInt(7)},
	}
}

func TestExecuteAll_Atomic(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.c.ExecuteAll(ctx, alice, f.threeCalls())
	require.Error(t, err)
	assert.True(t, errors.Is(err, svcerrors.ErrUnauthorized), "alice may not burn: %v", err)

	// Now with an authorized caller the burn itself fails on balance.
	calls := f.threeCalls()
	calls[0].Op = OpMint
	calls[0].Owner = alice
	_, err = f.c.ExecuteAll(ctx, owner, calls)
	assert.True(t, errors.Is(err, svcerrors.ErrInsufficientBalance), "got %v", err)
	assert.Contains(t, err.Error(), "call 1 (burn)")

	assert.Equal(t, uint64(100), f.balance(alice, 0))
	assert.Zero(t, f.balance(carol, 0))
	assert.Zero(t, f.balance(carol, 1))
	assert.Zero(t, f.rb.Count())

	t.Run("all valid", func(t *testing.T) {
		calls := []Call{
			{Op: OpMint, Owner: bob, AssetID: f.ids[1], Amount: uint256.NewInt(5)},
			{Op: OpBurn, Owner: bob, AssetID: f.ids[1], Amount: uint256.NewInt(2)},
			{Op: OpRegisterAsset, Asset: identity.FromByte(103)},
		}
		r, err := f.c.ExecuteAll(ctx, owner, calls)
		require.NoError(t, err)
		assert.NotEmpty(t, r.ID)
		require.Len(t, r.Outputs, 3)
		assert.Equal(t, uint64(3), r.Outputs[2].AssetID)
		assert.Equal(t, uint64(3), f.balance(bob, 1))
		assert.Len(t, f.rb.RecentByType(events.EventBatchExecuted, 5), 1)
	})
}

func TestExecuteBestEffort_PartialSuccess(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	calls := f.threeCalls()
	calls[2].Op = OpTransfer
	calls[2].Owner = alice
	calls[2].To = bob
	calls[2].AssetID = f.ids[1]

	r, err := f.c.ExecuteBestEffort(ctx, alice, calls)
	require.NoError(t, err)
	require.Len(t, r.Outcomes, 3)
	assert.True(t, r.Outcomes[0].OK())
	assert.False(t, r.Outcomes[1].OK())
	assert.True(t, errors.Is(r.Outcomes[1].Err, svcerrors.ErrUnauthorized))
	assert.True(t, r.Outcomes[2].OK())
	assert.Equal(t, 1, r.Failed())

	var merr *multierror.Error
	require.True(t, errors.As(r.Err(), &merr))
	assert.Len(t, merr.Errors, 1)

	assert.Equal(t, uint64(60), f.balance(alice, 0))
	assert.Equal(t, uint64(40), f.balance(carol, 0))
	assert.Equal(t, uint64(7), f.balance(bob, 1))

	ev := f.rb.RecentByType(events.EventBatchExecuted, 5)
	require.Len(t, ev, 1)
	assert.Equal(t, "1", ev[0].Metadata["failed"])
	assert.Equal(t, string(ModeBestEffort), ev[0].Metadata["mode"])
	for i := range f.ids {
		require.NoError(t, f.k.CheckConservation(ctx, f.ids[i]))
	}
}

func TestExecuteBestEffort_AllSucceed(t *testing.T) {
	f := newFixture(t, 0)
	r, err := f.c.ExecuteBestEffort(context.Background(), owner, []Call{
		{Op: OpMint, Owner: bob, AssetID: f.ids[0], Amount: uint256.NewInt(1)},
	})
	require.NoError(t, err)
	assert.NoError(t, r.Err())
	assert.Zero(t, r.Failed())
}

func TestContributionCalls(t *testing.T) {
	f := newFixture(t, 1000)
	calls := []Call{
		{Op: OpContribution, Amount: uint256.NewInt(1000), Config: strategy.Config{Percentage: 1000}},
		{Op: OpContribution, Amount: uint256.NewInt(1000), Config: strategy.Config{Percentage: 10001}},
		{Op: OpContribution},
		{Op: Op(42)},
	}
	r, err := f.c.ExecuteBestEffort(context.Background(), alice, calls)
	require.NoError(t, err)
	require.True(t, r.Outcomes[0].OK())
	assert.Equal(t, uint64(90), r.Outcomes[0].Output.Net.Uint64())
	assert.Equal(t, uint64(10), r.Outcomes[0].Output.Fee.Uint64())
	assert.True(t, errors.Is(r.Outcomes[1].Err, svcerrors.ErrInvalidConfiguration))
	assert.True(t, errors.Is(r.Outcomes[2].Err, svcerrors.ErrInvalidInput))
	assert.True(t, errors.Is(r.Outcomes[3].Err, svcerrors.ErrInvalidInput))
	assert.Equal(t, 3, r.Failed())
}

func TestBatchRefusesReentry(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	calls := []Call{{Op: OpMint, Owner: bob, AssetID: f.ids[0], Amount: uint256.NewInt(1)}}

	// Hold the guard as a running batch would.
	release, err := f.c.guard.Enter()
	require.NoError(t, err)

	_, err = f.c.ExecuteAll(ctx, owner, calls)
	assert.True(t, errors.Is(err, svcerrors.ErrReentrancyDetected), "got %v", err)
	_, err = f.c.ExecuteBestEffort(ctx, owner, calls)
	assert.True(t, errors.Is(err, svcerrors.ErrReentrancyDetected), "got %v", err)
	assert.Zero(t, f.balance(bob, 0))
	assert.Zero(t, f.rb.Count())

	release()
	_, err = f.c.ExecuteAll(ctx, owner, calls)
	require.NoError(t, err)
	report, err := f.c.ExecuteBestEffort(ctx, owner, calls)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, uint64(2), f.balance(bob, 0))
}
