package dca

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/internal/ledger"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

var (
	owner    = identity.FromByte(1)
	alice    = identity.FromByte(3)
	bob      = identity.FromByte(4)
	neo      = identity.FromByte(101)
	gas      = identity.FromByte(102)
	savesMod = identity.FromByte(13)
)

type stubModule struct {
	name string
	addr util.Uint160
}

func (m stubModule) Name() string          { return m.name }
func (m stubModule) Address() util.Uint160 { return m.addr }

type fixture struct {
	k      *kernel.Kernel
	rb     *events.RingBuffer
	ledger *ledger.Ledger
	neoID  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	rb := events.NewRingBuffer(200)
	k, err := kernel.New(owner, kernel.WithLogger(logger.NewNop()), kernel.WithEvents(rb))
	require.NoError(t, err)
	l := ledger.New(k, identity.FromByte(12), logger.NewNop())
	require.NoError(t, k.RegisterModule(ctx, owner, kernel.CapLedger, l))
	require.NoError(t, k.RegisterModule(ctx, owner, kernel.CapSavings, stubModule{"savings", savesMod}))
	id, err := l.RegisterAsset(ctx, owner, neo)
	require.NoError(t, err)
	return &fixture{k: k, rb: rb, ledger: l, neoID: id}
}

// save credits user with amount of neo and queues its conversion to gas.
func (f *fixture) save(t *testing.T, user util.Uint160, amount uint64) kernel.Conversion {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, savesMod, user, f.neoID, uint256.NewInt(amount)))
	c, err := f.k.EnqueueConversion(ctx, savesMod, user, neo, gas, uint256.NewInt(amount))
	require.NoError(t, err)
	return c
}

func (f *fixture) newProcessor(t *testing.T, r Router, opts ...Option) *Processor {
	t.Helper()
	p := New(f.k, identity.FromByte(15), r, logger.NewNop(), opts...)
	require.NoError(t, f.k.RegisterModule(context.Background(), owner, kernel.CapConversion, p))
	f.rb.Clear()
	return p
}

func (f *fixture) balance(user, asset util.Uint160) uint64 {
	ctx := context.Background()
	id := f.k.AssetIDOf(ctx, asset)
	if id == 0 {
		return 0
	}
	return f.k.BalanceOf(ctx, user, id).Uint64()
}

func TestProcessAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.save(t, alice, 100)
	f.save(t, bob, 10)
	p := f.newProcessor(t, FixedRateRouter{Num: 3, Den: 1})

	sum, err := p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Executed)
	assert.Zero(t, sum.Failed)
	assert.NoError(t, sum.Err)

	assert.Zero(t, f.balance(alice, neo))
	assert.Equal(t, uint64(300), f.balance(alice, gas))
	assert.Equal(t, uint64(30), f.balance(bob, gas))
	assert.Zero(t, f.k.QueueDepth(ctx))
	assert.Len(t, f.rb.RecentByType(events.EventConversionExecuted, 5), 2)
	require.NoError(t, f.k.CheckConservation(ctx, f.neoID))
}

func TestFailedItemStaysQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.save(t, alice, 100)

	var fail atomic.Bool
	fail.Store(true)
	var seen Request
	router := RouterFunc(func(_ context.Context, req Request) (*uint256.Int, error) {
		seen = req
		if fail.Load() {
			return nil, errors.New("venue down")
		}
		return new(uint256.Int).Set(req.Amount), nil
	})
	p := f.newProcessor(t, router)

	sum, err := p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.ErrorContains(t, sum.Err, "venue down")
	assert.Equal(t, c.ID, seen.ConversionID)

	assert.Equal(t, uint64(100), f.balance(alice, neo), "burn must be reverted")
	assert.Zero(t, f.balance(alice, gas))
	require.Len(t, f.k.PendingConversions(ctx, alice), 1)
	assert.Len(t, f.rb.RecentByType(events.EventConversionFailed, 5), 1)

	fail.Store(false)
	sum, err = p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, uint64(100), f.balance(alice, gas))
}

func TestWithdrawnSavingsFailConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.save(t, alice, 100)
	require.NoError(t, f.ledger.Burn(ctx, savesMod, alice, f.neoID, uint256.NewInt(60)))

	p := f.newProcessor(t, FixedRateRouter{Num: 1, Den: 1})
	sum, err := p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, f.k.QueueDepth(ctx))
}

func TestZeroRouterOutputFails(t *testing.T) {
	f := newFixture(t)
	f.save(t, alice, 5)
	p := f.newProcessor(t, FixedRateRouter{Num: 0, Den: 1})
	sum, err := p.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, uint64(5), f.balance(alice, neo))
}

func TestProcessUserAndSweepCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.save(t, alice, 1)
	f.save(t, bob, 2)
	f.save(t, alice, 3)
	p := f.newProcessor(t, FixedRateRouter{Num: 1, Den: 1}, WithMaxPerSweep(1))

	sum, err := p.ProcessUser(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, uint64(2), f.balance(bob, gas))

	sum, err = p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, uint64(1), f.balance(alice, gas), "oldest item first")
	assert.Equal(t, 1, f.k.QueueDepth(ctx))

	_, err = p.ProcessUser(ctx, util.Uint160{})
	assert.Error(t, err)
}

func TestRateLimitHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.save(t, alice, 1)
	f.save(t, alice, 1)
	p := f.newProcessor(t, FixedRateRouter{Num: 1, Den: 1}, WithRateLimit(0.001, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sum, err := p.ProcessAll(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 1, f.k.QueueDepth(context.Background()))
}

func TestNotRegistered(t *testing.T) {
	f := newFixture(t)
	f.save(t, alice, 1)
	p := New(f.k, identity.FromByte(99), FixedRateRouter{Num: 1, Den: 1}, logger.NewNop())
	sum, err := p.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
}

func TestScheduler(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	p := f.newProcessor(t, FixedRateRouter{Num: 1, Den: 1})

	_, err := NewScheduler(p, "not a schedule", logger.NewNop())
	require.Error(t, err)

	s, err := NewScheduler(p, "@every 1h", logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "dca-scheduler", s.Name())

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx), "second start is a no-op")

	f.save(t, alice, 4)
	sum, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestRouterReentryIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.save(t, alice, 100)
	f.save(t, bob, 50)

	var (
		p       *Processor
		inner   Summary
		reentry bool
	)
	router := RouterFunc(func(ctx context.Context, req Request) (*uint256.Int, error) {
		if !reentry {
			reentry = true
			var err error
			inner, err = p.ProcessAll(ctx)
			require.NoError(t, err)
		}
		return req.Amount, nil
	})
	p = f.newProcessor(t, router)

	sum, err := p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Executed)
	assert.Equal(t, 0, sum.Failed)

	assert.Equal(t, 0, inner.Executed)
	assert.Equal(t, 1, inner.Failed)
	assert.True(t, errors.Is(inner.Err, svcerrors.ErrReentrancyDetected))

	assert.Equal(t, uint64(100), f.balance(alice, gas))
	assert.Equal(t, uint64(50), f.balance(bob, gas))
	assert.Zero(t, f.k.QueueDepth(ctx))
	assert.Len(t, f.rb.RecentByType(events.EventConversionExecuted, 10), 2)
}
