package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	policy "github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

var (
	owner = identity.FromByte(1)
	alice = identity.FromByte(3)
	bob   = identity.FromByte(4)
	carol = identity.FromByte(5)
	gas   = identity.FromByte(102)
)

func newTestModule(t *testing.T) (*Module, *kernel.Kernel, *events.RingBuffer) {
	t.Helper()
	rb := events.NewRingBuffer(100)
	k, err := kernel.New(owner, kernel.WithLogger(logger.NewNop()), kernel.WithEvents(rb))
	require.NoError(t, err)
	m := New(k, identity.FromByte(11), logger.NewNop())
	require.NoError(t, k.RegisterModule(context.Background(), owner, kernel.CapStrategy, m))
	rb.Clear()
	return m, k, rb
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"zero", Params{}, false},
		{"ten percent", Params{Percentage: 1000}, false},
		{"full", Params{Percentage: 10000}, false},
		{"above full", Params{Percentage: 10001}, true},
		{"at max", Params{Percentage: 2000, MaxPercentage: 2000}, false},
		{"above max", Params{Percentage: 2001, MaxPercentage: 2000}, true},
		{"no cap", Params{Percentage: 9000, MaxPercentage: 0}, false},
		{"max above full", Params{MaxPercentage: 10001}, true},
		{"increment above full", Params{AutoIncrement: 10001}, true},
		{"unknown token type", Params{SavingsTokenType: policy.TokenType(7)}, true},
		{"specific without asset", Params{Percentage: 100, SavingsTokenType: policy.TokenSpecific}, true},
		{"specific with asset", Params{Percentage: 100, SavingsTokenType: policy.TokenSpecific, SpecificSavingsAsset: gas}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, svcerrors.ErrInvalidConfiguration), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetStrategy(t *testing.T) {
	m, k, rb := newTestModule(t)
	ctx := context.Background()

	t.Run("self", func(t *testing.T) {
		require.NoError(t, m.SetStrategy(ctx, alice, alice, Params{Percentage: 500, AutoIncrement: 100, MaxPercentage: 1000}))
		cfg, err := k.GetUserConfig(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint16(500), cfg.Percentage)
		assert.Equal(t, uint16(1000), cfg.MaxPercentage)
		assert.Len(t, rb.RecentByType(events.EventConfigUpdated, 10), 1)
	})
	t.Run("stranger", func(t *testing.T) {
		err := m.SetStrategy(ctx, bob, alice, Params{Percentage: 9000})
		assert.True(t, errors.Is(err, svcerrors.ErrUnauthorized))
		cfg, _ := k.GetUserConfig(ctx, alice)
		assert.Equal(t, uint16(500), cfg.Percentage)
	})
	t.Run("delegate", func(t *testing.T) {
		require.NoError(t, k.SetDelegate(ctx, alice, alice, carol, true))
		require.NoError(t, m.SetStrategy(ctx, carol, alice, Params{Percentage: 700}))
		cfg, _ := k.GetUserConfig(ctx, alice)
		assert.Equal(t, uint16(700), cfg.Percentage)
	})
	t.Run("percentage bound", func(t *testing.T) {
		err := m.SetStrategy(ctx, alice, alice, Params{Percentage: 10001})
		assert.True(t, errors.Is(err, svcerrors.ErrInvalidConfiguration))
		err = m.SetStrategy(ctx, alice, alice, Params{Percentage: 3000, MaxPercentage: 2000})
		assert.True(t, errors.Is(err, svcerrors.ErrInvalidConfiguration))
	})
	t.Run("specific asset dropped for other types", func(t *testing.T) {
		require.NoError(t, m.SetStrategy(ctx, alice, alice, Params{Percentage: 100, SpecificSavingsAsset: gas}))
		cfg, _ := k.GetUserConfig(ctx, alice)
		assert.Equal(t, util.Uint160{}, cfg.SpecificSavingsAsset)
	})
	t.Run("not registered", func(t *testing.T) {
		other := New(k, identity.FromByte(77), logger.NewNop())
		err := other.SetStrategy(ctx, bob, bob, Params{Percentage: 100})
		assert.True(t, errors.Is(err, svcerrors.ErrUnauthorized))
	})
}

func TestDeferredConversion(t *testing.T) {
	m, k, _ := newTestModule(t)
	ctx := context.Background()
	require.NoError(t, m.SetStrategy(ctx, alice, alice, Params{Percentage: 1000, SavingsTokenType: policy.TokenOutput}))

	require.NoError(t, m.EnableDeferredConversion(ctx, alice, alice, DeferredConversion{
		TargetAsset:    gas,
		MinAmount:      uint256.NewInt(50),
		MaxSlippageBps: 100,
	}))
	v, err := m.Strategy(ctx, alice)
	require.NoError(t, err)
	assert.True(t, v.Config.EnableDeferredConversion)
	require.NotNil(t, v.Conversion)
	assert.Equal(t, gas, v.Conversion.TargetAsset)
	assert.Equal(t, uint64(50), v.Conversion.MinAmount.Uint64())

	t.Run("flag survives SetStrategy", func(t *testing.T) {
		require.NoError(t, m.SetStrategy(ctx, alice, alice, Params{Percentage: 2000, SavingsTokenType: policy.TokenOutput}))
		cfg, _ := k.GetUserConfig(ctx, alice)
		assert.True(t, cfg.EnableDeferredConversion)
	})

	t.Run("rejected settings", func(t *testing.T) {
		err := m.EnableDeferredConversion(ctx, alice, alice, DeferredConversion{})
		assert.True(t, errors.Is(err, svcerrors.ErrInvalidConfiguration))
		err = m.EnableDeferredConversion(ctx, alice, alice, DeferredConversion{TargetAsset: gas, MaxSlippageBps: 10001})
		assert.True(t, errors.Is(err, svcerrors.ErrInvalidConfiguration))
		err = m.EnableDeferredConversion(ctx, bob, alice, DeferredConversion{TargetAsset: gas})
		assert.True(t, errors.Is(err, svcerrors.ErrUnauthorized))
	})

	require.NoError(t, m.DisableDeferredConversion(ctx, alice, alice))
	v, err = m.Strategy(ctx, alice)
	require.NoError(t, err)
	assert.False(t, v.Config.EnableDeferredConversion)
	assert.Nil(t, v.Conversion)
}

func TestClearStrategy(t *testing.T) {
	m, k, _ := newTestModule(t)
	ctx := context.Background()
	require.NoError(t, m.SetStrategy(ctx, alice, alice, Params{Percentage: 1000}))
	require.NoError(t, m.EnableDeferredConversion(ctx, alice, alice, DeferredConversion{TargetAsset: gas}))

	require.NoError(t, m.ClearStrategy(ctx, alice, alice))
	slot := k.ConfigSlot(ctx, alice)
	assert.True(t, slot.IsZero())
	_, ok := k.ConversionParamsOf(ctx, alice)
	assert.False(t, ok)
}
