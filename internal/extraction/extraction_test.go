package extraction

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/spendsave/internal/domain/strategy"
)

func TestComputeContribution(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		cfg     strategy.Config
		feeBps  uint16
		wantNet uint64
		wantFee uint64
	}{
		{"ten percent no fee", 1000, strategy.Config{Percentage: 1000}, 0, 100, 0},
		{"ten percent ten percent fee", 1000, strategy.Config{Percentage: 1000}, 1000, 90, 10},
		{"zero amount", 0, strategy.Config{Percentage: 1000}, 0, 0, 0},
		{"zero percentage", 1000, strategy.Config{}, 1000, 0, 0},
		{"full amount", 1000, strategy.Config{Percentage: 10000}, 0, 1000, 0},
		{"floors", 999, strategy.Config{Percentage: 1}, 0, 0, 0},
		{"fee floors", 1000, strategy.Config{Percentage: 1000}, 15, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, fee := ComputeContribution(uint256.NewInt(tt.amount), tt.cfg, tt.feeBps)
			assert.Equal(t, tt.wantNet, net.Uint64())
			assert.Equal(t, tt.wantFee, fee.Uint64())
		})
	}
}

func TestCalculator_Gross(t *testing.T) {
	c := NewCalculator(100)
	tests := []struct {
		name   string
		amount uint64
		cfg    strategy.Config
		want   uint64
	}{
		{"round up remainder", 1234, strategy.Config{Percentage: 1000, RoundUpSavings: true}, 200},
		{"round up exact", 10000, strategy.Config{Percentage: 1000, RoundUpSavings: true}, 1000},
		{"round up within amount", 150, strategy.Config{Percentage: 5000, RoundUpSavings: true}, 100},
		{"round up clamped to max", 1234, strategy.Config{Percentage: 1000, MaxPercentage: 1500, RoundUpSavings: true}, 185},
		{"round up capped by amount", 50, strategy.Config{Percentage: 1000, RoundUpSavings: true}, 50},
		{"no round up", 1234, strategy.Config{Percentage: 1000}, 123},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Gross(uint256.NewInt(tt.amount), tt.cfg)
			assert.Equal(t, tt.want, got.Uint64())
			assert.False(t, got.Gt(uint256.NewInt(tt.amount)))
		})
	}
}

func TestCalculator_LargeAmounts(t *testing.T) {
	c := NewCalculator(0)
	max := new(uint256.Int).SetAllOne()

	full := c.Gross(max, strategy.Config{Percentage: strategy.BasisPoints, RoundUpSavings: true})
	assert.True(t, full.Eq(max))

	half := c.Gross(max, strategy.Config{Percentage: 5000})
	want := new(uint256.Int).Rsh(max, 1)
	assert.True(t, half.Eq(want), "got %s want %s", half.Dec(), want.Dec())
}

func TestContribution_SplitAddsUp(t *testing.T) {
	c := NewCalculator(DefaultRoundUpUnit)
	for _, fee := range []uint16{0, 1, 250, 9999, 10000} {
		r := c.Contribution(uint256.NewInt(987654321), strategy.Config{Percentage: 777, RoundUpSavings: true}, fee)
		sum := new(uint256.Int).Add(r.Net, r.Fee)
		assert.True(t, sum.Eq(r.Gross), "fee %d", fee)
	}
	assert.True(t, Result{}.IsZero())
}
