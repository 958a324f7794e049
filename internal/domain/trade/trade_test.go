package trade

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
)

func TestParamsAssets(t *testing.T) {
	k := Key{Asset0: identity.FromByte(1), Asset1: identity.FromByte(2)}

	in, out := Params{ZeroForOne: true}.Assets(k)
	assert.Equal(t, k.Asset0, in)
	assert.Equal(t, k.Asset1, out)

	in, out = Params{ZeroForOne: false}.Assets(k)
	assert.Equal(t, k.Asset1, in)
	assert.Equal(t, k.Asset0, out)
}

func TestZeroValues(t *testing.T) {
	assert.True(t, Params{}.SpecifiedAmount().IsZero())
	assert.True(t, Delta{}.In().IsZero())
	assert.True(t, Delta{}.Out().IsZero())

	b := ZeroBefore()
	assert.Equal(t, StatusBeforeTrade, b.Status)
	assert.Zero(t, b.SpecifiedAdjustment.Sign())
	assert.Equal(t, NoFeeOverride, b.FeeOverride)

	a := ZeroAfter()
	assert.Equal(t, StatusAfterTrade, a.Status)
	assert.Zero(t, a.UnspecifiedAdjustment.Sign())
}

func TestClaim(t *testing.T) {
	assert.Zero(t, Claim(nil).Sign())
	assert.Equal(t, int64(42), Claim(uint256.NewInt(42)).Int64())
}
