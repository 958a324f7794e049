// Package strategy defines the per-user savings policy (the Configuration
// Record) and its single-slot encoding.
package strategy

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/util"

	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// BasisPoints is 100% expressed in basis points.
const BasisPoints = 10000

// TokenType selects which side of a trade is saved.
type TokenType uint8

const (
	// TokenInput saves from the asset the user gives up.
	TokenInput TokenType = iota
	// TokenOutput saves from the asset the user receives.
	TokenOutput
	// TokenSpecific saves into a fixed third asset via deferred conversion.
	TokenSpecific
)

// String returns the string representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenInput:
		return "input"
	case TokenOutput:
		return "output"
	case TokenSpecific:
		return "specific"
	default:
		return fmt.Sprintf("token_type(%d)", t)
	}
}

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	return t <= TokenSpecific
}

// ParseTokenType converts a string to TokenType.
func ParseTokenType(s string) (TokenType, error) {
	switch s {
	case "input", "INPUT":
		return TokenInput, nil
	case "output", "OUTPUT":
		return TokenOutput, nil
	case "specific", "SPECIFIC":
		return TokenSpecific, nil
	default:
		return 0, fmt.Errorf("unknown savings token type %q", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (t TokenType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TokenType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTokenType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Config is one user's savings policy.
type Config struct {
	Percentage               uint16       `json:"percentage"`
	AutoIncrement            uint16       `json:"auto_increment"`
	MaxPercentage            uint16       `json:"max_percentage"`
	RoundUpSavings           bool         `json:"round_up_savings"`
	SavingsTokenType         TokenType    `json:"savings_token_type"`
	SpecificSavingsAsset     util.Uint160 `json:"specific_savings_asset"`
	EnableDeferredConversion bool         `json:"enable_deferred_conversion"`
}

// Active reports whether the policy diverts anything.
func (c Config) Active() bool {
	return c.Percentage > 0
}

// Validate enforces the percentage bounds and token type rules.
func (c Config) Validate() error {
	const op = "strategy.Validate"
	if c.Percentage > BasisPoints {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "percentage %d exceeds %d", c.Percentage, BasisPoints)
	}
	if c.MaxPercentage > BasisPoints {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "max percentage %d exceeds %d", c.MaxPercentage, BasisPoints)
	}
	if c.MaxPercentage > 0 && c.Percentage > c.MaxPercentage {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "percentage %d exceeds max %d", c.Percentage, c.MaxPercentage)
	}
	if c.AutoIncrement > BasisPoints {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "auto increment %d exceeds %d", c.AutoIncrement, BasisPoints)
	}
	if !c.SavingsTokenType.Valid() {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "unknown token type %d", c.SavingsTokenType)
	}
	if c.SavingsTokenType == TokenSpecific && c.SpecificSavingsAsset.Equals(util.Uint160{}) {
		return svcerrors.InvalidConfiguration(op, "specific token type requires an asset")
	}
	return nil
}

// Ceiling returns the effective upper bound for Percentage.
func (c Config) Ceiling() uint16 {
	if c.MaxPercentage > 0 && c.MaxPercentage < BasisPoints {
		return c.MaxPercentage
	}
	return BasisPoints
}

// Incremented returns the config after one auto-increment step, clamped to
// Ceiling. The second result is false when nothing changed.
func (c Config) Incremented() (Config, bool) {
	if c.AutoIncrement == 0 {
		return c, false
	}
	ceiling := uint32(c.Ceiling())
	next := uint32(c.Percentage) + uint32(c.AutoIncrement)
	if next > ceiling {
		next = ceiling
	}
	if uint16(next) == c.Percentage {
		return c, false
	}
	c.Percentage = uint16(next)
	return c, true
}

// =============================================================================
// Slot encoding
// =============================================================================

// SlotSize is the width of one encoded Config.
const SlotSize = 32

// Slot is the fixed-width persisted form of Config. Layout, big-endian:
//
//	[0:2]   percentage
//	[2:4]   auto increment
//	[4:6]   max percentage
//	[6]     flags: bit0 round up, bit1 deferred conversion
//	[7]     token type
//	[8:28]  specific savings asset (script hash, big-endian)
//	[28:32] reserved, zero
type Slot [SlotSize]byte

const (
	flagRoundUp  = 1 << 0
	flagDeferred = 1 << 1
)

// Encode packs c into a Slot.
func (c Config) Encode() Slot {
	var s Slot
	binary.BigEndian.PutUint16(s[0:2], c.Percentage)
	binary.BigEndian.PutUint16(s[2:4], c.AutoIncrement)
	binary.BigEndian.PutUint16(s[4:6], c.MaxPercentage)
	var flags byte
	if c.RoundUpSavings {
		flags |= flagRoundUp
	}
	if c.EnableDeferredConversion {
		flags |= flagDeferred
	}
	s[6] = flags
	s[7] = byte(c.SavingsTokenType)
	copy(s[8:28], c.SpecificSavingsAsset.BytesBE())
	return s
}

// Decode unpacks a Slot. The zero Slot decodes to the zero Config.
func Decode(s Slot) (Config, error) {
	if s[6]&^(flagRoundUp|flagDeferred) != 0 {
		return Config{}, fmt.Errorf("config slot: unknown flags %#x", s[6])
	}
	tt := TokenType(s[7])
	if !tt.Valid() {
		return Config{}, fmt.Errorf("config slot: unknown token type %d", s[7])
	}
	asset, err := util.Uint160DecodeBytesBE(s[8:28])
	if err != nil {
		return Config{}, fmt.Errorf("config slot: %w", err)
	}
	return Config{
		Percentage:               binary.BigEndian.Uint16(s[0:2]),
		AutoIncrement:            binary.BigEndian.Uint16(s[2:4]),
		MaxPercentage:            binary.BigEndian.Uint16(s[4:6]),
		RoundUpSavings:           s[6]&flagRoundUp != 0,
		SavingsTokenType:         tt,
		SpecificSavingsAsset:     asset,
		EnableDeferredConversion: s[6]&flagDeferred != 0,
	}, nil
}

// SlotFromBytes copies b into a Slot.
func SlotFromBytes(b []byte) (Slot, error) {
	var s Slot
	if len(b) != SlotSize {
		return s, fmt.Errorf("config slot: want %d bytes, got %d", SlotSize, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// IsZero reports whether the slot is unset.
func (s Slot) IsZero() bool {
	return s == Slot{}
}
