package strategy

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/util"

	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

func asset(b byte) util.Uint160 {
	var u util.Uint160
	u[0] = b
	return u
}

func TestConfig_EncodeDecode(t *testing.T) {
	tests := []Config{
		{},
		{Percentage: 1000},
		{Percentage: 250, AutoIncrement: 50, MaxPercentage: 2000, RoundUpSavings: true},
		{Percentage: 10000, SavingsTokenType: TokenOutput, EnableDeferredConversion: true},
		{Percentage: 1, SavingsTokenType: TokenSpecific, SpecificSavingsAsset: asset(0xab), RoundUpSavings: true, EnableDeferredConversion: true},
	}

	for _, cfg := range tests {
		slot := cfg.Encode()
		got, err := Decode(slot)
		if err != nil {
			t.Fatalf("Decode(%+v): %v", cfg, err)
		}
		if got != cfg {
			t.Errorf("round trip = %+v, want %+v", got, cfg)
		}
	}
}

func TestSlot_Layout(t *testing.T) {
	cfg := Config{
		Percentage:               0x0102,
		AutoIncrement:            0x0304,
		MaxPercentage:            0x0506,
		RoundUpSavings:           true,
		EnableDeferredConversion: true,
		SavingsTokenType:         TokenSpecific,
		SpecificSavingsAsset:     asset(0xff),
	}
	s := cfg.Encode()

	if s[0] != 0x01 || s[1] != 0x02 || s[2] != 0x03 || s[3] != 0x04 || s[4] != 0x05 || s[5] != 0x06 {
		t.Errorf("uint16 fields not big-endian: % x", s[:6])
	}
	if s[6] != 0x03 {
		t.Errorf("flags = %#x, want 0x03", s[6])
	}
	if s[7] != byte(TokenSpecific) {
		t.Errorf("token type byte = %d", s[7])
	}
	for _, b := range s[28:] {
		if b != 0 {
			t.Errorf("reserved bytes must be zero: % x", s[28:])
			break
		}
	}
	if !(Config{}).Encode().IsZero() {
		t.Error("zero config should encode to zero slot")
	}
}

func TestDecode_Rejects(t *testing.T) {
	var s Slot
	s[7] = 9
	if _, err := Decode(s); err == nil {
		t.Error("expected error for unknown token type")
	}

	s = Slot{}
	s[6] = 0x80
	if _, err := Decode(s); err == nil {
		t.Error("expected error for unknown flag")
	}

	if _, err := SlotFromBytes(make([]byte, 31)); err == nil {
		t.Error("expected error for short slot")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		valid bool
	}{
		{"zero", Config{}, true},
		{"full scale", Config{Percentage: 10000}, true},
		{"over full scale", Config{Percentage: 10001}, false},
		{"below max", Config{Percentage: 500, MaxPercentage: 1000}, true},
		{"equal max", Config{Percentage: 1000, MaxPercentage: 1000}, true},
		{"above max", Config{Percentage: 1001, MaxPercentage: 1000}, false},
		{"max over full scale", Config{MaxPercentage: 10001}, false},
		{"auto increment over full scale", Config{AutoIncrement: 20000}, false},
		{"specific without asset", Config{Percentage: 100, SavingsTokenType: TokenSpecific}, false},
		{"specific with asset", Config{Percentage: 100, SavingsTokenType: TokenSpecific, SpecificSavingsAsset: asset(1)}, true},
		{"unknown token type", Config{SavingsTokenType: TokenType(5)}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, svcerrors.ErrInvalidConfiguration) {
					t.Errorf("error %v should be InvalidConfiguration", err)
				}
			}
		})
	}
}

func TestConfig_Incremented(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    uint16
		changed bool
	}{
		{"no increment", Config{Percentage: 100}, 100, false},
		{"uncapped", Config{Percentage: 100, AutoIncrement: 50}, 150, true},
		{"capped at max", Config{Percentage: 980, AutoIncrement: 50, MaxPercentage: 1000}, 1000, true},
		{"already at max", Config{Percentage: 1000, AutoIncrement: 50, MaxPercentage: 1000}, 1000, false},
		{"capped at full scale", Config{Percentage: 9990, AutoIncrement: 50}, 10000, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := tc.cfg.Incremented()
			if got.Percentage != tc.want || changed != tc.changed {
				t.Errorf("Incremented() = (%d, %v), want (%d, %v)", got.Percentage, changed, tc.want, tc.changed)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("incremented config invalid: %v", err)
			}
		})
	}
}

func TestTokenType_JSON(t *testing.T) {
	data, err := json.Marshal(TokenSpecific)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"specific"` {
		t.Errorf("Marshal = %s", data)
	}

	var tt TokenType
	if err := json.Unmarshal([]byte(`"OUTPUT"`), &tt); err != nil || tt != TokenOutput {
		t.Errorf("Unmarshal = %v, %v", tt, err)
	}
	if err := json.Unmarshal([]byte(`"sideways"`), &tt); err == nil {
		t.Error("expected error for unknown token type")
	}
}
