// Package identity parses and formats the 160-bit script hashes used for
// users, modules, assets and the treasury.
package identity

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Parse accepts a Neo address or a 0x-prefixed little-endian hex script hash.
func Parse(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return util.Uint160{}, fmt.Errorf("empty address")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		u, err := util.Uint160DecodeStringLE(s[2:])
		if err != nil {
			return util.Uint160{}, fmt.Errorf("invalid script hash %q: %w", s, err)
		}
		return u, nil
	}
	u, err := address.StringToUint160(s)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return u, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) util.Uint160 {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String formats u as a Neo address.
func String(u util.Uint160) string {
	return address.Uint160ToString(u)
}

// Hex formats u as 0x-prefixed little-endian hex.
func Hex(u util.Uint160) string {
	return "0x" + u.StringLE()
}

// FromByte returns a script hash whose last big-endian byte is b. Handy for
// fixtures.
func FromByte(b byte) util.Uint160 {
	var raw [util.Uint160Size]byte
	raw[util.Uint160Size-1] = b
	u, _ := util.Uint160DecodeBytesBE(raw[:])
	return u
}
