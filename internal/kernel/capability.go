package kernel

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Capability is a role a module can hold, keyed by keccak256 of its name.
type Capability [32]byte

var (
	capNamesMu sync.RWMutex
	capNames   = map[Capability]string{}
)

// NewCapability returns the capability key for name and remembers the name
// for logs and events.
func NewCapability(name string) Capability {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	var c Capability
	copy(c[:], h.Sum(nil))

	capNamesMu.Lock()
	capNames[c] = name
	capNamesMu.Unlock()
	return c
}

// String returns the human name when known, otherwise the hex key.
func (c Capability) String() string {
	capNamesMu.RLock()
	name, ok := capNames[c]
	capNamesMu.RUnlock()
	if ok {
		return name
	}
	return c.Hex()
}

// Hex returns the 0x-prefixed key.
func (c Capability) Hex() string {
	return "0x" + hex.EncodeToString(c[:])
}

// ParseCapability decodes a 0x-prefixed key or resolves a known name.
func ParseCapability(s string) (Capability, bool) {
	if len(s) == 66 && s[:2] == "0x" {
		var c Capability
		if _, err := hex.Decode(c[:], []byte(s[2:])); err == nil {
			return c, true
		}
	}
	capNamesMu.RLock()
	defer capNamesMu.RUnlock()
	for c, name := range capNames {
		if name == s {
			return c, true
		}
	}
	return Capability{}, false
}

// Well-known capabilities.
var (
	CapInterceptor = NewCapability("spendsave.interceptor")
	CapStrategy    = NewCapability("spendsave.strategy")
	CapSavings     = NewCapability("spendsave.savings")
	CapLedger      = NewCapability("spendsave.ledger")
	CapConversion  = NewCapability("spendsave.conversion")
	CapCoordinator = NewCapability("spendsave.coordinator")
)

// configWriters may call SetUserConfig. The interceptor persists
// auto-increment after each trade.
var configWriters = []Capability{CapStrategy, CapInterceptor}
