package kernel

import (
	"context"
	"encoding/hex"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/engine/events"
)

// SetUserConfig validates cfg and stores it as user's configuration slot.
// Only the strategy and interceptor modules may call.
func (k *Kernel) SetUserConfig(ctx context.Context, caller, user util.Uint160, cfg strategy.Config) error {
	const op = "kernel.SetUserConfig"
	if err := cfg.Validate(); err != nil {
		return err
	}
	return k.mutate(ctx, op, func(f *frame) error {
		if err := k.requireCapability(op, caller, configWriters...); err != nil {
			return err
		}
		prev, had := k.configs[user]
		next := cfg.Encode()
		if next.IsZero() {
			delete(k.configs, user)
		} else {
			k.configs[user] = next
		}
		f.record(func() {
			if had {
				k.configs[user] = prev
			} else {
				delete(k.configs, user)
			}
		})
		f.emit(f.event(events.EventConfigUpdated).
			Subject(identity.String(user)).
			Change(hex.EncodeToString(prev[:]), hex.EncodeToString(next[:])).
			Build())
		return nil
	})
}

// GetUserConfig returns user's configuration. Users without one get the
// zero Config, which has no active strategy.
func (k *Kernel) GetUserConfig(ctx context.Context, user util.Uint160) (strategy.Config, error) {
	slot := k.ConfigSlot(ctx, user)
	return strategy.Decode(slot)
}

// ConfigSlot returns user's raw configuration slot.
func (k *Kernel) ConfigSlot(ctx context.Context, user util.Uint160) strategy.Slot {
	var slot strategy.Slot
	k.read(ctx, func() { slot = k.configs[user] })
	return slot
}
