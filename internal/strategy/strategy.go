// Package strategy is the user-facing configuration API. It validates savings
// policies and deferred conversion settings and writes them through the
// kernel under the strategy capability.
package strategy

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	policy "github.com/R3E-Network/spendsave/internal/domain/strategy"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Name is the module name used in logs and events.
const Name = "strategy"

// Params is a policy as submitted by a user.
type Params struct {
	Percentage           uint16           `json:"percentage" validate:"lte=10000"`
	AutoIncrement        uint16           `json:"auto_increment" validate:"lte=10000"`
	MaxPercentage        uint16           `json:"max_percentage" validate:"lte=10000"`
	RoundUpSavings       bool             `json:"round_up_savings"`
	SavingsTokenType     policy.TokenType `json:"savings_token_type" validate:"lte=2"`
	SpecificSavingsAsset util.Uint160     `json:"specific_savings_asset"`
}

// DeferredConversion are the settings for queued conversions.
type DeferredConversion struct {
	TargetAsset    util.Uint160 `json:"target_asset"`
	MinAmount      *uint256.Int `json:"min_amount"`
	MaxSlippageBps uint16       `json:"max_slippage_bps" validate:"lte=10000"`
}

// View is a user's full configuration.
type View struct {
	Config     policy.Config            `json:"config"`
	Conversion *kernel.ConversionParams `json:"conversion,omitempty"`
}

var validate = validator.New()

// Module implements the configuration API.
type Module struct {
	k    *kernel.Kernel
	addr util.Uint160
	log  *logger.Logger
}

// New creates the configuration module acting as addr.
func New(k *kernel.Kernel, addr util.Uint160, log *logger.Logger) *Module {
	if log == nil {
		log = logger.NewDefault(Name)
	}
	return &Module{k: k, addr: addr, log: log}
}

func (m *Module) Name() string          { return Name }
func (m *Module) Address() util.Uint160 { return m.addr }

// Validate checks field bounds and the cross-field rules.
func (p Params) Validate() error {
	const op = "strategy.Params"
	if err := validate.Struct(p); err != nil {
		return svcerrors.New(svcerrors.ErrInvalidConfiguration, op, err.Error())
	}
	if p.MaxPercentage > 0 && p.Percentage > p.MaxPercentage {
		return svcerrors.Newf(svcerrors.ErrInvalidConfiguration, op, "percentage %d exceeds max %d", p.Percentage, p.MaxPercentage)
	}
	if p.SavingsTokenType == policy.TokenSpecific && p.SpecificSavingsAsset.Equals(util.Uint160{}) {
		return svcerrors.InvalidConfiguration(op, "specific token type requires an asset")
	}
	return nil
}

// SetStrategy replaces user's policy. The caller must be user or an approved
// delegate. The deferred conversion flag is kept as it was.
func (m *Module) SetStrategy(ctx context.Context, caller, user util.Uint160, p Params) error {
	const op = "strategy.SetStrategy"
	if err := p.Validate(); err != nil {
		return err
	}
	err := m.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := m.k.RequireSelfOrDelegate(ctx, op, user, caller); err != nil {
			return err
		}
		current, err := m.k.GetUserConfig(ctx, user)
		if err != nil {
			return err
		}
		cfg := policy.Config{
			Percentage:               p.Percentage,
			AutoIncrement:            p.AutoIncrement,
			MaxPercentage:            p.MaxPercentage,
			RoundUpSavings:           p.RoundUpSavings,
			SavingsTokenType:         p.SavingsTokenType,
			SpecificSavingsAsset:     p.SpecificSavingsAsset,
			EnableDeferredConversion: current.EnableDeferredConversion,
		}
		if cfg.SavingsTokenType != policy.TokenSpecific {
			cfg.SpecificSavingsAsset = util.Uint160{}
		}
		return m.k.SetUserConfig(ctx, m.addr, user, cfg)
	})
	if err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"user":       identity.String(user),
		"percentage": p.Percentage,
		"token_type": p.SavingsTokenType.String(),
	}).Info("strategy updated")
	return nil
}

// ClearStrategy removes user's policy and deferred conversion settings.
func (m *Module) ClearStrategy(ctx context.Context, caller, user util.Uint160) error {
	const op = "strategy.ClearStrategy"
	return m.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := m.k.RequireSelfOrDelegate(ctx, op, user, caller); err != nil {
			return err
		}
		if err := m.k.SetConversionParams(ctx, m.addr, user, nil); err != nil {
			return err
		}
		return m.k.SetUserConfig(ctx, m.addr, user, policy.Config{})
	})
}

// EnableDeferredConversion turns on queued conversion of user's savings into
// d.TargetAsset.
func (m *Module) EnableDeferredConversion(ctx context.Context, caller, user util.Uint160, d DeferredConversion) error {
	const op = "strategy.EnableDeferredConversion"
	if err := validate.Struct(d); err != nil {
		return svcerrors.New(svcerrors.ErrInvalidConfiguration, op, err.Error())
	}
	if d.TargetAsset.Equals(util.Uint160{}) {
		return svcerrors.InvalidConfiguration(op, "zero target asset")
	}
	params := &kernel.ConversionParams{TargetAsset: d.TargetAsset, MaxSlippageBps: d.MaxSlippageBps}
	if d.MinAmount != nil {
		params.MinAmount.Set(d.MinAmount)
	}

	err := m.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := m.k.RequireSelfOrDelegate(ctx, op, user, caller); err != nil {
			return err
		}
		if err := m.k.SetConversionParams(ctx, m.addr, user, params); err != nil {
			return err
		}
		return m.setDeferredFlag(ctx, user, true)
	})
	if err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"user":   identity.String(user),
		"target": identity.String(d.TargetAsset),
	}).Info("deferred conversion enabled")
	return nil
}

// DisableDeferredConversion turns queued conversion off. Items already queued
// stay queued.
func (m *Module) DisableDeferredConversion(ctx context.Context, caller, user util.Uint160) error {
	const op = "strategy.DisableDeferredConversion"
	return m.k.Execute(ctx, op, func(ctx context.Context) error {
		if err := m.k.RequireSelfOrDelegate(ctx, op, user, caller); err != nil {
			return err
		}
		if err := m.k.SetConversionParams(ctx, m.addr, user, nil); err != nil {
			return err
		}
		return m.setDeferredFlag(ctx, user, false)
	})
}

func (m *Module) setDeferredFlag(ctx context.Context, user util.Uint160, on bool) error {
	cfg, err := m.k.GetUserConfig(ctx, user)
	if err != nil {
		return err
	}
	if cfg.EnableDeferredConversion == on {
		return nil
	}
	cfg.EnableDeferredConversion = on
	return m.k.SetUserConfig(ctx, m.addr, user, cfg)
}

// Strategy returns user's current configuration.
func (m *Module) Strategy(ctx context.Context, user util.Uint160) (View, error) {
	cfg, err := m.k.GetUserConfig(ctx, user)
	if err != nil {
		return View{}, fmt.Errorf("load strategy: %w", err)
	}
	v := View{Config: cfg}
	if params, ok := m.k.ConversionParamsOf(ctx, user); ok {
		v.Conversion = &params
	}
	return v, nil
}
