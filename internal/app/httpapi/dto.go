package httpapi

import (
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/internal/strategy"
)

// Amounts are rendered as decimal strings; they do not fit a JSON number.

type statusDTO struct {
	Owner          string `json:"owner"`
	Treasury       string `json:"treasury"`
	TreasuryFeeBps uint16 `json:"treasury_fee_bps"`
	Assets         int    `json:"assets"`
	QueueDepth     int    `json:"queue_depth"`
}

type moduleDTO struct {
	Capability string `json:"capability"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	Address    string `json:"address"`
}

type assetDTO struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
	Hash    string `json:"hash"`
}

func newAssetDTO(id uint64, asset util.Uint160) assetDTO {
	return assetDTO{ID: id, Address: identity.String(asset), Hash: identity.Hex(asset)}
}

type balanceDTO struct {
	Owner   string `json:"owner"`
	AssetID uint64 `json:"asset_id"`
	Balance string `json:"balance"`
}

type supplyDTO struct {
	AssetID uint64 `json:"asset_id"`
	Total   string `json:"total"`
}

type conversionParamsDTO struct {
	TargetAsset    string `json:"target_asset"`
	MinAmount      string `json:"min_amount"`
	MaxSlippageBps uint16 `json:"max_slippage_bps"`
}

type strategyDTO struct {
	User                     string               `json:"user"`
	Percentage               uint16               `json:"percentage"`
	AutoIncrement            uint16               `json:"auto_increment"`
	MaxPercentage            uint16               `json:"max_percentage"`
	RoundUpSavings           bool                 `json:"round_up_savings"`
	SavingsTokenType         string               `json:"savings_token_type"`
	SpecificSavingsAsset     string               `json:"specific_savings_asset,omitempty"`
	EnableDeferredConversion bool                 `json:"enable_deferred_conversion"`
	Conversion               *conversionParamsDTO `json:"conversion,omitempty"`
}

func newStrategyDTO(user util.Uint160, v strategy.View) strategyDTO {
	c := v.Config
	out := strategyDTO{
		User:                     identity.String(user),
		Percentage:               c.Percentage,
		AutoIncrement:            c.AutoIncrement,
		MaxPercentage:            c.MaxPercentage,
		RoundUpSavings:           c.RoundUpSavings,
		SavingsTokenType:         c.SavingsTokenType.String(),
		EnableDeferredConversion: c.EnableDeferredConversion,
	}
	if !c.SpecificSavingsAsset.Equals(util.Uint160{}) {
		out.SpecificSavingsAsset = identity.String(c.SpecificSavingsAsset)
	}
	if p := v.Conversion; p != nil {
		out.Conversion = &conversionParamsDTO{
			TargetAsset:    identity.String(p.TargetAsset),
			MinAmount:      p.MinAmount.Dec(),
			MaxSlippageBps: p.MaxSlippageBps,
		}
	}
	return out
}

type conversionDTO struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	FromAsset string    `json:"from_asset"`
	ToAsset   string    `json:"to_asset"`
	Amount    string    `json:"amount"`
	QueuedAt  time.Time `json:"queued_at"`
}

func newConversionDTO(c kernel.Conversion) conversionDTO {
	return conversionDTO{
		ID:        c.ID,
		User:      identity.String(c.User),
		FromAsset: identity.String(c.FromAsset),
		ToAsset:   identity.String(c.ToAsset),
		Amount:    c.Amount.Dec(),
		QueuedAt:  c.QueuedAt,
	}
}
