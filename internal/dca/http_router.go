package dca

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/httputil"
)

type swapRequest struct {
	ConversionID   string `json:"conversion_id"`
	User           string `json:"user"`
	FromAsset      string `json:"from_asset"`
	ToAsset        string `json:"to_asset"`
	Amount         string `json:"amount"`
	MaxSlippageBps uint16 `json:"max_slippage_bps"`
}

// HTTPRouter forwards conversions to a venue that accepts a JSON POST and
// answers with the received amount as a decimal string, either at
// "amount_out" or inside a "data" envelope.
type HTTPRouter struct {
	client *httputil.Client
	path   string
}

// NewHTTPRouter creates a router posting to path on client's upstream.
func NewHTTPRouter(client *httputil.Client, path string) *HTTPRouter {
	if path == "" {
		path = "/swap"
	}
	return &HTTPRouter{client: client, path: path}
}

// Convert implements Router.
func (r *HTTPRouter) Convert(ctx context.Context, req Request) (*uint256.Int, error) {
	body, err := r.client.Post(ctx, r.path, swapRequest{
		ConversionID:   req.ConversionID,
		User:           identity.String(req.User),
		FromAsset:      identity.Hex(req.FromAsset),
		ToAsset:        identity.Hex(req.ToAsset),
		Amount:         req.Amount.Dec(),
		MaxSlippageBps: req.MaxSlippageBps,
	})
	if err != nil {
		return nil, err
	}

	res := gjson.GetBytes(body, "amount_out")
	if !res.Exists() {
		res = gjson.GetBytes(body, "data.amount_out")
	}
	if !res.Exists() {
		return nil, fmt.Errorf("venue response has no amount_out")
	}
	out, err := uint256.FromDecimal(res.String())
	if err != nil {
		return nil, fmt.Errorf("venue amount_out %q: %w", res.String(), err)
	}
	return out, nil
}
