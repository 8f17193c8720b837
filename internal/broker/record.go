package broker

import (
	"github.com/quantbridge/quantbridge/pkg/errors"
)

// The broker link returns positions and assets in one of two shapes:
// attribute-bearing records or plain key-value maps. Both are folded into one
// canonical struct here, at the boundary; nothing downstream ever branches on
// shape again.

// PositionAttrs is the attribute-bearing position shape.
type PositionAttrs struct {
	StockCode       string
	Volume          int64
	CanUseVolume    int64
	FrozenVolume    int64
	OnRoadVolume    int64
	YesterdayVolume int64
	AvgPrice        float64
	OpenPrice       float64
	MarketValue     float64
}

// AssetAttrs is the attribute-bearing account-asset shape.
type AssetAttrs struct {
	TotalAsset  float64
	Cash        float64
	FrozenCash  float64
	MarketValue float64
	// Profit fields are absent on some terminal builds and default to zero.
	Profit      float64
	ProfitRatio float64
}

// RawPosition is a tagged union: exactly one of Attrs or KV is set.
type RawPosition struct {
	Attrs *PositionAttrs
	KV    map[string]any
}

// RawAsset is a tagged union: exactly one of Attrs or KV is set.
type RawAsset struct {
	Attrs *AssetAttrs
	KV    map[string]any
}

// Position is the canonical, shape-free position record used everywhere
// downstream of the broker boundary.
type Position struct {
	Symbol       string  `json:"symbol"`
	Volume       int64   `json:"volume"`
	UsableVolume int64   `json:"can_use_volume"`
	FrozenVolume int64   `json:"frozen_volume"`
	AvgCost      float64 `json:"avg_price"`
	OpenPrice    float64 `json:"open_price"`
	MarketValue  float64 `json:"market_value"`
}

// Portfolio is the canonical account-level asset snapshot.
type Portfolio struct {
	TotalAsset  float64 `json:"total_asset"`
	Cash        float64 `json:"cash"`
	FrozenCash  float64 `json:"frozen_cash"`
	MarketValue float64 `json:"market_value"`
	Profit      float64 `json:"profit"`
	ProfitRatio float64 `json:"profit_ratio"`
}

func kvInt(kv map[string]any, key string) int64 {
	switch v := kv[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func kvFloat(kv map[string]any, key string) float64 {
	switch v := kv[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func kvString(kv map[string]any, key string) string {
	if v, ok := kv[key].(string); ok {
		return v
	}

	return ""
}

// Fold resolves the tagged union into the canonical Position. Fields missing
// from a KV-shaped record default to zero. Exactly one variant must be set.
func (r RawPosition) Fold() (Position, error) {
	switch {
	case r.Attrs != nil && r.KV != nil:
		return Position{}, errors.New(errors.ErrCodeInvalidParameter, "position record carries both shapes")
	case r.Attrs != nil:
		return Position{
			Symbol:       r.Attrs.StockCode,
			Volume:       r.Attrs.Volume,
			UsableVolume: r.Attrs.CanUseVolume,
			FrozenVolume: r.Attrs.FrozenVolume,
			AvgCost:      r.Attrs.AvgPrice,
			OpenPrice:    r.Attrs.OpenPrice,
			MarketValue:  r.Attrs.MarketValue,
		}, nil
	case r.KV != nil:
		return Position{
			Symbol:       kvString(r.KV, "stock_code"),
			Volume:       kvInt(r.KV, "volume"),
			UsableVolume: kvInt(r.KV, "can_use_volume"),
			FrozenVolume: kvInt(r.KV, "frozen_volume"),
			AvgCost:      kvFloat(r.KV, "avg_price"),
			OpenPrice:    kvFloat(r.KV, "open_price"),
			MarketValue:  kvFloat(r.KV, "market_value"),
		}, nil
	default:
		return Position{}, errors.New(errors.ErrCodeInvalidParameter, "empty position record")
	}
}

// Fold resolves the tagged union into the canonical Portfolio.
func (r RawAsset) Fold() (Portfolio, error) {
	switch {
	case r.Attrs != nil && r.KV != nil:
		return Portfolio{}, errors.New(errors.ErrCodeInvalidParameter, "asset record carries both shapes")
	case r.Attrs != nil:
		return Portfolio{
			TotalAsset:  r.Attrs.TotalAsset,
			Cash:        r.Attrs.Cash,
			FrozenCash:  r.Attrs.FrozenCash,
			MarketValue: r.Attrs.MarketValue,
			Profit:      r.Attrs.Profit,
			ProfitRatio: r.Attrs.ProfitRatio,
		}, nil
	case r.KV != nil:
		return Portfolio{
			TotalAsset:  kvFloat(r.KV, "total_asset"),
			Cash:        kvFloat(r.KV, "cash"),
			FrozenCash:  kvFloat(r.KV, "frozen_cash"),
			MarketValue: kvFloat(r.KV, "market_value"),
			Profit:      kvFloat(r.KV, "profit"),
			ProfitRatio: kvFloat(r.KV, "profit_ratio"),
		}, nil
	default:
		return Portfolio{}, errors.New(errors.ErrCodeInvalidParameter, "empty asset record")
	}
}
