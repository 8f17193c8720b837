package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/symbol"
)

// PositionDetail is a position enriched with a live quote and running P&L,
// as served to API callers.
type PositionDetail struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Volume       int64   `json:"volume"`
	UsableVolume int64   `json:"can_use_volume"`
	FrozenVolume int64   `json:"frozen_volume"`
	AvgCost      float64 `json:"avg_price"`
	OpenPrice    float64 `json:"open_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	Profit       float64 `json:"profit"`
	ProfitRatio  float64 `json:"profit_ratio"`
}

// PositionDetails fetches positions matching the filter and enriches each
// with the instrument name, a live price and running P&L. Quote lookups
// degrade gracefully: a failed price lookup falls back to average cost, a
// failed name lookup falls back to the symbol.
func (s *Session) PositionDetails(ctx context.Context, filter PositionFilter) ([]PositionDetail, error) {
	positions, err := s.Positions(ctx, filter)
	if err != nil {
		return nil, err
	}

	details := make([]PositionDetail, 0, len(positions))

	for _, pos := range positions {
		details = append(details, s.enrich(pos))
	}

	return details, nil
}

func (s *Session) enrich(pos broker.Position) PositionDetail {
	quoteSymbol := symbol.ForQuote(pos.Symbol)

	price := pos.AvgCost

	if s.quotes != nil {
		if last, err := s.quotes.LastPrice(quoteSymbol); err == nil && last > 0 {
			price = last
		} else if err != nil {
			s.log.Warn("quote lookup failed, using average cost",
				zap.String("symbol", quoteSymbol),
				zap.Error(err),
			)
		}
	}

	name := pos.Symbol

	if s.quotes != nil {
		if n, err := s.quotes.InstrumentName(quoteSymbol); err == nil && n != "" {
			name = n
		}
	}

	// some terminal builds report market value as zero; reconstruct it
	marketValue := pos.MarketValue
	if marketValue == 0 && pos.Volume > 0 {
		marketValue = float64(pos.Volume) * pos.AvgCost
	}

	var profit, ratio float64

	if pos.AvgCost > 0 {
		profit = (price - pos.AvgCost) * float64(pos.Volume)
		ratio = (price - pos.AvgCost) / pos.AvgCost * 100
	}

	return PositionDetail{
		Symbol:       pos.Symbol,
		Name:         name,
		Volume:       pos.Volume,
		UsableVolume: pos.UsableVolume,
		FrozenVolume: pos.FrozenVolume,
		AvgCost:      pos.AvgCost,
		OpenPrice:    pos.OpenPrice,
		CurrentPrice: price,
		MarketValue:  marketValue,
		Profit:       profit,
		ProfitRatio:  ratio,
	}
}
