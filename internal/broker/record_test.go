package broker

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/quantbridge/quantbridge/pkg/errors"
)

type RecordTestSuite struct {
	suite.Suite
}

func TestRecordSuite(t *testing.T) {
	suite.Run(t, new(RecordTestSuite))
}

func (suite *RecordTestSuite) TestFoldPositionShapes() {
	attrs := RawPosition{Attrs: &PositionAttrs{
		StockCode:    "600136.SH",
		Volume:       1000,
		CanUseVolume: 700,
		FrozenVolume: 0,
		AvgPrice:     9.87,
		OpenPrice:    9.50,
		MarketValue:  10200,
	}}
	kv := RawPosition{KV: map[string]any{
		"stock_code":     "600136.SH",
		"volume":         1000,
		"can_use_volume": int64(700),
		"avg_price":      9.87,
		"open_price":     9.50,
		"market_value":   float64(10200),
	}}

	fromAttrs, err := attrs.Fold()
	suite.Require().NoError(err)
	fromKV, err := kv.Fold()
	suite.Require().NoError(err)

	// both shapes fold to the identical canonical record
	suite.Equal(fromAttrs, fromKV)
	suite.Equal(int64(700), fromAttrs.UsableVolume)
}

func (suite *RecordTestSuite) TestFoldPositionMissingKeysDefaultZero() {
	kv := RawPosition{KV: map[string]any{"stock_code": "000001.SZ", "volume": 100}}

	pos, err := kv.Fold()
	suite.Require().NoError(err)
	suite.Equal(int64(100), pos.Volume)
	suite.Zero(pos.UsableVolume)
	suite.Zero(pos.AvgCost)
	suite.Zero(pos.MarketValue)
}

func (suite *RecordTestSuite) TestFoldPositionInvalidShapes() {
	_, err := RawPosition{}.Fold()
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	both := RawPosition{Attrs: &PositionAttrs{}, KV: map[string]any{}}
	_, err = both.Fold()
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *RecordTestSuite) TestFoldAssetShapes() {
	attrs := RawAsset{Attrs: &AssetAttrs{TotalAsset: 100000, Cash: 50000, FrozenCash: 1000, MarketValue: 49000}}
	kv := RawAsset{KV: map[string]any{
		"total_asset":  100000.0,
		"cash":         50000.0,
		"frozen_cash":  1000,
		"market_value": 49000.0,
	}}

	fromAttrs, err := attrs.Fold()
	suite.Require().NoError(err)
	fromKV, err := kv.Fold()
	suite.Require().NoError(err)
	suite.Equal(fromAttrs, fromKV)
}

func (suite *RecordTestSuite) TestOrderStatusLabels() {
	suite.Equal("filled", OrderStatusLabel(StatusFilled))
	suite.Equal("rejected", OrderStatusLabel(StatusRejected))
	suite.Equal("unknown", OrderStatusLabel(12345))
}

func (suite *RecordTestSuite) TestCancelable() {
	suite.True(Cancelable(StatusSubmitted))
	suite.True(Cancelable(StatusPartFilled))
	suite.False(Cancelable(StatusFilled))
	suite.False(Cancelable(StatusCanceled))
}
