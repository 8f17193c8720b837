package session

import (
	"go.uber.org/zap"

	"github.com/quantbridge/quantbridge/internal/broker"
)

// sink receives async push callbacks from one transport handle. Callbacks
// arrive on the link's own thread and must not block, so the sink only logs
// and flips state; recovery happens lazily on the next operation. A stale
// sink (token != current) may still fire during a reconnect window, which is
// why the disconnect handler never touches the link itself.
type sink struct {
	session *Session
	token   int64
}

func (k *sink) OnDisconnected() {
	k.session.log.Warn("broker link dropped",
		zap.String("account_id", k.session.accountID),
		zap.Int64("session_token", k.token),
	)
	k.session.state.Store(int32(StateDisconnected))
}

func (k *sink) OnOrderUpdate(order broker.OrderRecord) {
	k.session.log.Info("order update",
		zap.String("account_id", k.session.accountID),
		zap.Int64("order_id", int64(order.OrderID)),
		zap.String("symbol", order.Symbol),
		zap.String("status", broker.OrderStatusLabel(order.Status)),
	)
}

func (k *sink) OnTradeUpdate(trade broker.TradeUpdate) {
	k.session.log.Info("trade filled",
		zap.String("account_id", trade.AccountID),
		zap.String("symbol", trade.Symbol),
		zap.Int64("order_id", int64(trade.OrderID)),
		zap.Int64("volume", trade.Volume),
		zap.Float64("price", trade.Price),
	)
}

func (k *sink) OnPositionUpdate(pos broker.RawPosition) {
	folded, err := pos.Fold()
	if err != nil {
		k.session.log.Warn("malformed position push", zap.Error(err))

		return
	}

	k.session.log.Info("position update",
		zap.String("account_id", k.session.accountID),
		zap.String("symbol", folded.Symbol),
		zap.Int64("volume", folded.Volume),
	)
}

func (k *sink) OnAssetUpdate(asset broker.RawAsset) {
	folded, err := asset.Fold()
	if err != nil {
		k.session.log.Warn("malformed asset push", zap.Error(err))

		return
	}

	k.session.log.Info("asset update",
		zap.String("account_id", k.session.accountID),
		zap.Float64("total_asset", folded.TotalAsset),
		zap.Float64("cash", folded.Cash),
	)
}

func (k *sink) OnOrderError(e broker.OrderError) {
	k.session.log.Error("order rejected",
		zap.String("account_id", e.AccountID),
		zap.String("strategy", e.StrategyTag),
		zap.Int("code", e.Code),
		zap.String("message", e.Message),
	)
}

func (k *sink) OnCancelError(e broker.CancelError) {
	k.session.log.Error("cancel rejected",
		zap.Int64("order_id", int64(e.OrderID)),
		zap.Int("code", e.Code),
		zap.String("message", e.Message),
	)
}

func (k *sink) OnAccountStatus(s broker.AccountStatus) {
	k.session.log.Info("account status",
		zap.String("account_id", s.AccountID),
		zap.String("status", broker.AccountStatusLabel(s.Code)),
	)
}
