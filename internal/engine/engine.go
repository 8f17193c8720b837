// Package engine turns portfolio-relative trading intents into concrete
// broker orders: it resolves prices, sizes orders to the venue's 100-share
// lot, clamps to available cash or sellable volume, and submits with a
// bounded reconnect-and-retry loop.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/internal/notify"
	"github.com/quantbridge/quantbridge/internal/session"
	"github.com/quantbridge/quantbridge/internal/symbol"
	"github.com/quantbridge/quantbridge/pkg/errors"
	"github.com/quantbridge/quantbridge/pkg/retry"
)

const (
	lotSize = 100

	// 1-day reverse repo on the Shenzhen venue; trades in lots of 10 at a
	// 100-yuan face value.
	reverseRepoSymbol  = "131810.SZ"
	reverseRepoLotSize = 10

	submitAttempts = 3
	submitPause    = time.Second
)

// PriceType is the wire-level price selector accepted by the HTTP surface.
type PriceType int

const (
	// PriceTypeFix trades at the caller-supplied limit price.
	PriceTypeFix PriceType = 0
	// PriceTypeLatest trades at the latest price.
	PriceTypeLatest PriceType = 1
	// PriceTypeConvert5Cancel trades at best-5-levels immediate-or-cancel;
	// the venue variant is picked from the symbol.
	PriceTypeConvert5Cancel PriceType = 2
	// PriceTypeMineBest trades at own-side best.
	PriceTypeMineBest PriceType = 3
	// PriceTypePeerBest trades at counter-side best.
	PriceTypePeerBest PriceType = 5
)

// OrderResult is the uniform outcome of one trading intent. Business
// declines (insufficient funds, lot too small, not held) come back with
// Success=false, a decline Code and a Message rather than an error; errors
// are reserved for transport and validation failures.
type OrderResult struct {
	Success  bool             `json:"success"`
	Symbol   string           `json:"symbol"`
	Quantity int64            `json:"quantity"`
	Price    float64          `json:"price"`
	Value    float64          `json:"value"`
	OrderID  broker.OrderID   `json:"order_id,omitempty"`
	Code     errors.ErrorCode `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// OrderOption adjusts a single order before submission.
type OrderOption func(*broker.PlaceOrderRequest)

// WithStrategyName overrides the strategy tag attached to the order. The
// default tag is derived from the account's strategy code.
func WithStrategyName(name string) OrderOption {
	return func(req *broker.PlaceOrderRequest) {
		if name != "" {
			req.StrategyTag = name
		}
	}
}

// Engine executes trading intents against one broker session.
type Engine struct {
	session  *session.Session
	quotes   broker.QuoteClient
	notifier notify.Notifier
	log      *logger.Logger
}

// New wires an engine to a session.
func New(sess *session.Session, quotes broker.QuoteClient, notifier notify.Notifier, log *logger.Logger) *Engine {
	return &Engine{
		session:  sess,
		quotes:   quotes,
		notifier: notifier,
		log:      log,
	}
}

// Session exposes the underlying session for query routes.
func (e *Engine) Session() *session.Session { return e.session }

// orderSymbol validates the instrument code and venue-qualifies it for
// order submission.
func orderSymbol(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New(errors.ErrCodeInvalidSymbol, "empty instrument code")
	}

	return symbol.ForOrder(code), nil
}

// resolvePriceMode maps the wire-level price type onto the broker-native
// price mode, picking the venue variant of convert-5-cancel from the symbol.
func resolvePriceMode(orderSymbol string, pt PriceType) (broker.PriceMode, error) {
	switch pt {
	case PriceTypeFix:
		return broker.PriceModeFix, nil
	case PriceTypeLatest:
		return broker.PriceModeLatest, nil
	case PriceTypeConvert5Cancel:
		if symbol.Classify(orderSymbol) == symbol.VenueShanghai {
			return broker.PriceModeSHConvert5Cancel, nil
		}

		return broker.PriceModeSZConvert5Cancel, nil
	case PriceTypeMineBest:
		return broker.PriceModeMineBest, nil
	case PriceTypePeerBest:
		return broker.PriceModePeerBest, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidPriceType, "unsupported price type %d", pt)
	}
}

// resolvePrice returns the price used for sizing: the caller's limit price
// for fixed orders, the live quote for everything else.
func (e *Engine) resolvePrice(orderSymbol string, pt PriceType, limit float64) (float64, error) {
	if pt == PriceTypeFix {
		if limit <= 0 {
			return 0, errors.New(errors.ErrCodeInvalidParameter, "fixed price orders require a positive price")
		}

		return limit, nil
	}

	last, err := e.quotes.LastPrice(symbol.ForQuote(orderSymbol))
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeQuoteFailed, err, "quote lookup failed for %s", orderSymbol)
	}

	if last <= 0 {
		return 0, errors.Newf(errors.ErrCodeQuoteFailed, "quote for %s is not positive", orderSymbol)
	}

	return last, nil
}

// BuyTargetPercent buys the given fraction of the account's total asset,
// clamped to available cash and floored to whole lots.
func (e *Engine) BuyTargetPercent(ctx context.Context, code string, pct float64, pt PriceType, limit float64, opts ...OrderOption) (OrderResult, error) {
	if pct <= 0 || pct > 1 {
		return OrderResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "percent must be in (0, 1], got %v", pct)
	}

	sym, err := orderSymbol(code)
	if err != nil {
		return OrderResult{}, err
	}

	mode, err := resolvePriceMode(sym, pt)
	if err != nil {
		return OrderResult{}, err
	}

	price, err := e.resolvePrice(sym, pt, limit)
	if err != nil {
		return OrderResult{}, err
	}

	portfolio, err := e.session.Portfolio(ctx)
	if err != nil {
		return OrderResult{}, err
	}

	// target notional is a slice of total asset, never more than free cash
	target := decimal.NewFromFloat(portfolio.TotalAsset).Mul(decimal.NewFromFloat(pct))
	cash := decimal.NewFromFloat(portfolio.Cash)

	value := target
	if value.GreaterThan(cash) {
		value = cash
	}

	quantity := lotFloor(value.Div(decimal.NewFromFloat(price)), lotSize)
	if quantity < lotSize {
		return e.declined(ctx, sym, price, errors.ErrCodeInsufficientFunds,
			fmt.Sprintf("insufficient funds: need %s, available %.2f", target.StringFixed(2), portfolio.Cash)), nil
	}

	return e.submit(ctx, broker.PlaceOrderRequest{
		Symbol:    sym,
		Side:      broker.SideBuy,
		Quantity:  quantity,
		PriceMode: mode,
		Price:     limit,
	}, price, opts...)
}

// BuyShares buys an explicit share count, clamped to available cash and
// floored to whole lots.
func (e *Engine) BuyShares(ctx context.Context, code string, shares int64, pt PriceType, limit float64, opts ...OrderOption) (OrderResult, error) {
	if shares <= 0 {
		return OrderResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "share count must be positive, got %d", shares)
	}

	sym, err := orderSymbol(code)
	if err != nil {
		return OrderResult{}, err
	}

	mode, err := resolvePriceMode(sym, pt)
	if err != nil {
		return OrderResult{}, err
	}

	price, err := e.resolvePrice(sym, pt, limit)
	if err != nil {
		return OrderResult{}, err
	}

	portfolio, err := e.session.Portfolio(ctx)
	if err != nil {
		return OrderResult{}, err
	}

	required := decimal.NewFromInt(shares).Mul(decimal.NewFromFloat(price))
	cash := decimal.NewFromFloat(portfolio.Cash)

	if required.GreaterThan(cash) {
		// cut the request down to what free cash covers
		shares = lotFloor(cash.Div(decimal.NewFromFloat(price)), lotSize)
		if shares <= 0 {
			return e.declined(ctx, sym, price, errors.ErrCodeInsufficientFunds,
				fmt.Sprintf("insufficient funds: need %s, available %.2f", required.StringFixed(2), portfolio.Cash)), nil
		}
	}

	quantity := shares / lotSize * lotSize
	if quantity < lotSize {
		return e.declined(ctx, sym, price, errors.ErrCodeLotTooSmall,
			fmt.Sprintf("%d shares is less than one lot", shares)), nil
	}

	return e.submit(ctx, broker.PlaceOrderRequest{
		Symbol:    sym,
		Side:      broker.SideBuy,
		Quantity:  quantity,
		PriceMode: mode,
		Price:     limit,
	}, price, opts...)
}

// BuyAllIn buys with the account's entire free cash balance.
func (e *Engine) BuyAllIn(ctx context.Context, code string, pt PriceType, limit float64, opts ...OrderOption) (OrderResult, error) {
	sym, err := orderSymbol(code)
	if err != nil {
		return OrderResult{}, err
	}

	mode, err := resolvePriceMode(sym, pt)
	if err != nil {
		return OrderResult{}, err
	}

	price, err := e.resolvePrice(sym, pt, limit)
	if err != nil {
		return OrderResult{}, err
	}

	portfolio, err := e.session.Portfolio(ctx)
	if err != nil {
		return OrderResult{}, err
	}

	quantity := lotFloor(decimal.NewFromFloat(portfolio.Cash).Div(decimal.NewFromFloat(price)), lotSize)
	if quantity < lotSize {
		return e.declined(ctx, sym, price, errors.ErrCodeInsufficientFunds,
			fmt.Sprintf("insufficient funds: cash %.2f buys less than one lot at %.2f", portfolio.Cash, price)), nil
	}

	return e.submit(ctx, broker.PlaceOrderRequest{
		Symbol:    sym,
		Side:      broker.SideBuy,
		Quantity:  quantity,
		PriceMode: mode,
		Price:     limit,
	}, price, opts...)
}

// SellTargetPercent sells the given fraction of the sellable volume, floored
// to whole lots. An account that does not hold the instrument gets a decline,
// not an error: broadcast sells hit accounts that never bought.
func (e *Engine) SellTargetPercent(ctx context.Context, code string, pct float64, pt PriceType, limit float64, opts ...OrderOption) (OrderResult, error) {
	if pct <= 0 || pct > 1 {
		return OrderResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "percent must be in (0, 1], got %v", pct)
	}

	sym, err := orderSymbol(code)
	if err != nil {
		return OrderResult{}, err
	}

	mode, err := resolvePriceMode(sym, pt)
	if err != nil {
		return OrderResult{}, err
	}

	positions, err := e.session.Positions(ctx, session.FilterUsable)
	if err != nil {
		return OrderResult{}, err
	}

	pos, held := positions[sym]
	if !held || pos.UsableVolume <= 0 {
		return e.declined(ctx, sym, 0, errors.ErrCodeNotHeld, "no sellable volume"), nil
	}

	quantity := lotFloor(decimal.NewFromInt(pos.UsableVolume).Mul(decimal.NewFromFloat(pct)), lotSize)
	if quantity < lotSize {
		return e.declined(ctx, sym, 0, errors.ErrCodeLotTooSmall,
			fmt.Sprintf("%v of %d sellable shares is less than one lot", pct, pos.UsableVolume)), nil
	}

	price := limit
	if pt != PriceTypeFix {
		if last, qerr := e.quotes.LastPrice(symbol.ForQuote(sym)); qerr == nil {
			price = last
		}
	}

	return e.submit(ctx, broker.PlaceOrderRequest{
		Symbol:    sym,
		Side:      broker.SideSell,
		Quantity:  quantity,
		PriceMode: mode,
		Price:     limit,
	}, price, opts...)
}

// SellShares sells an explicit share count, clamped to sellable volume. Zero
// shares means the full sellable volume. The quantity is submitted as-is,
// odd lot included: that is how a whole position is closed out in one order.
// Anything below one lot is declined.
func (e *Engine) SellShares(ctx context.Context, code string, shares int64, pt PriceType, limit float64, opts ...OrderOption) (OrderResult, error) {
	if shares < 0 {
		return OrderResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "share count must not be negative, got %d", shares)
	}

	sym, err := orderSymbol(code)
	if err != nil {
		return OrderResult{}, err
	}

	mode, err := resolvePriceMode(sym, pt)
	if err != nil {
		return OrderResult{}, err
	}

	positions, err := e.session.Positions(ctx, session.FilterUsable)
	if err != nil {
		return OrderResult{}, err
	}

	pos, held := positions[sym]
	if !held || pos.UsableVolume <= 0 {
		return e.declined(ctx, sym, 0, errors.ErrCodeNotHeld, "no sellable volume"), nil
	}

	if shares == 0 || shares > pos.UsableVolume {
		shares = pos.UsableVolume
	}

	if shares < lotSize {
		return e.declined(ctx, sym, 0, errors.ErrCodeLotTooSmall,
			fmt.Sprintf("%d sellable shares is less than one lot", shares)), nil
	}

	price := limit
	if pt != PriceTypeFix {
		if last, qerr := e.quotes.LastPrice(symbol.ForQuote(sym)); qerr == nil {
			price = last
		}
	}

	return e.submit(ctx, broker.PlaceOrderRequest{
		Symbol:    sym,
		Side:      broker.SideSell,
		Quantity:  shares,
		PriceMode: mode,
		Price:     limit,
	}, price, opts...)
}

// ReverseRepo parks the account's idle cash in the 1-day Shenzhen reverse
// repo. Face value is 100 yuan and the minimum ticket is 10 lots, so the
// quantity is cash/100 floored to tens, bought at the latest rate.
func (e *Engine) ReverseRepo(ctx context.Context) (OrderResult, error) {
	portfolio, err := e.session.Portfolio(ctx)
	if err != nil {
		return OrderResult{}, err
	}

	quantity := lotFloor(decimal.NewFromFloat(portfolio.Cash).Div(decimal.NewFromInt(100)), reverseRepoLotSize)
	if quantity < reverseRepoLotSize {
		return e.declined(ctx, reverseRepoSymbol, 0, errors.ErrCodeInsufficientFunds,
			fmt.Sprintf("cash %.2f is below the minimum repo ticket", portfolio.Cash)), nil
	}

	return e.submit(ctx, broker.PlaceOrderRequest{
		Symbol:    reverseRepoSymbol,
		Side:      broker.SideBuy,
		Quantity:  quantity,
		PriceMode: broker.PriceModeLatest,
	}, 100)
}

// submit pushes one order through the session with bounded retries; a failed
// attempt forces a reconnect before the next when the failure is
// connection-class. Outcomes are logged and pushed to the notifier either way.
func (e *Engine) submit(ctx context.Context, req broker.PlaceOrderRequest, price float64, opts ...OrderOption) (OrderResult, error) {
	req.StrategyTag = e.session.StrategyTag()

	for _, opt := range opts {
		opt(&req)
	}

	var orderID broker.OrderID

	policy := retry.Policy{
		MaxAttempts: submitAttempts,
		Interval:    submitPause,
		BeforeRetry: func(attempt int, err error) {
			e.log.Warn("order submission failed",
				zap.String("account_id", e.session.AccountID()),
				zap.String("symbol", req.Symbol),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)

			if errors.IsConnection(err) {
				_ = e.session.Reconnect(ctx)
			}
		},
	}

	err := policy.Do(ctx, func() error {
		id, err := e.session.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}

		orderID = id

		return nil
	})
	if err != nil {
		msg := fmt.Sprintf("%s %s %d on account %s failed: %v",
			req.Side, req.Symbol, req.Quantity, e.session.AccountID(), err)
		e.notifier.Send(ctx, msg)

		return OrderResult{}, err
	}

	value := decimal.NewFromInt(req.Quantity).Mul(decimal.NewFromFloat(price)).InexactFloat64()

	e.log.Info("order submitted",
		zap.String("account_id", e.session.AccountID()),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side.String()),
		zap.Int64("quantity", req.Quantity),
		zap.Float64("price", price),
		zap.Int64("order_id", int64(orderID)),
	)
	e.notifier.Send(ctx, fmt.Sprintf("%s %s %d @ %.2f on account %s, order %d",
		req.Side, req.Symbol, req.Quantity, price, e.session.AccountID(), orderID))

	return OrderResult{
		Success:  true,
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
		Price:    price,
		Value:    value,
		OrderID:  orderID,
	}, nil
}

// declined records a business decline: no order was placed and no error is
// surfaced, so broadcast fan-out keeps going.
func (e *Engine) declined(ctx context.Context, orderSymbol string, price float64, code errors.ErrorCode, msg string) OrderResult {
	e.log.Info("order declined",
		zap.String("account_id", e.session.AccountID()),
		zap.String("symbol", orderSymbol),
		zap.String("reason", msg),
	)
	e.notifier.Send(ctx, fmt.Sprintf("skipped %s on account %s: %s", orderSymbol, e.session.AccountID(), msg))

	return OrderResult{
		Symbol:  orderSymbol,
		Price:   price,
		Code:    code,
		Message: msg,
	}
}

// lotFloor floors a fractional share count down to a whole number of lots.
func lotFloor(shares decimal.Decimal, lot int64) int64 {
	return shares.Div(decimal.NewFromInt(lot)).Floor().IntPart() * lot
}
