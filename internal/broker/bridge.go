package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quantbridge/quantbridge/pkg/errors"
)

// BridgeLink talks to the trading terminal through its local JSON bridge.
// The bridge owns the terminal process; this link is one session against it,
// identified by the session token. Push callbacks arrive over a long-poll
// loop that Start launches and Close tears down.
type BridgeLink struct {
	http  *resty.Client
	token int64
	sink  CallbackSink

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridgeLink creates a link against the bridge at baseURL. The link holds
// no terminal state until Connect.
func NewBridgeLink(baseURL string, sessionToken int64) *BridgeLink {
	return &BridgeLink{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
		token: sessionToken,
	}
}

// RegisterCallback implements Link.
func (l *BridgeLink) RegisterCallback(sink CallbackSink) {
	l.sink = sink
}

// Start implements Link: it verifies the bridge is reachable and launches
// the event loop.
func (l *BridgeLink) Start() error {
	resp, err := l.http.R().Get("/health")
	if err != nil {
		return errors.Wrap(errors.ErrCodeConnectFailed, "bridge unreachable", err)
	}

	if resp.IsError() {
		return errors.Newf(errors.ErrCodeConnectFailed, "bridge health returned %d", resp.StatusCode())
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.eventLoop(ctx)

	return nil
}

// Connect implements Link: it opens a terminal session under this token.
func (l *BridgeLink) Connect() error {
	return l.post("/session", map[string]any{"session_token": l.token}, nil,
		errors.ErrCodeConnectFailed, "connect handshake failed")
}

// Subscribe implements Link.
func (l *BridgeLink) Subscribe(accountID string) error {
	return l.post("/subscribe", map[string]any{
		"session_token": l.token,
		"account_id":    accountID,
	}, nil, errors.ErrCodeSubscribeFailed, "account subscription failed")
}

// PlaceOrder implements Link.
func (l *BridgeLink) PlaceOrder(req PlaceOrderRequest) (OrderID, error) {
	var out struct {
		OrderID OrderID `json:"order_id"`
	}

	err := l.post("/order", map[string]any{
		"session_token": l.token,
		"account_id":    req.AccountID,
		"symbol":        req.Symbol,
		"side":          req.Side.String(),
		"quantity":      req.Quantity,
		"price_mode":    int(req.PriceMode),
		"price":         req.Price,
		"strategy_name": req.StrategyTag,
	}, &out, errors.ErrCodeLinkDown, "order submission failed")
	if err != nil {
		return 0, err
	}

	return out.OrderID, nil
}

// CancelOrder implements Link.
func (l *BridgeLink) CancelOrder(accountID string, id OrderID) error {
	return l.post("/cancel", map[string]any{
		"session_token": l.token,
		"account_id":    accountID,
		"order_id":      id,
	}, nil, errors.ErrCodeCancelFailed, "cancel failed")
}

// QueryPositions implements Link. The bridge reports rows as key-value maps;
// they come back as KV-shaped raw records and are folded upstream.
func (l *BridgeLink) QueryPositions(accountID string) ([]RawPosition, error) {
	var out struct {
		Positions []map[string]any `json:"positions"`
	}

	err := l.get(fmt.Sprintf("/positions?session_token=%d&account_id=%s", l.token, accountID), &out)
	if err != nil {
		return nil, err
	}

	raws := make([]RawPosition, 0, len(out.Positions))
	for _, kv := range out.Positions {
		raws = append(raws, RawPosition{KV: kv})
	}

	return raws, nil
}

// QueryAsset implements Link.
func (l *BridgeLink) QueryAsset(accountID string) (RawAsset, error) {
	var out struct {
		Asset map[string]any `json:"asset"`
	}

	err := l.get(fmt.Sprintf("/asset?session_token=%d&account_id=%s", l.token, accountID), &out)
	if err != nil {
		return RawAsset{}, err
	}

	if out.Asset == nil {
		return RawAsset{}, errors.New(errors.ErrCodeQueryFailed, "bridge returned no asset row")
	}

	return RawAsset{KV: out.Asset}, nil
}

// QueryOrders implements Link.
func (l *BridgeLink) QueryOrders(accountID string, cancelableOnly bool) ([]OrderRecord, error) {
	var out struct {
		Orders []bridgeOrder `json:"orders"`
	}

	err := l.get(fmt.Sprintf("/orders?session_token=%d&account_id=%s&cancelable_only=%t",
		l.token, accountID, cancelableOnly), &out)
	if err != nil {
		return nil, err
	}

	orders := make([]OrderRecord, 0, len(out.Orders))
	for _, o := range out.Orders {
		orders = append(orders, o.record())
	}

	return orders, nil
}

// QueryOrder implements Link.
func (l *BridgeLink) QueryOrder(accountID string, id OrderID) (OrderRecord, error) {
	var out struct {
		Order *bridgeOrder `json:"order"`
	}

	err := l.get(fmt.Sprintf("/order?session_token=%d&account_id=%s&order_id=%d",
		l.token, accountID, id), &out)
	if err != nil {
		return OrderRecord{}, err
	}

	if out.Order == nil {
		return OrderRecord{}, errors.Newf(errors.ErrCodeOrderNotFound, "no such order %d", id)
	}

	return out.Order.record(), nil
}

// Close implements Link.
func (l *BridgeLink) Close() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
		l.cancel = nil
	}
}

// bridgeOrder is the bridge's order row shape.
type bridgeOrder struct {
	OrderID      OrderID `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Status       int     `json:"status"`
	Volume       int64   `json:"volume"`
	Price        float64 `json:"price"`
	PriceMode    int     `json:"price_mode"`
	TradedVolume int64   `json:"traded_volume"`
	TradedPrice  float64 `json:"traded_price"`
	SubmittedAt  int64   `json:"time"`
	StrategyTag  string  `json:"strategy_name"`
}

func (o bridgeOrder) record() OrderRecord {
	side := SideBuy
	if o.Side == "sell" {
		side = SideSell
	}

	return OrderRecord{
		OrderID:      o.OrderID,
		Symbol:       o.Symbol,
		Side:         side,
		Status:       o.Status,
		Volume:       o.Volume,
		Price:        o.Price,
		PriceMode:    PriceMode(o.PriceMode),
		TradedVolume: o.TradedVolume,
		TradedPrice:  o.TradedPrice,
		SubmittedAt:  o.SubmittedAt,
		StrategyTag:  o.StrategyTag,
	}
}

// bridgeEvent is one push callback row from the long-poll endpoint.
type bridgeEvent struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// eventLoop long-polls the bridge for push callbacks and dispatches them to
// the sink. A poll failure is treated as a dropped link.
func (l *BridgeLink) eventLoop(ctx context.Context) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			return
		}

		var out struct {
			Events []bridgeEvent `json:"events"`
		}

		resp, err := l.http.R().
			SetContext(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/events?session_token=%d&wait=30", l.token))
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			if l.sink != nil {
				l.sink.OnDisconnected()
			}

			return
		}

		if resp.IsError() {
			if l.sink != nil {
				l.sink.OnDisconnected()
			}

			return
		}

		for _, event := range out.Events {
			l.dispatch(event)
		}
	}
}

func (l *BridgeLink) dispatch(event bridgeEvent) {
	if l.sink == nil {
		return
	}

	switch event.Type {
	case "disconnected":
		l.sink.OnDisconnected()
	case "order":
		var o bridgeOrder
		if json.Unmarshal(event.Data, &o) == nil {
			l.sink.OnOrderUpdate(o.record())
		}
	case "trade":
		var t TradeUpdate
		if json.Unmarshal(event.Data, &t) == nil {
			l.sink.OnTradeUpdate(t)
		}
	case "position":
		var kv map[string]any
		if json.Unmarshal(event.Data, &kv) == nil {
			l.sink.OnPositionUpdate(RawPosition{KV: kv})
		}
	case "asset":
		var kv map[string]any
		if json.Unmarshal(event.Data, &kv) == nil {
			l.sink.OnAssetUpdate(RawAsset{KV: kv})
		}
	case "order_error":
		var e OrderError
		if json.Unmarshal(event.Data, &e) == nil {
			l.sink.OnOrderError(e)
		}
	case "cancel_error":
		var e CancelError
		if json.Unmarshal(event.Data, &e) == nil {
			l.sink.OnCancelError(e)
		}
	case "account_status":
		var st AccountStatus
		if json.Unmarshal(event.Data, &st) == nil {
			l.sink.OnAccountStatus(st)
		}
	}
}

// post sends a JSON body and decodes the response, mapping failures onto the
// given error code.
func (l *BridgeLink) post(path string, body, out any, code errors.ErrorCode, msg string) error {
	req := l.http.R().SetBody(body)
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Post(path)
	if err != nil {
		return errors.Wrap(code, msg, err)
	}

	if resp.IsError() {
		return errors.Newf(code, "%s: bridge returned %d: %s", msg, resp.StatusCode(), resp.String())
	}

	return nil
}

func (l *BridgeLink) get(path string, out any) error {
	resp, err := l.http.R().SetResult(out).Get(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "bridge query failed", err)
	}

	if resp.IsError() {
		return errors.Newf(errors.ErrCodeQueryFailed, "bridge returned %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}

// BridgeQuotes serves quote lookups from the terminal bridge.
type BridgeQuotes struct {
	http *resty.Client
}

// NewBridgeQuotes creates a quote client against the bridge at baseURL.
func NewBridgeQuotes(baseURL string) *BridgeQuotes {
	return &BridgeQuotes{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(5 * time.Second),
	}
}

type bridgeQuote struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	LastPrice float64 `json:"last_price"`
}

func (q *BridgeQuotes) fetch(symbol string) (bridgeQuote, error) {
	var out bridgeQuote

	resp, err := q.http.R().SetResult(&out).Get("/quote/" + symbol)
	if err != nil {
		return bridgeQuote{}, errors.Wrapf(errors.ErrCodeQuoteFailed, err, "quote fetch failed for %s", symbol)
	}

	if resp.IsError() {
		return bridgeQuote{}, errors.Newf(errors.ErrCodeQuoteFailed, "quote for %s returned %d", symbol, resp.StatusCode())
	}

	return out, nil
}

// LastPrice implements QuoteClient.
func (q *BridgeQuotes) LastPrice(symbol string) (float64, error) {
	quote, err := q.fetch(symbol)
	if err != nil {
		return 0, err
	}

	if quote.LastPrice <= 0 {
		return 0, errors.Newf(errors.ErrCodeQuoteFailed, "no trade price for %s", symbol)
	}

	return quote.LastPrice, nil
}

// InstrumentName implements QuoteClient.
func (q *BridgeQuotes) InstrumentName(symbol string) (string, error) {
	quote, err := q.fetch(symbol)
	if err != nil {
		return "", err
	}

	return quote.Name, nil
}
