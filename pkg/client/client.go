// Package client is a Go caller for the gateway's signed machine API. It
// signs every request the way the gateway verifies them, so strategy
// processes can place orders without reimplementing the scheme.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quantbridge/quantbridge/internal/auth"
	"github.com/quantbridge/quantbridge/pkg/errors"
)

// TradeRequest is one trading intent. Omit TraderIndex to broadcast across
// every configured account.
type TradeRequest struct {
	TraderIndex  *int    `json:"trader_index,omitempty"`
	Symbol       string  `json:"symbol"`
	TradePrice   float64 `json:"trade_price,omitempty"`
	PositionPct  float64 `json:"position_pct,omitempty"`
	Shares       int64   `json:"shares,omitempty"`
	PriceType    *int    `json:"price_type,omitempty"`
	StrategyName string  `json:"strategy_name,omitempty"`
}

// OrderResult mirrors the gateway's per-order outcome.
type OrderResult struct {
	Success  bool    `json:"success"`
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
	OrderID  int64   `json:"order_id,omitempty"`
	Code     int     `json:"code,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Outcome is one account's result of a broadcast.
type Outcome struct {
	TraderIndex int         `json:"trader_index"`
	AccountID   string      `json:"account_id"`
	Status      string      `json:"status"`
	Result      OrderResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Account is one configured trading account.
type Account struct {
	Index     int    `json:"index"`
	AccountID string `json:"account_id"`
	NickName  string `json:"nick_name"`
}

// Portfolio is the account asset snapshot.
type Portfolio struct {
	TotalAsset  float64 `json:"total_asset"`
	Cash        float64 `json:"cash"`
	FrozenCash  float64 `json:"frozen_cash"`
	MarketValue float64 `json:"market_value"`
	Profit      float64 `json:"profit"`
	ProfitRatio float64 `json:"profit_ratio"`
}

// Position is one enriched position row.
type Position struct {
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

// Client is a signed caller of the gateway API.
type Client struct {
	http     *resty.Client
	basePath string
	clientID string
	secret   string
	now      func() time.Time
}

// New builds a client for the gateway at baseURL (scheme and host, no path)
// using the given signing credentials.
func New(baseURL, clientID, secret string) *Client {
	return &Client{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		basePath: "/qmt/trade/api",
		clientID: clientID,
		secret:   secret,
		now:      time.Now,
	}
}

// call signs and sends one request, decoding the JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var raw []byte

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidParameter, "request encoding failed", err)
		}

		raw = encoded
	}

	fullPath := c.basePath + path

	ts := c.now().Unix()

	sig, err := auth.Sign(auth.SigningInput{
		Method:    method,
		Path:      fullPath,
		RawQuery:  "",
		Body:      raw,
		Timestamp: ts,
		ClientID:  c.clientID,
	}, c.secret)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(auth.HeaderClientID, c.clientID).
		SetHeader(auth.HeaderTimestamp, strconv.FormatInt(ts, 10)).
		SetHeader(auth.HeaderSignature, sig)

	if raw != nil {
		req.SetBody(raw)
	}

	resp, err := req.Execute(method, fullPath)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "gateway unreachable", err)
	}

	if resp.IsError() {
		var e struct {
			Error string `json:"error"`
		}

		_ = json.Unmarshal(resp.Body(), &e)
		if e.Error == "" {
			e.Error = resp.Status()
		}

		return errors.Newf(errors.ErrCodeQueryFailed, "gateway returned %d: %s", resp.StatusCode(), e.Error)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "response decoding failed", err)
		}
	}

	return nil
}

// tradeResponse covers both single-account and broadcast responses.
type tradeResponse struct {
	Result  *OrderResult `json:"result"`
	Results []Outcome    `json:"results"`
	Message string       `json:"message"`
}

// trade sends one intent and normalizes the response to a list of outcomes.
func (c *Client) trade(ctx context.Context, path string, req TradeRequest) ([]Outcome, error) {
	var resp tradeResponse
	if err := c.call(ctx, "POST", path, req, &resp); err != nil {
		return nil, err
	}

	if resp.Result != nil {
		index := 0
		if req.TraderIndex != nil {
			index = *req.TraderIndex
		}

		return []Outcome{{TraderIndex: index, Status: "ok", Result: *resp.Result}}, nil
	}

	return resp.Results, nil
}

// Buy submits a buy intent.
func (c *Client) Buy(ctx context.Context, req TradeRequest) ([]Outcome, error) {
	return c.trade(ctx, "/outer/trade/buy", req)
}

// Sell submits a sell intent.
func (c *Client) Sell(ctx context.Context, req TradeRequest) ([]Outcome, error) {
	return c.trade(ctx, "/outer/trade/sell", req)
}

type batchItem struct {
	Symbol   string    `json:"symbol"`
	Outcomes []Outcome `json:"outcomes,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
	Message string      `json:"message"`
}

// BatchBuy submits several buy intents in one request.
func (c *Client) BatchBuy(ctx context.Context, reqs []TradeRequest) ([]Outcome, error) {
	return c.batch(ctx, "/outer/trade/batch/buy", reqs)
}

// BatchSell submits several sell intents in one request.
func (c *Client) BatchSell(ctx context.Context, reqs []TradeRequest) ([]Outcome, error) {
	return c.batch(ctx, "/outer/trade/batch/sell", reqs)
}

func (c *Client) batch(ctx context.Context, path string, reqs []TradeRequest) ([]Outcome, error) {
	var resp batchResponse

	err := c.call(ctx, "POST", path, map[string]any{"orders": reqs}, &resp)
	if err != nil {
		return nil, err
	}

	var out []Outcome

	for _, item := range resp.Results {
		if item.Error != "" {
			out = append(out, Outcome{Status: "error", Error: fmt.Sprintf("%s: %s", item.Symbol, item.Error)})

			continue
		}

		out = append(out, item.Outcomes...)
	}

	return out, nil
}

// Accounts lists the configured accounts.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var resp struct {
		Accounts []Account `json:"accounts"`
	}

	if err := c.call(ctx, "GET", "/accounts", nil, &resp); err != nil {
		return nil, err
	}

	return resp.Accounts, nil
}

// Portfolio fetches one account's asset snapshot.
func (c *Client) Portfolio(ctx context.Context, traderIndex int) (Portfolio, error) {
	var resp struct {
		Portfolio Portfolio `json:"portfolio"`
	}

	path := "/portfolio/" + url.PathEscape(strconv.Itoa(traderIndex))
	if err := c.call(ctx, "GET", path, nil, &resp); err != nil {
		return Portfolio{}, err
	}

	return resp.Portfolio, nil
}

// Positions fetches one account's held positions.
func (c *Client) Positions(ctx context.Context, traderIndex int) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"positions"`
	}

	path := "/positions/" + url.PathEscape(strconv.Itoa(traderIndex))
	if err := c.call(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Positions, nil
}

// CancelOrder cancels one order on one account.
func (c *Client) CancelOrder(ctx context.Context, traderIndex int, orderID int64) error {
	return c.call(ctx, "POST", "/cancel_order", map[string]any{
		"trader_index": traderIndex,
		"order_id":     orderID,
	}, nil)
}

// Order is one broker-reported order row.
type Order struct {
	OrderID      int64   `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Status       int     `json:"status"`
	Volume       int64   `json:"volume"`
	Price        float64 `json:"price"`
	PriceType    int     `json:"price_type"`
	TradedVolume int64   `json:"traded_volume"`
	TradedPrice  float64 `json:"traded_price"`
	SubmittedAt  int64   `json:"time"`
	StrategyName string  `json:"strategy_name"`
}

// Orders lists one account's orders.
func (c *Client) Orders(ctx context.Context, traderIndex int, cancelableOnly bool) ([]Order, error) {
	var resp struct {
		Orders []Order `json:"orders"`
	}

	err := c.call(ctx, "POST", "/orders", map[string]any{
		"trader_index":    traderIndex,
		"cancelable_only": cancelableOnly,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Orders, nil
}
