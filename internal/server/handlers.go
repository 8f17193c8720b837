package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/engine"
	"github.com/quantbridge/quantbridge/internal/registry"
	"github.com/quantbridge/quantbridge/internal/session"
	"github.com/quantbridge/quantbridge/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP: validation to 400, auth to
// 401, everything else to 500. Business declines never reach here; they ride
// a 200 with success=false.
func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)

	status := http.StatusInternalServerError

	switch {
	case code >= errors.ErrCodeInvalidParameter && code < errors.ErrCodeDataNotFound:
		status = http.StatusBadRequest
	case code >= errors.ErrCodeSignatureMissing && code < errors.ErrCodeOrderFailed:
		status = http.StatusUnauthorized
	}

	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "bad request body", err)
	}

	return nil
}

// tradeRequest is the body shape shared by the trading routes. The browser
// form and machine callers use slightly different field names for price and
// price type; both spellings are accepted.
type tradeRequest struct {
	TraderIndex  *int    `json:"trader_index,omitempty"`
	Symbol       string  `json:"symbol"`
	TradePrice   float64 `json:"trade_price,omitempty"`
	Price        float64 `json:"price,omitempty"`
	PositionPct  float64 `json:"position_pct,omitempty"`
	Shares       int64   `json:"shares,omitempty"`
	PriceType    *int    `json:"price_type,omitempty"`
	PriceTypeAlt *int    `json:"pricetype,omitempty"`
	StrategyName string  `json:"strategy_name,omitempty"`
}

func (t tradeRequest) limit() float64 {
	if t.TradePrice > 0 {
		return t.TradePrice
	}

	return t.Price
}

// priceType resolves the effective price type: an explicit value wins, a
// supplied price implies a fixed-price order, otherwise trade at latest.
func (t tradeRequest) priceType() engine.PriceType {
	if t.PriceType != nil {
		return engine.PriceType(*t.PriceType)
	}

	if t.PriceTypeAlt != nil {
		return engine.PriceType(*t.PriceTypeAlt)
	}

	if t.limit() > 0 {
		return engine.PriceTypeFix
	}

	return engine.PriceTypeLatest
}

// validate checks the request for the given side. A sell may omit both
// sizing fields: that sells the full sellable volume.
func (t tradeRequest) validate(side broker.Side) error {
	if t.Symbol == "" {
		return errors.New(errors.ErrCodeMissingParameter, "symbol is required")
	}

	if side == broker.SideBuy && t.Shares <= 0 && t.PositionPct <= 0 {
		return errors.New(errors.ErrCodeMissingParameter, "position_pct or shares is required")
	}

	return nil
}

// execute runs one trading intent against one engine.
func execute(r *http.Request, e *engine.Engine, side broker.Side, req tradeRequest) (engine.OrderResult, error) {
	ctx := r.Context()
	pt := req.priceType()
	limit := req.limit()
	opt := engine.WithStrategyName(req.StrategyName)

	if side == broker.SideSell {
		if req.PositionPct > 0 && req.Shares <= 0 {
			return e.SellTargetPercent(ctx, req.Symbol, req.PositionPct, pt, limit, opt)
		}

		// explicit shares, or neither field: zero shares sells everything
		return e.SellShares(ctx, req.Symbol, req.Shares, pt, limit, opt)
	}

	if req.Shares > 0 {
		return e.BuyShares(ctx, req.Symbol, req.Shares, pt, limit, opt)
	}

	return e.BuyTargetPercent(ctx, req.Symbol, req.PositionPct, pt, limit, opt)
}

// handleLogin authenticates an operator and issues the session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if err := s.logins.Login(w, r, req.Username, req.Password); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bad username or password"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "logged in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logins.Logout(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// handleAccounts lists the configured accounts in trader-index order.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	type accountView struct {
		Index     int    `json:"index"`
		AccountID string `json:"account_id"`
		NickName  string `json:"nick_name"`
	}

	engines := s.registry.All()
	accounts := make([]accountView, 0, len(engines))

	for i, e := range engines {
		accounts = append(accounts, accountView{
			Index:     i,
			AccountID: e.Session().AccountID(),
			NickName:  e.Session().DisplayName(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"message":  fmt.Sprintf("%d accounts", len(accounts)),
	})
}

// traderIndexVar pulls the trader index out of the route path.
func (s *Server) traderIndexVar(r *http.Request) (*engine.Engine, error) {
	raw := mux.Vars(r)["trader_index"]

	index, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidTraderIndex, "bad trader index %q", raw)
	}

	return s.registry.ByIndex(index)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	e, err := s.traderIndexVar(r)
	if err != nil {
		writeError(w, err)

		return
	}

	portfolio, err := e.Session().Portfolio(r.Context())
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio": portfolio,
		"message":   "ok",
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	e, err := s.traderIndexVar(r)
	if err != nil {
		writeError(w, err)

		return
	}

	positions, err := e.Session().PositionDetails(r.Context(), session.FilterHeld)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"message":   fmt.Sprintf("%d positions", len(positions)),
	})
}

// broadcast runs the intent across every account and reports per-account
// outcomes.
func (s *Server) broadcast(w http.ResponseWriter, r *http.Request, side broker.Side, req tradeRequest) {
	if err := req.validate(side); err != nil {
		writeError(w, err)

		return
	}

	outcomes := s.registry.Broadcast(r.Context(),
		func(_ context.Context, e *engine.Engine) (engine.OrderResult, error) {
			return execute(r, e, side, req)
		})

	writeJSON(w, http.StatusOK, map[string]any{
		"results": outcomes,
		"message": broadcastMessage(outcomes),
	})
}

func broadcastMessage(outcomes []registry.Outcome) string {
	ok := 0

	for _, o := range outcomes {
		if o.Status == "ok" && o.Result.Success {
			ok++
		}
	}

	return fmt.Sprintf("%d/%d accounts submitted", ok, len(outcomes))
}

// handleTrade is the browser broadcast buy.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	s.broadcast(w, r, broker.SideBuy, req)
}

// handleSell is the browser broadcast sell.
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	s.broadcast(w, r, broker.SideSell, req)
}

// handleAllIn buys a single symbol with each account's entire cash balance.
func (s *Server) handleAllIn(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if req.Symbol == "" {
		writeError(w, errors.New(errors.ErrCodeMissingParameter, "symbol is required"))

		return
	}

	outcomes := s.registry.Broadcast(r.Context(),
		func(_ context.Context, e *engine.Engine) (engine.OrderResult, error) {
			return e.BuyAllIn(r.Context(), req.Symbol, req.priceType(), req.limit())
		})

	writeJSON(w, http.StatusOK, map[string]any{
		"results": outcomes,
		"message": broadcastMessage(outcomes),
	})
}

// handleReverseRepo parks every account's idle cash in the 1-day reverse repo.
func (s *Server) handleReverseRepo(w http.ResponseWriter, r *http.Request) {
	outcomes := s.registry.Broadcast(r.Context(),
		func(_ context.Context, e *engine.Engine) (engine.OrderResult, error) {
			return e.ReverseRepo(r.Context())
		})

	writeJSON(w, http.StatusOK, map[string]any{
		"results": outcomes,
		"message": broadcastMessage(outcomes),
	})
}

// handleOuter runs a signed trading request: a present trader_index targets
// one account, an omitted one broadcasts.
func (s *Server) handleOuter(w http.ResponseWriter, r *http.Request, side broker.Side) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if req.TraderIndex == nil {
		s.broadcast(w, r, side, req)

		return
	}

	if err := req.validate(side); err != nil {
		writeError(w, err)

		return
	}

	e, err := s.registry.ByIndex(*req.TraderIndex)
	if err != nil {
		writeError(w, err)

		return
	}

	result, err := execute(r, e, side, req)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":  result,
		"message": resultMessage(result),
	})
}

func resultMessage(result engine.OrderResult) string {
	if result.Success {
		return fmt.Sprintf("submitted %d %s", result.Quantity, result.Symbol)
	}

	return result.Message
}

func (s *Server) handleOuterBuy(w http.ResponseWriter, r *http.Request) {
	s.handleOuter(w, r, broker.SideBuy)
}

func (s *Server) handleOuterSell(w http.ResponseWriter, r *http.Request) {
	s.handleOuter(w, r, broker.SideSell)
}

// batchRequest is a list of trading intents executed in order.
type batchRequest struct {
	Orders []tradeRequest `json:"orders"`
}

// batchItemResult is one intent's outcome set within a batch.
type batchItemResult struct {
	Symbol   string             `json:"symbol"`
	Outcomes []registry.Outcome `json:"outcomes,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// handleOuterBatch executes each intent in order. A present trader_index on
// an item targets that account alone; intents are isolated, one bad item
// does not stop the rest.
func (s *Server) handleOuterBatch(w http.ResponseWriter, r *http.Request, side broker.Side) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	if len(req.Orders) == 0 {
		writeError(w, errors.New(errors.ErrCodeMissingParameter, "orders is required"))

		return
	}

	items := make([]batchItemResult, 0, len(req.Orders))

	for _, order := range req.Orders {
		item := batchItemResult{Symbol: order.Symbol}

		if err := order.validate(side); err != nil {
			item.Error = err.Error()
			items = append(items, item)

			continue
		}

		if order.TraderIndex != nil {
			e, err := s.registry.ByIndex(*order.TraderIndex)
			if err != nil {
				item.Error = err.Error()
				items = append(items, item)

				continue
			}

			result, err := execute(r, e, side, order)
			outcome := registry.Outcome{
				TraderIndex: *order.TraderIndex,
				AccountID:   e.Session().AccountID(),
			}

			if err != nil {
				outcome.Status = "error"
				outcome.Error = err.Error()
			} else {
				outcome.Status = "ok"
				outcome.Result = result
			}

			item.Outcomes = []registry.Outcome{outcome}
		} else {
			item.Outcomes = s.registry.Broadcast(r.Context(),
				func(_ context.Context, e *engine.Engine) (engine.OrderResult, error) {
					return execute(r, e, side, order)
				})
		}

		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": items,
		"message": fmt.Sprintf("%d orders processed", len(items)),
	})
}

func (s *Server) handleOuterBatchBuy(w http.ResponseWriter, r *http.Request) {
	s.handleOuterBatch(w, r, broker.SideBuy)
}

func (s *Server) handleOuterBatchSell(w http.ResponseWriter, r *http.Request) {
	s.handleOuterBatch(w, r, broker.SideSell)
}

// orderRequest addresses one order on one account.
type orderRequest struct {
	TraderIndex *int           `json:"trader_index"`
	OrderID     broker.OrderID `json:"order_id"`
}

func (s *Server) engineForBody(req orderRequest) (*engine.Engine, error) {
	if req.TraderIndex == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "trader_index is required")
	}

	return s.registry.ByIndex(*req.TraderIndex)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	e, err := s.engineForBody(req)
	if err != nil {
		writeError(w, err)

		return
	}

	if !req.OrderID.Valid() {
		writeError(w, errors.New(errors.ErrCodeMissingParameter, "order_id is required"))

		return
	}

	if err := e.Session().CancelOrder(r.Context(), req.OrderID); err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("cancel submitted for order %d", req.OrderID),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	e, err := s.engineForBody(req)
	if err != nil {
		writeError(w, err)

		return
	}

	order, err := e.Session().Order(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":   order,
		"message": broker.OrderStatusLabel(order.Status),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TraderIndex    *int `json:"trader_index"`
		CancelableOnly bool `json:"cancelable_only"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	e, err := s.engineForBody(orderRequest{TraderIndex: req.TraderIndex})
	if err != nil {
		writeError(w, err)

		return
	}

	orders, err := e.Session().Orders(r.Context(), req.CancelableOnly)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders":  orders,
		"message": fmt.Sprintf("%d orders", len(orders)),
	})
}

// handleCancelSide cancels every cancelable order on one side of one account.
func (s *Server) handleCancelSide(w http.ResponseWriter, r *http.Request, side broker.Side) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)

		return
	}

	e, err := s.engineForBody(req)
	if err != nil {
		writeError(w, err)

		return
	}

	canceled, err := e.Session().CancelAllBySide(r.Context(), side)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"canceled": canceled,
		"message":  fmt.Sprintf("%d %s orders canceled", len(canceled), side),
	})
}

func (s *Server) handleCancelSales(w http.ResponseWriter, r *http.Request) {
	s.handleCancelSide(w, r, broker.SideSell)
}

func (s *Server) handleCancelBuys(w http.ResponseWriter, r *http.Request) {
	s.handleCancelSide(w, r, broker.SideBuy)
}
