// Package broker defines the narrow capability interface through which the
// rest of the system talks to the proprietary trading terminal. The terminal
// SDK is an opaque, stateful external service: this package pins down exactly
// the calls the gateway needs (connect handshake, account subscription,
// order submission/cancellation, position and asset queries) plus the
// asynchronous callback surface, and nothing else.
package broker

// Side is the order direction.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// String returns "buy" or "sell".
func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}

	return "buy"
}

// PriceMode is the broker-link native price mode an order is submitted with.
type PriceMode int

const (
	// PriceModeFix submits at the caller-supplied limit price.
	PriceModeFix PriceMode = iota
	// PriceModeLatest submits at the latest trade price.
	PriceModeLatest
	// PriceModeSHConvert5Cancel is Shanghai best-5-levels immediate-or-cancel.
	PriceModeSHConvert5Cancel
	// PriceModeSZConvert5Cancel is Shenzhen best-5-levels immediate-or-cancel.
	PriceModeSZConvert5Cancel
	// PriceModeMineBest submits at own-side best (buy at best bid, sell at best ask).
	PriceModeMineBest
	// PriceModePeerBest submits at counter-side best (buy at best ask, sell at best bid).
	PriceModePeerBest
)

// OrderID is the opaque order handle returned by the broker link.
// Values <= 0 are sentinels for "no order".
type OrderID int64

// Valid reports whether the handle refers to an accepted order.
func (id OrderID) Valid() bool {
	return id > 0
}

// PlaceOrderRequest carries everything the broker link needs to submit one order.
type PlaceOrderRequest struct {
	AccountID   string
	Symbol      string // venue-qualified, order-submission form (e.g. 600136.SH)
	Side        Side
	Quantity    int64
	PriceMode   PriceMode
	Price       float64 // used only with PriceModeFix
	StrategyTag string
}

// Link is one transport handle to the trading terminal. A handle is owned by
// exactly one session and is replaced, never reused, on reconnect.
type Link interface {
	// RegisterCallback attaches the async callback sink. Must be called
	// before Start.
	RegisterCallback(sink CallbackSink)
	// Start launches the transport's internal worker.
	Start() error
	// Connect performs the connect handshake.
	Connect() error
	// Subscribe subscribes the account for callbacks and queries.
	Subscribe(accountID string) error

	PlaceOrder(req PlaceOrderRequest) (OrderID, error)
	CancelOrder(accountID string, id OrderID) error

	QueryPositions(accountID string) ([]RawPosition, error)
	QueryAsset(accountID string) (RawAsset, error)
	QueryOrders(accountID string, cancelableOnly bool) ([]OrderRecord, error)
	QueryOrder(accountID string, id OrderID) (OrderRecord, error)

	// Close tears the handle down. Safe to call on a half-connected handle.
	Close()
}

// LinkFactory builds a fresh transport handle for a connection attempt.
// The session token distinguishes this attempt from any still-live prior
// handle of the same account.
type LinkFactory func(sessionToken int64) (Link, error)

// QuoteClient is the market-data lookup capability used for live P&L.
type QuoteClient interface {
	// LastPrice returns the last trade price for a quote-form symbol.
	LastPrice(symbol string) (float64, error)
	// InstrumentName returns the display name for a quote-form symbol.
	InstrumentName(symbol string) (string, error)
}

// CallbackSink receives the asynchronous push callbacks from the broker link.
// Implementations must not block; the link delivers these on its own thread.
type CallbackSink interface {
	OnDisconnected()
	OnOrderUpdate(order OrderRecord)
	OnTradeUpdate(trade TradeUpdate)
	OnPositionUpdate(pos RawPosition)
	OnAssetUpdate(asset RawAsset)
	OnOrderError(e OrderError)
	OnCancelError(e CancelError)
	OnAccountStatus(s AccountStatus)
}

// TradeUpdate is a fill notification.
type TradeUpdate struct {
	AccountID string
	Symbol    string
	OrderID   OrderID
	Volume    int64
	Price     float64
}

// OrderError is an asynchronous business-rule rejection of a submitted order.
type OrderError struct {
	AccountID   string
	StrategyTag string
	Code        int
	Message     string
}

// CancelError is an asynchronous cancellation failure.
type CancelError struct {
	OrderID OrderID
	Code    int
	Message string
}

// AccountStatus is a push update of the account's terminal-side state.
type AccountStatus struct {
	AccountID   string
	AccountType int
	Code        int
}
