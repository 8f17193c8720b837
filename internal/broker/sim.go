package broker

import (
	"sync"

	"github.com/quantbridge/quantbridge/pkg/errors"
)

// SimLink is an in-memory broker link. It backs the gateway's simulation run
// mode and the test suites: orders are accepted and recorded but never filled,
// and the position/asset books are whatever the caller seeds them with.
type SimLink struct {
	mu sync.Mutex

	sink       CallbackSink
	started    bool
	connected  bool
	subscribed bool

	cash       float64
	totalAsset float64
	frozenCash float64

	positions  []RawPosition
	orders     map[OrderID]OrderRecord
	orderIDSeq OrderID
}

// NewSimLink creates a simulator link with the given starting cash. Total
// asset starts equal to cash until positions are seeded.
func NewSimLink(cash float64) *SimLink {
	return &SimLink{
		cash:       cash,
		totalAsset: cash,
		orders:     make(map[OrderID]OrderRecord),
	}
}

// SeedPosition adds a held position to the simulated book.
func (l *SimLink) SeedPosition(p PositionAttrs) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = append(l.positions, RawPosition{Attrs: &p})
	l.totalAsset += p.MarketValue
}

// RegisterCallback implements Link.
func (l *SimLink) RegisterCallback(sink CallbackSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Start implements Link.
func (l *SimLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true

	return nil
}

// Connect implements Link.
func (l *SimLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return errors.New(errors.ErrCodeConnectFailed, "link not started")
	}

	l.connected = true

	return nil
}

// Subscribe implements Link.
func (l *SimLink) Subscribe(string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return errors.New(errors.ErrCodeSubscribeFailed, "link not connected")
	}

	l.subscribed = true

	return nil
}

// PlaceOrder implements Link. The order is recorded as submitted and left
// open; the simulator never fills.
func (l *SimLink) PlaceOrder(req PlaceOrderRequest) (OrderID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.subscribed {
		return 0, errors.New(errors.ErrCodeLinkDown, "link not subscribed")
	}

	l.orderIDSeq++
	id := l.orderIDSeq
	l.orders[id] = OrderRecord{
		OrderID:     id,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      StatusSubmitted,
		Volume:      req.Quantity,
		Price:       req.Price,
		PriceMode:   req.PriceMode,
		StrategyTag: req.StrategyTag,
	}

	return id, nil
}

// CancelOrder implements Link.
func (l *SimLink) CancelOrder(_ string, id OrderID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[id]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "no such order %d", id)
	}

	if !Cancelable(order.Status) {
		return errors.Newf(errors.ErrCodeCancelFailed, "order %d not cancelable", id)
	}

	order.Status = StatusCanceled
	l.orders[id] = order

	return nil
}

// QueryPositions implements Link.
func (l *SimLink) QueryPositions(string) ([]RawPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RawPosition, len(l.positions))
	copy(out, l.positions)

	return out, nil
}

// QueryAsset implements Link.
func (l *SimLink) QueryAsset(string) (RawAsset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return RawAsset{Attrs: &AssetAttrs{
		TotalAsset:  l.totalAsset,
		Cash:        l.cash,
		FrozenCash:  l.frozenCash,
		MarketValue: l.totalAsset - l.cash - l.frozenCash,
	}}, nil
}

// QueryOrders implements Link.
func (l *SimLink) QueryOrders(_ string, cancelableOnly bool) ([]OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]OrderRecord, 0, len(l.orders))

	for _, order := range l.orders {
		if cancelableOnly && !Cancelable(order.Status) {
			continue
		}

		out = append(out, order)
	}

	return out, nil
}

// QueryOrder implements Link.
func (l *SimLink) QueryOrder(_ string, id OrderID) (OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[id]
	if !ok {
		return OrderRecord{}, errors.Newf(errors.ErrCodeOrderNotFound, "no such order %d", id)
	}

	return order, nil
}

// Close implements Link.
func (l *SimLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
	l.connected = false
	l.subscribed = false
}

// SimQuotes is a fixed-price QuoteClient for the simulation run mode.
type SimQuotes struct {
	Prices map[string]float64
	Names  map[string]string
}

// LastPrice implements QuoteClient.
func (q SimQuotes) LastPrice(symbol string) (float64, error) {
	if p, ok := q.Prices[symbol]; ok {
		return p, nil
	}

	return 0, errors.Newf(errors.ErrCodeQuoteFailed, "no quote for %s", symbol)
}

// InstrumentName implements QuoteClient.
func (q SimQuotes) InstrumentName(symbol string) (string, error) {
	if n, ok := q.Names[symbol]; ok {
		return n, nil
	}

	return "", errors.Newf(errors.ErrCodeQuoteFailed, "no instrument detail for %s", symbol)
}
