package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/pkg/errors"
)

// fakeLink is a scriptable transport handle for fault injection.
type fakeLink struct {
	token int64
	sink  broker.CallbackSink

	startErr     error
	connectErr   error
	subscribeErr error

	positions    []broker.RawPosition
	positionsErr error
	asset        broker.RawAsset
	assetErr     error
	orders       []broker.OrderRecord
	ordersErr    error

	placeID  broker.OrderID
	placeErr error

	cancelErrFor map[broker.OrderID]error
	canceled     []broker.OrderID

	closed bool
}

func (f *fakeLink) RegisterCallback(sink broker.CallbackSink) { f.sink = sink }
func (f *fakeLink) Start() error                              { return f.startErr }
func (f *fakeLink) Connect() error                            { return f.connectErr }
func (f *fakeLink) Subscribe(string) error                    { return f.subscribeErr }
func (f *fakeLink) Close()                                    { f.closed = true }

func (f *fakeLink) PlaceOrder(broker.PlaceOrderRequest) (broker.OrderID, error) {
	return f.placeID, f.placeErr
}

func (f *fakeLink) CancelOrder(_ string, id broker.OrderID) error {
	if err := f.cancelErrFor[id]; err != nil {
		return err
	}

	f.canceled = append(f.canceled, id)

	return nil
}

func (f *fakeLink) QueryPositions(string) ([]broker.RawPosition, error) {
	return f.positions, f.positionsErr
}

func (f *fakeLink) QueryAsset(string) (broker.RawAsset, error) {
	return f.asset, f.assetErr
}

func (f *fakeLink) QueryOrders(string, bool) ([]broker.OrderRecord, error) {
	return f.orders, f.ordersErr
}

func (f *fakeLink) QueryOrder(_ string, id broker.OrderID) (broker.OrderRecord, error) {
	for _, o := range f.orders {
		if o.OrderID == id {
			return o, nil
		}
	}

	return broker.OrderRecord{}, fmt.Errorf("no order %d", id)
}

// fakeQuotes serves canned quote lookups.
type fakeQuotes struct {
	prices map[string]float64
	names  map[string]string
}

func (q *fakeQuotes) LastPrice(symbol string) (float64, error) {
	if p, ok := q.prices[symbol]; ok {
		return p, nil
	}

	return 0, fmt.Errorf("no quote for %s", symbol)
}

func (q *fakeQuotes) InstrumentName(symbol string) (string, error) {
	if n, ok := q.names[symbol]; ok {
		return n, nil
	}

	return "", fmt.Errorf("no name for %s", symbol)
}

// captureNotifier records sent messages.
type captureNotifier struct {
	messages []string
}

func (n *captureNotifier) Send(_ context.Context, text string) {
	n.messages = append(n.messages, text)
}

type SessionTestSuite struct {
	suite.Suite

	tokens    []int64
	fatalMsgs []string
	notifier  *captureNotifier
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.tokens = nil
	s.fatalMsgs = nil
	s.notifier = &captureNotifier{}
}

// newSession wires a session whose factory hands out the scripted links in
// order, recording the token of each attempt. The final link is reused once
// the script runs out.
func (s *SessionTestSuite) newSession(links ...*fakeLink) *Session {
	i := 0
	factory := func(token int64) (broker.Link, error) {
		s.tokens = append(s.tokens, token)
		link := links[i]
		link.token = token

		if i < len(links)-1 {
			i++
		}

		return link, nil
	}

	sess := New(
		Config{AccountID: "880300", StrategyCode: 2, DisplayName: "primary"},
		factory,
		&fakeQuotes{prices: map[string]float64{}, names: map[string]string{}},
		s.notifier,
		logger.NewTestLogger(),
		func(msg string) { s.fatalMsgs = append(s.fatalMsgs, msg) },
	)
	sess.sleep = func(time.Duration) {}

	return sess
}

func (s *SessionTestSuite) TestConnectSeedsAndIncrementsToken() {
	sess := s.newSession(&fakeLink{})

	s.Require().NoError(sess.Connect(context.Background()))
	s.Equal(StateSubscribed, sess.State())
	// seed is strategy_code*1e9 + account id; the first attempt bumps it
	s.Equal(int64(2_000_880_301), sess.Token())

	s.Require().NoError(sess.Reconnect(context.Background()))
	s.Equal(int64(2_000_880_302), sess.Token())
	s.Equal([]int64{2_000_880_301, 2_000_880_302}, s.tokens)
}

func (s *SessionTestSuite) TestConnectRetriesWithFreshToken() {
	sess := s.newSession(
		&fakeLink{connectErr: fmt.Errorf("terminal not up")},
		&fakeLink{connectErr: fmt.Errorf("terminal not up")},
		&fakeLink{},
	)

	s.Require().NoError(sess.Connect(context.Background()))
	s.Equal(StateSubscribed, sess.State())
	s.Equal([]int64{2_000_880_301, 2_000_880_302, 2_000_880_303}, s.tokens)
	s.Empty(s.fatalMsgs)
}

func (s *SessionTestSuite) TestConnectExhaustionIsFatalAndNotifies() {
	sess := s.newSession(&fakeLink{connectErr: fmt.Errorf("terminal not up")})

	err := sess.Connect(context.Background())
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeConnectFailed))
	s.Len(s.tokens, 3)
	s.Require().Len(s.fatalMsgs, 1)
	s.Require().Len(s.notifier.messages, 1)
	s.Contains(s.notifier.messages[0], "880300")
}

func (s *SessionTestSuite) TestSubscribeFailureIsImmediatelyFatal() {
	sess := s.newSession(&fakeLink{subscribeErr: fmt.Errorf("account unknown")})

	err := sess.Connect(context.Background())
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeSubscribeFailed))
	// no further attempts after a subscribe failure
	s.Len(s.tokens, 1)
	s.Len(s.fatalMsgs, 1)
}

func (s *SessionTestSuite) TestOldLinkClosedOnReconnect() {
	first := &fakeLink{}
	second := &fakeLink{}
	sess := s.newSession(first, second)

	s.Require().NoError(sess.Connect(context.Background()))
	s.Require().NoError(sess.Reconnect(context.Background()))
	s.True(first.closed)
	s.False(second.closed)
}

func (s *SessionTestSuite) TestDisconnectCallbackOnlyFlipsState() {
	link := &fakeLink{}
	sess := s.newSession(link)

	s.Require().NoError(sess.Connect(context.Background()))
	link.sink.OnDisconnected()
	s.Equal(StateDisconnected, sess.State())
	// no reconnect yet
	s.Len(s.tokens, 1)
}

func (s *SessionTestSuite) TestLazyReconnectOnNextOperation() {
	link := &fakeLink{asset: broker.RawAsset{Attrs: &broker.AssetAttrs{TotalAsset: 100_000, Cash: 50_000}}}
	sess := s.newSession(link)

	s.Require().NoError(sess.Connect(context.Background()))
	link.sink.OnDisconnected()

	portfolio, err := sess.Portfolio(context.Background())
	s.Require().NoError(err)
	s.InDelta(100_000, portfolio.TotalAsset, 1e-9)
	// the operation reconnected before querying
	s.Len(s.tokens, 2)
	s.Equal(StateSubscribed, sess.State())
}

func (s *SessionTestSuite) TestQueryFailureReconnectsAndRetries() {
	failing := &fakeLink{positionsErr: fmt.Errorf("socket gone")}
	healthy := &fakeLink{positions: []broker.RawPosition{
		{Attrs: &broker.PositionAttrs{StockCode: "600136.SH", Volume: 200, CanUseVolume: 200}},
	}}
	sess := s.newSession(failing, healthy)

	s.Require().NoError(sess.Connect(context.Background()))

	positions, err := sess.Positions(context.Background(), FilterUsable)
	s.Require().NoError(err)
	s.Len(positions, 1)
	s.Contains(positions, "600136.SH")
}

func (s *SessionTestSuite) TestPositionFilters() {
	link := &fakeLink{positions: []broker.RawPosition{
		{Attrs: &broker.PositionAttrs{StockCode: "600136.SH", Volume: 200, CanUseVolume: 200}},
		{Attrs: &broker.PositionAttrs{StockCode: "000001.SZ", Volume: 100, CanUseVolume: 0}},
		{Attrs: &broker.PositionAttrs{StockCode: "300750.SZ", Volume: 0, CanUseVolume: 0}},
	}}
	sess := s.newSession(link)
	s.Require().NoError(sess.Connect(context.Background()))

	testCases := []struct {
		name   string
		filter PositionFilter
		want   []string
	}{
		{name: "usable", filter: FilterUsable, want: []string{"600136.SH"}},
		{name: "pending", filter: FilterPending, want: []string{"000001.SZ"}},
		{name: "held", filter: FilterHeld, want: []string{"600136.SH", "000001.SZ"}},
		{name: "all", filter: FilterAll, want: []string{"600136.SH", "000001.SZ", "300750.SZ"}},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			positions, err := sess.Positions(context.Background(), tc.filter)
			s.Require().NoError(err)
			s.Len(positions, len(tc.want))

			for _, symbol := range tc.want {
				s.Contains(positions, symbol)
			}
		})
	}
}

func (s *SessionTestSuite) TestPlaceOrderRejectsSentinelID() {
	sess := s.newSession(&fakeLink{placeID: -1})
	s.Require().NoError(sess.Connect(context.Background()))

	_, err := sess.PlaceOrder(context.Background(), broker.PlaceOrderRequest{
		Symbol:   "600136.SH",
		Side:     broker.SideBuy,
		Quantity: 100,
	})
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeOrderFailed))
}

func (s *SessionTestSuite) TestCancelAllBySide() {
	link := &fakeLink{
		orders: []broker.OrderRecord{
			{OrderID: 11, Side: broker.SideSell, Status: broker.StatusSubmitted},
			{OrderID: 12, Side: broker.SideSell, Status: broker.StatusFilled},
			{OrderID: 13, Side: broker.SideBuy, Status: broker.StatusSubmitted},
			{OrderID: 14, Side: broker.SideSell, Status: broker.StatusPartFilled},
			{OrderID: 15, Side: broker.SideSell, Status: broker.StatusSubmitted},
		},
		cancelErrFor: map[broker.OrderID]error{14: fmt.Errorf("too late")},
	}
	sess := s.newSession(link)
	s.Require().NoError(sess.Connect(context.Background()))

	canceled, err := sess.CancelAllBySide(context.Background(), broker.SideSell)
	s.Require().NoError(err)
	// filled and buy-side orders untouched; the one failed cancel is skipped
	s.Equal([]broker.OrderID{11, 15}, canceled)
	s.Equal([]broker.OrderID{11, 15}, link.canceled)
}

func (s *SessionTestSuite) TestPositionDetailsEnrichment() {
	link := &fakeLink{positions: []broker.RawPosition{
		{Attrs: &broker.PositionAttrs{StockCode: "600136.SH", Volume: 200, CanUseVolume: 200, AvgPrice: 10}},
		{Attrs: &broker.PositionAttrs{StockCode: "000001.SZ", Volume: 100, CanUseVolume: 100, AvgPrice: 8}},
	}}
	sess := s.newSession(link)
	sess.quotes = &fakeQuotes{
		prices: map[string]float64{"600136.SS": 12},
		names:  map[string]string{"600136.SS": "Perfect World"},
	}
	s.Require().NoError(sess.Connect(context.Background()))

	details, err := sess.PositionDetails(context.Background(), FilterUsable)
	s.Require().NoError(err)
	s.Require().Len(details, 2)

	byCode := map[string]PositionDetail{}
	for _, d := range details {
		byCode[d.Symbol] = d
	}

	quoted := byCode["600136.SH"]
	s.Equal("Perfect World", quoted.Name)
	s.InDelta(12, quoted.CurrentPrice, 1e-9)
	s.InDelta(400, quoted.Profit, 1e-9)      // (12-10)*200
	s.InDelta(20, quoted.ProfitRatio, 1e-9)  // (12-10)/10*100
	s.InDelta(2000, quoted.MarketValue, 1e-9) // reconstructed from volume*avg

	// no quote available: price and name fall back
	unquoted := byCode["000001.SZ"]
	s.Equal("000001.SZ", unquoted.Name)
	s.InDelta(8, unquoted.CurrentPrice, 1e-9)
	s.InDelta(0, unquoted.Profit, 1e-9)
}

func (s *SessionTestSuite) TestPortfolioFoldsProfitFields() {
	link := &fakeLink{asset: broker.RawAsset{KV: map[string]any{
		"total_asset": 100_000.0,
		"cash":        40_000.0,
		"profit":      1234.5,
	}}}
	sess := s.newSession(link)
	s.Require().NoError(sess.Connect(context.Background()))

	portfolio, err := sess.Portfolio(context.Background())
	s.Require().NoError(err)
	s.InDelta(1234.5, portfolio.Profit, 1e-9)
	s.InDelta(0, portfolio.ProfitRatio, 1e-9)
}
