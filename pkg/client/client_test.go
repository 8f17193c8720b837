package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/quantbridge/quantbridge/internal/auth"
	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/engine"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/internal/registry"
	"github.com/quantbridge/quantbridge/internal/server"
	"github.com/quantbridge/quantbridge/internal/session"
)

type silentNotifier struct{}

func (silentNotifier) Send(context.Context, string) {}

type ClientTestSuite struct {
	suite.Suite

	gateway *httptest.Server
	client  *Client
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	quotes := broker.SimQuotes{
		Prices: map[string]float64{"600136.SS": 10},
		Names:  map[string]string{"600136.SS": "Perfect World"},
	}

	engines := make([]*engine.Engine, 2)

	for i := range engines {
		link := broker.NewSimLink(50_000)
		link.SeedPosition(broker.PositionAttrs{
			StockCode: "600136.SH", Volume: 200, CanUseVolume: 200, AvgPrice: 9, MarketValue: 1800,
		})

		sess := session.New(
			session.Config{AccountID: fmt.Sprintf("88030%d", i), StrategyCode: int64(i + 1)},
			func(int64) (broker.Link, error) { return link, nil },
			quotes,
			silentNotifier{},
			logger.NewTestLogger(),
			func(msg string) { s.FailNow("unexpected fatal: " + msg) },
		)
		s.Require().NoError(sess.Connect(context.Background()))
		engines[i] = engine.New(sess, quotes, silentNotifier{}, logger.NewTestLogger())
	}

	srv := server.New(server.Options{
		Addr:     ":0",
		Registry: registry.New(engines),
		Verifier: auth.NewVerifier(map[string]string{"strategy-1": "topsecret"}, 0),
		Logins:   auth.NewLoginStore("cookie-secret", nil),
		Log:      logger.NewTestLogger(),
	})

	s.gateway = httptest.NewServer(srv.Router())
	s.client = New(s.gateway.URL, "strategy-1", "topsecret")
}

func (s *ClientTestSuite) TearDownTest() {
	s.gateway.Close()
}

func (s *ClientTestSuite) TestAccounts() {
	accounts, err := s.client.Accounts(context.Background())
	s.Require().NoError(err)
	s.Require().Len(accounts, 2)
	s.Equal("880300", accounts[0].AccountID)
}

func (s *ClientTestSuite) TestBuySingleAccount() {
	index := 0
	priceType := 1

	outcomes, err := s.client.Buy(context.Background(), TradeRequest{
		TraderIndex: &index,
		Symbol:      "600136",
		PositionPct: 0.1,
		PriceType:   &priceType,
	})
	s.Require().NoError(err)
	s.Require().Len(outcomes, 1)
	s.True(outcomes[0].Result.Success)
	s.Equal(int64(500), outcomes[0].Result.Quantity)
}

func (s *ClientTestSuite) TestSellBroadcast() {
	priceType := 1

	outcomes, err := s.client.Sell(context.Background(), TradeRequest{
		Symbol:      "600136",
		PositionPct: 1.0,
		PriceType:   &priceType,
	})
	s.Require().NoError(err)
	s.Require().Len(outcomes, 2)

	for _, o := range outcomes {
		s.Equal("ok", o.Status)
		s.Equal(int64(200), o.Result.Quantity)
	}
}

func (s *ClientTestSuite) TestPortfolioAndPositions() {
	portfolio, err := s.client.Portfolio(context.Background(), 0)
	s.Require().NoError(err)
	s.InDelta(50_000, portfolio.Cash, 1e-9)

	positions, err := s.client.Positions(context.Background(), 0)
	s.Require().NoError(err)
	s.Require().Len(positions, 1)
	s.Equal("Perfect World", positions[0].Name)
}

func (s *ClientTestSuite) TestWrongSecretRejected() {
	bad := New(s.gateway.URL, "strategy-1", "wrong")

	_, err := bad.Accounts(context.Background())
	s.Require().Error(err)
	s.Contains(err.Error(), "401")
}

func (s *ClientTestSuite) TestOrdersAndCancel() {
	index := 1
	priceType := 1

	_, err := s.client.Buy(context.Background(), TradeRequest{
		TraderIndex: &index,
		Symbol:      "600136",
		PositionPct: 0.1,
		PriceType:   &priceType,
	})
	s.Require().NoError(err)

	orders, err := s.client.Orders(context.Background(), 1, true)
	s.Require().NoError(err)
	s.Require().Len(orders, 1)

	s.Require().NoError(s.client.CancelOrder(context.Background(), 1, orders[0].OrderID))

	orders, err = s.client.Orders(context.Background(), 1, true)
	s.Require().NoError(err)
	s.Empty(orders)
}
