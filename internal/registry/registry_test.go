package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/engine"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/internal/session"
	"github.com/quantbridge/quantbridge/pkg/errors"
)

type silentNotifier struct{}

func (silentNotifier) Send(context.Context, string) {}

type RegistryTestSuite struct {
	suite.Suite

	registry *Registry
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func (s *RegistryTestSuite) SetupTest() {
	engines := make([]*engine.Engine, 3)

	for i := range engines {
		cash := 100_000.0
		link := broker.NewSimLink(cash)
		sess := session.New(
			session.Config{AccountID: fmt.Sprintf("88030%d", i), StrategyCode: int64(i + 1)},
			func(int64) (broker.Link, error) { return link, nil },
			broker.SimQuotes{},
			silentNotifier{},
			logger.NewTestLogger(),
			func(string) {},
		)
		s.Require().NoError(sess.Connect(context.Background()))
		engines[i] = engine.New(sess, broker.SimQuotes{}, silentNotifier{}, logger.NewTestLogger())
	}

	s.registry = New(engines)
}

func (s *RegistryTestSuite) TestByIndex() {
	e, err := s.registry.ByIndex(1)
	s.Require().NoError(err)
	s.Equal("880301", e.Session().AccountID())
}

func (s *RegistryTestSuite) TestByIndexOutOfRange() {
	for _, index := range []int{-1, 3, 42} {
		_, err := s.registry.ByIndex(index)
		s.Require().Error(err)
		s.True(errors.HasCode(err, errors.ErrCodeInvalidTraderIndex))
	}
}

func (s *RegistryTestSuite) TestBroadcastCollectsEveryOutcome() {
	outcomes := s.registry.Broadcast(context.Background(),
		func(_ context.Context, e *engine.Engine) (engine.OrderResult, error) {
			return engine.OrderResult{Success: true, Symbol: "600136.SH"}, nil
		})

	s.Require().Len(outcomes, 3)

	for i, outcome := range outcomes {
		s.Equal(i, outcome.TraderIndex)
		s.Equal("ok", outcome.Status)
		s.True(outcome.Result.Success)
	}
}

func (s *RegistryTestSuite) TestBroadcastIsolatesFailures() {
	outcomes := s.registry.Broadcast(context.Background(),
		func(_ context.Context, e *engine.Engine) (engine.OrderResult, error) {
			if e.Session().AccountID() == "880301" {
				return engine.OrderResult{}, errors.New(errors.ErrCodeLinkDown, "link down")
			}

			return engine.OrderResult{Success: true}, nil
		})

	s.Require().Len(outcomes, 3)
	s.Equal("ok", outcomes[0].Status)
	s.Equal("error", outcomes[1].Status)
	s.Contains(outcomes[1].Error, "link down")
	s.Equal("ok", outcomes[2].Status)
}
