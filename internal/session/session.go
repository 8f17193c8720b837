// Package session owns the lifecycle of one authenticated broker connection:
// connect/subscribe handshake, bounded reconnects, serialized operations and
// the position/portfolio query layer on top of the raw broker link.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/internal/notify"
	"github.com/quantbridge/quantbridge/pkg/errors"
	"github.com/quantbridge/quantbridge/pkg/retry"
)

// State is the connection state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateFailed
)

// String returns a readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

const (
	connectAttempts   = 3
	connectPause      = time.Second
	positionAttempts  = 3
	portfolioAttempts = 2
)

// FatalFunc is invoked when the session hits a condition under which the
// process must not continue: subscribe failure or connect exhaustion. The
// production hook logs and exits; tests observe.
type FatalFunc func(msg string)

// Config identifies one brokerage account.
type Config struct {
	AccountID    string
	StrategyCode int64
	DisplayName  string
}

// Session is one authenticated connection to a brokerage account. All
// operations on a session are serialized by an internal mutex; concurrent
// callers targeting the same session queue up rather than interleave on the
// transport handle.
type Session struct {
	accountID    string
	strategyCode int64
	displayName  string

	factory  broker.LinkFactory
	quotes   broker.QuoteClient
	notifier notify.Notifier
	log      *logger.Logger
	fatal    FatalFunc

	mu    sync.Mutex
	link  broker.Link
	token int64
	state atomic.Int32

	sleep func(time.Duration)
}

// New creates a session for the given account. The session token is seeded
// from the strategy code and numeric account id so tokens from different
// accounts never collide; each connection attempt increments it.
func New(cfg Config, factory broker.LinkFactory, quotes broker.QuoteClient, notifier notify.Notifier, log *logger.Logger, fatal FatalFunc) *Session {
	accountNum, _ := strconv.ParseInt(cfg.AccountID, 10, 64)

	return &Session{
		accountID:    cfg.AccountID,
		strategyCode: cfg.StrategyCode,
		displayName:  cfg.DisplayName,
		factory:      factory,
		quotes:       quotes,
		notifier:     notifier,
		log:          log,
		fatal:        fatal,
		token:        cfg.StrategyCode*1_000_000_000 + accountNum,
		sleep:        time.Sleep,
	}
}

// AccountID returns the brokerage account id.
func (s *Session) AccountID() string { return s.accountID }

// DisplayName returns the configured account nickname.
func (s *Session) DisplayName() string { return s.displayName }

// StrategyCode returns the configured strategy code.
func (s *Session) StrategyCode() int64 { return s.strategyCode }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Token returns the session token of the most recent connection attempt.
func (s *Session) Token() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token
}

// StrategyTag is the tag attached to orders placed through this session.
func (s *Session) StrategyTag() string {
	return fmt.Sprintf("quant_%d", s.strategyCode)
}

// Connect establishes the session. Up to three attempts with a one second
// pause; each attempt allocates a fresh token and a fresh transport handle.
// On exhaustion a notification is emitted and the fatal hook fires: a trading
// process with no working broker link must not continue silently.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connectLocked(ctx)
}

// Reconnect forces a fresh connection even if the session believes it is
// healthy. The execution engine calls this between submission retries.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.tryConnectLocked(attempt); err != nil {
			lastErr = err
			if errors.HasCode(err, errors.ErrCodeSubscribeFailed) {
				// an unsubscribed session cannot trade safely
				s.fatal(fmt.Sprintf("account %s subscription failed: %v", s.accountID, err))

				return err
			}

			s.sleep(connectPause)

			continue
		}

		return nil
	}

	msg := fmt.Sprintf("failed to connect broker link for %s after %d attempts", s.accountID, connectAttempts)
	s.log.Error(msg, zap.Error(lastErr))
	s.notifier.Send(context.Background(), msg)
	s.fatal(msg)

	return errors.Wrap(errors.ErrCodeConnectFailed, msg, lastErr)
}

func (s *Session) tryConnectLocked(attempt int) error {
	s.token++
	s.state.Store(int32(StateConnecting))

	s.log.Info("connecting broker link",
		zap.String("account_id", s.accountID),
		zap.Int64("session_token", s.token),
		zap.Int("attempt", attempt),
	)

	link, err := s.factory(s.token)
	if err != nil {
		s.state.Store(int32(StateFailed))

		return errors.Wrap(errors.ErrCodeConnectFailed, "link construction failed", err)
	}

	link.RegisterCallback(&sink{session: s, token: s.token})

	if err := link.Start(); err != nil {
		link.Close()
		s.state.Store(int32(StateFailed))

		return errors.Wrap(errors.ErrCodeConnectFailed, "link start failed", err)
	}

	if err := link.Connect(); err != nil {
		link.Close()
		s.state.Store(int32(StateFailed))

		return errors.Wrap(errors.ErrCodeConnectFailed, "connect handshake failed", err)
	}

	s.state.Store(int32(StateConnected))

	if err := link.Subscribe(s.accountID); err != nil {
		link.Close()
		s.state.Store(int32(StateFailed))

		return errors.Wrap(errors.ErrCodeSubscribeFailed, "account subscription failed", err)
	}

	// replace, never share: the old handle is closed only after the new one
	// is fully subscribed
	if s.link != nil {
		s.link.Close()
	}

	s.link = link
	s.state.Store(int32(StateSubscribed))
	s.log.Info("broker link subscribed",
		zap.String("account_id", s.accountID),
		zap.Int64("session_token", s.token),
	)

	return nil
}

// ensureLinkLocked lazily reconnects when the session has no healthy link.
// The disconnect callback only flips state; this is where recovery happens.
func (s *Session) ensureLinkLocked(ctx context.Context) error {
	if s.link != nil && s.State() == StateSubscribed {
		return nil
	}

	return s.connectLocked(ctx)
}

// queryPolicy builds the bounded reconnect-and-retry policy shared by the
// query paths.
func (s *Session) queryPolicy(ctx context.Context, attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Interval:    time.Second,
		BeforeRetry: func(_ int, err error) {
			s.log.Info("query failed, reconnecting broker link",
				zap.String("account_id", s.accountID),
				zap.Error(err),
			)
			_ = s.connectLocked(ctx)
		},
	}
}

// Portfolio fetches the account asset snapshot. Transport errors trigger a
// reconnect and one retry before surfacing.
func (s *Session) Portfolio(ctx context.Context) (broker.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out broker.Portfolio

	err := s.queryPolicy(ctx, portfolioAttempts).Do(ctx, func() error {
		if err := s.ensureLinkLocked(ctx); err != nil {
			return err
		}

		raw, err := s.link.QueryAsset(s.accountID)
		if err != nil {
			s.state.Store(int32(StateDisconnected))

			return errors.Wrap(errors.ErrCodeQueryFailed, "asset query failed", err)
		}

		folded, err := raw.Fold()
		if err != nil {
			return err
		}

		out = folded

		return nil
	})

	return out, err
}

// Positions fetches every position matching the filter, keyed by venue
// symbol. Transport errors trigger reconnect and bounded retries.
func (s *Session) Positions(ctx context.Context, filter PositionFilter) (map[string]broker.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.positionsLocked(ctx, filter)
}

func (s *Session) positionsLocked(ctx context.Context, filter PositionFilter) (map[string]broker.Position, error) {
	var out map[string]broker.Position

	err := s.queryPolicy(ctx, positionAttempts).Do(ctx, func() error {
		if err := s.ensureLinkLocked(ctx); err != nil {
			return err
		}

		raws, err := s.link.QueryPositions(s.accountID)
		if err != nil {
			s.state.Store(int32(StateDisconnected))

			return errors.Wrap(errors.ErrCodeQueryFailed, "position query failed", err)
		}

		m := make(map[string]broker.Position, len(raws))

		for _, raw := range raws {
			pos, err := raw.Fold()
			if err != nil {
				s.log.Warn("skipping malformed position record", zap.Error(err))

				continue
			}

			if filter.match(pos) {
				m[pos.Symbol] = pos
			}
		}

		out = m

		return nil
	})

	return out, err
}

// PlaceOrder submits a single order through the current link. No retries
// here; the execution engine owns the submission retry policy.
func (s *Session) PlaceOrder(ctx context.Context, req broker.PlaceOrderRequest) (broker.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLinkLocked(ctx); err != nil {
		return 0, err
	}

	req.AccountID = s.accountID

	id, err := s.link.PlaceOrder(req)
	if err != nil {
		s.state.Store(int32(StateDisconnected))

		return 0, errors.Wrap(errors.ErrCodeLinkDown, "order submission failed", err)
	}

	if !id.Valid() {
		return 0, errors.Newf(errors.ErrCodeOrderFailed, "broker returned sentinel order id %d", id)
	}

	return id, nil
}

// CancelOrder cancels one order by its broker handle.
func (s *Session) CancelOrder(ctx context.Context, id broker.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLinkLocked(ctx); err != nil {
		return err
	}

	if err := s.link.CancelOrder(s.accountID, id); err != nil {
		return errors.Wrapf(errors.ErrCodeCancelFailed, err, "cancel failed for order %d", id)
	}

	return nil
}

// CancelAllBySide cancels every cancelable order on the given side and
// returns the handles it canceled. One failed cancel does not stop the scan.
func (s *Session) CancelAllBySide(ctx context.Context, side broker.Side) ([]broker.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLinkLocked(ctx); err != nil {
		return nil, err
	}

	orders, err := s.link.QueryOrders(s.accountID, true)
	if err != nil {
		s.state.Store(int32(StateDisconnected))

		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "order query failed", err)
	}

	var canceled []broker.OrderID

	for _, order := range orders {
		if order.Side != side || !broker.Cancelable(order.Status) {
			continue
		}

		if err := s.link.CancelOrder(s.accountID, order.OrderID); err != nil {
			s.log.Warn("cancel failed",
				zap.String("account_id", s.accountID),
				zap.Int64("order_id", int64(order.OrderID)),
				zap.Error(err),
			)
			s.notifier.Send(ctx, fmt.Sprintf("cancel failed: account %s order %d", s.accountID, order.OrderID))

			continue
		}

		canceled = append(canceled, order.OrderID)
		s.notifier.Send(ctx, fmt.Sprintf("canceled %s order %d on account %s", side, order.OrderID, s.accountID))
	}

	return canceled, nil
}

// Orders lists broker-reported orders for this session.
func (s *Session) Orders(ctx context.Context, cancelableOnly bool) ([]broker.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLinkLocked(ctx); err != nil {
		return nil, err
	}

	orders, err := s.link.QueryOrders(s.accountID, cancelableOnly)
	if err != nil {
		s.state.Store(int32(StateDisconnected))

		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "order query failed", err)
	}

	return orders, nil
}

// Order fetches one broker-reported order by handle.
func (s *Session) Order(ctx context.Context, id broker.OrderID) (broker.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLinkLocked(ctx); err != nil {
		return broker.OrderRecord{}, err
	}

	order, err := s.link.QueryOrder(s.accountID, id)
	if err != nil {
		return broker.OrderRecord{}, errors.Wrapf(errors.ErrCodeOrderNotFound, err, "order %d not found", id)
	}

	return order, nil
}

// Close shuts the transport handle down at process shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link != nil {
		s.link.Close()
		s.link = nil
	}

	s.state.Store(int32(StateDisconnected))
}
