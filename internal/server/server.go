// Package server exposes the trading gateway over HTTP. All routes live
// under /qmt/trade/api; humans authenticate with a login cookie, machine
// callers with signed requests, and a few read routes accept either.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantbridge/quantbridge/internal/auth"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/internal/registry"
)

// BasePath is the common prefix of every gateway route.
const BasePath = "/qmt/trade/api"

// Options carries the server's collaborators and listener settings.
type Options struct {
	Addr         string
	Registry     *registry.Registry
	Verifier     *auth.Verifier
	Logins       *auth.LoginStore
	Log          *logger.Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP front of the gateway.
type Server struct {
	registry *registry.Registry
	verifier *auth.Verifier
	logins   *auth.LoginStore
	log      *logger.Logger

	http *http.Server
}

// New builds the server and its route table.
func New(opts Options) *Server {
	s := &Server{
		registry: opts.Registry,
		verifier: opts.Verifier,
		logins:   opts.Logins,
		log:      opts.Log,
	}

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	return s
}

// Router builds the route table. Exposed separately so tests can drive the
// handler stack without a listener.
func (s *Server) Router() http.Handler {
	root := mux.NewRouter()
	api := root.PathPrefix(BasePath).Subrouter()
	api.Use(s.requestLog, s.recoverPanic)

	// open
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	// browser session
	browser := api.NewRoute().Subrouter()
	browser.Use(s.requireLogin)
	browser.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	browser.HandleFunc("/trade", s.handleTrade).Methods(http.MethodPost)
	browser.HandleFunc("/sell", s.handleSell).Methods(http.MethodPost)
	browser.HandleFunc("/trade/allin", s.handleAllIn).Methods(http.MethodPost)
	browser.HandleFunc("/trade/nhg", s.handleReverseRepo).Methods(http.MethodPost)

	// signed machine callers
	signed := api.NewRoute().Subrouter()
	signed.Use(s.requireSignature)
	signed.HandleFunc("/outer/trade/buy", s.handleOuterBuy).Methods(http.MethodPost)
	signed.HandleFunc("/outer/trade/sell", s.handleOuterSell).Methods(http.MethodPost)
	signed.HandleFunc("/outer/trade/batch/buy", s.handleOuterBatchBuy).Methods(http.MethodPost)
	signed.HandleFunc("/outer/trade/batch/sell", s.handleOuterBatchSell).Methods(http.MethodPost)
	signed.HandleFunc("/cancel_order", s.handleCancelOrder).Methods(http.MethodPost)
	signed.HandleFunc("/order", s.handleOrder).Methods(http.MethodPost)
	signed.HandleFunc("/orders", s.handleOrders).Methods(http.MethodPost)
	signed.HandleFunc("/cancel_orders/sale", s.handleCancelSales).Methods(http.MethodPost)
	signed.HandleFunc("/cancel_orders/buy", s.handleCancelBuys).Methods(http.MethodPost)

	// read routes accept either credential
	read := api.NewRoute().Subrouter()
	read.Use(s.requireLoginOrSignature)
	read.HandleFunc("/accounts", s.handleAccounts).Methods(http.MethodGet)
	read.HandleFunc("/portfolio/{trader_index}", s.handlePortfolio).Methods(http.MethodGet)
	read.HandleFunc("/positions/{trader_index}", s.handlePositions).Methods(http.MethodGet)

	return root
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("gateway listening", addrField(s.http.Addr))

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
