// Command gateway runs the trading gateway: it connects one broker session
// per configured account and serves the signed HTTP trading API in front of
// them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/quantbridge/quantbridge/internal/auth"
	"github.com/quantbridge/quantbridge/internal/broker"
	"github.com/quantbridge/quantbridge/internal/config"
	"github.com/quantbridge/quantbridge/internal/engine"
	"github.com/quantbridge/quantbridge/internal/logger"
	"github.com/quantbridge/quantbridge/internal/notify"
	"github.com/quantbridge/quantbridge/internal/registry"
	"github.com/quantbridge/quantbridge/internal/server"
	"github.com/quantbridge/quantbridge/internal/session"
	"github.com/quantbridge/quantbridge/internal/version"
)

const simStartingCash = 1_000_000

func main() {
	cmd := &cli.Command{
		Name:    "gateway",
		Usage:   "Signed HTTP gateway for brokerage trading sessions",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "sim",
				Usage: "Use the in-memory broker simulator instead of the terminal bridge",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	configPath := env.ConfigPath
	if cmd.String("config") != "" {
		configPath = cmd.String("config")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cmd.String("addr") != "" {
		cfg.Server.Addr = cmd.String("addr")
	}

	sim := env.Sim || cmd.Bool("sim")
	if !sim && cfg.Broker.BridgeURL == "" {
		return fmt.Errorf("broker.bridge_url is required outside simulation mode")
	}

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("gateway starting",
		zap.String("version", version.Version),
		zap.String("config", configPath),
		zap.Bool("sim", sim),
		zap.Int("accounts", len(cfg.Accounts)),
	)

	notifier := buildNotifier(cfg.Notify, log)

	factory, quotes := buildBroker(cfg, sim)

	fatal := func(msg string) {
		notifier.Send(context.Background(), "gateway down: "+msg)
		log.Error("fatal broker condition, exiting", zap.String("reason", msg))
		_ = log.Sync()
		os.Exit(1)
	}

	engines := make([]*engine.Engine, 0, len(cfg.Accounts))
	sessions := make([]*session.Session, 0, len(cfg.Accounts))

	for _, account := range cfg.Accounts {
		sess := session.New(session.Config{
			AccountID:    account.AccountID,
			StrategyCode: account.StrategyCode,
			DisplayName:  account.DisplayName,
		}, factory, quotes, notifier, log, fatal)

		if err := sess.Connect(ctx); err != nil {
			return err
		}

		sessions = append(sessions, sess)
		engines = append(engines, engine.New(sess, quotes, notifier, log))
	}

	srv := server.New(server.Options{
		Addr:         cfg.Server.Addr,
		Registry:     registry.New(engines),
		Verifier:     auth.NewVerifier(cfg.ClientSecrets(), cfg.Server.SignatureTolerance.Std()),
		Logins:       auth.NewLoginStore(env.CookieSecret, cfg.UserTable()),
		Log:          log,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	})

	errCh := make(chan error, 1)

	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}

	for _, sess := range sessions {
		sess.Close()
	}

	return nil
}

// buildBroker picks the transport: the terminal bridge in production, the
// in-memory simulator under --sim.
func buildBroker(cfg *config.Config, sim bool) (broker.LinkFactory, broker.QuoteClient) {
	if sim {
		// one shared simulated book per account would complicate nothing the
		// simulator is for; each link gets its own
		factory := func(int64) (broker.Link, error) {
			return broker.NewSimLink(simStartingCash), nil
		}

		return factory, broker.SimQuotes{Prices: map[string]float64{}, Names: map[string]string{}}
	}

	factory := func(sessionToken int64) (broker.Link, error) {
		return broker.NewBridgeLink(cfg.Broker.BridgeURL, sessionToken), nil
	}

	return factory, broker.NewBridgeQuotes(cfg.Broker.BridgeURL)
}

// buildNotifier wires the webhook notifier when configured, a no-op sink
// otherwise.
func buildNotifier(cfg config.Notify, log *logger.Logger) notify.Notifier {
	if cfg.WebhookURL == "" {
		return notify.Nop{}
	}

	w := notify.NewWebhook(cfg.WebhookURL, cfg.AccessToken, cfg.Secret, log)
	if cfg.AtAll {
		w.MentionAll()
	}

	return w
}
