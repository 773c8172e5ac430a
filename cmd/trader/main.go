package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/marlinquant/marlin-trading/internal/api"
	"github.com/marlinquant/marlin-trading/internal/broker"
	"github.com/marlinquant/marlin-trading/internal/config"
	"github.com/marlinquant/marlin-trading/internal/engine"
	"github.com/marlinquant/marlin-trading/internal/logger"
	"github.com/marlinquant/marlin-trading/internal/marketdata"
	"github.com/marlinquant/marlin-trading/internal/metrics"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// runAction loads the configuration and runs one trading session until the
// process receives SIGINT or SIGTERM.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if symbolsFlag := cmd.String("symbols"); symbolsFlag != "" {
		symbols := strings.Split(symbolsFlag, ",")
		for i := range symbols {
			symbols[i] = strings.TrimSpace(symbols[i])
		}

		cfg.Symbols = symbols
	}

	if cmd.Bool("paper") {
		cfg.Broker.Type = config.BrokerPaper
	}

	appLog, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	defer func() {
		_ = appLog.Sync()
	}()

	feed, err := buildFeed(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()

	gateway, err := buildGateway(cfg, m)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, feed, gateway, appLog, m, engine.Callbacks{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *api.Server
	if cfg.API.ListenAddr != "" {
		server = api.NewServer(cfg.API.ListenAddr, eng.Tracker(), m, appLog)

		go func() {
			if err := server.Start(); err != nil {
				appLog.Error("api server failed", zap.Error(err))
			}
		}()
	}

	runErr := eng.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Error("api server shutdown failed", zap.Error(err))
		}
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}

	return nil
}

func buildFeed(cfg config.Config) (marketdata.Feed, error) {
	switch cfg.Feed.Type {
	case marketdata.FeedBinance:
		return marketdata.NewFeed(marketdata.FeedBinance, nil)
	case marketdata.FeedWebsocket:
		return marketdata.NewFeed(marketdata.FeedWebsocket, cfg.Feed.URL)
	case marketdata.FeedReplay:
		bars, err := marketdata.LoadBars(cfg.Feed.File)
		if err != nil {
			return nil, err
		}

		return marketdata.NewFeed(marketdata.FeedReplay, bars)
	default:
		return nil, errors.Newf(errors.ErrCodeFatalConfig, "unknown feed type: %s", cfg.Feed.Type)
	}
}

func buildGateway(cfg config.Config, m *metrics.Metrics) (broker.Gateway, error) {
	switch cfg.Broker.Type {
	case config.BrokerPaper:
		return broker.NewPaperGateway(cfg.Broker.InitialBalance), nil
	case config.BrokerBinance:
		gateway := broker.NewBinanceGateway(*cfg.Binance())

		return broker.NewRetryingGateway(gateway, cfg.Retry).
			WithRetryNotify(func(symbol string) {
				m.OrderRetries.WithLabelValues(symbol).Inc()
			}), nil
	default:
		return nil, errors.Newf(errors.ErrCodeFatalConfig, "unknown broker type: %s", cfg.Broker.Type)
	}
}

// schemaAction prints the JSON schema of the configuration file.
func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "trader",
		Usage: "Automated market trading agent",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a trading session",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the YAML configuration file",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "symbols",
						Aliases: []string{"s"},
						Usage:   "Comma-separated symbol override",
					},
					&cli.BoolFlag{
						Name:  "paper",
						Usage: "Force the paper gateway regardless of config",
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "Print the configuration JSON schema",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
