package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"paper-trader-go/internal/backtest"
	"paper-trader-go/internal/binance"
	"paper-trader-go/internal/config"
	"paper-trader-go/internal/database"
	"paper-trader-go/internal/feed"
	"paper-trader-go/internal/logger"
	"paper-trader-go/internal/market"
	"paper-trader-go/internal/strategy"
)

// session is the state shared by every command.
type session struct {
	cfg config.Config
	log *zap.Logger
}

func setup(c *cli.Context) (*session, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if name := c.String("strategy"); name != "" {
		cfg.Strategy.Name = name
	}

	base, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	log := logger.ForCommand(base, c.Command.Name)
	log.Info("Configuration loaded", zap.String("path", configPath), zap.String("strategy", cfg.Strategy.Name))
	return &session{cfg: cfg, log: log}, nil
}

func (s *session) close() {
	_ = s.log.Sync()
}

func (s *session) strategy() (strategy.Strategy, error) {
	return strategy.New(s.cfg.Strategy.Name, strategy.Params(s.cfg.Strategy.Params), s.cfg.Strategy.Sizing())
}

func (s *session) engine(tf market.Timeframe, instruments map[string]market.Instrument) (*backtest.Engine, error) {
	return backtest.NewEngine(backtest.Config{
		InitialCash:  decimal.NewFromFloat(s.cfg.Backtest.InitialCash),
		Timeframe:    tf,
		Limits:       s.cfg.Risk.Limits(),
		Execution:    s.cfg.Execution.Simulator(),
		Instruments:  instruments,
		RiskFreeRate: s.cfg.Backtest.RiskFreeRate,
		AllowGaps:    s.cfg.Backtest.AllowGaps,
	}, s.log)
}

func (s *session) store() (*database.Store, error) {
	db, err := database.NewDatabase(s.cfg.Database)
	if err != nil {
		return nil, err
	}
	s.log.Info("Database connection successful and schema migrated.", zap.String("driver", s.cfg.Database.Driver))
	return database.NewStore(db), nil
}

// connect returns a market-data client after checking Binance is reachable.
func (s *session) connect(ctx context.Context) (*binance.RestClient, error) {
	client := binance.NewRestClient(&s.cfg.Binance, s.log)
	if _, err := client.GetServerTime(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Binance API: %w", err)
	}
	s.log.Info("Successfully connected to Binance API.")
	return client, nil
}

// history opens the configured historical source for the backtest range.
// Instruments are only known for the binance source.
func (s *session) history(ctx context.Context, tf market.Timeframe) (feed.Feed, map[string]market.Instrument, error) {
	symbols := s.cfg.Backtest.Symbols
	if len(symbols) == 0 {
		return nil, nil, errors.New("backtest.symbols must not be empty")
	}
	start, end, err := s.cfg.Backtest.Range()
	if err != nil {
		return nil, nil, err
	}

	if s.cfg.Backtest.Source == "csv" {
		feeds := make([]feed.Feed, 0, len(symbols))
		for _, symbol := range symbols {
			path := filepath.Join(s.cfg.Backtest.DataDir, strings.ToUpper(symbol)+".csv")
			f, err := feed.OpenCSV(path, symbol, tf.Key)
			if err != nil {
				for _, opened := range feeds {
					_ = opened.Close()
				}
				return nil, nil, err
			}
			feeds = append(feeds, f)
		}
		return feed.Between(feed.Merge(feeds...), start, end), nil, nil
	}

	client, err := s.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	instruments, err := client.GetInstruments(ctx, symbols)
	if err != nil {
		return nil, nil, err
	}
	return feed.NewHistories(client, symbols, tf, start, end, s.log), instruments, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shutdownTimeout bounds how long the API server may take to drain.
const shutdownTimeout = 5 * time.Second
