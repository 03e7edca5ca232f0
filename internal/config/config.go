package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"paper-trader-go/internal/execution"
	"paper-trader-go/internal/market"
	"paper-trader-go/internal/risk"
	"paper-trader-go/internal/strategy"
)

// Config holds all configuration for the application.
type Config struct {
	Binance     Binance     `mapstructure:"binance"`
	Backtest    Backtest    `mapstructure:"backtest"`
	Execution   Execution   `mapstructure:"execution"`
	Risk        Risk        `mapstructure:"risk"`
	Strategy    Strategy    `mapstructure:"strategy"`
	WalkForward WalkForward `mapstructure:"walkforward"`
	MonteCarlo  MonteCarlo  `mapstructure:"montecarlo"`
	Paper       Paper       `mapstructure:"paper"`
	Logger      Logger      `mapstructure:"logger"`
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
}

// Binance holds the configuration for the public Binance market-data API.
type Binance struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Backtest holds the replay settings. Source is "binance" or "csv"; CSV
// files are read from DataDir as <SYMBOL>.csv.
type Backtest struct {
	Symbols      []string `mapstructure:"symbols"`
	Timeframe    string   `mapstructure:"timeframe"`
	Start        string   `mapstructure:"start"`
	End          string   `mapstructure:"end"`
	InitialCash  float64  `mapstructure:"initial_cash"`
	Source       string   `mapstructure:"source"`
	DataDir      string   `mapstructure:"data_dir"`
	AllowGaps    bool     `mapstructure:"allow_gaps"`
	RiskFreeRate float64  `mapstructure:"risk_free_rate"`
	Persist      bool     `mapstructure:"persist"`
}

// Execution holds the fill simulation settings.
type Execution struct {
	SlippageModel     string  `mapstructure:"slippage_model"`
	SlippageBPS       float64 `mapstructure:"slippage_bps"`
	ImpactBPS         float64 `mapstructure:"impact_bps"`
	MaxSlippageBPS    float64 `mapstructure:"max_slippage_bps"`
	CommissionFlat    float64 `mapstructure:"commission_flat"`
	CommissionPerUnit float64 `mapstructure:"commission_per_unit"`
	CommissionRate    float64 `mapstructure:"commission_rate"`
	LiquidityModel    string  `mapstructure:"liquidity_model"`
	MaxVolumeFraction float64 `mapstructure:"max_volume_fraction"`
}

// Risk holds the static risk limits.
type Risk struct {
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade"`
	MaxPositionSize float64 `mapstructure:"max_position_size"`
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss"`
	MaxPortfolioVaR float64 `mapstructure:"max_portfolio_var"`
	VaRConfidence   float64 `mapstructure:"var_confidence"`
	VaRLookback     int     `mapstructure:"var_lookback"`
	MaxDrawdown     float64 `mapstructure:"max_drawdown"`
}

// Strategy selects a built-in strategy and its sizing.
type Strategy struct {
	Name          string             `mapstructure:"name"`
	Params        map[string]float64 `mapstructure:"params"`
	Fraction      float64            `mapstructure:"fraction"`
	RiskPerTrade  float64            `mapstructure:"risk_per_trade"`
	StopLossPct   float64            `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64            `mapstructure:"take_profit_pct"`
	QuantityStep  float64            `mapstructure:"quantity_step"`
}

// WalkForward holds window sizes in bars and the parameter grid searched per window.
type WalkForward struct {
	TrainBars   int                  `mapstructure:"train_bars"`
	TestBars    int                  `mapstructure:"test_bars"`
	StepBars    int                  `mapstructure:"step_bars"`
	Objective   string               `mapstructure:"objective"`
	Concurrency int                  `mapstructure:"concurrency"`
	Grid        map[string][]float64 `mapstructure:"grid"`
}

// MonteCarlo holds the trade resampling settings.
type MonteCarlo struct {
	Iterations int   `mapstructure:"iterations"`
	Seed       int64 `mapstructure:"seed"`
}

// Paper holds the live paper-trading session settings.
type Paper struct {
	Symbols     []string `mapstructure:"symbols"`
	Timeframe   string   `mapstructure:"timeframe"`
	InitialCash float64  `mapstructure:"initial_cash"`
	WarmupBars  int      `mapstructure:"warmup_bars"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database. Driver is "sqlite" or "postgres".
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger. Output lists zap sink
// paths such as "stderr" or a file path.
type Logger struct {
	Level  string   `mapstructure:"level"`
	Format string   `mapstructure:"format"`
	Output []string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size

	v.SetDefault("backtest.timeframe", "1h")
	v.SetDefault("backtest.initial_cash", 10000)
	v.SetDefault("backtest.source", "binance")
	v.SetDefault("backtest.data_dir", "./data")

	v.SetDefault("execution.slippage_model", execution.SlippageFixedBPS)
	v.SetDefault("execution.slippage_bps", 5)
	v.SetDefault("execution.commission_rate", 0.001)
	v.SetDefault("execution.liquidity_model", execution.LiquidityInfinite)

	limits := risk.DefaultLimits()
	v.SetDefault("risk.max_risk_per_trade", limits.MaxRiskPerTrade)
	v.SetDefault("risk.max_position_size", limits.MaxPositionSize)
	v.SetDefault("risk.max_daily_loss", limits.MaxDailyLoss)
	v.SetDefault("risk.max_portfolio_var", limits.MaxPortfolioVaR)
	v.SetDefault("risk.var_confidence", limits.VaRConfidence)
	v.SetDefault("risk.var_lookback", limits.VaRLookback)
	v.SetDefault("risk.max_drawdown", limits.MaxDrawdown)

	v.SetDefault("strategy.name", "ma_crossover")
	v.SetDefault("strategy.fraction", 0.1)

	v.SetDefault("walkforward.objective", "sharpe")
	v.SetDefault("montecarlo.iterations", 1000)
	v.SetDefault("montecarlo.seed", 1)

	v.SetDefault("paper.timeframe", "1m")
	v.SetDefault("paper.initial_cash", 10000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", []string{"stderr"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "paper-trader.db")
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return
}

// Limits converts the risk section.
func (r Risk) Limits() risk.Limits {
	return risk.Limits{
		MaxRiskPerTrade: r.MaxRiskPerTrade,
		MaxPositionSize: r.MaxPositionSize,
		MaxDailyLoss:    r.MaxDailyLoss,
		MaxPortfolioVaR: r.MaxPortfolioVaR,
		VaRConfidence:   r.VaRConfidence,
		VaRLookback:     r.VaRLookback,
		MaxDrawdown:     r.MaxDrawdown,
	}
}

// Sizing converts the sizing part of the strategy section. Unset fraction
// and step fall back to the strategy defaults.
func (s Strategy) Sizing() strategy.Sizing {
	sizing := strategy.DefaultSizing()
	if s.Fraction > 0 {
		sizing.Fraction = s.Fraction
	}
	if s.QuantityStep > 0 {
		sizing.QuantityStep = decimal.NewFromFloat(s.QuantityStep)
	}
	sizing.RiskPerTrade = s.RiskPerTrade
	sizing.StopLossPct = s.StopLossPct
	sizing.TakeProfitPct = s.TakeProfitPct
	return sizing
}

// Simulator converts the execution section.
func (e Execution) Simulator() execution.Config {
	return execution.Config{
		SlippageModel:     e.SlippageModel,
		SlippageBPS:       e.SlippageBPS,
		ImpactBPS:         e.ImpactBPS,
		MaxSlippageBPS:    e.MaxSlippageBPS,
		CommissionFlat:    e.CommissionFlat,
		CommissionPerUnit: e.CommissionPerUnit,
		CommissionRate:    e.CommissionRate,
		LiquidityModel:    e.LiquidityModel,
		MaxVolumeFraction: e.MaxVolumeFraction,
	}
}

// dateLayouts are accepted for backtest start and end.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC3339", raw)
}

// Range returns the backtest start and end times.
func (b Backtest) Range() (time.Time, time.Time, error) {
	start, err := parseDate(b.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.start: %w", err)
	}
	end, err := parseDate(b.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.end %s must be after start %s", b.End, b.Start)
	}
	return start, end, nil
}

// Validate checks the settings every run depends on.
func (c Config) Validate() error {
	var errs []error
	if err := c.Risk.Limits().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := market.ParseTimeframe(c.Backtest.Timeframe); err != nil {
		errs = append(errs, fmt.Errorf("backtest.timeframe: %w", err))
	}
	if c.Backtest.InitialCash <= 0 {
		errs = append(errs, errors.New("backtest.initial_cash must be positive"))
	}
	switch c.Backtest.Source {
	case "binance", "csv":
	default:
		errs = append(errs, fmt.Errorf("backtest.source must be binance or csv, got %q", c.Backtest.Source))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Execution.SlippageBPS < 0 || c.Execution.CommissionRate < 0 || c.Execution.CommissionFlat < 0 || c.Execution.CommissionPerUnit < 0 {
		errs = append(errs, errors.New("execution costs must not be negative"))
	}
	return errors.Join(errs...)
}
