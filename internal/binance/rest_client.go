package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"paper-trader-go/internal/config"
	"paper-trader-go/internal/market"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	maxKlineLimit  = 1000
)

// RestClientInterface defines the market-data calls the trader needs.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error)
	GetInstruments(ctx context.Context, symbols []string) (map[string]market.Instrument, error)
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]market.Bar, error)
}

// RestClient is a client for the public Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, "GET", "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else if ctx.Err() == nil { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			if resp == nil || resp.StatusCode() == 0 {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// We are interested in the LOT_SIZE filter to get the stepSize.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetContext(ctx).
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// GetInstruments returns the lot-size rules of symbols. Symbols without a
// LOT_SIZE filter are reported as an error.
func (c *RestClient) GetInstruments(ctx context.Context, symbols []string) (map[string]market.Instrument, error) {
	info, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	out := make(map[string]market.Instrument, len(symbols))
	for _, s := range info.Symbols {
		if !wanted[s.Symbol] {
			continue
		}
		inst, err := s.Instrument()
		if err != nil {
			return nil, err
		}
		out[s.Symbol] = inst
	}
	for _, s := range symbols {
		if _, ok := out[s]; !ok {
			return nil, fmt.Errorf("symbol %s not found in exchange info", s)
		}
	}
	return out, nil
}

// Instrument converts the LOT_SIZE filter into lot-size rules.
func (s SymbolInfo) Instrument() (market.Instrument, error) {
	for _, f := range s.Filters {
		if f.FilterType != "LOT_SIZE" {
			continue
		}
		step, err := decimal.NewFromString(f.StepSize)
		if err != nil {
			return market.Instrument{}, fmt.Errorf("invalid stepSize %q for %s: %w", f.StepSize, s.Symbol, err)
		}
		minQty, err := decimal.NewFromString(f.MinQty)
		if err != nil {
			return market.Instrument{}, fmt.Errorf("invalid minQty %q for %s: %w", f.MinQty, s.Symbol, err)
		}
		return market.Instrument{Symbol: s.Symbol, StepSize: step, MinQty: minQty}, nil
	}
	return market.Instrument{}, fmt.Errorf("LOT_SIZE filter not found for symbol %s", s.Symbol)
}

// GetKlines fetches candles opening within [start, end]. Rows are arrays of
// [openTime, open, high, low, close, volume, closeTime, ...].
func (c *RestClient) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]market.Bar, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if !start.IsZero() {
		params["startTime"] = strconv.FormatInt(start.UnixMilli(), 10)
	}
	if !end.IsZero() {
		params["endTime"] = strconv.FormatInt(end.UnixMilli(), 10)
	}

	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(params)

	resp, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}
	return parseKlines(symbol, interval, resp.Body())
}

func parseKlines(symbol, interval string, body []byte) ([]market.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid klines payload for %s", symbol)
	}
	rows := gjson.ParseBytes(body).Array()
	bars := make([]market.Bar, 0, len(rows))
	for i, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			return nil, fmt.Errorf("kline row %d for %s has %d columns", i, symbol, len(cols))
		}
		values := make([]decimal.Decimal, 5)
		for j := range values {
			v, err := decimal.NewFromString(cols[j+1].String())
			if err != nil {
				return nil, fmt.Errorf("kline row %d for %s column %d: %w", i, symbol, j+1, err)
			}
			values[j] = v
		}
		bars = append(bars, market.Bar{
			Symbol:    symbol,
			Timeframe: interval,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
			Time:      time.UnixMilli(cols[0].Int()).UTC(),
		})
	}
	return bars, nil
}
