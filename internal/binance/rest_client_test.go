package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"paper-trader-go/internal/config"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().SetBaseURL(server.URL)
	logger := zap.NewNop() // Use a no-op logger for tests

	rc := &RestClient{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}

	return rc, server
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		expectedTime := time.Now().UnixMilli()
		mockResponse := fmt.Sprintf(`{"serverTime": %d}`, expectedTime)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/time", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		serverTime, err := rc.GetServerTime(context.Background())

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, expectedTime, serverTime)
	})

	t.Run("ClientErrorIsNotRetried", func(t *testing.T) {
		// Arrange
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1100, "msg": "Illegal characters"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		serverTime, err := rc.GetServerTime(context.Background())

		// Assert
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get server time")
		assert.Contains(t, err.Error(), "request failed")
		assert.Equal(t, int64(0), serverTime)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("RetriesRateLimitUntilContextEnds", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		// Act
		_, err := rc.GetServerTime(ctx)

		// Assert
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestGetKlines(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/klines", r.URL.Path)
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "1h", r.URL.Query().Get("interval"))
			assert.Equal(t, "1714521600000", r.URL.Query().Get("startTime"))
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				[1714521600000,"60000.00","60500.00","59800.00","60200.00","120.5",1714525199999,"0",10,"0","0","0"],
				[1714525200000,"60200.00","60300.00","60100.00","60150.00","80.25",1714528799999,"0",8,"0","0","0"]
			]`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()
		start := time.UnixMilli(1714521600000)

		// Act
		bars, err := rc.GetKlines(context.Background(), "BTCUSDT", "1h", start, time.Time{}, 2)

		// Assert
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, start.UTC(), bars[0].Time)
		assert.True(t, decimal.RequireFromString("60200").Equal(bars[0].Close))
		assert.True(t, decimal.RequireFromString("80.25").Equal(bars[1].Volume))
		assert.Equal(t, "BTCUSDT", bars[1].Symbol)
		for _, b := range bars {
			assert.NoError(t, b.Validate())
		}
	})

	t.Run("MalformedRow", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[[1714521600000,"abc","1","1","1","1"]]`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.GetKlines(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{}, 0)
		assert.Error(t, err)
	})
}

func TestGetInstruments(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchangeInfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","filters":[{"filterType":"PRICE_FILTER"},{"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000","stepSize":"0.00001000"}]},
			{"symbol":"ETHUSDT","status":"TRADING","filters":[{"filterType":"LOT_SIZE","minQty":"0.0001","maxQty":"9000","stepSize":"0.0001"}]}
		]}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	t.Run("Success", func(t *testing.T) {
		instruments, err := rc.GetInstruments(context.Background(), []string{"BTCUSDT"})

		require.NoError(t, err)
		require.Contains(t, instruments, "BTCUSDT")
		assert.NotContains(t, instruments, "ETHUSDT")
		assert.True(t, decimal.RequireFromString("0.00001").Equal(instruments["BTCUSDT"].StepSize))
	})

	t.Run("UnknownSymbol", func(t *testing.T) {
		_, err := rc.GetInstruments(context.Background(), []string{"DOGEUSDT"})
		assert.ErrorContains(t, err, "DOGEUSDT")
	})
}

func TestSymbolInfoInstrument_MissingLotSize(t *testing.T) {
	_, err := SymbolInfo{Symbol: "XYZ", Filters: []Filter{{FilterType: "PRICE_FILTER"}}}.Instrument()
	assert.ErrorContains(t, err, "LOT_SIZE")
}

func TestNewRestClient(t *testing.T) {
	t.Run("Testnet", func(t *testing.T) {
		cfg := &config.Binance{Testnet: true, RateLimit: 10, RateLimitBurst: 2}
		rc := NewRestClient(cfg, zap.NewNop())
		assert.NotNil(t, rc)
		assert.Equal(t, testnetBaseURL, rc.client.BaseURL)
		assert.Equal(t, 2, rc.limiter.Burst())
	})

	t.Run("Production", func(t *testing.T) {
		cfg := &config.Binance{Testnet: false}
		rc := NewRestClient(cfg, zap.NewNop())
		assert.NotNil(t, rc)
		assert.Equal(t, baseURL, rc.client.BaseURL)
	})
}
