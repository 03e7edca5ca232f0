package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"paper-trader-go/internal/database"
	"paper-trader-go/internal/models"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupHandler(t *testing.T) (*APIHandler, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	h := NewAPIHandler(zap.NewNop(), database.NewStore(db))
	h.now = func() time.Time { return now }
	return h, db
}

func get(t *testing.T, h *APIHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.Router().ServeHTTP(rr, req)
	return rr
}

func TestStatisticsHandler(t *testing.T) {
	// Arrange
	h, db := setupHandler(t)
	trades := []models.Trade{
		{RunID: "a", Symbol: "BTCUSDT", Profit: 10, Timestamp: now.Add(-time.Hour).UnixMilli()},
		{RunID: "a", Symbol: "BTCUSDT", Profit: -4, Timestamp: now.Add(-2 * time.Hour).UnixMilli(), IsSimulation: true},
		{RunID: "b", Symbol: "ETHUSDT", Profit: 6, Timestamp: now.Add(-48 * time.Hour).UnixMilli(), IsSimulation: true},
	}
	require.NoError(t, db.Create(&trades).Error)

	tests := []struct {
		name     string
		path     string
		all      StatsDetail
		since24h StatsDetail
	}{
		{
			name:     "all trades",
			path:     "/api/statistics",
			all:      StatsDetail{TotalTrades: 3, ProfitableTrades: 2, WinRate: 2.0 / 3.0, TotalProfit: 12},
			since24h: StatsDetail{TotalTrades: 2, ProfitableTrades: 1, WinRate: 0.5, TotalProfit: 6},
		},
		{
			name:     "live sessions only",
			path:     "/api/statistics?simulation=false",
			all:      StatsDetail{TotalTrades: 1, ProfitableTrades: 1, WinRate: 1, TotalProfit: 10},
			since24h: StatsDetail{TotalTrades: 1, ProfitableTrades: 1, WinRate: 1, TotalProfit: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			rr := get(t, h, tt.path)

			// Assert
			require.Equal(t, http.StatusOK, rr.Code)
			var resp StatisticsResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.all.TotalTrades, resp.AllTime.TotalTrades)
			assert.Equal(t, tt.all.ProfitableTrades, resp.AllTime.ProfitableTrades)
			assert.InDelta(t, tt.all.WinRate, resp.AllTime.WinRate, 1e-9)
			assert.InDelta(t, tt.all.TotalProfit, resp.AllTime.TotalProfit, 1e-9)
			assert.Equal(t, tt.since24h.TotalTrades, resp.Since24h.TotalTrades)
			assert.InDelta(t, tt.since24h.WinRate, resp.Since24h.WinRate, 1e-9)
			assert.InDelta(t, tt.since24h.TotalProfit, resp.Since24h.TotalProfit, 1e-9)
		})
	}
}

func TestTradesHandler_MostRecentFirst(t *testing.T) {
	h, db := setupHandler(t)
	require.NoError(t, db.Create(&[]models.Trade{
		{RunID: "a", Symbol: "OLD", Timestamp: 1},
		{RunID: "a", Symbol: "NEW", Timestamp: 2},
	}).Error)

	rr := get(t, h, "/api/trades")

	require.Equal(t, http.StatusOK, rr.Code)
	var trades []models.Trade
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "NEW", trades[0].Symbol)
}

func TestRunHandlers(t *testing.T) {
	// Arrange
	h, db := setupHandler(t)
	require.NoError(t, db.Create(&models.Run{ID: "run-1", Mode: models.ModeBacktest, Strategy: "rsi", Ticks: 3}).Error)
	require.NoError(t, db.Create(&models.Run{ID: "run-2", Mode: models.ModePaper, Strategy: "rsi"}).Error)
	require.NoError(t, db.Create(&[]models.EquityPoint{
		{RunID: "run-1", Time: now.Add(time.Hour)},
		{RunID: "run-1", Time: now},
	}).Error)

	t.Run("list filtered by mode", func(t *testing.T) {
		rr := get(t, h, "/api/runs?mode=paper")

		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Runs []models.Run `json:"runs"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Len(t, body.Runs, 1)
		assert.Equal(t, "run-2", body.Runs[0].ID)
	})

	t.Run("detail", func(t *testing.T) {
		rr := get(t, h, "/api/runs/run-1")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"rsi"`)
	})

	t.Run("unknown run", func(t *testing.T) {
		rr := get(t, h, "/api/runs/missing")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("equity in time order", func(t *testing.T) {
		rr := get(t, h, "/api/runs/run-1/equity")

		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Equity []models.EquityPoint `json:"equity"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Len(t, body.Equity, 2)
		assert.True(t, body.Equity[0].Time.Before(body.Equity[1].Time))
	})

	t.Run("bad limit", func(t *testing.T) {
		rr := get(t, h, "/api/runs?limit=x")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
