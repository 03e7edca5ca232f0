package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"paper-trader-go/internal/database"
	"paper-trader-go/internal/models"
)

// APIHandler serves stored runs and trades.
type APIHandler struct {
	log     *zap.Logger
	store   *database.Store
	started time.Time
	now     func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store *database.Store) *APIHandler {
	return &APIHandler{log: log.Named("ui-api"), store: store, started: time.Now(), now: time.Now}
}

// Router registers the read-only endpoints.
func (h *APIHandler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/status", h.StatusHandler)
	api.GET("/runs", h.RunsHandler)
	api.GET("/runs/:id", h.RunHandler)
	api.GET("/runs/:id/equity", h.EquityHandler)
	api.GET("/runs/:id/trades", h.RunTradesHandler)
	api.GET("/runs/:id/orders", h.OrdersHandler)
	api.GET("/runs/:id/fills", h.FillsHandler)
	api.GET("/trades", h.TradesHandler)
	api.GET("/statistics", h.StatisticsHandler)
	return router
}

// StatusHandler reports that the server is up.
func (h *APIHandler) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": h.now().Sub(h.started).Round(time.Second).String()})
}

// RunsHandler lists stored runs, optionally filtered by ?mode= and ?limit=.
func (h *APIHandler) RunsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	runs, err := h.store.Runs(c.Request.Context(), c.Query("mode"), limit)
	if err != nil {
		h.fail(c, "Failed to get runs from database", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *APIHandler) RunHandler(c *gin.Context) {
	run, err := h.store.Run(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, "Failed to get run from database", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (h *APIHandler) EquityHandler(c *gin.Context) {
	points, err := h.store.Equity(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get equity from database", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (h *APIHandler) RunTradesHandler(c *gin.Context) {
	trades, err := h.store.Trades(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get trades from database", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *APIHandler) OrdersHandler(c *gin.Context) {
	out, err := h.store.Orders(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get orders from database", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *APIHandler) FillsHandler(c *gin.Context) {
	fills, err := h.store.Fills(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get fills from database", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

// TradesHandler returns all historical trades, most recent first.
func (h *APIHandler) TradesHandler(c *gin.Context) {
	trades, err := h.store.Trades(c.Request.Context(), "")
	if err != nil {
		h.fail(c, "Failed to get trades from database", err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

func (s *StatsDetail) add(t models.Trade) {
	s.TotalTrades++
	if t.Profit > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += t.Profit
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates win rate and profit over closed trades.
// ?simulation=false restricts it to live paper sessions.
func (h *APIHandler) StatisticsHandler(c *gin.Context) {
	trades, err := h.store.Trades(c.Request.Context(), "")
	if err != nil {
		h.fail(c, "Failed to get trades for statistics", err)
		return
	}
	filter, hasFilter := c.GetQuery("simulation")
	simulation := filter != "false"

	since24h := h.now().Add(-24 * time.Hour)
	var resp StatisticsResponse
	for _, trade := range trades {
		if hasFilter && trade.IsSimulation != simulation {
			continue
		}
		resp.AllTime.add(trade)
		if time.UnixMilli(trade.Timestamp).After(since24h) {
			resp.Since24h.add(trade)
		}
	}
	resp.AllTime.finish()
	resp.Since24h.finish()
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) fail(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
