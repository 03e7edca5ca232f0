package trader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"paper-trader-go/internal/orders"
)

// APIServer provides an HTTP interface for the paper-trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(engine *Engine, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	return s
}

// Router builds the gin routes. It is exported for tests.
func (s *APIServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", s.statusHandler)
	router.GET("/health", s.healthHandler)
	router.GET("/portfolio", s.portfolioHandler)

	api := router.Group("/orders")
	api.GET("", s.listOrdersHandler)
	api.GET("/:id", s.orderHandler)
	api.POST("", s.submitHandler)
	api.POST("/oco", s.submitOCOHandler)
	api.POST("/bracket", s.submitBracketHandler)
	api.POST("/preview", s.previewHandler)
	api.DELETE("/:id", s.cancelHandler)
	return router
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *APIServer) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK\n")
}

func (s *APIServer) portfolioHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Portfolio())
}

func (s *APIServer) listOrdersHandler(c *gin.Context) {
	openOnly := c.Query("open") == "true"
	c.JSON(http.StatusOK, gin.H{"orders": s.engine.Orders(openOnly)})
}

func (s *APIServer) orderHandler(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, found := s.engine.Order(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": orders.ErrUnknownOrder.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *APIServer) submitHandler(c *gin.Context) {
	var req orders.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.engine.Submit(req)
	s.respond(c, err, o)
}

func (s *APIServer) submitOCOHandler(c *gin.Context) {
	var req orders.OCORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	legs, err := s.engine.SubmitOCO(req)
	s.respond(c, err, legs)
}

func (s *APIServer) submitBracketHandler(c *gin.Context) {
	var req orders.BracketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	legs, err := s.engine.SubmitBracket(req)
	s.respond(c, err, legs)
}

func (s *APIServer) previewHandler(c *gin.Context) {
	var req orders.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Preview(req); err != nil {
		c.JSON(statusFor(err), gin.H{"allowed": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true})
}

func (s *APIServer) cancelHandler(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := s.engine.Cancel(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

// respond writes accepted orders as 201 and rejected ones with the mapped
// status, always including the order snapshot.
func (s *APIServer) respond(c *gin.Context, err error, payload any) {
	if err != nil {
		s.logger.Info("Order request refused", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "order": payload})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": payload})
}

func orderID(c *gin.Context) (orders.ID, bool) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return orders.ID(raw), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInsufficientFunds), errors.Is(err, orders.ErrRiskLimitBreach):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
