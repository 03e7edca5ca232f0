package trader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-trader-go/internal/feed"
)

func setupAPI(t *testing.T) (*Engine, http.Handler) {
	t.Helper()
	e := newTestEngine(t, feed.NewSlice(nil), &scripted{}, nil)
	require.NoError(t, e.process(context.Background(), bar("AAPL", 0, "100")))
	return e, NewAPIServer(e, 0, zap.NewNop()).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var payload map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestHealthAndStatus(t *testing.T) {
	e, h := setupAPI(t)

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec, status := do(t, h, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, e.UUID, status["uuid"])
	assert.Equal(t, "scripted", status["strategy"])
	assert.Equal(t, float64(1), status["ticks"])
}

func TestSubmitAndCancelOrder(t *testing.T) {
	// Arrange
	_, h := setupAPI(t)
	body := `{"symbol":"AAPL","side":"BUY","kind":"LIMIT","quantity":"10","limit_price":"95"}`

	// Act
	rec, created := do(t, h, http.MethodPost, "/orders", body)

	// Assert
	require.Equal(t, http.StatusCreated, rec.Code)
	order := created["order"].(map[string]any)
	assert.Equal(t, "ACCEPTED", order["status"])

	rec, list := do(t, h, http.MethodGet, "/orders?open=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list["orders"], 1)

	rec, one := do(t, h, http.MethodGet, "/orders/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LIMIT", one["kind"])

	rec, cancelled := do(t, h, http.MethodDelete, "/orders/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", cancelled["status"])

	rec, _ = do(t, h, http.MethodDelete, "/orders/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrderErrors(t *testing.T) {
	_, h := setupAPI(t)

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{name: "Malformed JSON", method: http.MethodPost, path: "/orders", body: `{`, code: http.StatusBadRequest},
		{name: "Missing limit price", method: http.MethodPost, path: "/orders", body: `{"symbol":"AAPL","side":"BUY","kind":"LIMIT","quantity":"1"}`, code: http.StatusBadRequest},
		{name: "Unaffordable", method: http.MethodPost, path: "/orders", body: `{"symbol":"AAPL","side":"BUY","kind":"MARKET","quantity":"1000"}`, code: http.StatusUnprocessableEntity},
		{name: "Unknown order", method: http.MethodDelete, path: "/orders/99", code: http.StatusNotFound},
		{name: "Unknown order lookup", method: http.MethodGet, path: "/orders/99", code: http.StatusNotFound},
		{name: "Bad id", method: http.MethodGet, path: "/orders/abc", code: http.StatusBadRequest},
		{name: "OCO legs on two symbols", method: http.MethodPost, path: "/orders/oco", body: `{"first":{"symbol":"AAPL","side":"BUY","kind":"LIMIT","quantity":"1","limit_price":"90"},"second":{"symbol":"MSFT","side":"BUY","kind":"LIMIT","quantity":"1","limit_price":"90"}}`, code: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, payload := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestSubmitBracket(t *testing.T) {
	_, h := setupAPI(t)
	body := `{
		"entry":{"symbol":"AAPL","side":"BUY","kind":"MARKET","quantity":"5"},
		"stop_loss":{"symbol":"AAPL","side":"SELL","kind":"STOP_LOSS","quantity":"5","stop_price":"95"},
		"take_profit":{"symbol":"AAPL","side":"SELL","kind":"LIMIT","quantity":"5","limit_price":"110"}
	}`

	rec, created := do(t, h, http.MethodPost, "/orders/bracket", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	legs := created["order"].([]any)
	require.Len(t, legs, 3)
	assert.Equal(t, true, legs[1].(map[string]any)["dormant"])
}

func TestPreviewAndPortfolio(t *testing.T) {
	_, h := setupAPI(t)

	rec, ok := do(t, h, http.MethodPost, "/orders/preview", `{"symbol":"AAPL","side":"BUY","kind":"MARKET","quantity":"1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, ok["allowed"])

	rec, refused := do(t, h, http.MethodPost, "/orders/preview", `{"symbol":"AAPL","side":"SELL","kind":"MARKET","quantity":"1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, refused["allowed"])

	rec, snap := do(t, h, http.MethodGet, "/portfolio", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000", snap["cash"])
}
