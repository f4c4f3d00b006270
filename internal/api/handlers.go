package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"levercore/internal/domain"
	"levercore/internal/engine"
	"levercore/internal/ports"

	"github.com/gorilla/mux"
)

// ErrorResponse is the standard error payload for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type handler struct {
	engine *engine.Engine
	logger ports.Logger
}

func newHandler(e *engine.Engine, logger ports.Logger) *handler {
	return &handler{engine: e, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the ports error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION"})
	case errors.Is(err, ports.ErrInsufficientFunds):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "INSUFFICIENT_FUNDS"})
	case errors.Is(err, ports.ErrPositionNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "POSITION_NOT_FOUND"})
	case errors.Is(err, ports.ErrPositionClosed):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "POSITION_CLOSED"})
	case errors.Is(err, ports.ErrPriceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "PRICE_UNAVAILABLE"})
	case errors.Is(err, ports.ErrStalePrice):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "STALE_PRICE"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["trader"]
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "VALIDATION"})
		return
	}
	acct, err := h.engine.Ledger().Deposit(r.Context(), trader, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["trader"]
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "VALIDATION"})
		return
	}
	acct, err := h.engine.Ledger().Withdraw(r.Context(), trader, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) getAccountSummary(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["trader"]
	summary, err := h.engine.GetAccountSummary(r.Context(), trader)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type openPositionRequest struct {
	Trader     string  `json:"trader"`
	Pair       string  `json:"pair"`
	Side       string  `json:"side"`
	Leverage   int     `json:"leverage"`
	Collateral float64 `json:"collateral"`
	OrderType  string  `json:"orderType"`
	LimitPrice float64 `json:"limitPrice,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
}

func (h *handler) openPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "VALIDATION"})
		return
	}
	pos, err := h.engine.OpenPosition(r.Context(), engine.OpenRequest{
		Trader:     req.Trader,
		Pair:       req.Pair,
		Side:       domain.Side(req.Side),
		Leverage:   req.Leverage,
		Collateral: req.Collateral,
		OrderType:  domain.OrderType(req.OrderType),
		LimitPrice: req.LimitPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type closePositionRequest struct {
	Trader string `json:"trader"`
}

func (h *handler) closePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid position id", Code: "VALIDATION"})
		return
	}
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "VALIDATION"})
		return
	}
	pos, err := h.engine.ClosePosition(r.Context(), req.Trader, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handler) getOpenPositions(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "trader query parameter is required", Code: "VALIDATION"})
		return
	}
	positions, err := h.engine.GetOpenPositions(r.Context(), trader)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *handler) getPositionHistory(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "trader query parameter is required", Code: "VALIDATION"})
		return
	}
	positions, err := h.engine.GetPositionHistory(r.Context(), trader)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

func (h *handler) getTradeHistory(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "trader query parameter is required", Code: "VALIDATION"})
		return
	}
	trades, err := h.engine.GetTradeHistory(r.Context(), trader, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *handler) getLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "trader query parameter is required", Code: "VALIDATION"})
		return
	}
	liqs, err := h.engine.GetLiquidationHistory(r.Context(), trader, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liqs)
}

func (h *handler) getGlobalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetGlobalStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
