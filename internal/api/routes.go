package api

import (
	"net/http"

	"levercore/internal/engine"
	"levercore/internal/ports"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds everything the API handlers need.
type Dependencies struct {
	Engine *engine.Engine
	Logger ports.Logger
}

// SetupRoutes registers all HTTP routes and middleware.
//
// /api/v1/
//
//	├── /accounts/{trader}           GET  - account summary
//	├── /accounts/{trader}/deposit   POST - credit collateral
//	├── /accounts/{trader}/withdraw  POST - debit collateral
//	├── /positions                   POST - open a position
//	├── /positions/{id}/close        POST - close a position
//	├── /positions                   GET  - open positions (?trader=)
//	├── /positions/history           GET  - all positions (?trader=)
//	├── /trades                      GET  - trade history (?trader=&limit=)
//	├── /liquidations                GET  - liquidation history (?trader=&limit=)
//	└── /stats                       GET  - global venue stats
//
// /metrics — Prometheus scrape endpoint.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(recovery(deps.Logger))
	router.Use(requestLogging(deps.Logger))

	h := newHandler(deps.Engine, deps.Logger)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts/{trader}", h.getAccountSummary).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{trader}/deposit", h.deposit).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{trader}/withdraw", h.withdraw).Methods(http.MethodPost)
	v1.HandleFunc("/positions", h.openPosition).Methods(http.MethodPost)
	v1.HandleFunc("/positions", h.getOpenPositions).Methods(http.MethodGet)
	v1.HandleFunc("/positions/history", h.getPositionHistory).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{id:[0-9]+}/close", h.closePosition).Methods(http.MethodPost)
	v1.HandleFunc("/trades", h.getTradeHistory).Methods(http.MethodGet)
	v1.HandleFunc("/liquidations", h.getLiquidationHistory).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.getGlobalStats).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
