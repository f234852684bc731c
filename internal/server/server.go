// Package server is the HTTP facade: a gorilla/mux router serving the
// JSON query API and the Prometheus endpoint.
//
// Every response except /metrics is an envelope
//
//	{"status": <code>, "message": <text>, "data": <payload|null>}
//
// whose status field mirrors the HTTP status code. Clients poll these
// routes; the server never pushes.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/internal/metrics"
	"github.com/DmitriyKotov1986/TradingCat/internal/session"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// MarketData is the view of the venue layer the HTTP facade needs.
type MarketData interface {
	StockExchangeIDs() []common.StockExchangeID
	KLineIDs(id common.StockExchangeID) ([]common.KLineID, error)
}

// Config carries the listener address and the identity reported by
// /serverstatus.
type Config struct {
	Address string
	Port    uint16
	Name    string
	Version string
}

// Server serves the query API over HTTP.
type Server struct {
	cfg       Config
	registry  *session.Registry
	market    MarketData
	metrics   *metrics.Metrics
	startTime time.Time

	httpServer *http.Server
}

// New builds the Server. Call ListenAndServe to start it.
func New(cfg Config, registry *session.Registry, market MarketData, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		market:    market,
		metrics:   m,
		startTime: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(int(cfg.Port))),
		Handler:      s.routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(recoverer, requestID, s.logging, cors, s.headers)

	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/stockexchanges", s.handleStockExchanges).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/klinesidlist", s.handleKLineIDList).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/serverstatus", s.handleServerStatus).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Unmatched requests skip the middleware chain, so the fallback
	// handlers write the full envelope themselves.
	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleNotFound)

	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
// A graceful shutdown returns nil.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("server: listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("server: shutting down")
	return s.httpServer.Shutdown(ctx)
}
