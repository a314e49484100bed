package server

import (
	"context"
	"errors"
	"log"
	"math/big"
	"net/http"
	"time"

	"SynthVault/internal/engine"
	"SynthVault/internal/observability"
	"SynthVault/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves the vault's JSON API. Mutations go through the engine,
// reads through the query service. The gateway mux gives us the same path
// templating and marshaling behavior as a generated gateway would.
type HTTPServer struct {
	eng     *engine.Engine
	queries *query.QueryService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	addr    string

	faucet FaucetFunc

	httpServer *http.Server
}

// FaucetFunc credits a holder with tokens outside the vault's accounting.
// Only the in-memory token wiring provides one; it is never enabled against
// real token collaborators.
type FaucetFunc func(holder uuid.UUID, assetID string, amount *big.Int) error

// EnableDevFaucet registers the POST /v1/dev/fund route. Call before Start.
func (s *HTTPServer) EnableDevFaucet(fn FaucetFunc) {
	s.faucet = fn
}

func NewHTTPServer(
	eng *engine.Engine,
	queries *query.QueryService,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	addr string,
) *HTTPServer {
	return &HTTPServer{
		eng:     eng,
		queries: queries,
		health:  health,
		metrics: metrics,
		addr:    addr,
	}
}

// statusWriter captures the response status for the query metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// instrument wraps a read endpoint with request count and latency metrics.
func (s *HTTPServer) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)

		if s.metrics == nil {
			return
		}
		status := "ok"
		if sw.status >= http.StatusBadRequest {
			status = "error"
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) routes() (http.Handler, error) {
	mux := runtime.NewServeMux()

	type route struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}

	for _, r := range []route{
		// Vault operations.
		{http.MethodPost, "/v1/vault/deposit", s.handleDeposit},
		{http.MethodPost, "/v1/vault/mint", s.handleMint},
		{http.MethodPost, "/v1/vault/deposit-and-mint", s.handleDepositAndMint},
		{http.MethodPost, "/v1/vault/burn", s.handleBurn},
		{http.MethodPost, "/v1/vault/redeem", s.handleRedeem},
		{http.MethodPost, "/v1/vault/redeem-for-burn", s.handleRedeemForBurn},
		{http.MethodPost, "/v1/vault/liquidate", s.handleLiquidate},

		// Queries.
		{http.MethodGet, "/v1/accounts/{user_id}", s.instrument("account", s.handleGetAccount)},
		{http.MethodGet, "/v1/accounts/{user_id}/operations", s.instrument("operations", s.handleOperationHistory)},
		{http.MethodGet, "/v1/accounts/{user_id}/liquidations", s.instrument("liquidations", s.handleLiquidationHistory)},
		{http.MethodGet, "/v1/assets", s.instrument("assets", s.handleGetAssets)},
		{http.MethodGet, "/v1/convert/value", s.instrument("convert_value", s.handleConvertToValue)},
		{http.MethodGet, "/v1/convert/native", s.instrument("convert_native", s.handleConvertToNative)},
		{http.MethodGet, "/v1/integrity", s.instrument("integrity", s.handleVerifyIntegrity)},
	} {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return nil, err
		}
	}

	if s.faucet != nil {
		if err := mux.HandlePath(http.MethodPost, "/v1/dev/fund", s.handleDevFund); err != nil {
			return nil, err
		}
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.health.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.health.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	return httpMux, nil
}

// Start starts the HTTP server (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	handler, err := s.routes()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARN: HTTP server shutdown: %v", err)
		}
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
