package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/dispenser/service/claim"
	"github.com/brojonat/dispenser/service/db"
	"github.com/brojonat/dispenser/service/discord"
	"github.com/brojonat/dispenser/service/funder"
	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/nats"
	"github.com/brojonat/dispenser/service/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProofStore looks up published merkle allocations.
// db.Store satisfies it; tests use an in-memory map.
type ProofStore interface {
	GetAmountAndProof(ctx context.Context, eco claim.Ecosystem, identity string) (*db.Allocation, error)
}

// Server represents the HTTP server for the dispenser funding service.
type Server struct {
	addr      string
	validator *validator.Validator
	funders   *funder.Registry
	publisher nats.Publisher
	exchanger discord.TokenExchanger
	signer    *discord.Signer
	proofs    ProofStore
	limiter   *clientLimiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The publisher is optional - if nil, funding events are not published.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, v *validator.Validator, funders *funder.Registry, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if publisher == nil {
		publisher = nats.NopPublisher{}
	}
	return &Server{
		addr:      addr,
		validator: v,
		funders:   funders,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// WithDiscord enables the Discord identity signing endpoint.
func (s *Server) WithDiscord(exchanger discord.TokenExchanger, signer *discord.Signer) *Server {
	s.exchanger = exchanger
	s.signer = signer
	s.logger.Info("discord signing enabled", "guard", signer.PublicKey().String())
	return s
}

// WithProofStore enables the amount and proof lookup endpoint.
func (s *Server) WithProofStore(store ProofStore) *Server {
	s.proofs = store
	return s
}

// WithRateLimit caps each client address at perSecond funding requests with
// bursts of up to burst. A non-positive rate leaves funding unlimited.
func (s *Server) WithRateLimit(perSecond float64, burst int) *Server {
	if perSecond <= 0 {
		s.limiter = nil
		return s
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = newClientLimiter(perSecond, burst)
	s.logger.Info("funding rate limit enabled", "per_second", perSecond, "burst", burst)
	return s
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /fund_transaction", metrics.Instrument(s.metrics, metrics.RouteFundTransaction,
		rateLimitMiddleware(s.limiter)(
			handleFundTransaction(s.validator, s.funders, s.publisher, s.metrics, s.logger))))

	if s.exchanger != nil && s.signer != nil {
		mux.Handle("GET /discord_signed_message", metrics.Instrument(s.metrics, metrics.RouteDiscordSignedMessage,
			handleDiscordSignedMessage(s.exchanger, s.signer, s.logger)))
	} else {
		s.logger.Warn("discord signer not configured, identity endpoint disabled")
	}

	if s.proofs != nil {
		mux.Handle("GET /amount_and_proof", metrics.Instrument(s.metrics, metrics.RouteAmountAndProof,
			handleAmountAndProof(s.proofs, s.logger)))
	} else {
		s.logger.Warn("proof store not configured, amount_and_proof endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "funders", len(s.funders.Funders()))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server and closes the publisher.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if cerr := s.publisher.Close(); cerr != nil {
		s.logger.Warn("failed to close publisher", "error", cerr)
	}
	return err
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
