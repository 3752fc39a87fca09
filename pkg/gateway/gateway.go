// Package gateway exposes the validator over HTTP: an authenticated endpoint
// that bridges recommendation requests into the dispatch loop and blocks for
// the arbitrated result, plus an unauthenticated status endpoint for
// operators and the dashboard.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recnet/pkg/bridge"
	"recnet/pkg/protocol"
	"recnet/pkg/validator"
)

// apiKeyHeader carries the client credential.
const apiKeyHeader = "X-API-Key"

// Config holds the gateway's serving knobs.
type Config struct {
	Addr           string        // listen address (default 127.0.0.1:8091)
	APIKey         string        // required on the recommendations endpoint; empty disables auth
	RequestTimeout time.Duration // how long a bridged request may wait for its result (default 30s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Addr == "" {
		out.Addr = "127.0.0.1:8091"
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = 30 * time.Second
	}
	return out
}

// StatusSource reports the loop state for the status endpoint.
type StatusSource interface {
	Status() validator.Status
}

// RecommendationRequest is the POST /api/v1/recommendations body.
type RecommendationRequest struct {
	Query      string `json:"query"`
	Context    string `json:"context"`
	NumResults int    `json:"num_results"`
}

// RecommendationReply is the success body.
type RecommendationReply struct {
	RequestID  string   `json:"request_id"`
	MinerUID   int      `json:"miner_uid"`
	MinerKey   string   `json:"miner_key"`
	Results    []string `json:"results"`
	ModelsUsed []string `json:"models_used,omitempty"`
	LatencyMs  int64    `json:"latency_ms"`
}

// errorReply is the error body for every non-2xx response.
type errorReply struct {
	Error string `json:"error"`
}

// Gateway is the HTTP front of the validator.
type Gateway struct {
	cfg    Config
	bridge *bridge.Bridge
	status StatusSource
	log    *zap.Logger
	mux    *http.ServeMux

	selfKey string
}

// New creates a Gateway that feeds br and reads loop state from src. selfKey
// is stamped as the originator on every bridged request.
func New(cfg Config, br *bridge.Bridge, src StatusSource, selfKey string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		cfg:     cfg.withDefaults(),
		bridge:  br,
		status:  src,
		log:     log,
		mux:     http.NewServeMux(),
		selfKey: selfKey,
	}
	g.mux.HandleFunc("POST /api/v1/recommendations", g.handleRecommendations)
	g.mux.HandleFunc("GET /api/v1/status", g.handleStatus)
	return g
}

// Handler returns the gateway's HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler { return g.mux }

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (g *Gateway) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.Addr,
		Handler:           g.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	g.log.Info("gateway serving", zap.String("addr", g.cfg.Addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway serve: %w", err)
	}
}

// handleRecommendations bridges one request into the loop and waits for the
// arbitrated winner.
func (g *Gateway) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid api key")
		return
	}

	var body RecommendationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}

	req := protocol.RecRequest{
		ID:         uuid.New().String(),
		Query:      body.Query,
		Context:    body.Context,
		NumResults: body.NumResults,
		Originator: g.selfKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()

	pending := g.bridge.Submit(req)
	resp, err := pending.Await(ctx)
	if err != nil {
		g.log.Warn("bridged request timed out", zap.String("request", req.ID), zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request timed out waiting for the dispatch loop")
		return
	}
	if resp == nil {
		g.log.Warn("no acceptable response for bridged request", zap.String("request", req.ID))
		writeError(w, http.StatusBadGateway, "no acceptable response from the network")
		return
	}

	writeJSON(w, http.StatusOK, RecommendationReply{
		RequestID:  req.ID,
		MinerUID:   resp.MinerUID,
		MinerKey:   resp.MinerKey,
		Results:    resp.Results,
		ModelsUsed: resp.ModelsUsed,
		LatencyMs:  resp.LatencyMs,
	})
}

// handleStatus reports loop state, membership, and scores.
func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.status.Status())
}

// authorized checks the API key header. An empty configured key disables
// auth entirely.
func (g *Gateway) authorized(r *http.Request) bool {
	if g.cfg.APIKey == "" {
		return true
	}
	got := r.Header.Get(apiKeyHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(g.cfg.APIKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorReply{Error: msg})
}
