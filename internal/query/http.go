package query

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"PerpIndexer/internal/observability"
)

const defaultListLimit = 100

// Envelope wraps every query response with the persistence watermark so
// clients can reason about freshness.
type Envelope struct {
	AsOfBlock     int64             `json:"as_of_block"`
	AsOfTimestamp int64             `json:"as_of_timestamp"`
	Entity        json.RawMessage   `json:"entity,omitempty"`
	Entities      []json.RawMessage `json:"entities,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the HTTP/JSON query surface over the entity store.
type Handler struct {
	svc     *Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHandler(svc *Service, metrics *observability.Metrics, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, metrics: metrics, log: log}
}

// Mux builds the route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/protocol", h.instrument("protocol", h.getProtocol))
	mux.HandleFunc("GET /v1/accounts/{address}", h.instrument("account", h.getAccount))
	mux.HandleFunc("GET /v1/accounts/{address}/positions", h.instrument("account_positions", h.getAccountPositions))
	mux.HandleFunc("GET /v1/pools/{address}", h.instrument("pool", h.getPool))
	mux.HandleFunc("GET /v1/pools/{address}/funding", h.instrument("pool_funding", h.getPoolFunding))
	mux.HandleFunc("GET /v1/positions/{id}", h.instrument("position", h.getPosition))
	mux.HandleFunc("GET /v1/positions/{id}/snapshots", h.instrument("position_snapshots", h.getPositionSnapshots))
	return mux
}

type handlerFunc func(ctx context.Context, r *http.Request) (*Envelope, error)

func (h *Handler) instrument(endpoint string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := "ok"

		env, err := fn(r.Context(), r)
		switch {
		case err == ErrNotFound:
			status = "not_found"
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		case err != nil:
			status = "error"
			h.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		default:
			writeJSON(w, http.StatusOK, env)
		}

		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (h *Handler) envelope(ctx context.Context) (*Envelope, error) {
	block, ts, err := h.svc.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	return &Envelope{AsOfBlock: block, AsOfTimestamp: ts}, nil
}

func (h *Handler) getProtocol(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entity, err = h.svc.Protocol(ctx)
	return env, err
}

func (h *Handler) getAccount(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entity, err = h.svc.Account(ctx, r.PathValue("address"))
	return env, err
}

func (h *Handler) getAccountPositions(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entities, err = h.svc.AccountPositions(ctx, r.PathValue("address"), listLimit(r))
	return env, err
}

func (h *Handler) getPool(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entity, err = h.svc.Pool(ctx, r.PathValue("address"))
	return env, err
}

func (h *Handler) getPoolFunding(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entities, err = h.svc.FundingHistory(ctx, r.PathValue("address"), listLimit(r))
	return env, err
}

func (h *Handler) getPosition(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entity, err = h.svc.Position(ctx, r.PathValue("id"))
	return env, err
}

func (h *Handler) getPositionSnapshots(ctx context.Context, r *http.Request) (*Envelope, error) {
	env, err := h.envelope(ctx)
	if err != nil {
		return nil, err
	}
	env.Entities, err = h.svc.PositionSnapshots(ctx, r.PathValue("id"), listLimit(r))
	return env, err
}

func listLimit(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultListLimit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
