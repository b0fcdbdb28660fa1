package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crateio/carrier/internal/store"
	"github.com/crateio/carrier/internal/version"
)

// statusResponse is the /status JSON body.
type statusResponse struct {
	Version     string  `json:"version"`
	Since       float64 `json:"since,omitempty"`
	LastTickID  string  `json:"last_tick_id,omitempty"`
	LastTickAt  string  `json:"last_tick_at,omitempty"`
	LastEntries int     `json:"last_tick_entries"`
}

// NewRouter builds the ops HTTP surface: /healthz, /status, and /metrics.
func NewRouter(st *store.Store, m *Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			http.Error(w, "store unreachable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{Version: version.Version}

		if since, ok, err := st.Since(req.Context()); err == nil && ok {
			resp.Since = since
		}

		id, at, entries := m.LastTick()
		resp.LastTickID = id
		resp.LastEntries = entries
		if !at.IsZero() {
			resp.LastTickAt = at.UTC().Format(time.RFC3339)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return r
}
