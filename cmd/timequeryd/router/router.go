// Package router configures the HTTP API of timequeryd.
//
// Routes configured:
//   - GET  /healthz                  - Health check
//   - GET  /metrics                  - Prometheus metrics
//   - GET  /cells                    - Configured cells and their last outcome
//   - GET  /cells/current?cell=<n>   - Latest published snapshot of a cell
//   - GET  /cells/range?cell=<n>     - Contents of the cell's output range
//   - POST /cells/restart?cell=<n>   - Start a new run of a cell
//   - GET  /cells/stream[?cell=<n>]  - Websocket stream of snapshots
//
// Snapshots older than the stale threshold carry an X-Timequery-Stale header.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/timequery/pkg/cell"
	"github.com/HatiCode/timequery/pkg/cellrange"
	"github.com/HatiCode/timequery/pkg/httpx"
	"github.com/HatiCode/timequery/pkg/storage"
	"github.com/HatiCode/timequery/pkg/stream"
)

// Cells is the view of the runner the API needs.
type Cells interface {
	Names() []string
	Cell(name string) (cell.Cell, bool)
	Has(name string) bool
	Restart(ctx context.Context, name string) error
}

type ranged interface {
	Range() (cellrange.Range, [][]any, bool)
}

// Deps holds everything the routes serve from.
type Deps struct {
	Cells      Cells
	Store      storage.Store
	Hub        *stream.Hub
	Gatherer   prometheus.Gatherer
	StaleAfter time.Duration
	Health     func() error
	// AllowedOrigins are the cross-site origins accepted by /cells/stream.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// CellInfo is one entry of GET /cells.
type CellInfo struct {
	Name      string `json:"name"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	StoreSize int    `json:"storeSize"`
	Rows      int    `json:"rows"`
}

// RangeResponse is the body of GET /cells/range.
type RangeResponse struct {
	Cell  string  `json:"cell"`
	Range string  `json:"range"`
	Cells [][]any `json:"cells"`
}

// SetupRoutes configures HTTP endpoints for the daemon.
func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(d.Health))
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /cells", handleListCells(d))
	mux.HandleFunc("GET /cells/current", handleGetSnapshot(d))
	mux.HandleFunc("GET /cells/range", handleGetRange(d))
	mux.HandleFunc("POST /cells/restart", handleRestart(d))
	if d.Hub != nil {
		mux.Handle("GET /cells/stream", stream.Handler(d.Hub, d.Cells.Has, d.AllowedOrigins, d.Logger))
	}

	return httpx.Chain(mux,
		httpx.RecoveryMiddleware(d.Logger),
		httpx.LoggingMiddleware(d.Logger),
	)
}

func handleListCells(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := d.Cells.Names()
		out := make([]CellInfo, 0, len(names))
		for _, n := range names {
			c, ok := d.Cells.Cell(n)
			if !ok {
				continue
			}
			last := c.Last()
			out = append(out, CellInfo{
				Name:      n,
				Code:      string(last.Code),
				Error:     last.Error,
				StoreSize: last.StoreSize,
				Rows:      len(last.Rows),
			})
		}
		if err := httpx.WriteJSON(w, http.StatusOK, out); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// cellParam reads and checks the cell query parameter. It writes the error
// response and returns false when the request cannot proceed.
func cellParam(d Deps, w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("cell")
	if name == "" {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "cell parameter required")
		return "", false
	}
	if err := storage.ValidateCellName(name); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid cell name format")
		return "", false
	}
	if !d.Cells.Has(name) {
		httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("unknown cell %q", name))
		return "", false
	}
	return name, true
}

func handleGetSnapshot(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := cellParam(d, w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := d.Store.GetLatest(ctx, name)
		if err != nil {
			d.Logger.Error("failed to get snapshot", "cell", name, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for cell %q", name))
			return
		}

		if d.StaleAfter > 0 && time.Since(snapshot.GeneratedAt) > d.StaleAfter {
			w.Header().Set("X-Timequery-Stale", "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleGetRange(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := cellParam(d, w, r)
		if !ok {
			return
		}

		c, _ := d.Cells.Cell(name)
		rc, ok := c.(ranged)
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("cell %q has no output range", name))
			return
		}
		rng, cells, ok := rc.Range()
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("cell %q has no output range", name))
			return
		}

		resp := RangeResponse{Cell: name, Range: rng.String(), Cells: cells}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleRestart(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := cellParam(d, w, r)
		if !ok {
			return
		}

		if err := d.Cells.Restart(r.Context(), name); err != nil {
			d.Logger.Error("failed to restart cell", "cell", name, "error", err)
			httpx.WriteError(w, httpx.StatusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
