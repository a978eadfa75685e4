package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ============================================================================
// HTTP API
// ============================================================================
//   GET  /api/count            current occupancy
//   POST /api/count/reset      zero the counter
//   GET  /api/status           daemon status
//   GET  /api/crossings?limit  recent crossings from the crossing log
//   GET  /ws/state             occupancy WebSocket
// ============================================================================

type countResponse struct {
	Count uint64    `json:"count"`
	At    time.Time `json:"at"`
}

type resetResponse struct {
	Previous uint64 `json:"previous"`
	Count    uint64 `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newAPIMux registers the API handlers and, when ws is non-nil, the state
// WebSocket.
func newAPIMux(ctrl Controller, ws *StateServer, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, countResponse{Count: ctrl.Count(), At: time.Now().UTC()}, logger)
	})

	mux.HandleFunc("POST /api/count/reset", func(w http.ResponseWriter, r *http.Request) {
		prev := ctrl.ResetCount("http")
		writeJSON(w, http.StatusOK, resetResponse{Previous: prev, Count: ctrl.Count()}, logger)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Status(r.Context()), logger)
	})

	mux.HandleFunc("GET /api/crossings", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"}, logger)
				return
			}
			limit = n
		}

		records, err := ctrl.RecentCrossings(r.Context(), limit)
		if errors.Is(err, ErrNoStore) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()}, logger)
			return
		}
		if err != nil {
			logger.Error("query crossings failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "query failed"}, logger)
			return
		}
		writeJSON(w, http.StatusOK, records, logger)
	})

	if ws != nil {
		ws.Register(mux, "/ws/state")
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("http response write failed", "error", err)
	}
}

// runHTTPServer serves handler on port and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("http server listening", "port", port)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
