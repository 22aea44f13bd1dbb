// Package api exposes inference results over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/publish"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/logger"
)

// Config defines the HTTP listener.
type Config struct {
	// Addr is the listen address. Empty disables the API.
	Addr string `json:"addr"`
	// Token, when set, is required as a bearer token on /api/runs.
	Token string `json:"token"`
}

// LatestReader serves the most recent result.
type LatestReader interface {
	Latest(ctx context.Context) (publish.RunMessage, error)
	TopPairs(ctx context.Context, n int) ([]model.ODRow, error)
}

// FlowReader returns the stored OD table of a run.
type FlowReader interface {
	Flows(ctx context.Context, runID string) ([]model.ODRow, error)
}

// Handlers groups the data sources of the API.
type Handlers struct {
	Runs   runlog.Store
	Latest LatestReader
	Flows  FlowReader
	Token  string
}

// NewRouter registers every route.
func NewRouter(h Handlers) *httprouter.Router {
	r := httprouter.New()
	r.GET("/healthz", health)
	r.GET("/api/flows", h.latestFlows)
	r.GET("/api/flows/cumulative", h.cumulativeFlows)
	r.GET("/api/runs", h.authorize(h.runs))
	r.GET("/api/runs/:id/flows", h.runFlows)
	return r
}

// Serve runs handler on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	log := logger.New("api")
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handlers) authorize(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if h.Token != "" && r.Header.Get("Authorization") != "Bearer "+h.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, ps)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
