package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/kilianp07/bikeflow/core/flow"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/cache"
)

const defaultTop = 20

// topParam reads ?top=N. Missing means defaultTop, 0 means everything.
func topParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("top")
	if s == "" {
		return defaultTop, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("top must be a non-negative integer")
	}
	return n, nil
}

// latestFlows serves GET /api/flows: the latest run with its busiest pairs.
func (h Handlers) latestFlows(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	top, err := topParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Latest == nil {
		http.Error(w, "no result available", http.StatusNotFound)
		return
	}
	msg, err := h.Latest.Latest(r.Context())
	if errors.Is(err, cache.ErrMiss) {
		http.Error(w, "no result available", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	msg.Flows = flow.TopN(msg.Flows, top)
	if msg.Flows == nil {
		msg.Flows = []model.ODRow{}
	}
	writeJSON(w, http.StatusOK, msg)
}

// cumulativeFlows serves GET /api/flows/cumulative: pairs ranked across all runs.
func (h Handlers) cumulativeFlows(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	top, err := topParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Latest == nil {
		writeJSON(w, http.StatusOK, []model.ODRow{})
		return
	}
	rows, err := h.Latest.TopPairs(r.Context(), top)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.ODRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// runFlows serves GET /api/runs/:id/flows from storage.
func (h Handlers) runFlows(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if h.Flows == nil {
		http.Error(w, "flow storage disabled", http.StatusNotFound)
		return
	}
	rows, err := h.Flows.Flows(r.Context(), ps.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		known, err := h.runExists(r.Context(), ps.ByName("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !known {
			http.Error(w, "unknown run", http.StatusNotFound)
			return
		}
		rows = []model.ODRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// runExists looks id up in the run log. Without a run log only runs with
// stored flows are known.
func (h Handlers) runExists(ctx context.Context, id string) (bool, error) {
	if h.Runs == nil {
		return false, nil
	}
	recs, err := h.Runs.Query(ctx, runlog.RunQuery{RunID: id, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}
