package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/kilianp07/bikeflow/core/runlog"
)

// runs serves GET /api/runs. Filters: start, end (RFC 3339), matcher,
// station_id and limit.
func (h Handlers) runs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []runlog.RunRecord{})
		return
	}
	v := r.URL.Query()
	q := runlog.RunQuery{Matcher: v.Get("matcher"), StationID: v.Get("station_id")}
	for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
		s := v.Get(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, name+": "+err.Error(), http.StatusBadRequest)
			return
		}
		*dst = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}
	recs, err := h.Runs.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []runlog.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
