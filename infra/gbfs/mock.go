package gbfs

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/bikeflow/core/logger"
	"github.com/kilianp07/bikeflow/core/model"
	logpkg "github.com/kilianp07/bikeflow/infra/logger"
)

// MockServer serves a synthetic GBFS feed for local runs. Every
// station_status request first moves a few bikes between random stations,
// keeping the fleet size constant.
type MockServer struct {
	addr     string
	stations []model.Station
	log      logger.Logger
	srv      *http.Server
	requests *prometheus.CounterVec

	mu    sync.Mutex
	bikes map[string]int
	rng   *rand.Rand
	// MaxMoves bounds the number of bikes moved per status request.
	MaxMoves int
}

// NewMockServer creates a mock feed using the default Prometheus registerer.
// Each station starts with half of its capacity, or 5 bikes without one.
func NewMockServer(addr string, stations []model.Station, seed uint64) *MockServer {
	return NewMockServerWithRegistry(addr, stations, seed, prometheus.DefaultRegisterer)
}

// NewMockServerWithRegistry registers the request counter on reg. A nil reg
// selects the default registerer.
func NewMockServerWithRegistry(addr string, stations []model.Station, seed uint64, reg prometheus.Registerer) *MockServer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	log := logpkg.New("gbfs-mock")
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gbfs_mock_requests_total",
		Help: "Requests served by the mock GBFS feed",
	}, []string{"feed"})
	if err := reg.Register(requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				requests = exist
			} else {
				log.Errorf("existing collector for gbfs_mock_requests_total has wrong type %T", are.ExistingCollector)
			}
		}
	}
	bikes := make(map[string]int, len(stations))
	for _, st := range stations {
		n := st.Capacity / 2
		if st.Capacity == 0 {
			n = 5
		}
		bikes[st.ID] = n
	}
	return &MockServer{
		addr:     addr,
		stations: stations,
		log:      log,
		requests: requests,
		bikes:    bikes,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		MaxMoves: 3,
	}
}

func (s *MockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gbfs.json", func(w http.ResponseWriter, r *http.Request) {
		s.requests.WithLabelValues("gbfs").Inc()
		base := "http://" + r.Host
		s.write(w, map[string]any{"data": map[string]any{"feeds": []Feed{
			{Name: FeedStationInformation, URL: base + "/station_information.json"},
			{Name: FeedStationStatus, URL: base + "/station_status.json"},
		}}})
	})
	mux.HandleFunc("/station_information.json", func(w http.ResponseWriter, _ *http.Request) {
		s.requests.WithLabelValues(FeedStationInformation).Inc()
		type info struct {
			StationID string  `json:"station_id"`
			Name      string  `json:"name"`
			Lat       float64 `json:"lat"`
			Lon       float64 `json:"lon"`
			Capacity  int     `json:"capacity"`
		}
		out := make([]info, len(s.stations))
		for i, st := range s.stations {
			out[i] = info{StationID: st.ID, Name: st.Name, Lat: st.Lat, Lon: st.Lon, Capacity: st.Capacity}
		}
		s.write(w, map[string]any{"data": map[string]any{"stations": out}})
	})
	mux.HandleFunc("/station_status.json", func(w http.ResponseWriter, _ *http.Request) {
		s.requests.WithLabelValues(FeedStationStatus).Inc()
		s.Step()
		s.write(w, map[string]any{"data": map[string]any{"stations": s.statusRows()}})
	})
	return mux
}

// Step moves up to MaxMoves bikes between random stations.
func (s *MockServer) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stations) < 2 || s.MaxMoves <= 0 {
		return
	}
	moves := s.rng.IntN(s.MaxMoves + 1)
	for range moves {
		from := s.stations[s.rng.IntN(len(s.stations))].ID
		to := s.stations[s.rng.IntN(len(s.stations))].ID
		if from == to || s.bikes[from] == 0 {
			continue
		}
		s.bikes[from]--
		s.bikes[to]++
	}
}

// Total returns the number of bikes in the fleet.
func (s *MockServer) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, b := range s.bikes {
		n += b
	}
	return n
}

func (s *MockServer) statusRows() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()
	rows := make([]map[string]any, 0, len(s.bikes))
	for _, st := range s.stations {
		row := map[string]any{
			"station_id":          st.ID,
			"num_bikes_available": s.bikes[st.ID],
			"last_reported":       now,
		}
		if st.Capacity > 0 {
			row["num_docks_available"] = max(st.Capacity-s.bikes[st.ID], 0)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i]["station_id"].(string) < rows[j]["station_id"].(string) })
	return rows
}

func (s *MockServer) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write response: %v", err)
	}
}

// Addr returns the listening address once Start has been called.
func (s *MockServer) Addr() string { return s.addr }

// Start runs the HTTP server until the context is canceled.
func (s *MockServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("GBFS mock feed listening on %s", s.addr)
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
