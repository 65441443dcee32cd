package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/version"
	"github.com/thushan/olla-link/pkg/format"
	"github.com/thushan/olla-link/pkg/nerdstats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	statusHealthy  = "healthy"
	statusReady    = "ready"
	statusNotReady = "not_ready"

	readHeaderTimeout = 5 * time.Second
)

// StatusServer exposes readiness for container probes plus the prometheus
// collectors. It never proxies model traffic.
type StatusServer struct {
	adapter *Adapter
	logger  logger.StyledLogger
	server  *http.Server
	started time.Time
	cfg     config.ServerConfig
}

func NewStatusServer(cfg config.ServerConfig, adapter *Adapter, log logger.StyledLogger) *StatusServer {
	s := &StatusServer{
		adapter: adapter,
		logger:  log,
		cfg:     cfg,
		started: time.Now(),
	}
	s.server = &http.Server{
		Addr:              cfg.GetAddress(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Routes builds the router, exposed so tests can drive it with httptest
func (s *StatusServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogging(s.logger))

	r.Get(constants.DefaultHealthCheckEndpoint, s.handleHealth())
	r.Get(constants.DefaultReadinessEndpoint, s.handleReady())
	r.Get(constants.DefaultStatusEndpoint, s.handleStatus())
	r.Get(constants.DefaultVersionEndpoint, s.handleVersion())
	r.Method(http.MethodGet, constants.DefaultMetricsEndpoint,
		promhttp.HandlerFor(s.adapter.Registry(), promhttp.HandlerOpts{}))

	return r
}

// Start listens in the background. Bind errors are returned straight away,
// later serve errors go to the log.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Status server listening", "bind", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server error", "error", err)
		}
	}()
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": statusHealthy})
	}
}

// handleReady answers 200 once requests may be served. Degraded counts
// unless readiness is strict.
func (s *StatusServer) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state, reason := s.adapter.machine.Snapshot()
		body := map[string]string{"state": state.String()}
		if reason != "" {
			body["reason"] = reason
		}

		if state.IsUsable(!s.adapter.cfg.Readiness.Strict) {
			body["status"] = statusReady
			writeJSON(w, http.StatusOK, body)
			return
		}
		body["status"] = statusNotReady
		writeJSON(w, http.StatusServiceUnavailable, body)
	}
}

type statusResponse struct {
	Status
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Process   processSummary `json:"process"`
}

type processSummary struct {
	HeapInuse      string `json:"heap_inuse"`
	TotalAlloc     string `json:"total_alloc"`
	MemoryPressure string `json:"memory_pressure"`
	Goroutines     int    `json:"goroutines"`
	GoroutineState string `json:"goroutine_state"`
	AvgGCPause     string `json:"avg_gc_pause"`
}

func (s *StatusServer) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		stats := nerdstats.Snapshot(s.started)
		writeJSON(w, http.StatusOK, statusResponse{
			Status:    s.adapter.Status(),
			Uptime:    format.Duration(stats.Uptime),
			Timestamp: now,
			Process: processSummary{
				HeapInuse:      format.Bytes(int64(stats.HeapInuse)),
				TotalAlloc:     format.Bytes(int64(stats.TotalAlloc)),
				MemoryPressure: stats.MemoryPressure(),
				Goroutines:     stats.Goroutines,
				GoroutineState: stats.GoroutineHealth(),
				AvgGCPause:     stats.AverageGCPause(),
			},
		})
	}
}

type versionResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Commit    string            `json:"commit"`
	Date      string            `json:"date"`
	GoVersion string            `json:"go_version"`
	Platform  string            `json:"platform"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *StatusServer) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, versionResponse{
			Name:      version.Name,
			Version:   version.Version,
			Commit:    version.Commit,
			Date:      version.Date,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			Endpoints: map[string]string{
				"health":  constants.DefaultHealthCheckEndpoint,
				"ready":   constants.DefaultReadinessEndpoint,
				"status":  constants.DefaultStatusEndpoint,
				"version": constants.DefaultVersionEndpoint,
				"metrics": constants.DefaultMetricsEndpoint,
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
