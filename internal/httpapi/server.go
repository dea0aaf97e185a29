// Package httpapi exposes the local observability surface: health report,
// queue statistics, Prometheus metrics, and a websocket event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexamanager/mailsync/internal/events"
	"github.com/nexamanager/mailsync/internal/health"
	"github.com/nexamanager/mailsync/internal/queue"
)

// DefaultAddr is the default bind address. Loopback only; the surface
// carries no authentication.
const DefaultAddr = "127.0.0.1:8787"

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	eventWriteTimeout = 10 * time.Second
)

// HealthSource provides the latest health report.
type HealthSource interface {
	Last() health.Report
}

// QueueSource provides queue depth by status.
type QueueSource interface {
	Depth(ctx context.Context) (map[queue.Status]int, error)
}

// StatsSource provides processor counters.
type StatsSource interface {
	Stats() queue.Stats
}

// Server is the local HTTP API.
type Server struct {
	addr      string
	healthSrc HealthSource
	queueSrc  QueueSource
	statsSrc  StatsSource
	bus       *events.Bus
	logger    *slog.Logger
	threshold float64
}

// NewServer returns a Server bound to addr (DefaultAddr if empty).
func NewServer(addr string, healthSrc HealthSource, queueSrc QueueSource, statsSrc StatsSource, bus *events.Bus, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:      addr,
		healthSrc: healthSrc,
		queueSrc:  queueSrc,
		statsSrc:  statsSrc,
		bus:       bus,
		logger:    logger,
		threshold: health.DefaultDegradedThreshold,
	}
}

// SetDegradedThreshold overrides the score below which /healthz reports
// 503. Must match the monitor's configured threshold so the two surfaces
// agree on what degraded means.
func (s *Server) SetDegradedThreshold(v float64) {
	if v > 0 {
		s.threshold = v
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /queue/stats", s.handleQueueStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /events", s.handleEvents)

	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http api listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.healthSrc.Last()

	status := http.StatusOK
	if report.Score < s.threshold {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, report)
}

type queueStatsResponse struct {
	Depth map[queue.Status]int `json:"depth"`
	Stats queue.Stats          `json:"stats"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queueSrc.Depth(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "queue unavailable"})

		return
	}

	s.writeJSON(w, http.StatusOK, queueStatsResponse{
		Depth: depth,
		Stats: s.statsSrc.Stats(),
	})
}

// handleEvents upgrades to a websocket and forwards bus events as JSON
// until the client disconnects or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))

		return
	}
	defer conn.CloseNow()

	ch, cancel := s.bus.Subscribe(64)
	defer cancel()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "event bus closed")

				return
			}

			writeCtx, cancelWrite := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()

			if err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", slog.String("error", err.Error()))
	}
}
