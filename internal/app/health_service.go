package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightshowd/internal/config"
	"github.com/dokzlo13/lightshowd/internal/ledger"
	"github.com/dokzlo13/lightshowd/internal/metrics"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
)

const defaultEventLimit = 50

// SnapshotSource provides the latest controller state.
type SnapshotSource interface {
	Snapshot() reconcile.Snapshot
}

// HealthService provides HTTP health, readiness and metrics endpoints.
type HealthService struct {
	cfg     *config.Config
	bridge  SnapshotSource
	metrics *metrics.Metrics
	ledger  *ledger.Ledger // nil when the database is disabled
	server  *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, bridge SnapshotSource, m *metrics.Metrics, l *ledger.Ledger) *HealthService {
	return &HealthService{
		cfg:     cfg,
		bridge:  bridge,
		metrics: m,
		ledger:  l,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

type statusResponse struct {
	Status    string       `json:"status"`
	Phase     string       `json:"phase"`
	Connected bool         `json:"connected"`
	Ready     bool         `json:"ready"`
	Desired   deviceStatus `json:"desired"`
	Confirmed deviceStatus `json:"confirmed"`
	Pending   string       `json:"pending,omitempty"`
	Version   int64        `json:"version"`
}

type deviceStatus struct {
	Running    bool `json:"running"`
	Brightness int  `json:"brightness"`
}

// Handler builds the HTTP routes.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready once the board has completed the handshake
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		snap := s.bridge.Snapshot()
		resp := statusResponse{
			Status:    "ready",
			Phase:     snap.Phase.String(),
			Connected: snap.Connected,
			Ready:     snap.Ready,
			Desired:   deviceStatus{Running: snap.Desired.Running, Brightness: snap.Desired.Brightness},
			Confirmed: deviceStatus{Running: snap.Confirmed.Running, Brightness: snap.Confirmed.Brightness},
			Version:   snap.Version,
		}
		if snap.Pending != nil {
			resp.Pending = snap.Pending.Token
		}

		code := http.StatusOK
		if snap.Phase == reconcile.PhaseAwaitingHandshake {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	mux.Handle("/metrics", s.metrics.Handler())

	// Recent link events from the ledger
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if s.ledger == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger disabled"})
			return
		}
		limit := defaultEventLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = n
		}
		entries, err := s.ledger.Recent(limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read ledger")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger read failed"})
			return
		}
		if entries == nil {
			entries = []*ledger.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
