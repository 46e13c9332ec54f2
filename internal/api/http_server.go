package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"concierge/internal/config"
	"concierge/internal/domain"
	"concierge/internal/metrics"
	"concierge/internal/models"

	"github.com/rs/zerolog"
)

const maxBatchBodyBytes = 4 << 20

// HTTPServer is the record API consumed by the scheduler's backend client.
type HTTPServer struct {
	cfg    config.APIConfig
	store  domain.RecordStore
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, store domain.RecordStore, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "record_api").Logger()
	}

	srv := &HTTPServer{cfg: cfg, store: store, log: base}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.Handle("GET /api/client-queue", srv.auth.Wrap(http.HandlerFunc(srv.handleQueue)))
	mux.Handle("GET /api/appointments", srv.auth.Wrap(http.HandlerFunc(srv.handleAppointments)))
	mux.Handle("POST /api/appointments/batch-update", srv.auth.Wrap(http.HandlerFunc(srv.handleBatchUpdate)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(base, mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler exposes the routed handler, mainly for httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("record API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("record_healthz")
	if p, ok := s.store.(interface{ PingContext(context.Context) error }); ok {
		if err := p.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "record store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("record_client_queue")
	queue, err := s.store.ListQueue(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list queue")
		writeError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	if queue == nil {
		queue = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, queue)
}

func (s *HTTPServer) handleAppointments(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("record_appointments")
	appts, err := s.store.ListAppointments(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list appointments")
		writeError(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (s *HTTPServer) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("record_batch_update")

	var body models.BatchUpdateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	resp, err := s.store.ApplyBatch(r.Context(), body)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.log.Error().Err(err).Str("session_id", body.SessionID).Msg("apply batch")
		writeError(w, http.StatusInternalServerError, "failed to apply batch")
		return
	}

	metrics.AddBatchChanges(resp.Applied, resp.Skipped)
	writeJSON(w, http.StatusOK, resp)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	keys    *keyring
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.keys.enabled {
			apiKey := strings.TrimSpace(r.Header.Get(a.keys.keyHeader))
			extra := strings.TrimSpace(r.Header.Get(a.keys.extraHeader))
			if _, err := a.keys.verify(apiKey, extra); err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.keyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func loggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
