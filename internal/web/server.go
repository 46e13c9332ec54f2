// Package web is the host page's HTTP surface: the calendar widget reports drag
// gestures here, edits the lists and listens for changes over a WebSocket.
package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"concierge/internal/config"
	"concierge/internal/dragdrop"
	"concierge/internal/reconciler"
	"concierge/internal/websocket"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg    config.WebConfig
	rec    *reconciler.Reconciler
	relay  *dragdrop.Relay
	hub    *websocket.Hub
	server *http.Server
	loc    *time.Location
	log    zerolog.Logger
}

func NewServer(cfg config.WebConfig, rec *reconciler.Reconciler, relay *dragdrop.Relay, hub *websocket.Hub, logger *zerolog.Logger) *Server {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "web").Logger()
	}

	loc, err := cfg.Location()
	if err != nil {
		base.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone, using local")
		loc = time.Local
	}

	s := &Server{cfg: cfg, rec: rec, relay: relay, hub: hub, loc: loc, log: base}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", websocket.HandleWebSocket(s.hub, originHosts(s.cfg.AllowedOrigins), s.snapshot))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)

	api.HandleFunc("/queue", s.handleAddToQueue).Methods(http.MethodPost)
	api.HandleFunc("/queue/{id:[0-9-]+}", s.handleRemoveFromQueue).Methods(http.MethodDelete)

	api.HandleFunc("/drags", s.handleListDrags).Methods(http.MethodGet)
	api.HandleFunc("/drags", s.handleBeginDrag).Methods(http.MethodPost)
	api.HandleFunc("/drags/{handle}/drop", s.handleDrop).Methods(http.MethodPost)
	api.HandleFunc("/drags/{handle}", s.handleCancelDrag).Methods(http.MethodDelete)

	api.HandleFunc("/appointments", s.handleAddAppointment).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}", s.handleUpdateAppointment).Methods(http.MethodPut)
	api.HandleFunc("/appointments/{id}", s.handleDeleteAppointment).Methods(http.MethodDelete)

	api.HandleFunc("/sync/flush", s.handleFlush).Methods(http.MethodPost)

	var h http.Handler = r
	if len(s.cfg.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h)
	}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}))(h)
}

// Handler exposes the routed handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("web server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) snapshot() any {
	return s.rec.Snapshot()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the WebSocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

// originHosts turns configured CORS origins into the host patterns the
// WebSocket accept check expects.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
