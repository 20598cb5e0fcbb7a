// Package api exposes the orchestrator over HTTP: session lifecycle,
// command dispatch, live viewing (MJPEG and WebRTC signalling), script
// safety checks and an admin surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/config"
	"github.com/helmwind/browserpilot/internal/dispatch"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/stream"
	"github.com/helmwind/browserpilot/internal/webrtc"
)

// Server holds the HTTP surface and its collaborators.
type Server struct {
	cfg     config.AppConfig
	pool    *pool.Pool
	disp    *dispatch.Dispatcher
	streams *stream.Manager
	mjpeg   *stream.MJPEGStreamer
	rtc     *webrtc.Coordinator

	upgrader websocket.Upgrader
	started  time.Time
	logger   zerolog.Logger
}

// New wires the server. All collaborators are required except rtc, which may
// be nil when WebRTC is not configured.
func New(cfg config.AppConfig, p *pool.Pool, d *dispatch.Dispatcher,
	streams *stream.Manager, mjpeg *stream.MJPEGStreamer, rtc *webrtc.Coordinator) *Server {
	return &Server{
		cfg:     cfg,
		pool:    p,
		disp:    d,
		streams: streams,
		mjpeg:   mjpeg,
		rtc:     rtc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Auth is token based, not cookie based, so origin checks add
			// nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
		logger:  log.WithComponent("api"),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(httprate.Limit(s.cfg.RateLimit, time.Minute, httprate.WithKeyFuncs(rateKey)))

		r.Route("/sessions/{profileID}", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleGetStatus)
			r.Delete("/", s.handleReleaseSession)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/manual/start", s.handleStartManual)
			r.Post("/manual/stop", s.handleResumeAutomation)
			r.Post("/commands", s.handleCommand)
			r.Get("/ws", s.handleCommandSocket)
			r.Get("/stream/mjpeg", s.handleMJPEG)

			r.Route("/webrtc", func(r chi.Router) {
				r.Post("/offer", s.handleWebRTCOffer)
				r.Post("/answer", s.handleWebRTCAnswer)
				r.Post("/candidates", s.handleWebRTCAddCandidate)
				r.Get("/candidates", s.handleWebRTCCandidates)
				r.Delete("/", s.handleWebRTCClose)
			})
		})

		r.Post("/security/check", s.handleSecurityCheck)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/sessions", s.handleAdminSessions)
			r.Get("/streams", s.handleAdminStreams)
			r.Get("/stats", s.handleAdminStats)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
