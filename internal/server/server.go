// Package server is the HTTP + WebSocket API surface for phishr.
package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/phishr/phishr/internal/app"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

// Server wraps the fusion engine behind a JSON API.
type Server struct {
	cfg      Config
	app      *app.Application
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer creates a Server around an already-built application.
func NewServer(cfg Config, application *app.Application) (*Server, error) {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultConfig().BatchLimit
	}
	logger := application.Logger.With(logging.Field{Key: "component", Value: "server"})

	s := &Server{
		cfg:    cfg,
		app:    application,
		router: chi.NewRouter(),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/api/scan", s.optionsHandler("POST"))
	r.Options("/api/scan/batch", s.optionsHandler("POST"))
	r.Options("/api/health", s.optionsHandler("GET"))
	r.Options("/api/model", s.optionsHandler("GET"))

	r.Post("/api/scan", s.handleScan)
	r.Post("/api/scan/batch", s.handleBatchScan)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/model", s.handleModel)

	// WebSocket batch scan with per-URL progress
	r.Get("/ws/scan", s.handleScanWS)

	s.mountSwagger(r)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path})
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// --- HTTP handlers ---

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !validateAbsoluteURL(body.URL) {
		writeError(w, http.StatusBadRequest, "url must be absolute")
		return
	}

	verdict := s.app.Engine.ClassifyURL(r.Context(), body.URL)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleBatchScan(w http.ResponseWriter, r *http.Request) {
	var body BatchScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(body.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if len(body.URLs) > s.cfg.BatchLimit {
		writeError(w, http.StatusRequestEntityTooLarge, "batch too large")
		return
	}

	verdicts := s.app.Engine.ClassifyURLs(r.Context(), body.URLs, nil)
	writeJSON(w, http.StatusOK, verdicts)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Model:  s.app.Engine.ModelName(),
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	resp := ModelResponse{Model: s.app.Engine.ModelName()}
	resp.Loaded = resp.Model != ""
	for _, cls := range s.app.Engine.ModelClasses() {
		resp.Classes = append(resp.Classes, string(cls))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScanWS upgrades to a websocket, reads one BatchScanRequest frame and
// streams a ProgressEvent per completed URL, finishing with a Done frame.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	var body BatchScanRequest
	if err := conn.ReadJSON(&body); err != nil {
		_ = conn.WriteJSON(ErrorResponse{Error: "invalid request frame"})
		return
	}
	if len(body.URLs) == 0 || len(body.URLs) > s.cfg.BatchLimit {
		_ = conn.WriteJSON(ErrorResponse{Error: "urls must contain between 1 and batch-limit entries"})
		return
	}

	progress := func(index, total int, v *model.Verdict) {
		if err := conn.WriteJSON(ProgressEvent{Index: index, Total: total, Verdict: v}); err != nil {
			s.logger.Debug("websocket write failed",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	s.app.Engine.ClassifyURLs(r.Context(), body.URLs, progress)

	_ = conn.WriteJSON(ProgressEvent{Index: len(body.URLs), Total: len(body.URLs), Done: true})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan complete"))
}

// validateAbsoluteURL rejects inputs that cannot possibly be fetched. The
// scan path tolerates malformed URLs, but at the API boundary a clear 400
// beats a partial verdict.
func validateAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
