// Package server exposes conversations over HTTP. Turns stream as chunked
// plain text; the final state is reported in trailers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	smarthome "github.com/Aidanwa/smart-home"
	"github.com/Aidanwa/smart-home/agent"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxRequestBodySize = 1 << 20 // 1MB
	defaultShutdownTimeout    = 10 * time.Second

	TrailerState      = "X-Turn-State"
	TrailerIterations = "X-Turn-Iterations"
	TrailerError      = "X-Turn-Error"
)

// Options configure a Server.
type Options struct {
	Logger             logging.Logger
	MaxRequestBodySize int64
	ShutdownTimeout    time.Duration
}

// Server routes HTTP requests to a SmartHome.
type Server struct {
	home   *smarthome.SmartHome
	router chi.Router
	opts   Options
	logger logging.Logger
}

// New creates a server for home.
func New(home *smarthome.SmartHome, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:             logging.NoOpLogger{},
		MaxRequestBodySize: defaultMaxRequestBodySize,
		ShutdownTimeout:    defaultShutdownTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{home: home, opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Method(http.MethodGet, "/metrics", home.Metrics().Handler())
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/turns", s.handleTurn)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type createSessionRequest struct {
	Persona string `json:"persona"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Persona   string `json:"persona"`
	AgentID   string `json:"agent_id"`
}

type turnRequest struct {
	Prompt string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &req) {
			return
		}
	}
	if req.Persona == "" {
		req.Persona = s.home.Config().DefaultAgent
	}

	conv, err := s.home.NewConversation(r.Context(), req.Persona)
	if errors.Is(err, smarthome.ErrUnknownPersona) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("server.session.create_failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: conv.ID(),
		Persona:   req.Persona,
		AgentID:   conv.Agent.ID(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv.Session.Snapshot())
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}

	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}
	if conv.Agent.Busy() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: agent.ErrTurnInProgress.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", TrailerState+", "+TrailerIterations+", "+TrailerError)

	turn := conv.Stream(r.Context(), req.Prompt)
	started := false
	for fragment := range turn.Fragments() {
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			s.logger.Warn("server.turn.write_failed", "session_id", conv.ID(), "error", err.Error())
			break
		}
		flusher.Flush()
	}
	res := turn.Result()

	if !started && errors.Is(res.Err, agent.ErrTurnInProgress) {
		w.Header().Del("Trailer")
		writeJSON(w, http.StatusConflict, errorResponse{Error: res.Err.Error()})
		return
	}

	w.Header().Set(TrailerState, res.State.String())
	w.Header().Set(TrailerIterations, strconv.Itoa(res.Iterations))
	if res.Err != nil {
		w.Header().Set(TrailerError, res.Err.Error())
	}

	if err := conv.Save(context.WithoutCancel(r.Context())); err != nil {
		s.logger.Error("server.session.save_failed", "session_id", conv.ID(), "error", err.Error())
	}
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*smarthome.Conversation, bool) {
	conv, err := s.home.Conversation(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return nil, false
	}
	return conv, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("server.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
