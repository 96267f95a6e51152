package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"edaagent/internal/identity"
	"edaagent/internal/ratelimit"
	"edaagent/internal/util"
	"edaagent/pkg/pipeline"
	"edaagent/pkg/store"
	"edaagent/services/designer/internal/app"
)

const (
	serviceName     = "designer"
	userIDHeader    = "X-User-Id"
	sessionIDHeader = "X-Session-Id"
	maxBodyBytes    = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *identity.Verifier
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server exposes HTTP endpoints for the designer service.
type Server struct {
	app            *app.App
	tokenVerifier  *identity.Verifier
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	metrics        http.Handler
	mux            *http.ServeMux

	streams     context.Context
	stopStreams context.CancelFunc
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		metrics:        cfg.Metrics,
		mux:            http.NewServeMux(),
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(serviceName, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

// CloseStreams ends open history streams. Register it with
// http.Server.RegisterOnShutdown so Shutdown does not wait on them.
func (s *Server) CloseStreams() {
	s.stopStreams()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}

	// current run
	s.mux.Handle("/designs/generate", s.withCaller(s.handleGenerate))
	s.mux.Handle("/session", s.withCaller(s.handleSession))
	s.mux.Handle("/session/reset", s.withCaller(s.handleReset))
	s.mux.Handle("/session/load", s.withCaller(s.handleLoad))

	// history
	s.mux.Handle("/designs", s.withCaller(s.handleDesigns))
	s.mux.Handle("/designs/stream", s.withCaller(s.handleStream))
	s.mux.Handle("/designs/", s.withCaller(s.handleDesignByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type callerHandler func(http.ResponseWriter, *http.Request, app.Caller)

// withCaller resolves who the request acts for: a verified bearer token, a
// trusted X-User-Id when no verifier is configured, or else an anonymous
// session keyed by X-Session-Id (issued when absent).
func (s *Server) withCaller(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := app.Caller{SessionID: strings.TrimSpace(r.Header.Get(sessionIDHeader))}
		if s.tokenVerifier != nil {
			subject, err := s.tokenVerifier.VerifyRequest(r)
			switch {
			case err == nil:
				caller.UserID = subject
			case errors.Is(err, identity.ErrNoCredentials):
			default:
				util.LoggerFromContext(r.Context()).Warn("rejected bearer token", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		} else {
			caller.UserID = strings.TrimSpace(r.Header.Get(userIDHeader))
		}
		if caller.UserID == "" && caller.SessionID == "" {
			caller.SessionID = util.NewSessionID()
			w.Header().Set(sessionIDHeader, caller.SessionID)
		}
		next(w, r, caller)
	})
}

type generateRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.allow(r, caller) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	state, err := s.app.Generate(r.Context(), caller, req.Description)
	if failed, ok := state.(pipeline.Failed); ok && !errors.Is(err, pipeline.ErrRunReset) {
		writeJSON(w, http.StatusBadGateway, errorWithSession{
			Error:   failed.Message(),
			Session: newSessionView(failed),
		})
		return
	}
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(state))
}

func (s *Server) allow(r *http.Request, caller app.Caller) bool {
	if s.limiter == nil {
		return true
	}
	key := "ip:" + util.ClientIP(r, s.trustedProxies)
	if caller.UserID != "" {
		key = "user:" + caller.UserID
	}
	return s.limiter.Allow(r.Context(), key)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	state, err := s.app.Session(caller)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(state))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	state, err := s.app.Reset(caller)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(state))
}

type loadRequest struct {
	DesignID string `json:"designId"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DesignID) == "" {
		writeError(w, http.StatusBadRequest, "designId is required")
		return
	}
	state, err := s.app.LoadDesign(r.Context(), caller, req.DesignID)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(state))
}

func (s *Server) handleDesigns(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	recs, err := s.app.ListDesigns(r.Context(), caller)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": newHistoryItems(recs)})
}

func (s *Server) handleDesignByID(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/designs/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "script":
			s.handleScript(w, r, caller, id)
		case "script-url":
			s.handleScriptURL(w, r, caller, id)
		case "archive":
			s.handleArchiveStatus(w, r, caller, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	rec, err := s.app.GetDesign(r.Context(), caller, id)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDesignView(rec))
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request, caller app.Caller, id string) {
	rec, err := s.app.GetDesign(r.Context(), caller, id)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="design-`+rec.ID+`.py"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rec.Script)
}

func (s *Server) handleScriptURL(w http.ResponseWriter, r *http.Request, caller app.Caller, id string) {
	url, err := s.app.ScriptURL(r.Context(), caller, id)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request, caller app.Caller, id string) {
	job, err := s.app.ArchiveStatus(r.Context(), caller, id)
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors to HTTP statuses.
func writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validationErr  *pipeline.ValidationError
		persistenceErr *store.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, pipeline.ErrRunReset):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrSessionRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrIdentityRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, store.ErrDesignNotFound), errors.Is(err, app.ErrArchiveDisabled), errors.Is(err, app.ErrArchiveJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &persistenceErr):
		util.LoggerFromContext(ctx).Error("design store failure", "op", persistenceErr.Op, "err", err)
		writeError(w, http.StatusServiceUnavailable, "design history unavailable")
	default:
		util.LoggerFromContext(ctx).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
