package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"edgepress/internal/postindex"
	"edgepress/internal/ratelimit"
	"edgepress/internal/util"
	"edgepress/pkg/domain"
	"edgepress/services/blog/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	// WriteLimiter bounds post writes per client; nil disables it.
	WriteLimiter *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the blog service.
type Server struct {
	app          *app.App
	router       chi.Router
	trusted      *util.TrustedProxies
	corsOrigins  []string
	writeLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:          cfg.App,
		router:       chi.NewRouter(),
		trusted:      cfg.TrustedProxies,
		corsOrigins:  cfg.CORSOrigins,
		writeLimiter: cfg.WriteLimiter,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WrapService("blog", s.router)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(util.WithCORS(s.corsOrigins))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		methodNotAllowed(w)
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1/blog", func(r chi.Router) {
		r.Get("/", s.withOptionalIdentity(s.handleListPublic))
		r.Get("/{slug}", s.withOptionalIdentity(s.handleGetPost))
		r.Group(func(r chi.Router) {
			r.Use(s.limitWrites)
			r.Post("/{slug}", s.withIdentity(s.handleCreatePost))
			r.Put("/{slug}", s.withIdentity(s.handleUpdatePost))
			r.Delete("/{slug}", s.withIdentity(s.handleDeletePost))
		})
	})
	r.Get("/v1/editor", s.withIdentity(s.handleListEditor))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identity wrapper; id is nil for anonymous callers and the app decides.
type identityHandler func(http.ResponseWriter, *http.Request, *domain.Identity)

func (s *Server) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.app.Resolver().Identity(r.Context(), r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		next(w, r, id)
	}
}

// withOptionalIdentity serves read routes. A session that fails to resolve
// is logged and the caller continues as anonymous.
func (s *Server) withOptionalIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.app.Resolver().Identity(r.Context(), r)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("session lookup failed; serving anonymously", "path", r.URL.Path, "err", err)
			id = nil
		}
		next(w, r, id)
	}
}

func (s *Server) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.writeLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := "blog-write|" + util.ClientIP(r, s.trusted)
		if !s.writeLimiter.Allow(r.Context(), key) {
			s.audit(r, "blog.write", "rate_limited")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// listings
func (s *Server) handleListPublic(w http.ResponseWriter, r *http.Request, _ *domain.Identity) {
	req, err := s.pageRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.app.ListPublic(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeListing(w, list)
}

func (s *Server) handleListEditor(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	req, err := s.pageRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.app.ListForEditor(r.Context(), id, req)
	if err != nil {
		s.auditDenied(r, id, err)
		writeAppError(w, r, err)
		return
	}
	writeListing(w, list)
}

// pageRequest reads limit, offset, cursor and author. A cursor parameter
// selects cursor mode, an offset parameter offset mode.
func (s *Server) pageRequest(r *http.Request) (app.PageRequest, error) {
	q := r.URL.Query()
	req := app.PageRequest{Mode: s.app.DefaultMode(), Author: q.Get("author")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, errors.New("invalid limit")
		}
		req.Limit = n
	}
	switch {
	case q.Has("cursor"):
		req.Mode = postindex.ModeCursor
		req.Cursor = q.Get("cursor")
	case q.Has("offset"):
		req.Mode = postindex.ModeOffset
		n, err := strconv.Atoi(q.Get("offset"))
		if err != nil || n < 0 {
			return req, errors.New("invalid offset")
		}
		req.Offset = n
	}
	return req, nil
}

func writeListing(w http.ResponseWriter, list app.Listing) {
	items := list.Items
	if items == nil {
		items = []domain.ListedPost{}
	}
	if list.Mode == postindex.ModeCursor {
		writeJSON(w, http.StatusOK, cursorListResponse{Items: items, ListComplete: list.Completed, Cursor: list.Cursor})
		return
	}
	writeJSON(w, http.StatusOK, offsetListResponse{Items: items, Completed: list.Completed, NextOffset: list.NextOffset})
}

// post handlers
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	post, err := s.app.GetPost(r.Context(), id, chi.URLParam(r, "slug"))
	if err != nil {
		s.auditDenied(r, id, err)
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	var in app.PostInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	post, err := s.app.CreatePost(r.Context(), id, chi.URLParam(r, "slug"), in)
	if err != nil {
		s.auditDenied(r, id, err)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "blog.create", "success", "actor", id.Username, "slug", post.Slug)
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	var in app.PostInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	post, err := s.app.UpdatePost(r.Context(), id, chi.URLParam(r, "slug"), in)
	if err != nil {
		s.auditDenied(r, id, err)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "blog.update", "success", "actor", id.Username, "slug", post.Slug)
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	slug := chi.URLParam(r, "slug")
	if err := s.app.DeletePost(r.Context(), id, slug); err != nil {
		s.auditDenied(r, id, err)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "blog.delete", "success", "actor", id.Username, "slug", slug)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) auditDenied(r *http.Request, id *domain.Identity, err error) {
	if !errors.Is(err, domain.ErrUnauthorized) && !errors.Is(err, domain.ErrUnauthenticated) {
		return
	}
	actor := ""
	if id != nil {
		actor = id.Username
	}
	s.audit(r, "blog.authorize", "fail", "actor", actor, "reason", err.Error())
}

type offsetListResponse struct {
	Items      []domain.ListedPost `json:"items"`
	Completed  bool                `json:"completed"`
	NextOffset int                 `json:"nextOffset"`
}

type cursorListResponse struct {
	Items        []domain.ListedPost `json:"items"`
	ListComplete bool                `json:"list_complete"`
	Cursor       string              `json:"cursor,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
