package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"edgepress/internal/ratelimit"
	"edgepress/internal/util"
	"edgepress/pkg/domain"
	"edgepress/pkg/store"
	"edgepress/services/auth/internal/app"
	"edgepress/services/auth/internal/security"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	CookieDomain   string
	CookieInsecure bool
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	// Limiters and Alerter are optional; nil disables them.
	LoginLimiter    *ratelimit.FixedWindowLimiter
	RegisterLimiter *ratelimit.FixedWindowLimiter
	Alerter         *security.AuditAlerter
}

// Server exposes HTTP endpoints for the auth service.
type Server struct {
	app             *app.App
	router          chi.Router
	cookieDomain    string
	cookieInsecure  bool
	trusted         *util.TrustedProxies
	corsOrigins     []string
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		router:          chi.NewRouter(),
		cookieDomain:    strings.TrimSpace(cfg.CookieDomain),
		cookieInsecure:  cfg.CookieInsecure,
		trusted:         cfg.TrustedProxies,
		corsOrigins:     cfg.CORSOrigins,
		loginLimiter:    cfg.LoginLimiter,
		registerLimiter: cfg.RegisterLimiter,
		alerter:         cfg.Alerter,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WrapService("auth", s.router)
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

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
	})
	r.Route("/v1/users", func(r chi.Router) {
		r.Get("/", s.authenticated(s.handleListUsers))
		r.Get("/{username}", s.authenticated(s.handleGetUser))
		r.Put("/{username}", s.authenticated(s.handleUpdateUser))
		r.Delete("/{username}", s.authenticated(s.handleDeleteUser))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, *domain.Identity)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.app.Resolver().Identity(r.Context(), r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if id == nil {
			s.audit(r, "auth.authorize", "fail", "reason", "no_session")
			if s.app.Resolver().Token(r) != "" {
				http.SetCookie(w, s.sessionCookie("", -1))
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, id)
	}
}

// session lifecycle
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter) {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeCredentials(r, &req); err != nil {
		s.respondAuthFailure(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, sess, err := s.app.Login(r.Context(), req.Username, req.Password, s.clientInfo(r))
	if err != nil {
		s.audit(r, "auth.login", "fail", "username", req.Username)
		if errors.Is(err, domain.ErrUnauthenticated) || errors.Is(err, domain.ErrBadRequest) {
			s.respondAuthFailure(w, r, statusFor(err), err.Error())
			return
		}
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "username", account.Username)
	s.respondSession(w, r, http.StatusOK, account, sess)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter) {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeCredentials(r, &req); err != nil {
		s.respondAuthFailure(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, sess, err := s.app.Register(r.Context(), app.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	}, s.clientInfo(r))
	if err != nil {
		s.audit(r, "auth.register", "fail", "username", req.Username)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrBadRequest) {
			s.respondAuthFailure(w, r, statusFor(err), err.Error())
			return
		}
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "username", account.Username)
	s.respondSession(w, r, http.StatusCreated, account, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.app.Resolver().Token(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "auth.logout", "fail")
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success")
	http.SetCookie(w, s.sessionCookie("", -1))
	if target, ok := redirectTarget(r); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// account handlers
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	accounts, err := s.app.ListAccounts(r.Context(), id)
	if err != nil {
		s.auditDenied(r, err)
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": accounts,
		"count": len(accounts),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	account, err := s.app.GetAccount(r.Context(), id, chi.URLParam(r, "username"))
	if err != nil {
		s.auditDenied(r, err)
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	var req accountPatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	username := chi.URLParam(r, "username")
	account, err := s.app.UpdateAccount(r.Context(), id, username, app.AccountPatch{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        req.Role,
		Banned:      req.Banned,
	})
	if err != nil {
		s.auditDenied(r, err)
		writeAppError(w, r, err)
		return
	}
	if req.Role != nil || req.Banned != nil {
		s.audit(r, "users.elevate", "success", "actor", id.Username, "target", username, "role", account.Role, "banned", account.Banned)
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, id *domain.Identity) {
	username := chi.URLParam(r, "username")
	if err := s.app.DeleteAccount(r.Context(), id, username); err != nil {
		s.auditDenied(r, err)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "users.delete", "success", "actor", id.Username, "target", username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// responses
func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, status int, account domain.Account, sess domain.Session) {
	http.SetCookie(w, s.sessionCookie(sess.Token, int(s.app.SessionTTL()/time.Second)))
	if target, ok := redirectTarget(r); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	writeJSON(w, status, sessionResponse{Token: sess.Token, User: account, ExpiresAt: sess.ExpiresAt})
}

// respondAuthFailure answers login/register errors, as a redirect when the
// form asked for one.
func (s *Server) respondAuthFailure(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if target, ok := redirectTarget(r); ok {
		http.Redirect(w, r, withQuery(target, "error", "invalid-credentials"), http.StatusFound)
		return
	}
	writeError(w, status, msg)
}

func (s *Server) sessionCookie(token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.app.Resolver().CookieName(),
		Value:    token,
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !s.cookieInsecure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *Server) clientInfo(r *http.Request) store.ClientInfo {
	return store.ClientInfo{IP: util.ClientIP(r, s.trusted), UserAgent: r.UserAgent()}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	result, err := s.alerter.Observe(context.WithoutCancel(r.Context()), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert", "event", event, "outcome", outcome, "ip", ip, "count", result.Count, "threshold", result.Threshold, "window", result.Window.String())
	}
}

func (s *Server) auditDenied(r *http.Request, err error) {
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrUnauthenticated) {
		s.audit(r, "users.authorize", "fail", "reason", err.Error())
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

type credentialsRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type sessionResponse struct {
	Token     string         `json:"token"`
	User      domain.Account `json:"user"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type accountPatchRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Password    *string `json:"password"`
	Role        *string `json:"role"`
	Banned      *bool   `json:"banned"`
}

// decodeCredentials accepts a JSON body or an HTML form post.
func decodeCredentials(r *http.Request, dst *credentialsRequest) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return errors.New("invalid form body")
		}
		dst.Username = r.PostFormValue("username")
		dst.Password = r.PostFormValue("password")
		dst.Email = r.PostFormValue("email")
		dst.DisplayName = r.PostFormValue("displayName")
		return nil
	default:
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
			return errors.New("invalid JSON body")
		}
		return nil
	}
}

// redirectTarget returns the redirect query parameter when it is a local path.
func redirectTarget(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("redirect"))
	if raw == "" {
		return "", false
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return "/", true
	}
	return raw, true
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
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
