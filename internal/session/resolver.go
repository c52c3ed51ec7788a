// Package session turns an inbound request into the caller's session.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"edgepress/pkg/domain"
	"edgepress/pkg/store"
)

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "session"

type Options struct {
	CookieName string
	// RefreshIdentity overlays the live account onto the stored snapshot so
	// role and ban changes apply to existing sessions.
	RefreshIdentity bool
}

// Resolver looks sessions up by token and checks expiry.
type Resolver struct {
	sessions   *store.SessionStore
	accounts   *store.AccountStore
	cookieName string
	refresh    bool
	now        func() time.Time
}

func NewResolver(sessions *store.SessionStore, accounts *store.AccountStore, opts Options) *Resolver {
	name := strings.TrimSpace(opts.CookieName)
	if name == "" {
		name = DefaultCookieName
	}
	return &Resolver{
		sessions:   sessions,
		accounts:   accounts,
		cookieName: name,
		refresh:    opts.RefreshIdentity && accounts != nil,
		now:        time.Now,
	}
}

// CookieName is the cookie the resolver reads.
func (r *Resolver) CookieName() string {
	return r.cookieName
}

// Token extracts the session token: bearer header first, then cookie.
func (r *Resolver) Token(req *http.Request) string {
	if token := bearerToken(req); token != "" {
		return token
	}
	return cookieToken(req, r.cookieName)
}

// Resolve returns the caller's session. found is false when there is no
// token, no record, the record expired, or (with refresh) the account is gone.
// Store failures and corrupt records are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (domain.Session, bool, error) {
	token := r.Token(req)
	if token == "" {
		return domain.Session{}, false, nil
	}
	return r.ResolveToken(ctx, token)
}

// ResolveToken is Resolve for an already extracted token.
func (r *Resolver) ResolveToken(ctx context.Context, token string) (domain.Session, bool, error) {
	sess, ok, err := r.sessions.Get(ctx, token)
	if err != nil || !ok {
		return domain.Session{}, false, err
	}
	if sess.Expired(r.now()) {
		return domain.Session{}, false, nil
	}
	if !r.refresh {
		return sess, true, nil
	}
	account, ok, err := r.accounts.Get(ctx, sess.Identity.Username)
	if err != nil {
		return domain.Session{}, false, err
	}
	if !ok {
		return domain.Session{}, false, nil
	}
	sess.Identity = account.Identity()
	return sess, true, nil
}

// Identity resolves the request and returns the caller, or nil when anonymous.
func (r *Resolver) Identity(ctx context.Context, req *http.Request) (*domain.Identity, error) {
	sess, ok, err := r.Resolve(ctx, req)
	if err != nil || !ok {
		return nil, err
	}
	id := sess.Identity
	return &id, nil
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// cookieToken relies on net/http cookie parsing, which skips malformed pairs.
func cookieToken(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
