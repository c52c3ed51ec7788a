package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"edgepress/internal/session"
	"edgepress/pkg/auth"
	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
	"edgepress/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	KV kv.Config
	// Store overrides KV, mainly for tests.
	Store           kv.Store
	SessionTTL      time.Duration
	CookieName      string
	RefreshIdentity bool
	PasswordHasher  string
}

// App owns session lifecycle and account management.
type App struct {
	stores   *store.Stores
	hasher   auth.PasswordHasher
	resolver *session.Resolver
	base     kv.Store
}

// New constructs the application on the configured KV backend.
func New(cfg Config) (*App, error) {
	base := cfg.Store
	if base == nil {
		var err error
		base, err = kv.Open(cfg.KV)
		if err != nil {
			return nil, fmt.Errorf("init kv store: %w", err)
		}
	}
	hasher, err := auth.NewHasher(cfg.PasswordHasher)
	if err != nil {
		return nil, err
	}
	if _, legacy := hasher.(auth.SHA256Hasher); legacy {
		slog.Warn("using unsalted sha256 password hashing; switch passwordHasher to bcrypt")
	}
	stores := store.New(base, store.Options{SessionTTL: cfg.SessionTTL})
	return &App{
		stores: stores,
		hasher: hasher,
		resolver: session.NewResolver(stores.Sessions, stores.Accounts, session.Options{
			CookieName:      cfg.CookieName,
			RefreshIdentity: cfg.RefreshIdentity,
		}),
		base: base,
	}, nil
}

// Resolver exposes the session resolver used by the HTTP layer.
func (a *App) Resolver() *session.Resolver {
	return a.resolver
}

// KV returns the backing store so callers can share its Redis client.
func (a *App) KV() kv.Store {
	return a.base
}

// SessionTTL is the lifetime of issued sessions.
func (a *App) SessionTTL() time.Duration {
	return a.stores.Sessions.TTL()
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
}

// Register creates a user account and signs it in.
func (a *App) Register(ctx context.Context, in RegisterInput, client store.ClientInfo) (domain.Account, domain.Session, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return domain.Account{}, domain.Session{}, ErrCredentialsRequired
	}
	if !validUsername(username) {
		return domain.Account{}, domain.Session{}, ErrInvalidUsername
	}
	hash, err := a.hasher.Hash(in.Password)
	if err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("hash password: %w", err)
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	account := domain.Account{
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := a.stores.Accounts.Create(ctx, account); err != nil {
		return domain.Account{}, domain.Session{}, err
	}
	sess, err := a.stores.Sessions.Create(ctx, account.Identity(), client)
	if err != nil {
		return domain.Account{}, domain.Session{}, err
	}
	return account, sess, nil
}

// Login checks credentials and issues a new session.
// Banned accounts may sign in; the policy denies their writes.
func (a *App) Login(ctx context.Context, username, password string, client store.ClientInfo) (domain.Account, domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Account{}, domain.Session{}, ErrCredentialsRequired
	}
	account, ok, err := a.stores.Accounts.Get(ctx, username)
	if err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !a.hasher.Verify(password, account.PasswordHash) {
		return domain.Account{}, domain.Session{}, ErrInvalidCredentials
	}
	sess, err := a.stores.Sessions.Create(ctx, account.Identity(), client)
	if err != nil {
		return domain.Account{}, domain.Session{}, err
	}
	return account, sess, nil
}

// Logout deletes the session. Unknown tokens are not an error.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.stores.Sessions.Delete(ctx, token)
}

// EnsureAdmin creates an admin account unless username already exists.
func (a *App) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" {
		return nil
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = a.stores.Accounts.Create(ctx, domain.Account{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}

func validUsername(name string) bool {
	if len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
