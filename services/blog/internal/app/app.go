package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"edgepress/internal/cache"
	"edgepress/internal/postindex"
	"edgepress/internal/session"
	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
	"edgepress/pkg/store"
)

// Config holds runtime configuration for the content service.
type Config struct {
	KV kv.Config
	// Store overrides KV, mainly for tests.
	Store           kv.Store
	CookieName      string
	RefreshIdentity bool
	Collection      string
	// IndexCASAttempts > 0 switches index writes to compare-and-swap.
	IndexCASAttempts int
	DefaultMode      postindex.Mode
	CacheSize        int
	CacheTTL         time.Duration
}

// App implements post reads and writes on top of the shared stores.
type App struct {
	stores      *store.Stores
	index       *postindex.Index
	collection  string
	defaultMode postindex.Mode
	posts       cache.Cache[domain.Post]
	resolver    *session.Resolver
	base        kv.Store
	now         func() time.Time
}

// New constructs the content service on the configured KV backend.
func New(cfg Config) (*App, error) {
	base := cfg.Store
	if base == nil {
		var err error
		base, err = kv.Open(cfg.KV)
		if err != nil {
			return nil, fmt.Errorf("init kv store: %w", err)
		}
	}
	collection := cfg.Collection
	if collection == "" {
		collection = postindex.DefaultCollection
	}
	mode := cfg.DefaultMode
	if mode == "" {
		mode = postindex.ModeOffset
	}
	var posts cache.Cache[domain.Post] = cache.Nop[domain.Post]{}
	if cfg.CacheSize > 0 {
		posts = cache.NewLRU[domain.Post]("posts", cfg.CacheSize, cfg.CacheTTL)
	}
	if cfg.IndexCASAttempts > 0 {
		slog.Info("post index compare-and-swap enabled", "attempts", cfg.IndexCASAttempts)
	}
	stores := store.New(base, store.Options{})
	return &App{
		stores:      stores,
		index:       postindex.New(stores.Indexes, postindex.Options{CASAttempts: cfg.IndexCASAttempts}),
		collection:  collection,
		defaultMode: mode,
		posts:       posts,
		resolver: session.NewResolver(stores.Sessions, stores.Accounts, session.Options{
			CookieName:      cfg.CookieName,
			RefreshIdentity: cfg.RefreshIdentity,
		}),
		base: base,
		now:  time.Now,
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

// DefaultMode is the pagination strategy used when a request names none.
func (a *App) DefaultMode() postindex.Mode {
	return a.defaultMode
}

// loadPost reads a post through the cache.
func (a *App) loadPost(ctx context.Context, slug string) (domain.Post, bool, error) {
	return cache.ReadThrough(ctx, a.posts, slug, func(ctx context.Context) (domain.Post, bool, error) {
		return a.stores.Posts.Get(ctx, slug)
	})
}

func (a *App) invalidate(slug string) {
	a.posts.Delete(slug)
}

// author fetches the inlined author account. The password hash never
// serializes, but it is cleared here as well.
func (a *App) author(ctx context.Context, username string) (domain.Account, bool, error) {
	acc, ok, err := a.stores.Accounts.Get(ctx, username)
	if err != nil {
		return domain.Account{}, false, err
	}
	acc.PasswordHash = ""
	return acc, ok, nil
}
