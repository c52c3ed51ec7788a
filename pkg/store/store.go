package store

import (
	"encoding/json"
	"fmt"

	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
)

// Logical collections inside the shared KV store.
const (
	AccountsNamespace = "accounts"
	SessionsNamespace = "sessions"
	PostsNamespace    = "posts"
	IndexesNamespace  = "indexes"
)

// Stores bundles every collection built on one KV backend.
type Stores struct {
	Accounts *AccountStore
	Sessions *SessionStore
	Posts    *PostStore
	// Indexes is the raw namespace holding aggregate post indexes.
	Indexes kv.Store
}

// New wires all collections onto base.
func New(base kv.Store, opts Options) *Stores {
	return &Stores{
		Accounts: NewAccountStore(kv.Namespace(base, AccountsNamespace)),
		Sessions: NewSessionStore(kv.Namespace(base, SessionsNamespace), opts.SessionTTL),
		Posts:    NewPostStore(kv.Namespace(base, PostsNamespace)),
		Indexes:  kv.Namespace(base, IndexesNamespace),
	}
}

// Page is one page of keys from a collection listing.
type Page struct {
	Keys     []string
	Cursor   string
	Complete bool
}

func decodeRecord(kind, key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s %q: %v", domain.ErrInternalInconsistency, kind, key, err)
	}
	return nil
}
