package kv

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrVersionConflict is returned by PutIfVersion when the stored version moved.
var ErrVersionConflict = errors.New("kv: version conflict")

// Store is the key-value capability every collection is built on.
// Single-key operations are atomic; nothing spans keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) (ListResult, error)

	// GetVersioned returns the value together with an opaque version token.
	// The token of an absent key is "".
	GetVersioned(ctx context.Context, key string) ([]byte, string, bool, error)
	// PutIfVersion writes only when the current version equals version,
	// otherwise it returns ErrVersionConflict. Metadata is left untouched.
	PutIfVersion(ctx context.Context, key string, value []byte, version string) error
}

// PutOptions carries optional write parameters.
type PutOptions struct {
	// TTL expires the key after the duration. Zero keeps it forever.
	TTL time.Duration
	// Meta is small metadata returned by List without reading the value.
	Meta []byte
}

// ListOptions selects a page of keys in lexicographic order.
type ListOptions struct {
	Prefix string
	// Cursor is the opaque continuation returned by a previous page.
	Cursor string
	Limit  int
}

// ListResult is one page of keys.
type ListResult struct {
	Items    []Item
	Cursor   string
	Complete bool
}

type Item struct {
	Key  string
	Meta []byte
}

const (
	DefaultListLimit = 1000
	opTimeout        = 3 * time.Second
)

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}

// withTimeout bounds a single store call while honoring the caller's deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, opTimeout)
}

// Namespaced scopes a store to keys beginning with name + ":".
// List results have the namespace stripped from keys and cursors.
type Namespaced struct {
	base   Store
	prefix string
}

// Namespace returns a view of base limited to one logical collection.
func Namespace(base Store, name string) *Namespaced {
	return &Namespaced{base: base, prefix: name + ":"}
}

func (n *Namespaced) key(k string) string { return n.prefix + k }

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.base.Get(ctx, n.key(key))
}

func (n *Namespaced) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	return n.base.Put(ctx, n.key(key), value, opts)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.base.Delete(ctx, n.key(key))
}

func (n *Namespaced) GetVersioned(ctx context.Context, key string) ([]byte, string, bool, error) {
	return n.base.GetVersioned(ctx, n.key(key))
}

func (n *Namespaced) PutIfVersion(ctx context.Context, key string, value []byte, version string) error {
	return n.base.PutIfVersion(ctx, n.key(key), value, version)
}

func (n *Namespaced) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	inner := ListOptions{Prefix: n.prefix + opts.Prefix, Limit: opts.Limit}
	if opts.Cursor != "" {
		inner.Cursor = n.prefix + opts.Cursor
	}
	res, err := n.base.List(ctx, inner)
	if err != nil {
		return ListResult{}, err
	}
	for i := range res.Items {
		res.Items[i].Key = strings.TrimPrefix(res.Items[i].Key, n.prefix)
	}
	res.Cursor = strings.TrimPrefix(res.Cursor, n.prefix)
	return res, nil
}
