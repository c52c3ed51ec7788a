package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/driver/sqlite"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			redis := miniredis.RunT(t)
			return NewRedisStore(redis.Addr(), "", "test")
		},
		"gorm": func(t *testing.T) Store {
			dsn := filepath.Join(t.TempDir(), "kv.db")
			s, err := NewGormStoreWithDialector(sqlite.Open(dsn))
			if err != nil {
				t.Fatalf("open gorm store: %v", err)
			}
			return s
		},
	}
}

func TestStoreGetPutDelete(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("get missing: ok=%v err=%v", ok, err)
			}
			if err := s.Put(ctx, "a", []byte("one"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := s.Get(ctx, "a")
			if err != nil || !ok || string(got) != "one" {
				t.Fatalf("get a: %q ok=%v err=%v", got, ok, err)
			}
			if err := s.Put(ctx, "a", []byte("two"), PutOptions{}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _, _ = s.Get(ctx, "a")
			if string(got) != "two" {
				t.Fatalf("expected overwrite, got %q", got)
			}
			if err := s.Delete(ctx, "a"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := s.Delete(ctx, "a"); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "a"); ok {
				t.Fatalf("expected key gone after delete")
			}
		})
	}
}

func TestStoreListPagesWithCursorAndMeta(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			for i := 0; i < 7; i++ {
				key := fmt.Sprintf("posts:p%02d", i)
				meta := []byte(fmt.Sprintf(`{"n":%d}`, i))
				if err := s.Put(ctx, key, []byte("body"), PutOptions{Meta: meta}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			if err := s.Put(ctx, "users:alice", []byte("x"), PutOptions{}); err != nil {
				t.Fatalf("put other namespace: %v", err)
			}

			var keys []string
			cursor := ""
			for pages := 0; ; pages++ {
				if pages > 10 {
					t.Fatalf("pagination did not terminate")
				}
				res, err := s.List(ctx, ListOptions{Prefix: "posts:", Cursor: cursor, Limit: 3})
				if err != nil {
					t.Fatalf("list: %v", err)
				}
				for _, item := range res.Items {
					if len(item.Meta) == 0 {
						t.Fatalf("expected metadata for %s", item.Key)
					}
					keys = append(keys, item.Key)
				}
				if res.Complete {
					break
				}
				cursor = res.Cursor
			}
			if len(keys) != 7 {
				t.Fatalf("expected 7 keys, got %d: %v", len(keys), keys)
			}
			for i, k := range keys {
				if want := fmt.Sprintf("posts:p%02d", i); k != want {
					t.Fatalf("key %d = %q, want %q", i, k, want)
				}
			}
		})
	}
}

func TestStorePutIfVersion(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			if err := s.PutIfVersion(ctx, "idx", []byte("v1"), ""); err != nil {
				t.Fatalf("create via cas: %v", err)
			}
			if err := s.PutIfVersion(ctx, "idx", []byte("again"), ""); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("expected conflict creating existing key, got %v", err)
			}
			val, version, ok, err := s.GetVersioned(ctx, "idx")
			if err != nil || !ok || string(val) != "v1" || version == "" {
				t.Fatalf("get versioned: %q %q ok=%v err=%v", val, version, ok, err)
			}
			if err := s.PutIfVersion(ctx, "idx", []byte("v2"), version); err != nil {
				t.Fatalf("cas with current version: %v", err)
			}
			if err := s.PutIfVersion(ctx, "idx", []byte("stale"), version); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("expected conflict with stale version, got %v", err)
			}
			// A plain Put also moves the version.
			_, version, _, _ = s.GetVersioned(ctx, "idx")
			if err := s.Put(ctx, "idx", []byte("v3"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := s.PutIfVersion(ctx, "idx", []byte("lost"), version); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("expected conflict after interleaved put, got %v", err)
			}
			val, _, _, _ = s.GetVersioned(ctx, "idx")
			if string(val) != "v3" {
				t.Fatalf("expected v3, got %q", val)
			}
		})
	}
}

func TestRedisStoreTTLExpiresAndListPrunes(t *testing.T) {
	ctx := context.Background()
	redis := miniredis.RunT(t)
	s := NewRedisStore(redis.Addr(), "", "test")

	if err := s.Put(ctx, "sessions:tok", []byte("x"), PutOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "sessions:tok"); !ok {
		t.Fatalf("expected live session")
	}
	redis.FastForward(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "sessions:tok"); ok {
		t.Fatalf("expected session expired")
	}
	res, err := s.List(ctx, ListOptions{Prefix: "sessions:"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 0 || !res.Complete {
		t.Fatalf("expected empty complete listing, got %+v", res)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	if err := s.Put(ctx, "k", []byte("v"), PutOptions{TTL: time.Second}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.now = func() time.Time { return now.Add(2 * time.Second) }
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestNamespaceStripsPrefix(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	posts := Namespace(base, "posts")
	users := Namespace(base, "users")
	for _, slug := range []string{"a", "b", "c"} {
		if err := posts.Put(ctx, slug, []byte(slug), PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := users.Put(ctx, "a", []byte("user"), PutOptions{}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	res, err := posts.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].Key != "a" || res.Complete || res.Cursor != "b" {
		t.Fatalf("unexpected first page: %+v", res)
	}
	res, err = posts.List(ctx, ListOptions{Cursor: res.Cursor, Limit: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Key != "c" || !res.Complete {
		t.Fatalf("unexpected second page: %+v", res)
	}
	got, _, _ := users.Get(ctx, "a")
	if string(got) != "user" {
		t.Fatalf("namespaces should not collide, got %q", got)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	s, err := Open(Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}
	if RedisClient(s, Config{}) != nil {
		t.Fatalf("expected no redis client without an address")
	}

	mr := miniredis.RunT(t)
	s, err = Open(Config{RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	rs, ok := s.(*RedisStore)
	if !ok {
		t.Fatalf("expected redis store by default, got %T", s)
	}
	if RedisClient(s, Config{}) != rs.Client() {
		t.Fatalf("expected shared redis client")
	}

	if _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected missing databaseURL error")
	}
	if _, err := Open(Config{Driver: "etcd"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
