package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
)

func TestAccountStoreCreateGetAndConflict(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), Options{})

	alice := domain.Account{Username: "alice", Email: "a@example.com", PasswordHash: "hash", Role: domain.RoleUser}
	if err := s.Accounts.Create(ctx, alice); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Accounts.Create(ctx, alice); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, ok, err := s.Accounts.Get(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.PasswordHash != "hash" || got.Role != domain.RoleUser {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestAccountStoreRejectsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemoryStore()
	s := New(base, Options{})

	if err := base.Put(ctx, "accounts:broken", []byte("{not json"), kv.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := s.Accounts.Get(ctx, "broken"); !errors.Is(err, domain.ErrInternalInconsistency) {
		t.Fatalf("expected inconsistency for bad json, got %v", err)
	}
	if err := base.Put(ctx, "accounts:odd", []byte(`{"username":"odd","role":"root"}`), kv.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := s.Accounts.Get(ctx, "odd"); !errors.Is(err, domain.ErrInternalInconsistency) {
		t.Fatalf("expected inconsistency for unknown role, got %v", err)
	}
}

func TestAccountStoreListUsernamesPages(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), Options{})
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("user%d", i)
		if err := s.Accounts.Create(ctx, domain.Account{Username: name, Role: domain.RoleUser}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	var all []string
	cursor := ""
	for {
		page, err := s.Accounts.ListUsernames(ctx, cursor, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		all = append(all, page.Keys...)
		if page.Complete {
			break
		}
		cursor = page.Cursor
	}
	if len(all) != 5 || all[0] != "user0" || all[4] != "user4" {
		t.Fatalf("unexpected usernames: %v", all)
	}
}

func TestSessionStoreCreateExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	redis := miniredis.RunT(t)
	s := New(kv.NewRedisStore(redis.Addr(), "", "test"), Options{SessionTTL: time.Hour})

	identity := domain.Identity{Username: "alice", Role: domain.RoleEditor}
	sess, err := s.Sessions.Create(ctx, identity, ClientInfo{IP: "203.0.113.9", UserAgent: "test"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Token == "" {
		t.Fatalf("expected token")
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %s", got)
	}
	loaded, ok, err := s.Sessions.Get(ctx, sess.Token)
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	if loaded.Identity != identity || loaded.ClientIP != "203.0.113.9" || loaded.Token != sess.Token {
		t.Fatalf("unexpected session: %+v", loaded)
	}

	redis.FastForward(2 * time.Hour)
	if _, ok, _ := s.Sessions.Get(ctx, sess.Token); ok {
		t.Fatalf("expected session evicted by ttl")
	}
}

func TestSessionStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), Options{})
	sess, err := s.Sessions.Create(ctx, domain.Identity{Username: "bob", Role: domain.RoleUser}, ClientInfo{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Sessions.Delete(ctx, sess.Token); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if _, ok, _ := s.Sessions.Get(ctx, sess.Token); ok {
		t.Fatalf("expected session gone")
	}
	if _, ok, err := s.Sessions.Get(ctx, ""); ok || err != nil {
		t.Fatalf("empty token should be absent, ok=%v err=%v", ok, err)
	}
}

func TestPostStoreListEntriesUsesMetadata(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), Options{})
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, slug := range []string{"b", "a", "c"} {
		p := domain.Post{Slug: slug, Title: "T " + slug, Author: "alice", Date: now, Content: "body", Visibility: domain.VisibilityPublic}
		if err := s.Posts.Put(ctx, p); err != nil {
			t.Fatalf("put %s: %v", slug, err)
		}
	}
	page, err := s.Posts.ListEntries(ctx, "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Complete || len(page.Entries) != 2 || page.Entries[0].Slug != "a" || page.Entries[1].Title != "T b" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, err = s.Posts.ListEntries(ctx, page.Cursor, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if !page.Complete || len(page.Entries) != 1 || page.Entries[0].Slug != "c" {
		t.Fatalf("unexpected second page: %+v", page)
	}
}
