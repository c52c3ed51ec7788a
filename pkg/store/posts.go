package store

import (
	"context"
	"encoding/json"
	"fmt"

	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
)

// PostStore maps slugs to post records. Each key carries its index entry as
// metadata so cursor listings never read post bodies.
type PostStore struct {
	kv kv.Store
}

func NewPostStore(s kv.Store) *PostStore {
	return &PostStore{kv: s}
}

func (s *PostStore) Get(ctx context.Context, slug string) (domain.Post, bool, error) {
	raw, ok, err := s.kv.Get(ctx, slug)
	if err != nil {
		return domain.Post{}, false, fmt.Errorf("get post: %w", err)
	}
	if !ok {
		return domain.Post{}, false, nil
	}
	var p domain.Post
	if err := decodeRecord("post", slug, raw, &p); err != nil {
		return domain.Post{}, false, err
	}
	if p.Slug == "" {
		p.Slug = slug
	}
	return p, true, nil
}

// Put writes the post and refreshes its metadata.
func (s *PostStore) Put(ctx context.Context, p domain.Post) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	meta, err := json.Marshal(p.IndexEntry())
	if err != nil {
		return fmt.Errorf("encode post meta: %w", err)
	}
	if err := s.kv.Put(ctx, p.Slug, raw, kv.PutOptions{Meta: meta}); err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	return nil
}

func (s *PostStore) Delete(ctx context.Context, slug string) error {
	if err := s.kv.Delete(ctx, slug); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// EntryPage is a page of index entries read from key metadata.
type EntryPage struct {
	Entries  []domain.PostIndexEntry
	Cursor   string
	Complete bool
}

// ListEntries pages through posts in slug order using the store cursor.
// Keys written without metadata fall back to reading the record.
func (s *PostStore) ListEntries(ctx context.Context, cursor string, limit int) (EntryPage, error) {
	res, err := s.kv.List(ctx, kv.ListOptions{Cursor: cursor, Limit: limit})
	if err != nil {
		return EntryPage{}, fmt.Errorf("list posts: %w", err)
	}
	page := EntryPage{Cursor: res.Cursor, Complete: res.Complete, Entries: make([]domain.PostIndexEntry, 0, len(res.Items))}
	for _, item := range res.Items {
		if len(item.Meta) == 0 {
			p, ok, err := s.Get(ctx, item.Key)
			if err != nil {
				return EntryPage{}, err
			}
			if !ok {
				continue
			}
			page.Entries = append(page.Entries, p.IndexEntry())
			continue
		}
		var entry domain.PostIndexEntry
		if err := decodeRecord("post metadata", item.Key, item.Meta, &entry); err != nil {
			return EntryPage{}, err
		}
		if entry.Slug == "" {
			entry.Slug = item.Key
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}
