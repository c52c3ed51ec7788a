package postindex

import (
	"context"
	"sort"

	"edgepress/pkg/domain"
	"edgepress/pkg/store"
)

const (
	MaxLimit     = 100
	DefaultLimit = MaxLimit
)

// Mode selects the pagination strategy.
type Mode string

const (
	ModeOffset Mode = "offset"
	ModeCursor Mode = "cursor"
)

// ParseMode accepts "offset" or "cursor".
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeOffset, ModeCursor:
		return Mode(raw), true
	default:
		return "", false
	}
}

// Scope is the visibility filter of a listing.
type Scope string

const (
	ScopePublic Scope = "public"
	ScopeAll    Scope = "all"
)

type Query struct {
	// Viewer is nil for anonymous callers.
	Viewer *domain.Identity
	Scope  Scope
	// Author restricts a non-admin viewer to their own posts when non-empty.
	Author string
	Mode   Mode
	Limit  int
	Offset int
	Cursor string
}

// Page is one listing page. Offset mode fills NextOffset, cursor mode Cursor.
type Page struct {
	Entries    []domain.PostIndexEntry
	Completed  bool
	NextOffset int
	Cursor     string
}

// ClampLimit bounds a requested page size to [1, MaxLimit]; zero or less
// selects DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (q Query) matches(e domain.PostIndexEntry) bool {
	admin := q.Viewer != nil && q.Viewer.IsAdmin()
	if q.Scope != ScopeAll || q.Viewer == nil {
		if e.Visibility != domain.VisibilityPublic {
			return false
		}
	} else if !admin && e.Visibility != domain.VisibilityPublic && e.Author != q.Viewer.Username {
		return false
	}
	if q.Author != "" && q.Viewer != nil && !admin && e.Author != q.Viewer.Username {
		return false
	}
	return true
}

// SortEntries orders entries newest first, slug ascending on equal dates.
func SortEntries(entries []domain.PostIndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].Slug < entries[j].Slug
	})
}

// List pages over the aggregate index by offset.
func (x *Index) List(ctx context.Context, collection string, q Query) (Page, error) {
	idx, err := x.Load(ctx, collection)
	if err != nil {
		return Page{}, err
	}
	entries := idx.Meta
	SortEntries(entries)

	limit := ClampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	page := Page{Entries: make([]domain.PostIndexEntry, 0, limit), Completed: true}
	skipped := 0
	for _, e := range entries {
		if !q.matches(e) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(page.Entries) == limit {
			page.Completed = false
			break
		}
		page.Entries = append(page.Entries, e)
	}
	page.NextOffset = offset + len(page.Entries)
	return page, nil
}

// ListByCursor pages over post keys with the store's native cursor, reading
// only key metadata. Entries come back in slug order.
func ListByCursor(ctx context.Context, posts *store.PostStore, q Query) (Page, error) {
	limit := ClampLimit(q.Limit)
	page := Page{Entries: make([]domain.PostIndexEntry, 0, limit), Cursor: q.Cursor}
	for {
		res, err := posts.ListEntries(ctx, page.Cursor, limit-len(page.Entries))
		if err != nil {
			return Page{}, err
		}
		for _, e := range res.Entries {
			if q.matches(e) {
				page.Entries = append(page.Entries, e)
			}
		}
		page.Cursor = res.Cursor
		if res.Complete {
			page.Completed = true
			page.Cursor = ""
			return page, nil
		}
		if len(page.Entries) >= limit {
			return page, nil
		}
	}
}
