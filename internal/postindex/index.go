// Package postindex keeps the aggregate post index in step with post records
// and answers listing queries over it.
//
// Every mutation is a read-modify-write of one document. With CASAttempts at
// zero two concurrent writers can lose an update; with CASAttempts > 0 each
// write is conditional on the version read and retried on conflict.
package postindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
)

// DefaultCollection names the index of blog posts.
const DefaultCollection = "blogs"

// ErrContention is returned when every compare-and-swap attempt lost a race.
var ErrContention = errors.New("post index: too much write contention")

type Options struct {
	CASAttempts int
}

// Index reads and writes aggregate index documents.
type Index struct {
	kv          kv.Store
	casAttempts int
	now         func() time.Time
}

// New stores index documents in s, one key per collection.
func New(s kv.Store, opts Options) *Index {
	return &Index{kv: s, casAttempts: opts.CASAttempts, now: time.Now}
}

// Load returns the whole index. A missing document is an empty index.
func (x *Index) Load(ctx context.Context, collection string) (domain.PostIndex, error) {
	raw, ok, err := x.kv.Get(ctx, collection)
	if err != nil {
		return domain.PostIndex{}, fmt.Errorf("load index %s: %w", collection, err)
	}
	return decodeIndex(collection, raw, ok)
}

// Get finds the entry for slug.
func (x *Index) Get(ctx context.Context, collection, slug string) (domain.PostIndexEntry, bool, error) {
	idx, err := x.Load(ctx, collection)
	if err != nil {
		return domain.PostIndexEntry{}, false, err
	}
	for _, e := range idx.Meta {
		if e.Slug == slug {
			return e, true, nil
		}
	}
	return domain.PostIndexEntry{}, false, nil
}

// Upsert replaces any entry with the same slug, then appends entry.
func (x *Index) Upsert(ctx context.Context, collection string, entry domain.PostIndexEntry) error {
	return x.mutate(ctx, collection, func(meta []domain.PostIndexEntry) []domain.PostIndexEntry {
		return append(without(meta, entry.Slug), entry)
	})
}

// Remove drops the entry for slug. Removing an absent slug still stamps updated.
func (x *Index) Remove(ctx context.Context, collection, slug string) error {
	return x.mutate(ctx, collection, func(meta []domain.PostIndexEntry) []domain.PostIndexEntry {
		return without(meta, slug)
	})
}

func (x *Index) mutate(ctx context.Context, collection string, fn func([]domain.PostIndexEntry) []domain.PostIndexEntry) error {
	if x.casAttempts <= 0 {
		idx, err := x.Load(ctx, collection)
		if err != nil {
			return err
		}
		raw, err := x.apply(idx, fn)
		if err != nil {
			return err
		}
		if err := x.kv.Put(ctx, collection, raw, kv.PutOptions{}); err != nil {
			return fmt.Errorf("write index %s: %w", collection, err)
		}
		return nil
	}

	for attempt := 0; attempt < x.casAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, version, ok, err := x.kv.GetVersioned(ctx, collection)
		if err != nil {
			return fmt.Errorf("load index %s: %w", collection, err)
		}
		idx, err := decodeIndex(collection, current, ok)
		if err != nil {
			return err
		}
		raw, err := x.apply(idx, fn)
		if err != nil {
			return err
		}
		err = x.kv.PutIfVersion(ctx, collection, raw, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrVersionConflict) {
			return fmt.Errorf("write index %s: %w", collection, err)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrContention, collection, x.casAttempts)
}

func (x *Index) apply(idx domain.PostIndex, fn func([]domain.PostIndexEntry) []domain.PostIndexEntry) ([]byte, error) {
	idx.Meta = fn(idx.Meta)
	if idx.Meta == nil {
		idx.Meta = []domain.PostIndexEntry{}
	}
	idx.Updated = x.now().UTC()
	raw, err := json.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return raw, nil
}

func decodeIndex(collection string, raw []byte, ok bool) (domain.PostIndex, error) {
	if !ok {
		return domain.PostIndex{Meta: []domain.PostIndexEntry{}}, nil
	}
	var idx domain.PostIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return domain.PostIndex{}, fmt.Errorf("%w: index %s: %v", domain.ErrInternalInconsistency, collection, err)
	}
	if idx.Meta == nil {
		idx.Meta = []domain.PostIndexEntry{}
	}
	return idx, nil
}

func without(meta []domain.PostIndexEntry, slug string) []domain.PostIndexEntry {
	out := make([]domain.PostIndexEntry, 0, len(meta))
	for _, e := range meta {
		if e.Slug != slug {
			out = append(out, e)
		}
	}
	return out
}
