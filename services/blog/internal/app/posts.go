package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"edgepress/internal/policy"
	"edgepress/internal/postindex"
	"edgepress/pkg/domain"
)

// PageRequest carries listing parameters from the HTTP layer.
type PageRequest struct {
	Mode   postindex.Mode
	Limit  int
	Offset int
	Cursor string
	Author string
}

// Listing is one page of posts with authors inlined.
type Listing struct {
	Mode       postindex.Mode
	Items      []domain.ListedPost
	Completed  bool
	NextOffset int
	Cursor     string
}

// ListPublic lists public posts for anyone.
func (a *App) ListPublic(ctx context.Context, req PageRequest) (Listing, error) {
	return a.list(ctx, postindex.Query{Scope: postindex.ScopePublic}, req)
}

// ListForEditor lists what an admin or editor may manage: everything for an
// admin, public plus own private posts for an editor.
func (a *App) ListForEditor(ctx context.Context, id *domain.Identity, req PageRequest) (Listing, error) {
	if err := policy.Authorize(id, policy.ActionList, policy.Resource{Kind: policy.KindPost}).Err(); err != nil {
		return Listing{}, err
	}
	return a.list(ctx, postindex.Query{Viewer: id, Scope: postindex.ScopeAll}, req)
}

func (a *App) list(ctx context.Context, q postindex.Query, req PageRequest) (Listing, error) {
	q.Author = strings.TrimSpace(req.Author)
	q.Limit = req.Limit
	q.Offset = req.Offset
	q.Cursor = req.Cursor
	q.Mode = req.Mode
	if q.Mode == "" {
		q.Mode = a.defaultMode
	}

	var (
		page postindex.Page
		err  error
	)
	if q.Mode == postindex.ModeCursor {
		page, err = postindex.ListByCursor(ctx, a.stores.Posts, q)
	} else {
		page, err = a.index.List(ctx, a.collection, q)
	}
	if err != nil {
		return Listing{}, err
	}

	items, err := a.inlineAuthors(ctx, page.Entries)
	if err != nil {
		return Listing{}, err
	}
	return Listing{
		Mode:       q.Mode,
		Items:      items,
		Completed:  page.Completed,
		NextOffset: page.NextOffset,
		Cursor:     page.Cursor,
	}, nil
}

// inlineAuthors looks each distinct author up once. Entries whose author
// account is gone are skipped.
func (a *App) inlineAuthors(ctx context.Context, entries []domain.PostIndexEntry) ([]domain.ListedPost, error) {
	names := make([]string, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Author]; !ok {
			seen[e.Author] = len(names)
			names = append(names, e.Author)
		}
	}
	accounts := make([]*domain.Account, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			acc, ok, err := a.author(gctx, name)
			if err != nil {
				return err
			}
			if ok {
				accounts[i] = &acc
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]domain.ListedPost, 0, len(entries))
	for _, e := range entries {
		acc := accounts[seen[e.Author]]
		if acc == nil {
			continue
		}
		out = append(out, domain.NewListedPost(e, *acc))
	}
	return out, nil
}

// GetPost returns the post with its author inlined. Anonymous callers may
// read public posts only.
func (a *App) GetPost(ctx context.Context, id *domain.Identity, slug string) (domain.PostView, error) {
	p, ok, err := a.loadPost(ctx, slug)
	if err != nil {
		return domain.PostView{}, err
	}
	if !ok {
		return domain.PostView{}, ErrPostNotFound
	}
	if err := policy.Authorize(id, policy.ActionRead, policy.Post(p.Author, p.Visibility)).Err(); err != nil {
		return domain.PostView{}, err
	}
	acc, ok, err := a.author(ctx, p.Author)
	if err != nil {
		return domain.PostView{}, err
	}
	if !ok {
		return domain.PostView{}, fmt.Errorf("%w: %s by %s", ErrAuthorNotFound, slug, p.Author)
	}
	return domain.NewPostView(p, acc), nil
}

// PostInput is the body of a create or update. For updates only non-empty
// fields overwrite the stored post.
type PostInput struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Visibility    string `json:"visibility"`
	FeaturedImage string `json:"featuredImage"`
}

// CreatePost stores a new post authored by the caller and indexes it.
func (a *App) CreatePost(ctx context.Context, id *domain.Identity, slug string, in PostInput) (domain.Post, error) {
	author := ""
	if id != nil {
		author = id.Username
	}
	if err := policy.Authorize(id, policy.ActionCreate, policy.Post(author, domain.VisibilityPrivate)).Err(); err != nil {
		return domain.Post{}, err
	}
	slug = strings.TrimSpace(slug)
	if !validSlug(slug) {
		return domain.Post{}, ErrInvalidSlug
	}
	_, exists, err := a.stores.Posts.Get(ctx, slug)
	if err != nil {
		return domain.Post{}, err
	}
	if exists {
		return domain.Post{}, ErrSlugTaken
	}
	title := strings.TrimSpace(in.Title)
	if title == "" || in.Content == "" || in.Visibility == "" {
		return domain.Post{}, ErrMissingFields
	}
	vis, ok := domain.ParseVisibility(in.Visibility)
	if !ok {
		return domain.Post{}, ErrBadVisibility
	}

	p := domain.Post{
		Slug:          slug,
		Title:         title,
		FeaturedImage: strings.TrimSpace(in.FeaturedImage),
		Author:        author,
		Date:          a.now().UTC(),
		Content:       in.Content,
		Visibility:    vis,
	}
	if err := a.stores.Posts.Put(ctx, p); err != nil {
		return domain.Post{}, err
	}
	if err := a.index.Upsert(ctx, a.collection, p.IndexEntry()); err != nil {
		if rbErr := a.stores.Posts.Delete(ctx, slug); rbErr != nil {
			return domain.Post{}, fmt.Errorf("index post: %w (rollback failed: %v)", err, rbErr)
		}
		return domain.Post{}, fmt.Errorf("index post: %w", err)
	}
	a.invalidate(slug)
	return p, nil
}

// UpdatePost applies the non-empty fields of in and stamps updated.
func (a *App) UpdatePost(ctx context.Context, id *domain.Identity, slug string, in PostInput) (domain.Post, error) {
	if id == nil {
		return domain.Post{}, policy.Authorize(nil, policy.ActionUpdate, policy.Resource{Kind: policy.KindPost}).Err()
	}
	p, ok, err := a.stores.Posts.Get(ctx, slug)
	if err != nil {
		return domain.Post{}, err
	}
	if !ok {
		return domain.Post{}, ErrPostNotFound
	}
	if err := policy.Authorize(id, policy.ActionUpdate, policy.Post(p.Author, p.Visibility)).Err(); err != nil {
		return domain.Post{}, err
	}
	if in.Visibility != "" {
		vis, ok := domain.ParseVisibility(in.Visibility)
		if !ok {
			return domain.Post{}, ErrBadVisibility
		}
		p.Visibility = vis
	}
	if t := strings.TrimSpace(in.Title); t != "" {
		p.Title = t
	}
	if in.Content != "" {
		p.Content = in.Content
	}
	if f := strings.TrimSpace(in.FeaturedImage); f != "" {
		p.FeaturedImage = f
	}
	updated := a.now().UTC()
	p.Updated = &updated

	if err := a.stores.Posts.Put(ctx, p); err != nil {
		return domain.Post{}, err
	}
	a.invalidate(slug)
	if err := a.index.Upsert(ctx, a.collection, p.IndexEntry()); err != nil {
		return domain.Post{}, fmt.Errorf("index post: %w", err)
	}
	return p, nil
}

// DeletePost removes the index entry, then the post. A failure in between
// leaves the record in place so a retry converges; a retry on a missing
// record still clears an entry left behind.
func (a *App) DeletePost(ctx context.Context, id *domain.Identity, slug string) error {
	if id == nil {
		return policy.Authorize(nil, policy.ActionDelete, policy.Resource{Kind: policy.KindPost}).Err()
	}
	p, ok, err := a.stores.Posts.Get(ctx, slug)
	if err != nil {
		return err
	}
	if !ok {
		if err := a.dropOrphanEntry(ctx, id, slug); err != nil {
			return err
		}
		return ErrPostNotFound
	}
	if err := policy.Authorize(id, policy.ActionDelete, policy.Post(p.Author, p.Visibility)).Err(); err != nil {
		return err
	}
	if err := a.index.Remove(ctx, a.collection, slug); err != nil {
		return fmt.Errorf("unindex post: %w", err)
	}
	a.invalidate(slug)
	if err := a.stores.Posts.Delete(ctx, slug); err != nil {
		return err
	}
	a.invalidate(slug)
	return nil
}

// dropOrphanEntry removes an index entry whose record is gone, when the
// caller could have deleted the post it describes.
func (a *App) dropOrphanEntry(ctx context.Context, id *domain.Identity, slug string) error {
	entry, found, err := a.index.Get(ctx, a.collection, slug)
	if err != nil || !found {
		return err
	}
	if !policy.Authorize(id, policy.ActionDelete, policy.Post(entry.Author, entry.Visibility)).Allowed {
		return nil
	}
	slog.Warn("removing index entry without post record", "collection", a.collection, "slug", slug)
	if err := a.index.Remove(ctx, a.collection, slug); err != nil {
		return fmt.Errorf("unindex post: %w", err)
	}
	return nil
}

func validSlug(slug string) bool {
	if slug == "" || len(slug) > 128 {
		return false
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
