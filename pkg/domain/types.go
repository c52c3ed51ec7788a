package domain

import "time"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleEditor    Role = "editor"
	RoleUser      Role = "user"
	RoleGuest     Role = "guest"
)

// ParseRole normalizes a role name. The second result is false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleAdmin, RoleModerator, RoleEditor, RoleUser, RoleGuest:
		return Role(raw), true
	default:
		return "", false
	}
}

// CanAuthor reports whether the role may create and manage posts.
func (r Role) CanAuthor() bool {
	return r == RoleAdmin || r == RoleEditor
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility accepts only the two known visibility values.
func ParseVisibility(raw string) (Visibility, bool) {
	switch Visibility(raw) {
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(raw), true
	default:
		return "", false
	}
}

// Account is a registered user. PasswordHash never leaves the process.
type Account struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName"`
	PasswordHash  string `json:"-"`
	Banned        bool   `json:"banned"`
	Role          Role   `json:"role"`
}

// Identity returns the snapshot embedded into sessions.
func (a Account) Identity() Identity {
	return Identity{
		Username:    a.Username,
		Role:        a.Role,
		Banned:      a.Banned,
		DisplayName: a.DisplayName,
		Email:       a.Email,
	}
}

// Identity is the caller as seen by the authorization policy.
type Identity struct {
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	Banned      bool   `json:"banned"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Session struct {
	Token     string    `json:"-"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"createdAt"`
	ClientIP  string    `json:"clientIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Post struct {
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	FeaturedImage string     `json:"featuredImage,omitempty"`
	Author        string     `json:"author"`
	Date          time.Time  `json:"date"`
	Updated       *time.Time `json:"updated,omitempty"`
	Content       string     `json:"content"`
	Visibility    Visibility `json:"visibility"`
}

// IndexEntry projects the post into its index metadata.
func (p Post) IndexEntry() PostIndexEntry {
	return PostIndexEntry{
		Slug:          p.Slug,
		Title:         p.Title,
		FeaturedImage: p.FeaturedImage,
		Author:        p.Author,
		Date:          p.Date,
		Visibility:    p.Visibility,
	}
}

// PostIndexEntry is the body-less metadata kept in the post index.
type PostIndexEntry struct {
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	FeaturedImage string     `json:"featuredImage,omitempty"`
	Author        string     `json:"author"`
	Date          time.Time  `json:"date"`
	Visibility    Visibility `json:"visibility"`
}

// PostIndex is the aggregate document stored per collection.
type PostIndex struct {
	Meta    []PostIndexEntry `json:"meta"`
	Updated time.Time        `json:"updated"`
}

// PostView is a post with its author account inlined.
type PostView struct {
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	FeaturedImage string     `json:"featuredImage,omitempty"`
	Author        Account    `json:"author"`
	Date          time.Time  `json:"date"`
	Updated       *time.Time `json:"updated,omitempty"`
	Content       string     `json:"content"`
	Visibility    Visibility `json:"visibility"`
}

func NewPostView(p Post, author Account) PostView {
	return PostView{
		Slug:          p.Slug,
		Title:         p.Title,
		FeaturedImage: p.FeaturedImage,
		Author:        author,
		Date:          p.Date,
		Updated:       p.Updated,
		Content:       p.Content,
		Visibility:    p.Visibility,
	}
}

// ListedPost is an index entry with its author account inlined.
type ListedPost struct {
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	FeaturedImage string     `json:"featuredImage,omitempty"`
	Author        Account    `json:"author"`
	Date          time.Time  `json:"date"`
	Visibility    Visibility `json:"visibility"`
}

func NewListedPost(e PostIndexEntry, author Account) ListedPost {
	return ListedPost{
		Slug:          e.Slug,
		Title:         e.Title,
		FeaturedImage: e.FeaturedImage,
		Author:        author,
		Date:          e.Date,
		Visibility:    e.Visibility,
	}
}
