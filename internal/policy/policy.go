// Package policy decides whether an identity may act on a post or account.
// Authorize is a pure function: no store access, no clock.
package policy

import (
	"fmt"

	"edgepress/pkg/domain"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionList   Action = "list"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) isWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

type Kind string

const (
	KindPost    Kind = "post"
	KindAccount Kind = "account"
)

// Resource describes the target of an action.
type Resource struct {
	Kind Kind
	// Owner is the post author or the account username.
	Owner      string
	Visibility domain.Visibility
	// Elevated marks account changes touching role or ban state.
	Elevated bool
}

// Post builds the resource for an existing post.
func Post(author string, visibility domain.Visibility) Resource {
	return Resource{Kind: KindPost, Owner: author, Visibility: visibility}
}

// Account builds the resource for the account named username.
func Account(username string) Resource {
	return Resource{Kind: KindAccount, Owner: username, Visibility: domain.VisibilityPrivate}
}

type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonBanned          Reason = "banned"
	ReasonForbidden       Reason = "forbidden"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision              { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Err converts a denial into the matching domain error, or nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUnauthenticated:
		return fmt.Errorf("%w: sign in required", domain.ErrUnauthenticated)
	case d.Reason == ReasonBanned:
		return fmt.Errorf("%w: account is banned", domain.ErrUnauthorized)
	default:
		return fmt.Errorf("%w: insufficient privileges", domain.ErrUnauthorized)
	}
}

// Authorize evaluates the rules in precedence order. The first deny wins.
func Authorize(id *domain.Identity, action Action, res Resource) Decision {
	if id == nil {
		if action == ActionRead && res.Kind == KindPost && res.Visibility == domain.VisibilityPublic {
			return allow()
		}
		return deny(ReasonUnauthenticated)
	}
	if id.Banned && action.isWrite() {
		return deny(ReasonBanned)
	}
	if res.Kind == KindAccount {
		return authorizeAccount(id, action, res)
	}
	return authorizePost(id, action, res)
}

func authorizePost(id *domain.Identity, action Action, res Resource) Decision {
	owner := id.Username == res.Owner
	switch action {
	case ActionRead:
		if res.Visibility == domain.VisibilityPublic || owner || id.IsAdmin() {
			return allow()
		}
	case ActionList, ActionCreate:
		if id.Role.CanAuthor() {
			return allow()
		}
	case ActionUpdate, ActionDelete:
		if id.IsAdmin() || (id.Role.CanAuthor() && owner) {
			return allow()
		}
	}
	return deny(ReasonForbidden)
}

func authorizeAccount(id *domain.Identity, action Action, res Resource) Decision {
	if res.Elevated && !id.IsAdmin() {
		return deny(ReasonForbidden)
	}
	self := id.Username == res.Owner
	switch action {
	case ActionRead, ActionUpdate:
		if self || id.IsAdmin() {
			return allow()
		}
	case ActionList, ActionDelete:
		if id.IsAdmin() {
			return allow()
		}
	}
	return deny(ReasonForbidden)
}
