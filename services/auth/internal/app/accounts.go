package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"edgepress/internal/policy"
	"edgepress/pkg/domain"
)

const listPageSize = 100

// AccountPatch lists requested changes; nil fields are left alone.
type AccountPatch struct {
	Email       *string
	DisplayName *string
	Password    *string
	Role        *string
	Banned      *bool
}

func (p AccountPatch) elevated() bool {
	return p.Role != nil || p.Banned != nil
}

// GetAccount returns an account to its owner or an admin.
func (a *App) GetAccount(ctx context.Context, caller *domain.Identity, username string) (domain.Account, error) {
	if err := policy.Authorize(caller, policy.ActionRead, policy.Account(username)).Err(); err != nil {
		return domain.Account{}, err
	}
	account, ok, err := a.stores.Accounts.Get(ctx, username)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %q", domain.ErrNotFound, username)
	}
	return account, nil
}

// ListAccounts pages through every account. Accounts deleted between the
// key listing and the read are skipped.
func (a *App) ListAccounts(ctx context.Context, caller *domain.Identity) ([]domain.Account, error) {
	if err := policy.Authorize(caller, policy.ActionList, policy.Account("")).Err(); err != nil {
		return nil, err
	}
	out := []domain.Account{}
	cursor := ""
	for {
		page, err := a.stores.Accounts.ListUsernames(ctx, cursor, listPageSize)
		if err != nil {
			return nil, err
		}
		accounts := make([]domain.Account, len(page.Keys))
		found := make([]bool, len(page.Keys))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for i, username := range page.Keys {
			i, username := i, username
			g.Go(func() error {
				account, ok, err := a.stores.Accounts.Get(gctx, username)
				if err != nil {
					return err
				}
				accounts[i], found[i] = account, ok
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i := range accounts {
			if found[i] {
				out = append(out, accounts[i])
			}
		}
		if page.Complete {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// UpdateAccount applies patch. Owners may change email, display name and
// password; role and ban changes need an admin.
func (a *App) UpdateAccount(ctx context.Context, caller *domain.Identity, username string, patch AccountPatch) (domain.Account, error) {
	res := policy.Account(username)
	res.Elevated = patch.elevated()
	if err := policy.Authorize(caller, policy.ActionUpdate, res).Err(); err != nil {
		return domain.Account{}, err
	}
	var role domain.Role
	if patch.Role != nil {
		parsed, ok := domain.ParseRole(strings.ToLower(strings.TrimSpace(*patch.Role)))
		if !ok {
			return domain.Account{}, ErrInvalidRole
		}
		role = parsed
	}
	account, ok, err := a.stores.Accounts.Get(ctx, username)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %q", domain.ErrNotFound, username)
	}

	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if email != account.Email {
			account.Email = email
			account.EmailVerified = false
		}
	}
	if patch.DisplayName != nil {
		if name := strings.TrimSpace(*patch.DisplayName); name != "" {
			account.DisplayName = name
		}
	}
	if patch.Password != nil {
		hash, err := a.hasher.Hash(*patch.Password)
		if err != nil {
			return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
		account.PasswordHash = hash
	}
	if patch.Role != nil {
		account.Role = role
	}
	if patch.Banned != nil {
		account.Banned = *patch.Banned
	}
	if err := a.stores.Accounts.Save(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

// DeleteAccount removes an account. Posts by the account keep its username.
func (a *App) DeleteAccount(ctx context.Context, caller *domain.Identity, username string) error {
	if err := policy.Authorize(caller, policy.ActionDelete, policy.Account(username)).Err(); err != nil {
		return err
	}
	_, ok, err := a.stores.Accounts.Get(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: account %q", domain.ErrNotFound, username)
	}
	return a.stores.Accounts.Delete(ctx, username)
}
