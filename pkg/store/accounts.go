package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
)

// accountRecord is the stored shape. Unlike domain.Account it keeps the hash.
type accountRecord struct {
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	EmailVerified bool        `json:"emailVerified"`
	DisplayName   string      `json:"displayName"`
	Password      string      `json:"password"`
	Banned        bool        `json:"banned"`
	Role          domain.Role `json:"role"`
}

func toAccountRecord(a domain.Account) accountRecord {
	return accountRecord{
		Username:      a.Username,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		DisplayName:   a.DisplayName,
		Password:      a.PasswordHash,
		Banned:        a.Banned,
		Role:          a.Role,
	}
}

func (r accountRecord) account() domain.Account {
	return domain.Account{
		Username:      r.Username,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		DisplayName:   r.DisplayName,
		PasswordHash:  r.Password,
		Banned:        r.Banned,
		Role:          r.Role,
	}
}

// AccountStore maps usernames to account records.
type AccountStore struct {
	kv kv.Store
}

func NewAccountStore(s kv.Store) *AccountStore {
	return &AccountStore{kv: s}
}

// Get loads an account. Records that fail to decode or carry an unknown role
// are reported as domain.ErrInternalInconsistency.
func (s *AccountStore) Get(ctx context.Context, username string) (domain.Account, bool, error) {
	raw, ok, err := s.kv.Get(ctx, username)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("get account: %w", err)
	}
	if !ok {
		return domain.Account{}, false, nil
	}
	var rec accountRecord
	if err := decodeRecord("account", username, raw, &rec); err != nil {
		return domain.Account{}, false, err
	}
	if rec.Username == "" {
		rec.Username = username
	}
	if _, valid := domain.ParseRole(string(rec.Role)); !valid {
		return domain.Account{}, false, fmt.Errorf("%w: account %q has role %q", domain.ErrInternalInconsistency, username, rec.Role)
	}
	return rec.account(), true, nil
}

// Create stores a new account, failing with domain.ErrConflict when the
// username is taken.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("%w: username required", domain.ErrBadRequest)
	}
	raw, err := json.Marshal(toAccountRecord(a))
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := s.kv.PutIfVersion(ctx, a.Username, raw, ""); err != nil {
		if errors.Is(err, kv.ErrVersionConflict) {
			return fmt.Errorf("%w: username %q already exists", domain.ErrConflict, a.Username)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Save overwrites the account record.
func (s *AccountStore) Save(ctx context.Context, a domain.Account) error {
	raw, err := json.Marshal(toAccountRecord(a))
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := s.kv.Put(ctx, a.Username, raw, kv.PutOptions{}); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *AccountStore) Delete(ctx context.Context, username string) error {
	if err := s.kv.Delete(ctx, username); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// ListUsernames returns one page of usernames in key order.
func (s *AccountStore) ListUsernames(ctx context.Context, cursor string, limit int) (Page, error) {
	res, err := s.kv.List(ctx, kv.ListOptions{Cursor: cursor, Limit: limit})
	if err != nil {
		return Page{}, fmt.Errorf("list accounts: %w", err)
	}
	page := Page{Cursor: res.Cursor, Complete: res.Complete, Keys: make([]string, 0, len(res.Items))}
	for _, item := range res.Items {
		page.Keys = append(page.Keys, item.Key)
	}
	return page, nil
}
