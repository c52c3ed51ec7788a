package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"edgepress/pkg/domain"
	"edgepress/pkg/kv"
)

// ClientInfo is request metadata recorded on a new session.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// SessionStore maps opaque tokens to session records with a store-level TTL.
type SessionStore struct {
	kv       kv.Store
	ttl      time.Duration
	now      func() time.Time
	newToken func() string
}

func NewSessionStore(s kv.Store, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		kv:       s,
		ttl:      ttl,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// TTL is the lifetime given to new sessions.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create issues a session for identity.
func (s *SessionStore) Create(ctx context.Context, identity domain.Identity, client ClientInfo) (domain.Session, error) {
	now := s.now().UTC()
	sess := domain.Session{
		Token:     s.newToken(),
		Identity:  identity,
		CreatedAt: now,
		ClientIP:  client.IP,
		UserAgent: client.UserAgent,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return domain.Session{}, fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Put(ctx, sess.Token, raw, kv.PutOptions{TTL: s.ttl}); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// Get returns the stored session without judging expiry.
func (s *SessionStore) Get(ctx context.Context, token string) (domain.Session, bool, error) {
	if token == "" {
		return domain.Session{}, false, nil
	}
	raw, ok, err := s.kv.Get(ctx, token)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return domain.Session{}, false, nil
	}
	var sess domain.Session
	if err := decodeRecord("session", "<redacted>", raw, &sess); err != nil {
		return domain.Session{}, false, err
	}
	if sess.Identity.Username == "" {
		return domain.Session{}, false, fmt.Errorf("%w: session without identity", domain.ErrInternalInconsistency)
	}
	sess.Token = token
	return sess, true, nil
}

// Delete removes a session. Unknown tokens are ignored.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.kv.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
