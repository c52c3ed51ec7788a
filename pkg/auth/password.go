package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns plaintext passwords into stored digests and back.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, stored string) bool
}

const (
	HasherSHA256 = "sha256"
	HasherBcrypt = "bcrypt"
)

var ErrEmptyPassword = errors.New("password required")

// NewHasher returns the hasher registered under name. An empty name selects bcrypt.
func NewHasher(name string) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HasherBcrypt:
		return BcryptHasher{Cost: bcrypt.DefaultCost}, nil
	case HasherSHA256:
		return SHA256Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}
}

// SHA256Hasher stores base64(sha256(password)) with no salt.
// It exists to verify accounts created by older deployments and is weak.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func (h SHA256Hasher) Verify(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}
	got, _ := h.Hash(password)
	return subtle.ConstantTimeCompare([]byte(got), []byte(stored)) == 1
}

// BcryptHasher is the default for new deployments.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

func (BcryptHasher) Verify(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}
