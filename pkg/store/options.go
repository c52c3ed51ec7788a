package store

import "time"

// DefaultSessionTTL matches the lifetime of a login session.
const DefaultSessionTTL = 24 * time.Hour

// Options tunes collection behavior.
type Options struct {
	SessionTTL time.Duration
}
