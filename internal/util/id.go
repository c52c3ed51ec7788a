package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random hex request id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
