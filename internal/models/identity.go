// Package models defines core data structures for enrolled identities, match decisions and API payloads.
package models

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MaxUserIDLength is the longest identity key accepted, in bytes after normalization.
const MaxUserIDLength = 128

// Identity is an enrolled person: a unique key and the feature vector extracted at enrollment.
type Identity struct {
	UserID    string                 `json:"user_id" db:"user_id"`
	Embedding []float32              `json:"-" db:"face_embedding"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Dimensions returns the length of the stored embedding (0 when absent).
func (i *Identity) Dimensions() int {
	return len(i.Embedding)
}

// NormalizeUserID trims surrounding whitespace and applies Unicode NFC so that visually
// identical keys typed on different platforms map to the same stored identity.
func NormalizeUserID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// ValidateUserID normalizes id and checks it is usable as an identity key.
func ValidateUserID(id string) (string, error) {
	id = NormalizeUserID(id)
	if id == "" {
		return "", fmt.Errorf("user_id cannot be empty")
	}
	if len(id) > MaxUserIDLength {
		return "", fmt.Errorf("user_id exceeds %d bytes", MaxUserIDLength)
	}
	return id, nil
}
