package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidAPIKey is returned for a missing or unknown API key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// KeySet is the allow-list of API keys accepted by the gateway.
// It is built once at startup and never mutated afterwards.
type KeySet struct {
	hashes []string
	index  map[string]struct{}
}

// NewKeySet creates a key set from plain keys. Blank entries are ignored.
func NewKeySet(keys []string) *KeySet {
	s := &KeySet{index: make(map[string]struct{})}

	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		hash := HashAPIKey(key)
		if _, ok := s.index[hash]; ok {
			continue
		}
		s.index[hash] = struct{}{}
		s.hashes = append(s.hashes, hash)
	}

	return s
}

// ParseKeys builds a key set from a comma-separated list. An empty list
// yields a set that rejects every key.
func ParseKeys(raw string) *KeySet {
	return NewKeySet(strings.Split(raw, ","))
}

// Validate checks an API key against the allow-list.
func (s *KeySet) Validate(apiKey string) error {
	if s == nil || apiKey == "" {
		return ErrInvalidAPIKey
	}

	keyHash := HashAPIKey(apiKey)
	if _, ok := s.index[keyHash]; !ok {
		return ErrInvalidAPIKey
	}

	// Constant-time comparison to prevent timing attacks
	for _, h := range s.hashes {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(h)) == 1 {
			return nil
		}
	}

	return ErrInvalidAPIKey
}

// Len returns the number of distinct keys in the set.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.hashes)
}

// HashAPIKey creates a SHA-256 hash of an API key
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
