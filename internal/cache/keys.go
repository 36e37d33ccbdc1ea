package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Namespace partitions the key space by use-case. Each namespace may carry
// its own TTL defaults; keys are never shared across namespaces.
type Namespace string

const (
	// NamespaceEmbedding caches embedding vectors keyed by source text
	NamespaceEmbedding Namespace = "embedding"
	// NamespaceQueryResult caches semantic-search results keyed by the
	// query and its filter set
	NamespaceQueryResult Namespace = "query-result"
)

// KeyInput is anything a cache key can be derived from. Fingerprint must be
// deterministic: identical logical input always yields the identical
// fingerprint, across calls and process restarts.
type KeyInput interface {
	Fingerprint() (string, error)
}

// MakeKey derives the stable cache key for an input within a namespace.
// It fails only on malformed input, wrapped as ErrInvalidInput.
func MakeKey(ns Namespace, input KeyInput) (string, error) {
	fp, err := input.Fingerprint()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return string(ns) + ":" + fp, nil
}

// TextInput fingerprints raw text, used for embedding lookups
type TextInput string

// Fingerprint returns the hex SHA-256 of the text
func (t TextInput) Fingerprint() (string, error) {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:]), nil
}

// QueryInput fingerprints a search request. Filters are serialized in
// canonical form (encoding/json emits map keys in sorted order), so
// logically identical filter sets hash identically regardless of how the
// map was built.
type QueryInput struct {
	Query     string                 `json:"query"`
	Limit     int                    `json:"limit"`
	Threshold float64                `json:"threshold"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
}

// Fingerprint returns the hex SHA-256 of the canonical JSON encoding
func (q QueryInput) Fingerprint() (string, error) {
	canonical, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("serialize query input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
