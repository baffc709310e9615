package csp

import (
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/cspgen -templates ../http/templates -out known_hashes.yaml

// HashTableVersion is the only artifact version this build understands.
const HashTableVersion = 1

//go:embed known_hashes.yaml
var knownHashesYAML []byte

// KnownHash pairs a normalized inline snippet with its SHA-256 digest.
type KnownHash struct {
	Name      string `yaml:"name"`
	Directive string `yaml:"directive"`
	Content   string `yaml:"content"`
	Digest    string `yaml:"digest"` // standard base64
}

// Source returns the hash as a CSP source token, e.g. 'sha256-...'.
func (h KnownHash) Source() string {
	return "'sha256-" + h.Digest + "'"
}

// HashTable is the on-disk form of the registry produced by cmd/cspgen.
type HashTable struct {
	Version int         `yaml:"version"`
	Entries []KnownHash `yaml:"entries"`
}

// DigestFunc hashes raw bytes. The registry only ever uses SHA-256 in
// production; the indirection lets tests count or fake calls.
type DigestFunc func([]byte) []byte

// SHA256 is the default DigestFunc.
func SHA256(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// NormalizeContent is the single normalization step applied both when a
// snippet is registered and when it is looked up: leading and trailing
// whitespace is trimmed, nothing else.
func NormalizeContent(content string) string {
	return strings.TrimSpace(content)
}

// HashRegistry is an immutable content -> digest table. It is safe for
// concurrent readers; nothing mutates it after construction.
type HashRegistry struct {
	digest    DigestFunc
	entries   []KnownHash
	byContent map[string]KnownHash
}

// ParseHashTable decodes a YAML hash table artifact.
func ParseHashTable(data []byte) (HashTable, error) {
	var table HashTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return HashTable{}, fmt.Errorf("failed to parse hash table: %w", err)
	}
	if table.Version != HashTableVersion {
		return HashTable{}, fmt.Errorf("unsupported hash table version %d (want %d)", table.Version, HashTableVersion)
	}
	return table, nil
}

// LoadDefaultRegistry builds the registry from the embedded artifact.
func LoadDefaultRegistry() (*HashRegistry, error) {
	table, err := ParseHashTable(knownHashesYAML)
	if err != nil {
		return nil, err
	}
	return NewHashRegistry(table.Entries, SHA256)
}

// NewHashRegistry validates entries and returns a registry. Every stored
// digest is recomputed; a mismatch means the content changed without the
// table being regenerated, and the registry refuses to load.
func NewHashRegistry(entries []KnownHash, digest DigestFunc) (*HashRegistry, error) {
	if digest == nil {
		digest = SHA256
	}

	r := &HashRegistry{
		digest:    digest,
		entries:   make([]KnownHash, 0, len(entries)),
		byContent: make(map[string]KnownHash, len(entries)),
	}

	names := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("hash entry %d: name is required", i)
		}
		if _, dup := names[e.Name]; dup {
			return nil, fmt.Errorf("hash entry %q: duplicate name", e.Name)
		}
		names[e.Name] = struct{}{}

		if !isHashableDirective(e.Directive) {
			return nil, fmt.Errorf("hash entry %q: directive %q does not accept hashes", e.Name, e.Directive)
		}

		content := NormalizeContent(e.Content)
		if content == "" {
			return nil, fmt.Errorf("hash entry %q: content is empty", e.Name)
		}
		if content != e.Content {
			return nil, fmt.Errorf("hash entry %q: content is not normalized", e.Name)
		}

		want := r.ComputeDigest(content)
		if e.Digest != want {
			return nil, fmt.Errorf("hash entry %q: stored digest %q does not match content (computed %q)", e.Name, e.Digest, want)
		}

		if _, dup := r.byContent[content]; dup {
			return nil, fmt.Errorf("hash entry %q: duplicate content", e.Name)
		}

		r.byContent[content] = e
		r.entries = append(r.entries, e)
	}

	return r, nil
}

// ComputeDigest returns the standard base64 SHA-256 digest of the normalized
// content. It is available at request time for content that is not in the table.
func (r *HashRegistry) ComputeDigest(content string) string {
	return base64.StdEncoding.EncodeToString(r.digest([]byte(NormalizeContent(content))))
}

// Lookup returns the registered entry for content, if any.
func (r *HashRegistry) Lookup(content string) (KnownHash, bool) {
	h, ok := r.byContent[NormalizeContent(content)]
	return h, ok
}

// ForDirective returns the entries registered for directive, in table order.
func (r *HashRegistry) ForDirective(directive string) []KnownHash {
	var out []KnownHash
	for _, e := range r.entries {
		if e.Directive == directive {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of all entries.
func (r *HashRegistry) Entries() []KnownHash {
	out := make([]KnownHash, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered snippets.
func (r *HashRegistry) Len() int {
	return len(r.entries)
}

func isHashableDirective(d string) bool {
	switch d {
	case ScriptSrc, StyleSrc:
		return true
	}
	return false
}
