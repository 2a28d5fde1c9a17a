// Package cache defines the result cache consulted by the search executor
// before any provider call. Entries are keyed by (query, provider), expire
// lazily on read and are copied in and out so cached results never alias
// run state.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

// DefaultTTL is the lifetime of a cache entry when none is configured.
const DefaultTTL = 24 * time.Hour

// keyLen is the number of hex characters kept from the digest.
const keyLen = 32

// ErrProviderRequired is returned when an operation is called without a
// provider name.
var ErrProviderRequired = errors.New("cache provider is required")

type (
	// Cache stores provider results per (query, provider).
	//
	// Get returns ok=false on a miss or when the entry has expired; an
	// expired entry is removed by the Get that discovers it. Put replaces any
	// existing entry. A ttl <= 0 produces an entry that is already expired on
	// the next read. EvictExpired removes every expired entry and reports how
	// many were removed.
	Cache interface {
		Get(ctx context.Context, query, provider string) (results []run.Source, ok bool, err error)
		Put(ctx context.Context, query, provider string, results []run.Source, ttl time.Duration) error
		EvictExpired(ctx context.Context) (int, error)
	}

	// Entry is the stored form of a cached result set. Backends persist it
	// as a row keyed by Key.
	Entry struct {
		Key       string       `json:"key" bson:"key"`
		Query     string       `json:"query" bson:"query"`
		Provider  string       `json:"provider" bson:"provider"`
		Results   []run.Source `json:"results" bson:"results"`
		CreatedAt time.Time    `json:"created_at" bson:"created_at"`
		ExpiresAt time.Time    `json:"expires_at" bson:"expires_at"`
	}
)

// NormalizeQuery case-folds and trims query using Unicode full case folding.
func NormalizeQuery(query string) string {
	return cases.Fold().String(strings.TrimSpace(query))
}

// Key derives the fixed-width cache key for (query, provider). The provider
// name and the normalized query are separated by a NUL byte so no pair of
// inputs can produce the same preimage.
func Key(query, provider string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])[:keyLen]
}

// NewEntry builds an entry that expires ttl after now.
func NewEntry(query, provider string, results []run.Source, ttl time.Duration, now time.Time) Entry {
	if ttl < 0 {
		ttl = 0
	}
	return Entry{
		Key:       Key(query, provider),
		Query:     NormalizeQuery(query),
		Provider:  provider,
		Results:   slices.Clone(results),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the entry is no longer valid at now. An entry
// whose expiry equals now is expired.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
