// Package dedup provides the pure, in-process half of Reddalert's two
// deduplication layers. The durable half, the content-hash lookup and
// the (tenantId, keywordId, contentId) unique constraint, lives in
// internal/storage; this package supplies the content hash function
// both layers key on, plus the short-term in-memory set the match
// engine consults before ever hitting the store.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// ContentHash computes the sha256 hex digest of already-normalized
// text. The poller calls this when it ingests content; the storage
// layer keys its crosspost lookup on the hash the poller stored, so a
// given piece of text always hashes the same way.
func ContentHash(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// matchKey identifies a single (tenant, keyword, content) triple, the
// same triple the storage layer enforces as a unique constraint.
type matchKey struct {
	tenantID  uuid.UUID
	keywordID uuid.UUID
	contentID uuid.UUID
}

// MatchSet is a short-term, in-memory record of (tenant, keyword,
// content) triples the match engine has already emitted in this
// process's lifetime. It exists purely to save a DB roundtrip before
// the unique-constraint insert that is the actual source of truth;
// losing its contents (process restart) is harmless, just a few wasted
// inserts that the store's unique index will reject anyway. Safe for
// concurrent use.
type MatchSet struct {
	mu   sync.Mutex
	seen map[matchKey]struct{}
}

// NewMatchSet returns an empty MatchSet.
func NewMatchSet() *MatchSet {
	return &MatchSet{seen: make(map[matchKey]struct{})}
}

// Seen reports whether (tenantID, keywordID, contentID) has already
// been recorded.
func (s *MatchSet) Seen(tenantID, keywordID, contentID uuid.UUID) bool {
	key := matchKey{tenantID, keywordID, contentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Mark records (tenantID, keywordID, contentID) as emitted.
func (s *MatchSet) Mark(tenantID, keywordID, contentID uuid.UUID) {
	key := matchKey{tenantID, keywordID, contentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = struct{}{}
}

// Len returns the number of triples currently tracked, mainly for
// tests; the retention sweep resets the set without consulting it.
func (s *MatchSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Reset clears the set. The scheduler's daily retention sweep calls
// this after it deletes old matches from the store, since the store's
// own rows are the authority and a stale in-memory entry for a
// since-deleted match would only cause a silently-skipped re-alert if
// that match were ever legitimately re-inserted.
func (s *MatchSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[matchKey]struct{})
}
