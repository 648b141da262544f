package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
)

func TestContentHash_Deterministic(t *testing.T) {
	text := "same input always same output"
	if ContentHash(text) != ContentHash(text) {
		t.Error("ContentHash is not deterministic")
	}
}

func TestContentHash_DifferentTextsDifferentHashes(t *testing.T) {
	if ContentHash("alpha") == ContentHash("beta") {
		t.Error("expected different hashes for different inputs")
	}
}

func TestContentHash_MatchesSHA256(t *testing.T) {
	text := "hello world"
	sum := sha256.Sum256([]byte(text))
	want := hex.EncodeToString(sum[:])
	if got := ContentHash(text); got != want {
		t.Errorf("ContentHash(%q) = %q, want %q", text, got, want)
	}
}

func TestContentHash_Empty(t *testing.T) {
	sum := sha256.Sum256([]byte(""))
	want := hex.EncodeToString(sum[:])
	if got := ContentHash(""); got != want {
		t.Errorf("ContentHash(\"\") = %q, want %q", got, want)
	}
}

func TestMatchSet_SeenAndMark(t *testing.T) {
	s := NewMatchSet()
	tenant := uuid.New()
	keyword := uuid.New()
	content := uuid.New()

	if s.Seen(tenant, keyword, content) {
		t.Fatal("fresh MatchSet must not report any triple as seen")
	}

	s.Mark(tenant, keyword, content)

	if !s.Seen(tenant, keyword, content) {
		t.Fatal("expected triple to be seen after Mark")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMatchSet_DistinctTriplesDoNotCollide(t *testing.T) {
	s := NewMatchSet()
	tenant, keyword, content := uuid.New(), uuid.New(), uuid.New()
	s.Mark(tenant, keyword, content)

	if s.Seen(tenant, keyword, uuid.New()) {
		t.Error("different contentID must not collide")
	}
	if s.Seen(tenant, uuid.New(), content) {
		t.Error("different keywordID must not collide")
	}
	if s.Seen(uuid.New(), keyword, content) {
		t.Error("different tenantID must not collide")
	}
}

func TestMatchSet_Reset(t *testing.T) {
	s := NewMatchSet()
	tenant, keyword, content := uuid.New(), uuid.New(), uuid.New()
	s.Mark(tenant, keyword, content)

	s.Reset()

	if s.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", s.Len())
	}
	if s.Seen(tenant, keyword, content) {
		t.Error("Reset must clear previously marked triples")
	}
}
