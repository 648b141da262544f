// Package matchengine runs every newly persisted content row against
// the (tenant, keyword) pairs watching its subreddit, applies
// per-tenant filters, and persists the resulting Match rows with
// emission-side dedup.
package matchengine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reddalert/internal/dedup"
	"reddalert/internal/matcher"
	"reddalert/internal/model"
	"reddalert/internal/normalizer"
	"reddalert/internal/pipeline"
	"reddalert/internal/tenantconfig"
)

// Store is the subset of storage.Storage the match engine needs.
type Store interface {
	ListContentSince(ctx context.Context, subreddit string, sinceRemote time.Time) ([]model.RedditContent, error)
	InsertMatch(ctx context.Context, m *model.Match) (inserted bool, err error)
	ListMatchedContentIDsForKeyword(ctx context.Context, tenantID, keywordID uuid.UUID) (map[uuid.UUID]bool, error)
	SilenceKeyword(ctx context.Context, id uuid.UUID, until time.Time) error
}

// Engine drives a single pass of content-against-keywords matching.
type Engine struct {
	store Store
	cfg   *tenantconfig.Reader
	dedup *dedup.MatchSet
	log   *slog.Logger

	mu       sync.Mutex
	cursor   map[string]time.Time
	silenced map[uuid.UUID]bool
}

// New creates an Engine.
func New(store Store, cfg *tenantconfig.Reader, dedupSet *dedup.MatchSet, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		cfg:      cfg,
		dedup:    dedupSet,
		log:      log,
		cursor:   make(map[string]time.Time),
		silenced: make(map[uuid.UUID]bool),
	}
}

// RunOnce processes every subreddit any tenant's keyword watches,
// oldest-unprocessed-content-first.
func (e *Engine) RunOnce(ctx context.Context) {
	for _, subreddit := range e.cfg.Subreddits() {
		if ctx.Err() != nil {
			return
		}
		pairings := e.cfg.PairingsForSubreddit(subreddit)
		if len(pairings) == 0 {
			continue
		}

		e.mu.Lock()
		since := e.cursor[subreddit]
		e.mu.Unlock()

		content, err := e.store.ListContentSince(ctx, subreddit, since)
		if err != nil {
			e.log.Error("list content since cursor", "subreddit", subreddit, "error", err)
			continue
		}

		var newest time.Time
		for _, c := range content {
			e.processContent(ctx, c, pairings)
			if c.CreatedAtRemote.After(newest) {
				newest = c.CreatedAtRemote
			}
		}
		if !newest.IsZero() {
			e.mu.Lock()
			e.cursor[subreddit] = newest
			e.mu.Unlock()
		}
	}
}

func (e *Engine) processContent(ctx context.Context, content model.RedditContent, pairings []tenantconfig.Pairing) {
	tokens := normalizer.Normalize(content.NormalizedText).Tokens

	for _, p := range pairings {
		if err := validateKeyword(p.Keyword); err != nil {
			e.quarantine(ctx, p.Keyword.ID, err)
			continue
		}
		if !passesFilters(content, p.Subreddit) {
			continue
		}
		if p.Subreddit.DedupeCrossposts && content.CrosspostOf != nil {
			if e.originAlreadyMatched(ctx, p.TenantID, p.Keyword.ID, *content.CrosspostOf) {
				continue
			}
		}
		if e.dedup.Seen(p.TenantID, p.Keyword.ID, content.ID) {
			continue
		}

		spec := keywordSpec(p.Keyword)
		hit, ok := matcher.Find(tokens, spec)
		if !ok {
			continue
		}

		m := buildMatch(content, p, hit)
		if _, err := e.store.InsertMatch(ctx, &m); err != nil {
			e.log.Error("insert match", "tenant_id", p.TenantID, "keyword_id", p.Keyword.ID, "content_id", content.ID, "error", err)
			continue
		}
		e.dedup.Mark(p.TenantID, p.Keyword.ID, content.ID)
	}
}

func (e *Engine) originAlreadyMatched(ctx context.Context, tenantID, keywordID, originContentID uuid.UUID) bool {
	matched, err := e.store.ListMatchedContentIDsForKeyword(ctx, tenantID, keywordID)
	if err != nil {
		e.log.Error("list matched content ids", "tenant_id", tenantID, "keyword_id", keywordID, "error", err)
		return false
	}
	return matched[originContentID]
}

const (
	minPhraseChars      = 1
	maxPhraseChars      = 200
	minProximityWindow  = 1
	maxProximityWindow  = 50
	invariantQuarantine = 24 * time.Hour
)

// validateKeyword checks the invariants a keyword config must satisfy
// before it can be matched: at least one phrase, each 1..200 chars,
// and a proximity window of 1..50 tokens. A keyword that fails these
// checks (e.g. edited directly in storage, bypassing adminctl's own
// validation) can't be matched safely and is quarantined instead.
func validateKeyword(kw model.Keyword) error {
	if len(kw.Phrases) == 0 {
		return fmt.Errorf("%w: keyword %s has no phrases", pipeline.ErrKeywordInvariant, kw.ID)
	}
	for _, phrase := range kw.Phrases {
		if len(phrase) < minPhraseChars || len(phrase) > maxPhraseChars {
			return fmt.Errorf("%w: keyword %s phrase length %d out of range", pipeline.ErrKeywordInvariant, kw.ID, len(phrase))
		}
	}
	if kw.ProximityWindow < minProximityWindow || kw.ProximityWindow > maxProximityWindow {
		return fmt.Errorf("%w: keyword %s proximity window %d out of range", pipeline.ErrKeywordInvariant, kw.ID, kw.ProximityWindow)
	}
	return nil
}

// quarantine silences an invariant-violating keyword so tenantconfig
// stops surfacing it once it next refreshes, rather than re-validating
// (and re-failing) it against every piece of content in every cycle.
func (e *Engine) quarantine(ctx context.Context, keywordID uuid.UUID, cause error) {
	e.mu.Lock()
	if e.silenced[keywordID] {
		e.mu.Unlock()
		return
	}
	e.silenced[keywordID] = true
	e.mu.Unlock()

	e.log.Error("quarantining keyword on invariant violation", "keyword_id", keywordID, "error", cause)
	if err := e.store.SilenceKeyword(ctx, keywordID, time.Now().Add(invariantQuarantine)); err != nil {
		e.log.Error("silence keyword", "keyword_id", keywordID, "error", err)
	}
}

var botSuffixPattern = regexp.MustCompile(`(?i)\bbot\b$`)

// knownBots supplements the suffix heuristic (a name ending in "bot" as
// a separate word, e.g. "stats-bot" but not "statsbot") with a small
// list of well-known Reddit bot accounts that don't carry the suffix.
var knownBots = map[string]bool{
	"automoderator": true,
}

func isBotAuthor(author string) bool {
	if botSuffixPattern.MatchString(author) {
		return true
	}
	return knownBots[strings.ToLower(author)]
}

// passesFilters applies match-time filters: media posts and bot
// authors are ingested into the shared store regardless, but skipped
// per-tenant here according to that tenant's subreddit config.
func passesFilters(content model.RedditContent, sub model.MonitoredSubreddit) bool {
	if content.IsMediaPost && !sub.IncludeMediaPosts {
		return false
	}
	if sub.FilterBots && isBotAuthor(content.Author) {
		return false
	}
	return true
}

func keywordSpec(kw model.Keyword) matcher.KeywordSpec {
	phrases := make([][]string, 0, len(kw.Phrases))
	for _, p := range kw.Phrases {
		phrases = append(phrases, matcher.NewPhraseTokens(p))
	}
	return matcher.KeywordSpec{
		Phrases:         phrases,
		Exclusions:      kw.Exclusions,
		ProximityWindow: kw.ProximityWindow,
		RequireOrder:    kw.RequireOrder,
		UseStemming:     kw.UseStemming,
	}
}

func buildMatch(content model.RedditContent, p tenantconfig.Pairing, hit matcher.Match) model.Match {
	raw := strings.TrimSpace(content.Title + " " + content.Body)
	return model.Match{
		TenantID:       p.TenantID,
		KeywordID:      p.Keyword.ID,
		ContentID:      content.ID,
		ContentType:    content.ContentType,
		Subreddit:      content.Subreddit,
		MatchedPhrase:  hit.Phrase,
		AlsoMatched:    hit.AlsoMatched,
		Snippet:        snippet(raw, hit.SpanStart, hit.SpanEnd),
		FullText:       content.Body,
		ProximityScore: hit.Score,
		RedditURL:      content.Permalink,
		RedditAuthor:   content.Author,
		IsDeleted:      content.IsDeleted,
		DetectedAt:     time.Now(),
		AlertStatus:    model.AlertPending,
	}
}

const snippetLength = 200

// snippet produces an at-most-200-character window around the match
// span, located by walking the token stream's approximate character
// offsets in the raw text: a best-effort, case-insensitive sequential
// search for each token rather than exact position tracking through
// normalization.
func snippet(rawText string, spanStart, spanEnd int) string {
	if len(rawText) <= snippetLength {
		return rawText
	}

	tokens := normalizer.Normalize(rawText).Tokens
	if spanStart >= len(tokens) || spanEnd >= len(tokens) {
		spanStart, spanEnd = 0, 0
	}
	startOffset := tokenOffset(rawText, tokens, spanStart)
	endOffset := tokenOffset(rawText, tokens, spanEnd) + len(tokens[spanEnd])

	center := (startOffset + endOffset) / 2
	half := snippetLength / 2
	start := center - half
	if start < 0 {
		start = 0
	}
	end := start + snippetLength
	if end > len(rawText) {
		end = len(rawText)
		start = end - snippetLength
		if start < 0 {
			start = 0
		}
	}

	out := rawText[start:end]
	if start > 0 && len(out) > 3 {
		out = "…" + out[3:]
	}
	if end < len(rawText) && len(out) > 3 {
		out = out[:len(out)-3] + "…"
	}
	return out
}

func tokenOffset(text string, tokens []string, idx int) int {
	lower := strings.ToLower(text)
	searchFrom := 0
	offset := 0
	for i := 0; i <= idx && i < len(tokens); i++ {
		pos := strings.Index(lower[searchFrom:], tokens[i])
		if pos == -1 {
			offset = searchFrom
			continue
		}
		offset = searchFrom + pos
		searchFrom = offset + len(tokens[i])
	}
	return offset
}
