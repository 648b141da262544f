// Package model defines the domain types shared across Reddalert's
// ingestion, matching, and alerting pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a registered principal that owns keywords, monitored
// subreddits, and webhook configs.
type Tenant struct {
	ID                  uuid.UUID
	Email               string
	PollIntervalMinutes int
	ConfigVersion       int64
	CreatedAt           time.Time
}

// Keyword is a single monitoring rule belonging to a tenant.
type Keyword struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Phrases         []string
	Exclusions      []string
	ProximityWindow int
	RequireOrder    bool
	UseStemming     bool
	IsActive        bool
	// SilencedUntil quarantines a keyword whose configuration was found
	// invariant-violating by the match engine; nil means not quarantined.
	SilencedUntil *time.Time
	CreatedAt     time.Time
}

// SubredditStatus is the lifecycle state of a MonitoredSubreddit.
type SubredditStatus string

// Supported subreddit statuses.
const (
	SubredditActive       SubredditStatus = "active"
	SubredditInaccessible SubredditStatus = "inaccessible"
	SubredditPrivate      SubredditStatus = "private"
)

// MonitoredSubreddit is a tenant's subscription to a single subreddit.
type MonitoredSubreddit struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Name              string
	Status            SubredditStatus
	IncludeMediaPosts bool
	DedupeCrossposts  bool
	FilterBots        bool
	LastPolledAt      *time.Time
	CreatedAt         time.Time
}

// WebhookConfig is a tenant's chat webhook delivery target.
type WebhookConfig struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	URL      string
	// GuildName is display metadata only, carried over from the original
	// implementation's dashboard columns; the pipeline never reads it.
	GuildName    string
	IsPrimary    bool
	IsActive     bool
	LastTestedAt *time.Time
	CreatedAt    time.Time
}

// ContentType distinguishes a post from a comment.
type ContentType string

// Supported content types.
const (
	ContentPost    ContentType = "post"
	ContentComment ContentType = "comment"
)

// RedditContent is a single post or comment ingested from the forum,
// shared across all tenants that monitor its subreddit.
type RedditContent struct {
	ID              uuid.UUID
	SourceID        string
	Subreddit       string
	ContentType     ContentType
	Title           string
	Body            string
	Author          string
	NormalizedText  string
	ContentHash     string
	CrosspostOf     *uuid.UUID
	Permalink       string
	IsMediaPost     bool
	CreatedAtRemote time.Time
	FetchedAt       time.Time
	IsDeleted       bool
}

// AlertStatus is the terminal-once delivery state of a Match.
type AlertStatus string

// Supported alert statuses. pending is the only non-terminal state.
const (
	AlertPending AlertStatus = "pending"
	AlertSent    AlertStatus = "sent"
	AlertFailed  AlertStatus = "failed"
)

// Match is a single (tenant, keyword, content) hit produced by the
// match engine and mutated only by the dispatcher.
type Match struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	KeywordID      uuid.UUID
	ContentID      uuid.UUID
	ContentType    ContentType
	Subreddit      string
	MatchedPhrase  string
	AlsoMatched    []string
	Snippet        string
	FullText       string
	ProximityScore float64
	RedditURL      string
	RedditAuthor   string
	IsDeleted      bool
	DetectedAt     time.Time
	AlertSentAt    *time.Time
	AlertStatus    AlertStatus
}
