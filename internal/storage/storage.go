// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reddalert/internal/model"
)

// Storage is the interface for all durable persistence operations the
// pipeline and the config-writing API layer share.
type Storage interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	BumpConfigVersion(ctx context.Context, tenantID uuid.UUID) error

	CreateKeyword(ctx context.Context, k *model.Keyword) error
	ListKeywords(ctx context.Context, tenantID uuid.UUID) ([]model.Keyword, error)
	ListActiveKeywordsForSubreddit(ctx context.Context, subreddit string) ([]model.Keyword, error)
	SilenceKeyword(ctx context.Context, id uuid.UUID, until time.Time) error
	DeleteKeyword(ctx context.Context, id uuid.UUID) (tenantID uuid.UUID, err error)

	CreateMonitoredSubreddit(ctx context.Context, s *model.MonitoredSubreddit) error
	ListMonitoredSubreddits(ctx context.Context, tenantID uuid.UUID) ([]model.MonitoredSubreddit, error)
	ListTenantsForSubreddit(ctx context.Context, name string) ([]model.MonitoredSubreddit, error)
	ListDistinctActiveSubreddits(ctx context.Context) ([]string, error)
	UpdateSubredditStatus(ctx context.Context, tenantID uuid.UUID, name string, status model.SubredditStatus) error
	UpdateSubredditLastPolled(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteMonitoredSubreddit(ctx context.Context, id uuid.UUID) (tenantID uuid.UUID, err error)

	CreateWebhookConfig(ctx context.Context, w *model.WebhookConfig) error
	ListWebhookConfigs(ctx context.Context, tenantID uuid.UUID) ([]model.WebhookConfig, error)
	GetPrimaryWebhook(ctx context.Context, tenantID uuid.UUID) (*model.WebhookConfig, error)
	SetPrimaryWebhook(ctx context.Context, tenantID, id uuid.UUID) error
	DeleteWebhookConfig(ctx context.Context, id uuid.UUID) (tenantID uuid.UUID, err error)

	// UpsertContent inserts a new RedditContent row, or, when a row
	// already exists for (subreddit, contentType, contentHash), either
	// refreshes fetchedAt (same sourceId) or records the new row's id as
	// a crosspost of the existing one (different sourceId). It reports
	// whether a new row was actually inserted.
	UpsertContent(ctx context.Context, c *model.RedditContent) (inserted bool, err error)
	MarkContentDeleted(ctx context.Context, sourceID string) (bool, error)
	ListContentSince(ctx context.Context, subreddit string, sinceRemote time.Time) ([]model.RedditContent, error)

	// InsertMatch inserts a Match row. It reports false, nil when the
	// unique (tenantId, keywordId, contentId) constraint already holds
	// the triple, a silent skip rather than an error.
	InsertMatch(ctx context.Context, m *model.Match) (inserted bool, err error)
	ListPendingMatches(ctx context.Context, tenantID uuid.UUID, webhookID uuid.UUID) ([]model.Match, error)
	ListPendingMatchesForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Match, error)
	ListMatchedContentIDsForKeyword(ctx context.Context, tenantID, keywordID uuid.UUID) (map[uuid.UUID]bool, error)
	MarkMatchSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkMatchFailed(ctx context.Context, id uuid.UUID) error

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (matchesDeleted, contentDeleted int64, err error)

	Close() error
}
