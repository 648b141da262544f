// Package tenantconfig implements the tenant config reader: an
// in-memory, copy-on-write snapshot of every tenant's keywords,
// monitored subreddits, and webhooks, rebuilt from the durable store
// on a TTL or on a per-tenant config-version bump. It is the only path
// the pipeline uses to read tenant config; readers never take a lock,
// they just load the current pointer.
package tenantconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reddalert/internal/model"
)

// Store is the subset of storage.Storage the reader needs, kept
// narrow so this package doesn't import the whole storage surface.
type Store interface {
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	ListKeywords(ctx context.Context, tenantID uuid.UUID) ([]model.Keyword, error)
	ListMonitoredSubreddits(ctx context.Context, tenantID uuid.UUID) ([]model.MonitoredSubreddit, error)
	ListWebhookConfigs(ctx context.Context, tenantID uuid.UUID) ([]model.WebhookConfig, error)
}

// Pairing is one (tenant, keyword) rule to evaluate against content
// from a given subreddit, carrying the subreddit's own filter knobs
// alongside the keyword so the match engine doesn't need a second
// lookup per candidate.
type Pairing struct {
	TenantID  uuid.UUID
	Keyword   model.Keyword
	Subreddit model.MonitoredSubreddit
}

type tenantSnapshot struct {
	version             int64
	pollIntervalMinutes int
	keywords            []model.Keyword
	subreddits          []model.MonitoredSubreddit
	webhooks            []model.WebhookConfig
	loadedAt            time.Time
}

// SubredditSubscription pairs a tenant with its row for one subreddit,
// independent of whether that tenant has any active keyword watching
// it, since the poller needs every subscribing row to flip status on
// 404/403 regardless of keyword state.
type SubredditSubscription struct {
	TenantID  uuid.UUID
	Subreddit model.MonitoredSubreddit
}

type snapshotIndex struct {
	tenants       map[uuid.UUID]*tenantSnapshot
	bySubreddit   map[string][]Pairing
	subscriptions map[string][]SubredditSubscription
}

// Reader is the cached, read-mostly view of tenant config.
type Reader struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
	idx   atomic.Pointer[snapshotIndex]
}

// New creates a Reader with an empty snapshot; call Refresh before
// the first read, or rely on the scheduler's first tick to do so.
func New(store Store, ttl time.Duration, log *slog.Logger) *Reader {
	r := &Reader{store: store, ttl: ttl, log: log}
	r.idx.Store(&snapshotIndex{
		tenants:       map[uuid.UUID]*tenantSnapshot{},
		bySubreddit:   map[string][]Pairing{},
		subscriptions: map[string][]SubredditSubscription{},
	})
	return r
}

// Refresh rebuilds the snapshot. A per-tenant reload is skipped when
// its cached config version still matches the store's and its TTL
// hasn't elapsed; config API writes that bump the version, or a
//60-second-old entry, both force a reload of that tenant only. A
// failed refresh leaves the previous snapshot in place rather than
// clearing it.
func (r *Reader) Refresh(ctx context.Context) error {
	tenants, err := r.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	prev := r.idx.Load()
	now := time.Now()
	next := &snapshotIndex{
		tenants:       make(map[uuid.UUID]*tenantSnapshot, len(tenants)),
		bySubreddit:   make(map[string][]Pairing),
		subscriptions: make(map[string][]SubredditSubscription),
	}

	for _, t := range tenants {
		snap, err := r.loadTenant(ctx, t, prev, now)
		if err != nil {
			r.log.Error("refresh tenant config", "tenant_id", t.ID, "error", err)
			if old, ok := prev.tenants[t.ID]; ok {
				snap = old
			} else {
				continue
			}
		}
		next.tenants[t.ID] = snap
		indexSubreddits(next, t.ID, snap)
		for _, sub := range snap.subreddits {
			next.subscriptions[sub.Name] = append(next.subscriptions[sub.Name], SubredditSubscription{TenantID: t.ID, Subreddit: sub})
		}
	}

	r.idx.Store(next)
	return nil
}

func (r *Reader) loadTenant(ctx context.Context, t model.Tenant, prev *snapshotIndex, now time.Time) (*tenantSnapshot, error) {
	if old, ok := prev.tenants[t.ID]; ok {
		if old.version == t.ConfigVersion && now.Sub(old.loadedAt) < r.ttl {
			return old, nil
		}
	}

	keywords, err := r.store.ListKeywords(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	subreddits, err := r.store.ListMonitoredSubreddits(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list subreddits: %w", err)
	}
	webhooks, err := r.store.ListWebhookConfigs(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	return &tenantSnapshot{
		version:             t.ConfigVersion,
		pollIntervalMinutes: t.PollIntervalMinutes,
		keywords:            keywords,
		subreddits:          subreddits,
		webhooks:            webhooks,
		loadedAt:            now,
	}, nil
}

// indexSubreddits builds the bySubreddit reverse index entries for one
// tenant, skipping inactive keywords, quarantined (silenced) keywords,
// and subreddits the tenant isn't actively monitoring.
func indexSubreddits(idx *snapshotIndex, tenantID uuid.UUID, snap *tenantSnapshot) {
	now := time.Now()
	for _, sub := range snap.subreddits {
		if sub.Status != model.SubredditActive {
			continue
		}
		for _, kw := range snap.keywords {
			if !kw.IsActive {
				continue
			}
			if kw.SilencedUntil != nil && kw.SilencedUntil.After(now) {
				continue
			}
			idx.bySubreddit[sub.Name] = append(idx.bySubreddit[sub.Name], Pairing{
				TenantID:  tenantID,
				Keyword:   kw,
				Subreddit: sub,
			})
		}
	}
}

// PairingsForSubreddit returns every active (tenant, keyword) rule
// watching subreddit, per the cache currently loaded. Never blocks or
// hits the store.
func (r *Reader) PairingsForSubreddit(subreddit string) []Pairing {
	return r.idx.Load().bySubreddit[subreddit]
}

// WebhooksForTenant returns a tenant's configured webhooks from the
// cache currently loaded.
func (r *Reader) WebhooksForTenant(tenantID uuid.UUID) []model.WebhookConfig {
	snap, ok := r.idx.Load().tenants[tenantID]
	if !ok {
		return nil
	}
	return snap.webhooks
}

// Subreddits returns the distinct set of subreddit names any tenant
// subscribes to, per the cache currently loaded, regardless of keyword
// state. The poller uses this to decide what to fetch and which rows
// to update on status changes.
func (r *Reader) Subreddits() []string {
	idx := r.idx.Load()
	out := make([]string, 0, len(idx.subscriptions))
	for name := range idx.subscriptions {
		out = append(out, name)
	}
	return out
}

// SubscriptionsForSubreddit returns every tenant row subscribed to
// subreddit, per the cache currently loaded.
func (r *Reader) SubscriptionsForSubreddit(subreddit string) []SubredditSubscription {
	return r.idx.Load().subscriptions[subreddit]
}

// EffectiveCadence returns the minimum pollIntervalMinutes among every
// tenant subscribing to subreddit. Returns 0 if no tenant subscribes
// to it.
func (r *Reader) EffectiveCadence(subreddit string) time.Duration {
	idx := r.idx.Load()
	min := 0
	for _, sub := range idx.subscriptions[subreddit] {
		snap, ok := idx.tenants[sub.TenantID]
		if !ok {
			continue
		}
		if min == 0 || snap.pollIntervalMinutes < min {
			min = snap.pollIntervalMinutes
		}
	}
	return time.Duration(min) * time.Minute
}
