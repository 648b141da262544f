package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"reddalert/internal/model"
	"reddalert/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var ss []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &ss)
	if len(ss) == 0 {
		return nil
	}
	return ss
}

// ---------------------------------------------------------------------------
// Tenant
// ---------------------------------------------------------------------------

func (s *SQLite) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.ConfigVersion = 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, email, poll_interval_minutes, config_version, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID.String(), t.Email, t.PollIntervalMinutes, t.ConfigVersion, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *SQLite) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, poll_interval_minutes, config_version, created_at FROM tenants WHERE id = ?`,
		id.String(),
	)
	return scanTenant(row)
}

func (s *SQLite) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, poll_interval_minutes, config_version, created_at FROM tenants ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func (s *SQLite) BumpConfigVersion(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET config_version = config_version + 1 WHERE id = ?`, tenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTenant(row scannable) (*model.Tenant, error) {
	var t model.Tenant
	var id, created string
	err := row.Scan(&id, &t.Email, &t.PollIntervalMinutes, &t.ConfigVersion, &created)
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse tenant id: %w", err)
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// ---------------------------------------------------------------------------
// Keyword
// ---------------------------------------------------------------------------

func (s *SQLite) CreateKeyword(ctx context.Context, k *model.Keyword) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (id, tenant_id, phrases, exclusions, proximity_window, require_order,
		                       use_stemming, is_active, silenced_until, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID.String(), k.TenantID.String(), marshalStrings(k.Phrases), marshalStrings(k.Exclusions),
		k.ProximityWindow, boolToInt(k.RequireOrder), boolToInt(k.UseStemming), boolToInt(k.IsActive),
		formatTimePtr(k.SilencedUntil), formatTime(k.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	return nil
}

func (s *SQLite) ListKeywords(ctx context.Context, tenantID uuid.UUID) ([]model.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, phrases, exclusions, proximity_window, require_order, use_stemming,
		        is_active, silenced_until, created_at
		 FROM keywords WHERE tenant_id = ? ORDER BY created_at`, tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeywords(rows)
}

// ListActiveKeywordsForSubreddit returns every active, non-silenced
// keyword belonging to a tenant that monitors subreddit. The match
// engine calls this via the Tenant Config Reader's cache, never
// directly, but the query itself lives here.
func (s *SQLite) ListActiveKeywordsForSubreddit(ctx context.Context, subreddit string) ([]model.Keyword, error) {
	now := formatTime(time.Now().UTC())
	rows, err := s.db.QueryContext(ctx,
		`SELECT k.id, k.tenant_id, k.phrases, k.exclusions, k.proximity_window, k.require_order,
		        k.use_stemming, k.is_active, k.silenced_until, k.created_at
		 FROM keywords k
		 JOIN monitored_subreddits m ON m.tenant_id = k.tenant_id
		 WHERE m.name = ? AND k.is_active = 1
		   AND (k.silenced_until IS NULL OR k.silenced_until <= ?)
		 ORDER BY k.created_at`, subreddit, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query active keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeywords(rows)
}

func (s *SQLite) SilenceKeyword(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET silenced_until = ? WHERE id = ?`, formatTime(until), id.String(),
	)
	if err != nil {
		return fmt.Errorf("silence keyword: %w", err)
	}
	return nil
}

// DeleteKeyword removes a keyword and returns the tenant it belonged
// to, so the caller can bump that tenant's config version.
func (s *SQLite) DeleteKeyword(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var tenantID string
	if err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM keywords WHERE id = ?`, id.String()).Scan(&tenantID); err != nil {
		return uuid.Nil, fmt.Errorf("find keyword tenant: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id.String()); err != nil {
		return uuid.Nil, fmt.Errorf("delete keyword: %w", err)
	}
	return uuid.Parse(tenantID)
}

func scanKeywords(rows *sql.Rows) ([]model.Keyword, error) {
	var keywords []model.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, *k)
	}
	return keywords, rows.Err()
}

func scanKeyword(row scannable) (*model.Keyword, error) {
	var k model.Keyword
	var id, tenantID, phrases, exclusions, created string
	var requireOrder, useStemming, isActive int
	var silencedUntil sql.NullString
	err := row.Scan(&id, &tenantID, &phrases, &exclusions, &k.ProximityWindow, &requireOrder,
		&useStemming, &isActive, &silencedUntil, &created)
	if err != nil {
		return nil, fmt.Errorf("scan keyword: %w", err)
	}
	if k.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse keyword id: %w", err)
	}
	if k.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("parse keyword tenant id: %w", err)
	}
	k.Phrases = unmarshalStrings(phrases)
	k.Exclusions = unmarshalStrings(exclusions)
	k.RequireOrder = requireOrder == 1
	k.UseStemming = useStemming == 1
	k.IsActive = isActive == 1
	k.SilencedUntil = parseTimePtr(silencedUntil)
	k.CreatedAt = parseTime(created)
	return &k, nil
}

// ---------------------------------------------------------------------------
// MonitoredSubreddit
// ---------------------------------------------------------------------------

func (s *SQLite) CreateMonitoredSubreddit(ctx context.Context, m *model.MonitoredSubreddit) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = model.SubredditActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitored_subreddits (id, tenant_id, name, status, include_media_posts,
		                                   dedupe_crossposts, filter_bots, last_polled_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.TenantID.String(), m.Name, string(m.Status), boolToInt(m.IncludeMediaPosts),
		boolToInt(m.DedupeCrossposts), boolToInt(m.FilterBots), formatTimePtr(m.LastPolledAt),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert monitored subreddit: %w", err)
	}
	return nil
}

func (s *SQLite) ListMonitoredSubreddits(ctx context.Context, tenantID uuid.UUID) ([]model.MonitoredSubreddit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, status, include_media_posts, dedupe_crossposts, filter_bots,
		        last_polled_at, created_at
		 FROM monitored_subreddits WHERE tenant_id = ? ORDER BY created_at`, tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query monitored subreddits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubreddits(rows)
}

func (s *SQLite) ListTenantsForSubreddit(ctx context.Context, name string) ([]model.MonitoredSubreddit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, status, include_media_posts, dedupe_crossposts, filter_bots,
		        last_polled_at, created_at
		 FROM monitored_subreddits WHERE name = ? ORDER BY created_at`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("query subreddit subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubreddits(rows)
}

// ListDistinctActiveSubreddits returns every distinct subreddit name
// with at least one active tenant subscription, the poller's fan-in
// unit of work: one fetch per subreddit, shared across tenants.
func (s *SQLite) ListDistinctActiveSubreddits(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM monitored_subreddits WHERE status = 'active' ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query distinct subreddits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan subreddit name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) UpdateSubredditStatus(ctx context.Context, tenantID uuid.UUID, name string, status model.SubredditStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_subreddits SET status = ? WHERE tenant_id = ? AND name = ?`,
		string(status), tenantID.String(), name,
	)
	if err != nil {
		return fmt.Errorf("update subreddit status: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateSubredditLastPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_subreddits SET last_polled_at = ?, status = 'active' WHERE id = ?`,
		formatTime(at), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update subreddit last polled: %w", err)
	}
	return nil
}

// DeleteMonitoredSubreddit removes a monitored subreddit and returns
// the tenant it belonged to, so the caller can bump that tenant's
// config version.
func (s *SQLite) DeleteMonitoredSubreddit(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var tenantID string
	if err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM monitored_subreddits WHERE id = ?`, id.String()).Scan(&tenantID); err != nil {
		return uuid.Nil, fmt.Errorf("find monitored subreddit tenant: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM monitored_subreddits WHERE id = ?`, id.String()); err != nil {
		return uuid.Nil, fmt.Errorf("delete monitored subreddit: %w", err)
	}
	return uuid.Parse(tenantID)
}

func scanSubreddits(rows *sql.Rows) ([]model.MonitoredSubreddit, error) {
	var out []model.MonitoredSubreddit
	for rows.Next() {
		m, err := scanSubreddit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanSubreddit(row scannable) (*model.MonitoredSubreddit, error) {
	var m model.MonitoredSubreddit
	var id, tenantID, status, created string
	var includeMedia, dedupeCrossposts, filterBots int
	var lastPolled sql.NullString
	err := row.Scan(&id, &tenantID, &m.Name, &status, &includeMedia, &dedupeCrossposts, &filterBots,
		&lastPolled, &created)
	if err != nil {
		return nil, fmt.Errorf("scan monitored subreddit: %w", err)
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse subreddit id: %w", err)
	}
	if m.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("parse subreddit tenant id: %w", err)
	}
	m.Status = model.SubredditStatus(status)
	m.IncludeMediaPosts = includeMedia == 1
	m.DedupeCrossposts = dedupeCrossposts == 1
	m.FilterBots = filterBots == 1
	m.LastPolledAt = parseTimePtr(lastPolled)
	m.CreatedAt = parseTime(created)
	return &m, nil
}

// ---------------------------------------------------------------------------
// WebhookConfig
// ---------------------------------------------------------------------------

// CreateWebhookConfig inserts a webhook config. At most one webhook
// per tenant may be primary: if w.IsPrimary is set, any existing
// primary for the same tenant is demoted in the same transaction as
// the insert, so the invariant holds even under concurrent callers.
// idx_webhooks_tenant_primary backs this at the schema level too.
func (s *SQLite) CreateWebhookConfig(ctx context.Context, w *model.WebhookConfig) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if w.IsPrimary {
		if _, err := tx.ExecContext(ctx,
			`UPDATE webhook_configs SET is_primary = 0 WHERE tenant_id = ? AND is_primary = 1`,
			w.TenantID.String(),
		); err != nil {
			return fmt.Errorf("demote existing primary webhook: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO webhook_configs (id, tenant_id, url, guild_name, is_primary, is_active,
		                              last_tested_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.TenantID.String(), w.URL, w.GuildName, boolToInt(w.IsPrimary),
		boolToInt(w.IsActive), formatTimePtr(w.LastTestedAt), formatTime(w.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert webhook config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit webhook config insert: %w", err)
	}
	return nil
}

// SetPrimaryWebhook makes id the tenant's sole primary webhook,
// demoting whichever webhook (if any) was previously primary, in one
// transaction.
func (s *SQLite) SetPrimaryWebhook(ctx context.Context, tenantID, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE webhook_configs SET is_primary = 0 WHERE tenant_id = ? AND is_primary = 1`,
		tenantID.String(),
	); err != nil {
		return fmt.Errorf("demote existing primary webhook: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE webhook_configs SET is_primary = 1 WHERE id = ? AND tenant_id = ?`,
		id.String(), tenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("set primary webhook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set primary webhook rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("webhook %s not found for tenant %s", id, tenantID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set primary webhook: %w", err)
	}
	return nil
}

func (s *SQLite) ListWebhookConfigs(ctx context.Context, tenantID uuid.UUID) ([]model.WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, guild_name, is_primary, is_active, last_tested_at, created_at
		 FROM webhook_configs WHERE tenant_id = ? ORDER BY created_at`, tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query webhook configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.WebhookConfig
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *SQLite) GetPrimaryWebhook(ctx context.Context, tenantID uuid.UUID) (*model.WebhookConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, url, guild_name, is_primary, is_active, last_tested_at, created_at
		 FROM webhook_configs WHERE tenant_id = ? AND is_primary = 1 AND is_active = 1 LIMIT 1`,
		tenantID.String(),
	)
	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

// DeleteWebhookConfig removes a webhook config and returns the tenant
// it belonged to, so the caller can bump that tenant's config
// version.
func (s *SQLite) DeleteWebhookConfig(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var tenantID string
	if err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM webhook_configs WHERE id = ?`, id.String()).Scan(&tenantID); err != nil {
		return uuid.Nil, fmt.Errorf("find webhook config tenant: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE id = ?`, id.String()); err != nil {
		return uuid.Nil, fmt.Errorf("delete webhook config: %w", err)
	}
	return uuid.Parse(tenantID)
}

func scanWebhook(row scannable) (*model.WebhookConfig, error) {
	var w model.WebhookConfig
	var id, tenantID, created string
	var isPrimary, isActive int
	var lastTested sql.NullString
	err := row.Scan(&id, &tenantID, &w.URL, &w.GuildName, &isPrimary, &isActive, &lastTested, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan webhook config: %w", err)
	}
	if w.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse webhook id: %w", err)
	}
	if w.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("parse webhook tenant id: %w", err)
	}
	w.IsPrimary = isPrimary == 1
	w.IsActive = isActive == 1
	w.LastTestedAt = parseTimePtr(lastTested)
	w.CreatedAt = parseTime(created)
	return &w, nil
}

// ---------------------------------------------------------------------------
// RedditContent
// ---------------------------------------------------------------------------

// UpsertContent deduplicates content by (subreddit, contentType,
// contentHash): if absent, insert; if present with the same sourceId,
// refresh fetchedAt; if present with a different sourceId, insert a
// new row for c's own sourceId with crosspost_of pointing at the
// existing row, so the crosspost edge is durable and later readable
// through ListContentSince rather than living only on the in-memory
// struct.
func (s *SQLite) UpsertContent(ctx context.Context, c *model.RedditContent) (bool, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.FetchedAt.IsZero() {
		c.FetchedAt = time.Now().UTC()
	}

	var existingID, existingSource string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_id FROM reddit_content WHERE subreddit = ? AND content_type = ? AND content_hash = ? ORDER BY created_at_remote ASC LIMIT 1`,
		c.Subreddit, string(c.ContentType), c.ContentHash,
	).Scan(&existingID, &existingSource)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.insertContent(ctx, c); err != nil {
			return false, fmt.Errorf("insert content: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("lookup content for dedup: %w", err)

	case existingSource == c.SourceID:
		if _, err := s.db.ExecContext(ctx,
			`UPDATE reddit_content SET fetched_at = ? WHERE id = ?`, formatTime(c.FetchedAt), existingID,
		); err != nil {
			return false, fmt.Errorf("refresh content fetched_at: %w", err)
		}
		c.ID, _ = uuid.Parse(existingID)
		return false, nil

	default:
		originID, err := uuid.Parse(existingID)
		if err != nil {
			return false, fmt.Errorf("parse crosspost origin id: %w", err)
		}
		c.CrosspostOf = &originID
		if err := s.insertContent(ctx, c); err != nil {
			return false, fmt.Errorf("insert crosspost content: %w", err)
		}
		return true, nil
	}
}

func (s *SQLite) insertContent(ctx context.Context, c *model.RedditContent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reddit_content (id, source_id, subreddit, content_type, title, body, author,
		                              normalized_text, content_hash, crosspost_of, permalink, is_media_post,
		                              created_at_remote, fetched_at, is_deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.SourceID, c.Subreddit, string(c.ContentType), c.Title, c.Body, c.Author,
		c.NormalizedText, c.ContentHash, nullUUIDString(c.CrosspostOf), c.Permalink, boolToInt(c.IsMediaPost),
		formatTime(c.CreatedAtRemote), formatTime(c.FetchedAt), boolToInt(c.IsDeleted),
	)
	return err
}

func nullUUIDString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func (s *SQLite) MarkContentDeleted(ctx context.Context, sourceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reddit_content SET is_deleted = 1 WHERE source_id = ?`, sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("mark content deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) ListContentSince(ctx context.Context, subreddit string, sinceRemote time.Time) ([]model.RedditContent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, subreddit, content_type, title, body, author, normalized_text,
		        content_hash, crosspost_of, permalink, is_media_post, created_at_remote, fetched_at, is_deleted
		 FROM reddit_content
		 WHERE subreddit = ? AND created_at_remote > ? AND is_deleted = 0
		 ORDER BY created_at_remote ASC`, subreddit, formatTime(sinceRemote),
	)
	if err != nil {
		return nil, fmt.Errorf("query content since: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RedditContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContent(row scannable) (*model.RedditContent, error) {
	var c model.RedditContent
	var id, contentType, createdRemote, fetched string
	var crosspostOf sql.NullString
	var isMediaPost, isDeleted int
	err := row.Scan(&id, &c.SourceID, &c.Subreddit, &contentType, &c.Title, &c.Body, &c.Author,
		&c.NormalizedText, &c.ContentHash, &crosspostOf, &c.Permalink, &isMediaPost, &createdRemote, &fetched, &isDeleted)
	if err != nil {
		return nil, fmt.Errorf("scan content: %w", err)
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse content id: %w", err)
	}
	c.ContentType = model.ContentType(contentType)
	if crosspostOf.Valid {
		parsed, err := uuid.Parse(crosspostOf.String)
		if err != nil {
			return nil, fmt.Errorf("parse crosspost id: %w", err)
		}
		c.CrosspostOf = &parsed
	}
	c.IsMediaPost = isMediaPost == 1
	c.CreatedAtRemote = parseTime(createdRemote)
	c.FetchedAt = parseTime(fetched)
	c.IsDeleted = isDeleted == 1
	return &c, nil
}

// ---------------------------------------------------------------------------
// Match
// ---------------------------------------------------------------------------

// InsertMatch deduplicates matches via the unique (tenantId, keywordId,
// contentId) index: a conflict is treated as a silent no-op, not an
// error.
func (s *SQLite) InsertMatch(ctx context.Context, m *model.Match) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.DetectedAt.IsZero() {
		m.DetectedAt = time.Now().UTC()
	}
	if m.AlertStatus == "" {
		m.AlertStatus = model.AlertPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO matches (id, tenant_id, keyword_id, content_id, content_type, subreddit,
		                                matched_phrase, also_matched, snippet, full_text, proximity_score,
		                                reddit_url, reddit_author, is_deleted, detected_at, alert_sent_at,
		                                alert_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.TenantID.String(), m.KeywordID.String(), m.ContentID.String(), string(m.ContentType),
		m.Subreddit, m.MatchedPhrase, marshalStrings(m.AlsoMatched), m.Snippet, m.FullText, m.ProximityScore,
		m.RedditURL, m.RedditAuthor, boolToInt(m.IsDeleted), formatTime(m.DetectedAt),
		formatTimePtr(m.AlertSentAt), string(m.AlertStatus),
	)
	if err != nil {
		return false, fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) ListPendingMatches(ctx context.Context, tenantID, webhookID uuid.UUID) ([]model.Match, error) {
	// webhookID is reserved for per-webhook routing once failover
	// targets dispatch independently; today all pending matches for a
	// tenant route to its single primary webhook.
	_ = webhookID
	return s.ListPendingMatchesForTenant(ctx, tenantID)
}

func (s *SQLite) ListPendingMatchesForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, keyword_id, content_id, content_type, subreddit, matched_phrase,
		        also_matched, snippet, full_text, proximity_score, reddit_url, reddit_author,
		        is_deleted, detected_at, alert_sent_at, alert_status
		 FROM matches
		 WHERE tenant_id = ? AND alert_status = 'pending'
		 ORDER BY detected_at ASC`, tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListMatchedContentIDsForKeyword supports dedupeCrossposts filtering:
// the match engine skips a crosspost whose origin was already matched
// for the same keyword.
func (s *SQLite) ListMatchedContentIDsForKeyword(ctx context.Context, tenantID, keywordID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id FROM matches WHERE tenant_id = ? AND keyword_id = ?`,
		tenantID.String(), keywordID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query matched content ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("scan matched content id: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse matched content id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *SQLite) MarkMatchSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET alert_status = 'sent', alert_sent_at = ? WHERE id = ? AND alert_status = 'pending'`,
		formatTime(at), id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark match sent: %w", err)
	}
	return nil
}

func (s *SQLite) MarkMatchFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET alert_status = 'failed' WHERE id = ? AND alert_status = 'pending'`, id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark match failed: %w", err)
	}
	return nil
}

func scanMatch(row scannable) (*model.Match, error) {
	var m model.Match
	var id, tenantID, keywordID, contentID, contentType, alsoMatched, detected, alertStatus string
	var alertSentAt sql.NullString
	var isDeleted int
	err := row.Scan(&id, &tenantID, &keywordID, &contentID, &contentType, &m.Subreddit, &m.MatchedPhrase,
		&alsoMatched, &m.Snippet, &m.FullText, &m.ProximityScore, &m.RedditURL, &m.RedditAuthor,
		&isDeleted, &detected, &alertSentAt, &alertStatus)
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse match id: %w", err)
	}
	if m.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("parse match tenant id: %w", err)
	}
	if m.KeywordID, err = uuid.Parse(keywordID); err != nil {
		return nil, fmt.Errorf("parse match keyword id: %w", err)
	}
	if m.ContentID, err = uuid.Parse(contentID); err != nil {
		return nil, fmt.Errorf("parse match content id: %w", err)
	}
	m.ContentType = model.ContentType(contentType)
	m.AlsoMatched = unmarshalStrings(alsoMatched)
	m.IsDeleted = isDeleted == 1
	m.DetectedAt = parseTime(detected)
	m.AlertSentAt = parseTimePtr(alertSentAt)
	m.AlertStatus = model.AlertStatus(alertStatus)
	return &m, nil
}

// ---------------------------------------------------------------------------
// Retention
// ---------------------------------------------------------------------------

// DeleteOlderThan deletes matches and content created before cutoff.
// Matches are deleted first since reddit_content rows they reference
// would otherwise dangle.
func (s *SQLite) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoffStr := formatTime(cutoff)

	matchRes, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE detected_at < ?`, cutoffStr)
	if err != nil {
		return 0, 0, fmt.Errorf("delete old matches: %w", err)
	}
	matchesDeleted, err := matchRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("matches rows affected: %w", err)
	}

	contentRes, err := tx.ExecContext(ctx, `DELETE FROM reddit_content WHERE created_at_remote < ?`, cutoffStr)
	if err != nil {
		return 0, 0, fmt.Errorf("delete old content: %w", err)
	}
	contentDeleted, err := contentRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("content rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit retention sweep: %w", err)
	}
	return matchesDeleted, contentDeleted, nil
}
