// Package adminctl is the terminal operator surface for tenant,
// keyword, subreddit, and webhook CRUD, standing in for the
// out-of-scope REST API and dashboard. A Run call here dispatches one
// command from argv and returns, rather than long-polling.
package adminctl

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"reddalert/internal/model"
)

// Store is the subset of storage.Storage adminctl needs.
type Store interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	BumpConfigVersion(ctx context.Context, tenantID uuid.UUID) error

	CreateKeyword(ctx context.Context, k *model.Keyword) error
	ListKeywords(ctx context.Context, tenantID uuid.UUID) ([]model.Keyword, error)
	DeleteKeyword(ctx context.Context, id uuid.UUID) (tenantID uuid.UUID, err error)

	CreateMonitoredSubreddit(ctx context.Context, m *model.MonitoredSubreddit) error
	ListMonitoredSubreddits(ctx context.Context, tenantID uuid.UUID) ([]model.MonitoredSubreddit, error)
	DeleteMonitoredSubreddit(ctx context.Context, id uuid.UUID) (tenantID uuid.UUID, err error)

	CreateWebhookConfig(ctx context.Context, w *model.WebhookConfig) error
	ListWebhookConfigs(ctx context.Context, tenantID uuid.UUID) ([]model.WebhookConfig, error)
	SetPrimaryWebhook(ctx context.Context, tenantID, id uuid.UUID) error
	DeleteWebhookConfig(ctx context.Context, id uuid.UUID) (tenantID uuid.UUID, err error)
}

// CLI dispatches one admin command at a time against a Store.
type CLI struct {
	store              Store
	out                io.Writer
	urlPattern         *regexp.Regexp
	defaultPollMinutes int
}

// New creates a CLI. urlPattern is an SSRF guard: a webhook URL that
// doesn't match it is rejected before it ever reaches the store.
// defaultPollMinutes seeds tenant-add's poll_interval_minutes when the
// operator doesn't pass one explicitly; it should come from the
// worker's own POLL_INTERVAL_MINUTES so a deployment-wide default
// applies consistently across both surfaces.
func New(store Store, out io.Writer, urlPattern *regexp.Regexp, defaultPollMinutes int) *CLI {
	return &CLI{store: store, out: out, urlPattern: urlPattern, defaultPollMinutes: defaultPollMinutes}
}

// Run dispatches a single command. args is the command name followed
// by its arguments (os.Args[1:] in cmd/adminctl).
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.printUsage()
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help":
		c.printUsage()
	case "tenant-add":
		return c.tenantAdd(ctx, rest)
	case "tenant-list":
		return c.tenantList(ctx)
	case "tenant-bump":
		return c.tenantBump(ctx, rest)
	case "keyword-add":
		return c.keywordAdd(ctx, rest)
	case "keyword-list":
		return c.keywordList(ctx, rest)
	case "keyword-remove":
		return c.keywordRemove(ctx, rest)
	case "subreddit-add":
		return c.subredditAdd(ctx, rest)
	case "subreddit-list":
		return c.subredditList(ctx, rest)
	case "subreddit-remove":
		return c.subredditRemove(ctx, rest)
	case "webhook-add":
		return c.webhookAdd(ctx, rest)
	case "webhook-list":
		return c.webhookList(ctx, rest)
	case "webhook-remove":
		return c.webhookRemove(ctx, rest)
	case "webhook-set-primary":
		return c.webhookSetPrimary(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q; use \"help\" for a list of commands", cmd)
	}
	return nil
}

func (c *CLI) printUsage() {
	fmt.Fprint(c.out, `Reddalert admin commands:

  tenant-add <email> [poll_interval_minutes]
  tenant-list
  tenant-bump <tenant_id>

  keyword-add <tenant_id> <proximity_window> <phrase>[,<phrase>...] [-exclude=<word>[,<word>...]]
  keyword-list <tenant_id>
  keyword-remove <keyword_id>

  subreddit-add <tenant_id> <name> [-include-media] [-dedupe-crossposts] [-filter-bots]
  subreddit-list <tenant_id>
  subreddit-remove <subreddit_id>

  webhook-add <tenant_id> <url> [-primary]
  webhook-list <tenant_id>
  webhook-remove <webhook_id>
  webhook-set-primary <tenant_id> <webhook_id>
`)
}

func parseUUIDArg(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (c *CLI) tenantAdd(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: tenant-add <email> [poll_interval_minutes]")
	}
	pollMinutes := c.defaultPollMinutes
	if pollMinutes == 0 {
		pollMinutes = 5
	}
	if len(args) >= 2 {
		m, err := strconv.Atoi(args[1])
		if err != nil || m < 5 || m > 1440 {
			return fmt.Errorf("poll_interval_minutes must be between 5 and 1440")
		}
		pollMinutes = m
	}

	t := &model.Tenant{Email: args[0], PollIntervalMinutes: pollMinutes}
	if err := c.store.CreateTenant(ctx, t); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	fmt.Fprintf(c.out, "Tenant %s created (email=%s, poll_interval=%dm)\n", t.ID, t.Email, t.PollIntervalMinutes)
	return nil
}

func (c *CLI) tenantList(ctx context.Context) error {
	tenants, err := c.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range tenants {
		fmt.Fprintf(c.out, "%s  %-30s  poll=%dm  version=%d\n", t.ID, t.Email, t.PollIntervalMinutes, t.ConfigVersion)
	}
	return nil
}

func (c *CLI) tenantBump(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: tenant-bump <tenant_id>")
	}
	id, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	if err := c.store.BumpConfigVersion(ctx, id); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Tenant %s config version bumped.\n", id)
	return nil
}

func (c *CLI) keywordAdd(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: keyword-add <tenant_id> <proximity_window> <phrase>[,<phrase>...] [-exclude=<word>[,<word>...]]")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	window, err := strconv.Atoi(args[1])
	if err != nil || window < 0 {
		return fmt.Errorf("invalid proximity_window %q", args[1])
	}
	phrases := strings.Split(args[2], ",")

	var exclusions []string
	for _, arg := range args[3:] {
		if v, ok := flagValue(arg, "-exclude="); ok {
			exclusions = strings.Split(v, ",")
		}
	}

	k := &model.Keyword{
		TenantID:        tenantID,
		Phrases:         phrases,
		Exclusions:      exclusions,
		ProximityWindow: window,
		IsActive:        true,
	}
	if err := c.store.CreateKeyword(ctx, k); err != nil {
		return fmt.Errorf("create keyword: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Keyword %s created for tenant %s: %v\n", k.ID, tenantID, phrases)
	return nil
}

func (c *CLI) keywordList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keyword-list <tenant_id>")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	keywords, err := c.store.ListKeywords(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list keywords: %w", err)
	}
	for _, k := range keywords {
		status := "active"
		if !k.IsActive {
			status = "inactive"
		}
		if k.SilencedUntil != nil && k.SilencedUntil.After(time.Now()) {
			status = "silenced until " + k.SilencedUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(c.out, "%s  %-8s  window=%-3d  phrases=%v  exclusions=%v\n", k.ID, status, k.ProximityWindow, k.Phrases, k.Exclusions)
	}
	return nil
}

func (c *CLI) keywordRemove(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keyword-remove <keyword_id>")
	}
	id, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	tenantID, err := c.store.DeleteKeyword(ctx, id)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Keyword %s removed.\n", id)
	return nil
}

func (c *CLI) subredditAdd(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: subreddit-add <tenant_id> <name> [-include-media] [-dedupe-crossposts] [-filter-bots]")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	m := &model.MonitoredSubreddit{
		TenantID: tenantID,
		Name:     strings.TrimPrefix(args[1], "r/"),
		Status:   model.SubredditActive,
	}
	for _, flag := range args[2:] {
		switch flag {
		case "-include-media":
			m.IncludeMediaPosts = true
		case "-dedupe-crossposts":
			m.DedupeCrossposts = true
		case "-filter-bots":
			m.FilterBots = true
		}
	}
	if err := c.store.CreateMonitoredSubreddit(ctx, m); err != nil {
		return fmt.Errorf("create monitored subreddit: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Subreddit %s added for tenant %s: r/%s\n", m.ID, tenantID, m.Name)
	return nil
}

func (c *CLI) subredditList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: subreddit-list <tenant_id>")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	subs, err := c.store.ListMonitoredSubreddits(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list monitored subreddits: %w", err)
	}
	for _, m := range subs {
		fmt.Fprintf(c.out, "%s  r/%-20s  %-12s  include_media=%v  dedupe_crossposts=%v  filter_bots=%v\n",
			m.ID, m.Name, m.Status, m.IncludeMediaPosts, m.DedupeCrossposts, m.FilterBots)
	}
	return nil
}

func (c *CLI) subredditRemove(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: subreddit-remove <subreddit_id>")
	}
	id, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	tenantID, err := c.store.DeleteMonitoredSubreddit(ctx, id)
	if err != nil {
		return fmt.Errorf("delete monitored subreddit: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Subreddit %s removed.\n", id)
	return nil
}

// webhookAdd creates a webhook config. At most one webhook per tenant
// may be primary, so passing -primary here demotes whichever webhook
// was previously primary for the tenant, atomically, rather than
// leaving two webhooks marked primary at once.
func (c *CLI) webhookAdd(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: webhook-add <tenant_id> <url> [-primary]")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	url := args[1]
	if c.urlPattern != nil && !c.urlPattern.MatchString(url) {
		return fmt.Errorf("webhook url %q does not match the required pattern", url)
	}

	w := &model.WebhookConfig{TenantID: tenantID, URL: url, IsActive: true}
	for _, flag := range args[2:] {
		if flag == "-primary" {
			w.IsPrimary = true
		}
	}
	if err := c.store.CreateWebhookConfig(ctx, w); err != nil {
		return fmt.Errorf("create webhook config: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Webhook %s added for tenant %s (primary=%v)\n", w.ID, tenantID, w.IsPrimary)
	return nil
}

func (c *CLI) webhookList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: webhook-list <tenant_id>")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	webhooks, err := c.store.ListWebhookConfigs(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list webhook configs: %w", err)
	}
	for _, w := range webhooks {
		fmt.Fprintf(c.out, "%s  %-60s  primary=%v  active=%v\n", w.ID, w.URL, w.IsPrimary, w.IsActive)
	}
	return nil
}

func (c *CLI) webhookRemove(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: webhook-remove <webhook_id>")
	}
	id, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	tenantID, err := c.store.DeleteWebhookConfig(ctx, id)
	if err != nil {
		return fmt.Errorf("delete webhook config: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Webhook %s removed.\n", id)
	return nil
}

// webhookSetPrimary promotes an existing webhook to primary, demoting
// whichever webhook was previously primary for the tenant in the same
// transaction, without recreating the webhook row.
func (c *CLI) webhookSetPrimary(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: webhook-set-primary <tenant_id> <webhook_id>")
	}
	tenantID, err := parseUUIDArg(args[0])
	if err != nil {
		return err
	}
	id, err := parseUUIDArg(args[1])
	if err != nil {
		return err
	}
	if err := c.store.SetPrimaryWebhook(ctx, tenantID, id); err != nil {
		return fmt.Errorf("set primary webhook: %w", err)
	}
	if err := c.store.BumpConfigVersion(ctx, tenantID); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	fmt.Fprintf(c.out, "Webhook %s is now primary for tenant %s\n", id, tenantID)
	return nil
}

func flagValue(arg, prefix string) (string, bool) {
	if !strings.HasPrefix(arg, prefix) {
		return "", false
	}
	return strings.TrimPrefix(arg, prefix), true
}
