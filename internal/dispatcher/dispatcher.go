// Package dispatcher pulls pending matches per tenant, applies the
// 2-minute batching rule, formats Discord-rich embeds, and delivers
// them over the tenant's primary webhook with retry and email
// fallback. A batch uses one embed per match, capped at 10 per call
// with overflow split across additional calls.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sethvargo/go-retry"

	"reddalert/internal/email"
	"reddalert/internal/metrics"
	"reddalert/internal/model"
	"reddalert/internal/tenantconfig"

	"github.com/google/uuid"
)

const (
	batchThreshold  = 3
	batchWindow     = 2 * time.Minute
	maxEmbedsPerMsg = 10

	// redditOrange matches the original implementation's embed color.
	redditOrange = 0xFF4500
)

// Store is the subset of storage.Storage the dispatcher needs.
type Store interface {
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	ListPendingMatchesForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Match, error)
	MarkMatchSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkMatchFailed(ctx context.Context, id uuid.UUID) error
}

// HTTPClient is the transport the webhook sender posts through.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookSender is the abstract chat-webhook POST sink.
type WebhookSender interface {
	Send(ctx context.Context, url string, body []byte) (statusCode int, retryAfter time.Duration, err error)
}

// HTTPWebhookSender POSTs the JSON payload over plain net/http; the
// {content?, embeds[]} wire format is hand-built JSON, no chat-webhook
// SDK involved.
type HTTPWebhookSender struct {
	client HTTPClient
}

// NewHTTPWebhookSender creates an HTTPWebhookSender.
func NewHTTPWebhookSender(client HTTPClient) *HTTPWebhookSender {
	return &HTTPWebhookSender{client: client}
}

// Send implements WebhookSender.
func (s *HTTPWebhookSender) Send(ctx context.Context, url string, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp.StatusCode, retryAfter, nil
}

// Embed is the wire shape for a single Discord embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
	Color       int          `json:"color"`
}

// EmbedField is one labeled value within an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Payload is the JSON body POSTed to a webhook.
type Payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds"`
}

// Dispatcher drives a single pass of pending-match delivery.
type Dispatcher struct {
	store   Store
	cfg     *tenantconfig.Reader
	sender  WebhookSender
	email   email.Sink
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates a Dispatcher.
func New(store Store, cfg *tenantconfig.Reader, sender WebhookSender, emailSink email.Sink, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, cfg: cfg, sender: sender, email: emailSink, metrics: m, log: log}
}

// RunOnce processes every tenant's pending matches. One tenant's
// delivery failure never blocks another's.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	tenants, err := d.store.ListTenants(ctx)
	if err != nil {
		d.log.Error("list tenants", "error", err)
		return
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			return
		}
		d.processTenant(ctx, t)
	}
}

func (d *Dispatcher) processTenant(ctx context.Context, t model.Tenant) {
	pending, err := d.store.ListPendingMatchesForTenant(ctx, t.ID)
	if err != nil {
		d.log.Error("list pending matches", "tenant_id", t.ID, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	webhook := d.primaryWebhook(t.ID)
	if webhook == nil {
		d.log.Warn("no active primary webhook, leaving matches pending", "tenant_id", t.ID, "count", len(pending))
		return
	}

	now := time.Now()
	var withinWindow, aged []model.Match
	for _, m := range pending {
		if now.Sub(m.DetectedAt) < batchWindow {
			withinWindow = append(withinWindow, m)
		} else {
			aged = append(aged, m)
		}
	}

	// Batching rule: if at least batchThreshold matches accumulated
	// within the sliding window, send every pending match for this
	// tenant as one batch. Otherwise only matches that have aged past
	// the window go out now, individually; fresher ones are left to
	// accumulate for the next tick.
	if len(withinWindow) >= batchThreshold {
		d.sendBatch(ctx, t, *webhook, pending)
		return
	}
	for _, m := range aged {
		d.sendSingle(ctx, t, *webhook, m)
	}
}

// primaryWebhook returns the tenant's active primary webhook.
// CreateWebhookConfig and SetPrimaryWebhook enforce at most one
// primary per tenant at write time, but a config snapshot could still
// carry two if that invariant were ever violated some other way (a
// direct DB edit, say); rather than silently picking one, that case is
// logged loudly so it gets noticed and fixed via webhook-set-primary.
func (d *Dispatcher) primaryWebhook(tenantID uuid.UUID) *model.WebhookConfig {
	var primaries []model.WebhookConfig
	for _, w := range d.cfg.WebhooksForTenant(tenantID) {
		if w.IsPrimary && w.IsActive {
			primaries = append(primaries, w)
		}
	}
	if len(primaries) == 0 {
		return nil
	}
	if len(primaries) > 1 {
		ids := make([]string, len(primaries))
		for i, w := range primaries {
			ids[i] = w.ID.String()
		}
		d.log.Error("tenant has more than one active primary webhook, invariant violated",
			"tenant_id", tenantID, "webhook_ids", ids)
	}
	return &primaries[0]
}

func (d *Dispatcher) sendSingle(ctx context.Context, t model.Tenant, webhook model.WebhookConfig, m model.Match) {
	payload := Payload{Embeds: []Embed{formatEmbed(m)}}
	d.deliver(ctx, t, webhook, payload, []model.Match{m})
}

func (d *Dispatcher) sendBatch(ctx context.Context, t model.Tenant, webhook model.WebhookConfig, matches []model.Match) {
	for start := 0; start < len(matches); start += maxEmbedsPerMsg {
		end := start + maxEmbedsPerMsg
		if end > len(matches) {
			end = len(matches)
		}
		chunk := matches[start:end]

		embeds := make([]Embed, 0, len(chunk))
		for _, m := range chunk {
			embeds = append(embeds, formatEmbed(m))
		}
		payload := Payload{Embeds: embeds}
		d.deliver(ctx, t, webhook, payload, chunk)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t model.Tenant, webhook model.WebhookConfig, payload Payload, matches []model.Match) {
	body, err := jsoniter.Marshal(payload)
	if err != nil {
		d.log.Error("marshal webhook payload", "tenant_id", t.ID, "error", err)
		return
	}

	start := time.Now()
	err = postWithRetry(ctx, d.sender, webhook.URL, body)
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	if d.metrics != nil {
		d.metrics.DispatchAttempts.WithLabelValues(outcome).Inc()
		d.metrics.DispatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	now := time.Now()
	if err == nil {
		for _, m := range matches {
			if mErr := d.store.MarkMatchSent(ctx, m.ID, now); mErr != nil {
				d.log.Error("mark match sent", "match_id", m.ID, "error", mErr)
			}
		}
		return
	}

	d.log.Error("webhook delivery failed after retries", "tenant_id", t.ID, "webhook_id", webhook.ID, "matches", len(matches), "error", err)
	for _, m := range matches {
		if mErr := d.store.MarkMatchFailed(ctx, m.ID); mErr != nil {
			d.log.Error("mark match failed", "match_id", m.ID, "error", mErr)
		}
	}
	d.sendFallback(ctx, t, matches)
}

func (d *Dispatcher) sendFallback(ctx context.Context, t model.Tenant, matches []model.Match) {
	if t.Email == "" {
		d.log.Warn("no email on file, cannot send failure notification", "tenant_id", t.ID)
		return
	}
	subject := "Alert delivery failed"
	body := fmt.Sprintf("%d match(es) could not be delivered to your webhook after retrying.", len(matches))
	if len(matches) == 1 {
		m := matches[0]
		body = fmt.Sprintf("Match for %q in r/%s could not be delivered to your webhook after retrying: %s", m.MatchedPhrase, m.Subreddit, m.RedditURL)
	}
	if err := d.email.Send(ctx, t.Email, subject, body); err != nil {
		d.log.Error("send fallback email", "tenant_id", t.ID, "error", err)
	}
}

// formatEmbed builds a single-match embed, grounded on
// alert_dispatcher.py's _format_embed field layout.
func formatEmbed(m model.Match) Embed {
	fields := []EmbedField{
		{Name: "Keyword", Value: m.MatchedPhrase, Inline: true},
		{Name: "Subreddit", Value: "r/" + m.Subreddit, Inline: true},
		{Name: "Author", Value: "u/" + m.RedditAuthor, Inline: true},
	}
	if len(m.AlsoMatched) > 0 {
		also := m.AlsoMatched[0]
		for _, extra := range m.AlsoMatched[1:] {
			also += ", " + extra
		}
		fields = append(fields, EmbedField{Name: "Also Matched", Value: also, Inline: false})
	}

	return Embed{
		Title:       fmt.Sprintf("Keyword Match in r/%s", m.Subreddit),
		Description: m.Snippet,
		URL:         m.RedditURL,
		Fields:      fields,
		Timestamp:   m.DetectedAt.UTC().Format(time.RFC3339),
		Color:       redditOrange,
	}
}

// ladderBackoff drives a fixed 1s/4s/16s delay sequence. Each step is
// 4x the last, which go-retry's stock exponential (doubling) and
// Fibonacci curves don't produce, so it implements go-retry's Backoff
// interface directly instead of composing one of the library's
// constructors.
type ladderBackoff struct {
	steps []time.Duration
	idx   int
}

func newLadderBackoff() *ladderBackoff {
	return &ladderBackoff{steps: []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}}
}

func (b *ladderBackoff) Next() (time.Duration, bool) {
	if b.idx >= len(b.steps) {
		return 0, true
	}
	d := b.steps[b.idx]
	b.idx++
	return d, false
}

// postWithRetry sends body to url, retrying on transport errors and
// non-2xx responses per the 1s/4s/16s ±20% jitter ladder (1 initial
// attempt plus 3 retries total). A 429 with a Retry-After header is
// honored by sleeping that long before the ladder's own wait is
// additionally applied for that step.
func postWithRetry(ctx context.Context, sender WebhookSender, url string, body []byte) error {
	backoff := retry.WithJitterPercent(20, newLadderBackoff())

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, retryAfter, err := sender.Send(ctx, url, body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if status >= 200 && status < 300 {
			return nil
		}
		if status == http.StatusTooManyRequests && retryAfter > 0 {
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return retry.RetryableError(fmt.Errorf("webhook returned status %d", status))
	})
}
