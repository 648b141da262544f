package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"reddalert/internal/email"
	"reddalert/internal/metrics"
	"reddalert/internal/model"
	"reddalert/internal/tenantconfig"
)

type fakeStore struct {
	mu      sync.Mutex
	tenants []model.Tenant
	pending map[uuid.UUID][]model.Match
	sent    []uuid.UUID
	failed  []uuid.UUID
}

func (f *fakeStore) ListTenants(context.Context) ([]model.Tenant, error) { return f.tenants, nil }

func (f *fakeStore) ListPendingMatchesForTenant(_ context.Context, tenantID uuid.UUID) ([]model.Match, error) {
	return f.pending[tenantID], nil
}

func (f *fakeStore) MarkMatchSent(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkMatchFailed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *fakeSender) Send(context.Context, string, []byte) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return 500, 0, nil
	}
	return 204, 0, nil
}

type fakeEmail struct {
	sent int
}

func (f *fakeEmail) Send(context.Context, string, string, string) error {
	f.sent++
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type cfgStoreStub struct {
	tenant   model.Tenant
	webhooks []model.WebhookConfig
}

func (s *cfgStoreStub) ListTenants(context.Context) ([]model.Tenant, error) { return []model.Tenant{s.tenant}, nil }
func (s *cfgStoreStub) ListKeywords(context.Context, uuid.UUID) ([]model.Keyword, error) {
	return nil, nil
}
func (s *cfgStoreStub) ListMonitoredSubreddits(context.Context, uuid.UUID) ([]model.MonitoredSubreddit, error) {
	return nil, nil
}
func (s *cfgStoreStub) ListWebhookConfigs(context.Context, uuid.UUID) ([]model.WebhookConfig, error) {
	return s.webhooks, nil
}

func newMatch(tenantID uuid.UUID, detectedAt time.Time) model.Match {
	return model.Match{
		ID:            uuid.New(),
		TenantID:      tenantID,
		MatchedPhrase: "arbitrage bet",
		Subreddit:     "golang",
		DetectedAt:    detectedAt,
		AlertStatus:   model.AlertPending,
	}
}

func newDispatcher(t *testing.T, tenant model.Tenant, webhook model.WebhookConfig, store Store, sender WebhookSender, emailSink email.Sink) *Dispatcher {
	cfgStore := &cfgStoreStub{tenant: tenant, webhooks: []model.WebhookConfig{webhook}}
	cfg := tenantconfig.New(cfgStore, time.Minute, testLogger())
	if err := cfg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return New(store, cfg, sender, emailSink, metrics.New(), testLogger())
}

func TestRunOnce_SendsAgedMatchIndividuallyBelowThreshold(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: "ops@example.com"}
	webhook := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/hook", IsPrimary: true, IsActive: true}

	m := newMatch(tenant.ID, time.Now().Add(-3*time.Minute))
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: {m}}}
	sender := &fakeSender{}

	d := newDispatcher(t, tenant, webhook, store, sender, &fakeEmail{})
	d.RunOnce(context.Background())

	if sender.calls != 1 {
		t.Fatalf("want 1 webhook call, got %d", sender.calls)
	}
	if len(store.sent) != 1 || store.sent[0] != m.ID {
		t.Fatalf("want match marked sent, got sent=%v", store.sent)
	}
}

func TestRunOnce_LeavesFreshBelowThresholdMatchPending(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: "ops@example.com"}
	webhook := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/hook", IsPrimary: true, IsActive: true}

	m := newMatch(tenant.ID, time.Now())
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: {m}}}
	sender := &fakeSender{}

	d := newDispatcher(t, tenant, webhook, store, sender, &fakeEmail{})
	d.RunOnce(context.Background())

	if sender.calls != 0 {
		t.Fatalf("want no webhook call for a fresh single match, got %d", sender.calls)
	}
	if len(store.sent) != 0 {
		t.Fatalf("want match left pending, got sent=%v", store.sent)
	}
}

func TestRunOnce_BatchesThreeFreshMatchesInOneCall(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: "ops@example.com"}
	webhook := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/hook", IsPrimary: true, IsActive: true}

	now := time.Now()
	matches := []model.Match{newMatch(tenant.ID, now), newMatch(tenant.ID, now.Add(-30*time.Second)), newMatch(tenant.ID, now.Add(-60*time.Second))}
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: matches}}
	sender := &fakeSender{}

	d := newDispatcher(t, tenant, webhook, store, sender, &fakeEmail{})
	d.RunOnce(context.Background())

	if sender.calls != 1 {
		t.Fatalf("want exactly 1 batched webhook call, got %d", sender.calls)
	}
	if len(store.sent) != 3 {
		t.Fatalf("want all 3 matches marked sent, got %d", len(store.sent))
	}
}

func TestRunOnce_FailureMarksFailedAndSendsFallbackEmail(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: "ops@example.com"}
	webhook := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/hook", IsPrimary: true, IsActive: true}

	m := newMatch(tenant.ID, time.Now().Add(-3*time.Minute))
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: {m}}}
	sender := &fakeSender{fail: true}
	mail := &fakeEmail{}

	d := newDispatcher(t, tenant, webhook, store, sender, mail)
	d.RunOnce(context.Background())

	if sender.calls != 4 {
		t.Fatalf("want 1 initial attempt + 3 retries = 4 calls, got %d", sender.calls)
	}
	if len(store.failed) != 1 || store.failed[0] != m.ID {
		t.Fatalf("want match marked failed, got failed=%v", store.failed)
	}
	if mail.sent != 1 {
		t.Fatalf("want 1 fallback email sent, got %d", mail.sent)
	}
}

func TestRunOnce_NoEmailOnFileSkipsFallback(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: ""}
	webhook := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/hook", IsPrimary: true, IsActive: true}

	m := newMatch(tenant.ID, time.Now().Add(-3*time.Minute))
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: {m}}}
	sender := &fakeSender{fail: true}
	mail := &fakeEmail{}

	d := newDispatcher(t, tenant, webhook, store, sender, mail)
	d.RunOnce(context.Background())

	if mail.sent != 0 {
		t.Fatalf("want no fallback email without a tenant email on file, got %d", mail.sent)
	}
}

func TestRunOnce_NoActiveWebhookLeavesMatchesPending(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: "ops@example.com"}
	webhook := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/hook", IsPrimary: true, IsActive: false}

	m := newMatch(tenant.ID, time.Now().Add(-3*time.Minute))
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: {m}}}
	sender := &fakeSender{}

	d := newDispatcher(t, tenant, webhook, store, sender, &fakeEmail{})
	d.RunOnce(context.Background())

	if sender.calls != 0 {
		t.Fatalf("want no webhook call without an active primary webhook, got %d", sender.calls)
	}
	if len(store.sent)+len(store.failed) != 0 {
		t.Fatalf("want matches left pending, got sent=%v failed=%v", store.sent, store.failed)
	}
}

func TestRunOnce_TwoActivePrimariesStillDeliversToOne(t *testing.T) {
	tenant := model.Tenant{ID: uuid.New(), Email: "ops@example.com"}
	first := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/first", IsPrimary: true, IsActive: true}
	second := model.WebhookConfig{ID: uuid.New(), TenantID: tenant.ID, URL: "https://discord.example/second", IsPrimary: true, IsActive: true}

	m := newMatch(tenant.ID, time.Now().Add(-3*time.Minute))
	store := &fakeStore{tenants: []model.Tenant{tenant}, pending: map[uuid.UUID][]model.Match{tenant.ID: {m}}}
	sender := &fakeSender{}

	cfgStore := &cfgStoreStub{tenant: tenant, webhooks: []model.WebhookConfig{first, second}}
	cfg := tenantconfig.New(cfgStore, time.Minute, testLogger())
	if err := cfg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	d := New(store, cfg, sender, &fakeEmail{}, metrics.New(), testLogger())
	d.RunOnce(context.Background())

	// Two active primaries violates the at-most-one-primary invariant;
	// primaryWebhook logs it loudly but still delivers to the first one
	// found rather than dropping the match entirely.
	if sender.calls != 1 {
		t.Fatalf("want 1 webhook call despite the duplicate-primary invariant violation, got %d", sender.calls)
	}
	if len(store.sent) != 1 || store.sent[0] != m.ID {
		t.Fatalf("want match marked sent, got sent=%v", store.sent)
	}
}

func TestFormatEmbed_IncludesAlsoMatchedField(t *testing.T) {
	m := newMatch(uuid.New(), time.Now())
	m.AlsoMatched = []string{"other phrase", "third phrase"}

	embed := formatEmbed(m)
	found := false
	for _, f := range embed.Fields {
		if f.Name == "Also Matched" && strings.Contains(f.Value, "other phrase") && strings.Contains(f.Value, "third phrase") {
			found = true
		}
	}
	if !found {
		t.Errorf("want an Also Matched field listing both extra phrases, got %+v", embed.Fields)
	}
}
