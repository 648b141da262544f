package tenantconfig

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"reddalert/internal/model"
)

type fakeStore struct {
	tenants    []model.Tenant
	keywords   map[uuid.UUID][]model.Keyword
	subreddits map[uuid.UUID][]model.MonitoredSubreddit
	webhooks   map[uuid.UUID][]model.WebhookConfig
	calls      int
}

func (f *fakeStore) ListTenants(context.Context) ([]model.Tenant, error) {
	return f.tenants, nil
}

func (f *fakeStore) ListKeywords(_ context.Context, tenantID uuid.UUID) ([]model.Keyword, error) {
	f.calls++
	return f.keywords[tenantID], nil
}

func (f *fakeStore) ListMonitoredSubreddits(_ context.Context, tenantID uuid.UUID) ([]model.MonitoredSubreddit, error) {
	return f.subreddits[tenantID], nil
}

func (f *fakeStore) ListWebhookConfigs(_ context.Context, tenantID uuid.UUID) ([]model.WebhookConfig, error) {
	return f.webhooks[tenantID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefresh_BuildsPairingsForActiveSubredditsAndKeywords(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		tenants: []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, IsActive: true}},
		},
		subreddits: map[uuid.UUID][]model.MonitoredSubreddit{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, Name: "golang", Status: model.SubredditActive}},
		},
	}

	r := New(store, time.Minute, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	pairings := r.PairingsForSubreddit("golang")
	if len(pairings) != 1 {
		t.Fatalf("want 1 pairing, got %d", len(pairings))
	}
	if diff := cmp.Diff(tenantID, pairings[0].TenantID); diff != "" {
		t.Errorf("tenant id mismatch (-want +got):\n%s", diff)
	}
}

func TestRefresh_SkipsInactiveKeyword(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		tenants: []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, IsActive: false}},
		},
		subreddits: map[uuid.UUID][]model.MonitoredSubreddit{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, Name: "golang", Status: model.SubredditActive}},
		},
	}

	r := New(store, time.Minute, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(r.PairingsForSubreddit("golang")) != 0 {
		t.Fatal("expected no pairings for an inactive keyword")
	}
}

func TestRefresh_SkipsSilencedKeyword(t *testing.T) {
	tenantID := uuid.New()
	future := time.Now().Add(time.Hour)
	store := &fakeStore{
		tenants: []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, IsActive: true, SilencedUntil: &future}},
		},
		subreddits: map[uuid.UUID][]model.MonitoredSubreddit{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, Name: "golang", Status: model.SubredditActive}},
		},
	}

	r := New(store, time.Minute, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(r.PairingsForSubreddit("golang")) != 0 {
		t.Fatal("expected no pairings for a silenced keyword")
	}
}

func TestRefresh_SkipsInactiveSubredditForPairingsButKeepsSubscription(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		tenants: []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, IsActive: true}},
		},
		subreddits: map[uuid.UUID][]model.MonitoredSubreddit{
			tenantID: {{ID: uuid.New(), TenantID: tenantID, Name: "golang", Status: model.SubredditInaccessible}},
		},
	}

	r := New(store, time.Minute, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(r.PairingsForSubreddit("golang")) != 0 {
		t.Fatal("expected no pairings for an inactive subreddit")
	}
	if len(r.SubscriptionsForSubreddit("golang")) != 1 {
		t.Fatal("expected the subscription row to remain visible regardless of status")
	}
}

func TestRefresh_ReusesCachedTenantWhenVersionUnchangedAndFresh(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		tenants:  []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{tenantID: nil},
	}

	r := New(store, time.Hour, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if store.calls != 1 {
		t.Fatalf("want 1 keyword-list call across two refreshes with unchanged version, got %d", store.calls)
	}
}

func TestRefresh_ReloadsOnVersionBump(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		tenants:  []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{tenantID: nil},
	}

	r := New(store, time.Hour, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	store.tenants[0].ConfigVersion = 2
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if store.calls != 2 {
		t.Fatalf("want 2 keyword-list calls after a version bump, got %d", store.calls)
	}
}

func TestRefresh_ReloadsAfterTTLExpires(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		tenants:  []model.Tenant{{ID: tenantID, ConfigVersion: 1}},
		keywords: map[uuid.UUID][]model.Keyword{tenantID: nil},
	}

	r := New(store, time.Nanosecond, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if store.calls != 2 {
		t.Fatalf("want 2 keyword-list calls once the TTL has elapsed, got %d", store.calls)
	}
}

func TestEffectiveCadence_IsMinimumAcrossSubscribingTenants(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	store := &fakeStore{
		tenants: []model.Tenant{
			{ID: tenantA, ConfigVersion: 1, PollIntervalMinutes: 15},
			{ID: tenantB, ConfigVersion: 1, PollIntervalMinutes: 5},
		},
		subreddits: map[uuid.UUID][]model.MonitoredSubreddit{
			tenantA: {{ID: uuid.New(), TenantID: tenantA, Name: "golang", Status: model.SubredditActive}},
			tenantB: {{ID: uuid.New(), TenantID: tenantB, Name: "golang", Status: model.SubredditActive}},
		},
	}

	r := New(store, time.Minute, testLogger())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if got := r.EffectiveCadence("golang"); got != 5*time.Minute {
		t.Fatalf("want 5m cadence, got %v", got)
	}
}

func TestEffectiveCadence_UnknownSubredditIsZero(t *testing.T) {
	r := New(&fakeStore{}, time.Minute, testLogger())
	if got := r.EffectiveCadence("nope"); got != 0 {
		t.Fatalf("want 0, got %v", got)
	}
}

func TestWebhooksForTenant_UnknownTenantReturnsNil(t *testing.T) {
	r := New(&fakeStore{}, time.Minute, testLogger())
	if got := r.WebhooksForTenant(uuid.New()); got != nil {
		t.Fatalf("want nil for unknown tenant, got %v", got)
	}
}
