// Package poller fetches new posts and their top-level comments for
// every subreddit any tenant monitors, sharing one fetch per subreddit
// across tenants, normalizes and content-dedups each item, and
// persists it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reddalert/internal/dedup"
	"reddalert/internal/model"
	"reddalert/internal/normalizer"
	"reddalert/internal/pipeline"
	"reddalert/internal/ratelimit"
	"reddalert/internal/source"
	"reddalert/internal/tenantconfig"
)

// Store is the subset of storage.Storage the poller needs.
type Store interface {
	UpsertContent(ctx context.Context, c *model.RedditContent) (inserted bool, err error)
	UpdateSubredditStatus(ctx context.Context, tenantID uuid.UUID, name string, status model.SubredditStatus) error
	UpdateSubredditLastPolled(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Poller drives the fetch → normalize → dedup → persist path for every
// monitored subreddit on a scheduler tick.
type Poller struct {
	source  source.Source
	store   Store
	cfg     *tenantconfig.Reader
	limiter *ratelimit.Bucket
	log     *slog.Logger

	mu             sync.Mutex
	lastSeenPostID map[string]string
	lastSharedPoll map[string]time.Time
	backoffUntil   map[string]time.Time
}

// New creates a Poller.
func New(src source.Source, store Store, cfg *tenantconfig.Reader, limiter *ratelimit.Bucket, log *slog.Logger) *Poller {
	return &Poller{
		source:         src,
		store:          store,
		cfg:            cfg,
		limiter:        limiter,
		log:            log,
		lastSeenPostID: make(map[string]string),
		lastSharedPoll: make(map[string]time.Time),
		backoffUntil:   make(map[string]time.Time),
	}
}

// PollAll runs one pass over every subreddit any tenant monitors,
// skipping subreddits whose shared cadence hasn't elapsed yet.
func (p *Poller) PollAll(ctx context.Context) {
	now := time.Now()
	for _, subreddit := range p.cfg.Subreddits() {
		if ctx.Err() != nil {
			return
		}
		if until, backedOff := p.backoffUntil[subreddit]; backedOff && now.Before(until) {
			continue
		}
		cadence := p.cfg.EffectiveCadence(subreddit)
		if cadence > 0 && now.Sub(p.lastSharedPoll[subreddit]) < cadence {
			continue
		}
		p.pollSubreddit(ctx, subreddit)
		p.lastSharedPoll[subreddit] = now
	}
}

func (p *Poller) pollSubreddit(ctx context.Context, subreddit string) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	p.mu.Lock()
	since := p.lastSeenPostID[subreddit]
	p.mu.Unlock()

	posts, err := p.source.ListNewPosts(ctx, subreddit, since)
	if err != nil {
		p.handleFetchError(ctx, subreddit, err)
		return
	}

	// ListNewPosts returns newest-first; persist oldest-first so
	// downstream processing sees content in chronological order.
	for i := len(posts) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		p.ingestPost(ctx, posts[i])
	}

	if len(posts) > 0 {
		p.mu.Lock()
		p.lastSeenPostID[subreddit] = posts[0].SourceID
		p.mu.Unlock()
	}

	p.markSuccess(ctx, subreddit)
}

func (p *Poller) ingestPost(ctx context.Context, post source.Post) {
	if err := p.persist(ctx, model.RedditContent{
		SourceID:        post.SourceID,
		Subreddit:       post.Subreddit,
		ContentType:     model.ContentPost,
		Title:           post.Title,
		Body:            post.Body,
		Author:          post.Author,
		Permalink:       post.Permalink,
		IsMediaPost:     post.IsMediaPost,
		CreatedAtRemote: post.CreatedAtRemote,
	}); err != nil {
		p.log.Error("persist post", "subreddit", post.Subreddit, "source_id", post.SourceID, "error", err)
		return
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	comments, err := p.source.ListTopLevelComments(ctx, post.SourceID, post.Subreddit, "")
	if err != nil {
		p.log.Error("fetch comments", "subreddit", post.Subreddit, "post_id", post.SourceID, "error", err)
		return
	}
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		if err := p.persist(ctx, model.RedditContent{
			SourceID:        c.SourceID,
			Subreddit:       c.Subreddit,
			ContentType:     model.ContentComment,
			Body:            c.Body,
			Author:          c.Author,
			Permalink:       c.Permalink,
			CreatedAtRemote: c.CreatedAtRemote,
		}); err != nil {
			p.log.Error("persist comment", "subreddit", c.Subreddit, "source_id", c.SourceID, "error", err)
		}
	}
}

// persist runs the text normalizer and content hash over raw content
// and upserts it.
func (p *Poller) persist(ctx context.Context, c model.RedditContent) error {
	norm := normalizer.Normalize(c.Title + " " + c.Body)
	c.ID = uuid.New()
	c.NormalizedText = norm.Text()
	c.ContentHash = dedup.ContentHash(norm.Text())
	c.FetchedAt = time.Now()

	_, err := p.store.UpsertContent(ctx, &c)
	if err != nil {
		return fmt.Errorf("%w: upsert content: %v", pipeline.ErrContentMalformed, err)
	}
	return nil
}

const defaultRateLimitBackoff = time.Minute

func (p *Poller) handleFetchError(ctx context.Context, subreddit string, err error) {
	var statusErr *source.StatusError
	switch {
	case errors.As(err, &statusErr) && errors.Is(err, pipeline.ErrPermanentSource):
		status := model.SubredditInaccessible
		if statusErr.StatusCode == 403 {
			status = model.SubredditPrivate
		}
		p.log.Warn("subreddit permanently unreachable", "subreddit", subreddit, "status", statusErr.StatusCode)
		for _, sub := range p.cfg.SubscriptionsForSubreddit(subreddit) {
			if updateErr := p.store.UpdateSubredditStatus(ctx, sub.TenantID, subreddit, status); updateErr != nil {
				p.log.Error("update subreddit status", "subreddit", subreddit, "error", updateErr)
			}
		}
		p.backoffUntil[subreddit] = time.Now().Add(time.Hour)
	case errors.As(err, &statusErr) && errors.Is(err, pipeline.ErrRateLimited):
		backoff := statusErr.RetryAfter
		if backoff <= 0 {
			backoff = defaultRateLimitBackoff
		}
		p.log.Warn("rate limited, backing off", "subreddit", subreddit, "backoff", backoff)
		p.backoffUntil[subreddit] = time.Now().Add(backoff)
	case errors.Is(err, pipeline.ErrTransientSource):
		p.log.Warn("transient fetch failure, cursor not advanced", "subreddit", subreddit, "error", err)
	default:
		p.log.Error("fetch failure", "subreddit", subreddit, "error", err)
	}
}

func (p *Poller) markSuccess(ctx context.Context, subreddit string) {
	now := time.Now()
	for _, sub := range p.cfg.SubscriptionsForSubreddit(subreddit) {
		if sub.Subreddit.Status != model.SubredditActive {
			if err := p.store.UpdateSubredditStatus(ctx, sub.TenantID, subreddit, model.SubredditActive); err != nil {
				p.log.Error("reactivate subreddit", "subreddit", subreddit, "error", err)
			}
		}
		if err := p.store.UpdateSubredditLastPolled(ctx, sub.Subreddit.ID, now); err != nil {
			p.log.Error("update last polled", "subreddit", subreddit, "error", err)
		}
	}
	delete(p.backoffUntil, subreddit)
}
