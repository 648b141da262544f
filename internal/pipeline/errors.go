// Package pipeline defines the error taxonomy shared by every stage of
// Reddalert's poll → match → dispatch pipeline, and RunOnce, which
// drives a single pass through all three for tests and one-shot runs.
// The scheduler does not call RunOnce; it ticks each stage on its own.
package pipeline

import "errors"

// Sentinel errors for the pipeline's error taxonomy. Each stage wraps
// one of these with fmt.Errorf("...: %w", ErrX) so callers can recover
// the kind via errors.Is without parsing message text.
var (
	// ErrTransientSource covers network failures and 5xx responses from
	// the forum source. The caller should log the failure and retry on
	// the next tick without advancing the poll cursor.
	ErrTransientSource = errors.New("pipeline: transient source error")

	// ErrPermanentSource covers 404/403 responses for a subreddit. The
	// caller flips that subreddit's status and backs off for at least an
	// hour rather than retrying immediately.
	ErrPermanentSource = errors.New("pipeline: permanent source error")

	// ErrRateLimited covers HTTP 429 responses from the forum source,
	// distinct from other transient errors: the caller backs off for the
	// duration the source's Retry-After header names, or a default if
	// the header is absent, rather than merely logging and retrying on
	// the next tick.
	ErrRateLimited = errors.New("pipeline: source rate limited")

	// ErrContentMalformed marks a single content item that failed
	// normalization or hashing. The item is skipped; the rest of the
	// batch proceeds.
	ErrContentMalformed = errors.New("pipeline: content malformed")

	// ErrKeywordInvariant marks a keyword whose configuration violates
	// the matcher's invariants (e.g. an empty phrase list slipped past
	// validation). The match engine quarantines that keyword rather than
	// failing the whole cycle.
	ErrKeywordInvariant = errors.New("pipeline: keyword invariant violated")

	// ErrWebhookDelivery marks a webhook POST that exhausted its
	// retries. The match is marked failed and a fallback is attempted.
	ErrWebhookDelivery = errors.New("pipeline: webhook delivery failed")

	// ErrStoreConflict marks a unique-constraint conflict on insert. The
	// pipeline treats this as success: the row already exists.
	ErrStoreConflict = errors.New("pipeline: store conflict")
)
