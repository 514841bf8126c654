package ledgersync

import (
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// Options tunes the sync services. Zero values take the defaults below.
type Options struct {
	// LockTTL bounds how long one tenant's sync may hold the lock
	LockTTL time.Duration
	// PageSize caps how many local records a push selects per run
	PageSize int
	// MaxPages stops a pull that keeps reporting more pages
	MaxPages int
	// TokenRefreshMargin refreshes tokens this long before they expire
	TokenRefreshMargin time.Duration
	// AuthStateTTL is how long an authorization request stays valid
	AuthStateTTL time.Duration
	// WebhookDedupeTTL is how long a webhook event key is remembered
	WebhookDedupeTTL time.Duration
	// Rules are the effective field ownership rules
	Rules *ledgersync.OwnershipRules
}

const (
	defaultLockTTL            = 10 * time.Minute
	defaultPageSize           = 100
	defaultMaxPages           = 500
	defaultTokenRefreshMargin = 2 * time.Minute
	defaultAuthStateTTL       = 10 * time.Minute
	defaultWebhookDedupeTTL   = 24 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.LockTTL <= 0 {
		o.LockTTL = defaultLockTTL
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.TokenRefreshMargin <= 0 {
		o.TokenRefreshMargin = defaultTokenRefreshMargin
	}
	if o.AuthStateTTL <= 0 {
		o.AuthStateTTL = defaultAuthStateTTL
	}
	if o.WebhookDedupeTTL <= 0 {
		o.WebhookDedupeTTL = defaultWebhookDedupeTTL
	}
	if o.Rules == nil {
		o.Rules = ledgersync.DefaultOwnershipRules()
	}
	return o
}
