package ledgersync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Ledger Sync Errors
// ---------------------------------------------------------------------------

var (
	// Connection errors
	ErrNotConnected        = errors.New("ledgersync: ledger not connected")
	ErrReconnectRequired   = errors.New("ledgersync: ledger authorization expired, reconnect required")
	ErrInvalidAuthState    = errors.New("ledgersync: invalid or expired authorization state")
	ErrNoOrganisation      = errors.New("ledgersync: no organisation tenant granted")
	ErrRefreshRejected     = errors.New("ledgersync: refresh token rejected")
	ErrConnectionNotFound  = errors.New("ledgersync: connection not found")
	ErrInvalidConnection   = errors.New("ledgersync: invalid connection")
	ErrTokenCipherFailed   = errors.New("ledgersync: token encryption failed")
	ErrConnectionNotActive = errors.New("ledgersync: connection not active")

	// Ledger API errors
	ErrLedgerUnavailable     = errors.New("ledgersync: ledger temporarily unavailable")
	ErrLedgerRequestFailed   = errors.New("ledgersync: ledger request failed")
	ErrLedgerInvalidResponse = errors.New("ledgersync: invalid ledger response")
	ErrLedgerAuthFailed      = errors.New("ledgersync: ledger authentication failed")
	ErrLedgerRateLimited     = errors.New("ledgersync: ledger rate limited")
	ErrRemoteNotFound        = errors.New("ledgersync: remote record not found")
	ErrLedgerValidation      = errors.New("ledgersync: ledger rejected record")

	// Sync run errors
	ErrSyncThrottled      = errors.New("ledgersync: sync requested too soon")
	ErrSyncInProgress     = errors.New("ledgersync: sync already in progress")
	ErrInvalidEntityType  = errors.New("ledgersync: invalid entity type")
	ErrInvalidDirection   = errors.New("ledgersync: invalid sync direction")
	ErrInvalidTrigger     = errors.New("ledgersync: invalid sync trigger")
	ErrSyncRunNotFound    = errors.New("ledgersync: sync run not found")
	ErrSyncRunFinished    = errors.New("ledgersync: sync run already finished")
	ErrDependencyNotReady = errors.New("ledgersync: dependent record not synced")

	// Field and ownership errors
	ErrUnknownField       = errors.New("ledgersync: unknown field")
	ErrFieldNotSettable   = errors.New("ledgersync: field cannot be set directly")
	ErrInvalidFieldValue  = errors.New("ledgersync: invalid field value")
	ErrInvalidOwner       = errors.New("ledgersync: invalid field owner")
	ErrInvalidOwnershipKV = errors.New("ledgersync: invalid ownership override")

	// Conflict errors
	ErrConflictNotFound     = errors.New("ledgersync: conflict not found")
	ErrConflictNotOpen      = errors.New("ledgersync: conflict is not open")
	ErrInvalidResolution    = errors.New("ledgersync: invalid conflict resolution")
	ErrManualValueRequired  = errors.New("ledgersync: manual resolution requires a value")
	ErrBulkManualNotAllowed = errors.New("ledgersync: bulk resolution cannot use MANUAL")
	ErrInvalidTenantID      = errors.New("ledgersync: invalid tenant ID")

	// Webhook errors
	ErrInvalidWebhookSignature = errors.New("ledgersync: invalid webhook signature")
	ErrInvalidWebhookPayload   = errors.New("ledgersync: invalid webhook payload")
)

// RetryAfterError wraps a sentinel (ErrSyncThrottled, ErrLedgerRateLimited) with
// the delay after which the caller may try again.
type RetryAfterError struct {
	Err        error
	RetryAfter time.Duration
}

// Error implements error
func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter.Round(time.Second))
}

// Unwrap returns the wrapped sentinel
func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// NewThrottledError creates a throttled error with a retry delay
func NewThrottledError(retryAfter time.Duration) error {
	return &RetryAfterError{Err: ErrSyncThrottled, RetryAfter: retryAfter}
}

// NewRateLimitedError creates a ledger rate-limited error with a retry delay
func NewRateLimitedError(retryAfter time.Duration) error {
	return &RetryAfterError{Err: ErrLedgerRateLimited, RetryAfter: retryAfter}
}

// RetryAfter extracts the retry delay from err, if any
func RetryAfter(err error) (time.Duration, bool) {
	var rae *RetryAfterError
	if errors.As(err, &rae) {
		return rae.RetryAfter, true
	}
	return 0, false
}

// ValidationError carries the messages the ledger returned when rejecting a record
type ValidationError struct {
	Messages []string
}

// Error implements error
func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return ErrLedgerValidation.Error()
	}
	return ErrLedgerValidation.Error() + ": " + strings.Join(e.Messages, "; ")
}

// Unwrap returns ErrLedgerValidation
func (e *ValidationError) Unwrap() error {
	return ErrLedgerValidation
}

// IsTransient reports whether err is worth retrying later without intervention
func IsTransient(err error) bool {
	return errors.Is(err, ErrLedgerRateLimited) ||
		errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrSyncInProgress) ||
		errors.Is(err, ErrSyncThrottled)
}

// ErrorCode maps an error to a stable code stored on failed sync items
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLedgerValidation):
		return "LEDGER_VALIDATION"
	case errors.Is(err, ErrLedgerRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrLedgerUnavailable):
		return "LEDGER_UNAVAILABLE"
	case errors.Is(err, ErrLedgerAuthFailed), errors.Is(err, ErrReconnectRequired):
		return "AUTH_FAILED"
	case errors.Is(err, ErrRemoteNotFound):
		return "REMOTE_NOT_FOUND"
	case errors.Is(err, ErrDependencyNotReady):
		return "DEPENDENCY_NOT_SYNCED"
	case errors.Is(err, ErrInvalidFieldValue), errors.Is(err, ErrUnknownField):
		return "INVALID_FIELD"
	default:
		return "SYNC_FAILED"
	}
}
