package ledgersync

import "time"

// WebhookEvent is one change notification delivered by the ledger
type WebhookEvent struct {
	ResourceID     string
	ResourceURL    string
	EventCategory  EntityType
	EventType      string // CREATE or UPDATE
	LedgerTenantID string
	EventDate      time.Time
}

// DedupKey identifies a delivery so redeliveries are processed once
func (e WebhookEvent) DedupKey() string {
	return e.LedgerTenantID + ":" + string(e.EventCategory) + ":" + e.ResourceID + ":" + e.EventDate.UTC().Format(time.RFC3339Nano)
}

// WebhookBatch is a signed webhook delivery. A batch without events is the
// ledger's intent-to-receive check.
type WebhookBatch struct {
	Events             []WebhookEvent
	FirstEventSequence int64
	LastEventSequence  int64
}

// WebhookDecoder verifies and decodes webhook deliveries
type WebhookDecoder interface {
	// Verify checks the signature header against the raw body
	Verify(body []byte, signature string) bool
	// Decode parses the body. Events with unsupported categories are dropped.
	Decode(body []byte) (*WebhookBatch, error)
}
