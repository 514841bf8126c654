package xero

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// SignatureHeader carries the HMAC of the webhook body
const SignatureHeader = "x-xero-signature"

// WebhookDecoder verifies and decodes Xero webhook deliveries
type WebhookDecoder struct {
	key []byte
}

// NewWebhookDecoder creates a decoder for the app's webhook signing key
func NewWebhookDecoder(webhookKey string) *WebhookDecoder {
	return &WebhookDecoder{key: []byte(webhookKey)}
}

// Verify compares base64(HMAC-SHA256(key, body)) with signature in constant time
func (d *WebhookDecoder) Verify(body []byte, signature string) bool {
	if len(d.key) == 0 || signature == "" {
		return false
	}
	given, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, d.key)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

// Sign returns the signature Xero would send for body
func (d *WebhookDecoder) Sign(body []byte) string {
	mac := hmac.New(sha256.New, d.key)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Decode parses a delivery, keeping events for contacts and invoices
func (d *WebhookDecoder) Decode(body []byte) (*ledgersync.WebhookBatch, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ledgersync.ErrInvalidWebhookPayload, err)
	}
	batch := &ledgersync.WebhookBatch{
		FirstEventSequence: p.FirstEventSequence,
		LastEventSequence:  p.LastEventSequence,
		Events:             make([]ledgersync.WebhookEvent, 0, len(p.Events)),
	}
	for _, e := range p.Events {
		category, err := ledgersync.ParseEntityType(e.EventCategory)
		if err != nil || category == ledgersync.EntityTypePayment {
			continue
		}
		if e.TenantType != "" && e.TenantType != tenantTypeOrg {
			continue
		}
		at, err := ParseTime(e.EventDateUTC)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledgersync.ErrInvalidWebhookPayload, err)
		}
		batch.Events = append(batch.Events, ledgersync.WebhookEvent{
			ResourceID:     e.ResourceID,
			ResourceURL:    e.ResourceURL,
			EventCategory:  category,
			EventType:      e.EventType,
			LedgerTenantID: e.TenantID,
			EventDate:      at,
		})
	}
	return batch, nil
}

var _ ledgersync.WebhookDecoder = (*WebhookDecoder)(nil)
