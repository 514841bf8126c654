package xero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

const samplePayload = `{
  "events": [
    {"resourceUrl":"https://api.xero.com/api.xro/2.0/Contacts/c-1","resourceId":"c-1",
     "eventDateUtc":"2026-02-01T10:15:39.902","eventType":"UPDATE","eventCategory":"CONTACT",
     "tenantId":"org-1","tenantType":"ORGANISATION"},
    {"resourceUrl":"https://api.xero.com/api.xro/2.0/Invoices/i-1","resourceId":"i-1",
     "eventDateUtc":"2026-02-01T10:16:00","eventType":"CREATE","eventCategory":"INVOICE",
     "tenantId":"org-1","tenantType":"ORGANISATION"},
    {"resourceUrl":"https://api.xero.com/subscriptions/s-1","resourceId":"s-1",
     "eventDateUtc":"2026-02-01T10:16:00","eventType":"UPDATE","eventCategory":"SUBSCRIPTION",
     "tenantId":"org-1","tenantType":"ORGANISATION"}
  ],
  "firstEventSequence": 7,
  "lastEventSequence": 9,
  "entropy": "ABCDEF"
}`

func TestWebhookDecoder_Verify(t *testing.T) {
	d := NewWebhookDecoder("hook-key")
	body := []byte(samplePayload)
	sig := d.Sign(body)

	assert.True(t, d.Verify(body, sig))
	assert.False(t, d.Verify(append(body, ' '), sig), "body must be byte-identical")
	assert.False(t, d.Verify(body, "not base64 !"))
	assert.False(t, d.Verify(body, ""))
	assert.False(t, NewWebhookDecoder("other").Verify(body, sig))
	assert.False(t, NewWebhookDecoder("").Verify(body, sig), "an unset key rejects everything")
}

func TestWebhookDecoder_Decode(t *testing.T) {
	batch, err := NewWebhookDecoder("k").Decode([]byte(samplePayload))
	require.NoError(t, err)

	assert.Equal(t, int64(7), batch.FirstEventSequence)
	assert.Equal(t, int64(9), batch.LastEventSequence)
	require.Len(t, batch.Events, 2, "unsupported categories are dropped")

	e := batch.Events[0]
	assert.Equal(t, ledgersync.EntityTypeContact, e.EventCategory)
	assert.Equal(t, "c-1", e.ResourceID)
	assert.Equal(t, "org-1", e.LedgerTenantID)
	assert.Equal(t, "UPDATE", e.EventType)
	assert.Equal(t, 902000000, e.EventDate.Nanosecond())
	assert.Equal(t, ledgersync.EntityTypeInvoice, batch.Events[1].EventCategory)
}

func TestWebhookDecoder_IntentToReceive(t *testing.T) {
	batch, err := NewWebhookDecoder("k").Decode([]byte(`{"events":[],"firstEventSequence":0,"lastEventSequence":0,"entropy":"X"}`))
	require.NoError(t, err)
	assert.Empty(t, batch.Events)
}

func TestWebhookDecoder_BadPayload(t *testing.T) {
	_, err := NewWebhookDecoder("k").Decode([]byte(`{"events":`))
	assert.ErrorIs(t, err, ledgersync.ErrInvalidWebhookPayload)
}
