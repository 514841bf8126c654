package ledgersync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOrg = LedgerConnection{ConnectionID: "conn-1", TenantID: "org-1", TenantName: "Kiwi Builders", TenantType: "ORGANISATION"}

func TestNewConnection(t *testing.T) {
	expiry := time.Now().Add(30 * time.Minute)
	c, err := NewConnection(uuid.New(), uuid.New(), testOrg, "enc-a", "enc-r", expiry, []string{"offline_access"})
	require.NoError(t, err)
	assert.True(t, c.IsActive())
	assert.Equal(t, "org-1", c.LedgerTenantID)
	assert.Equal(t, "Kiwi Builders", c.LedgerTenantName)

	_, err = NewConnection(uuid.New(), uuid.New(), LedgerConnection{}, "a", "r", expiry, nil)
	assert.ErrorIs(t, err, ErrInvalidConnection)

	_, err = NewConnection(uuid.Nil, uuid.New(), testOrg, "a", "r", expiry, nil)
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestConnection_NeedsRefresh(t *testing.T) {
	now := time.Now()
	c := &Connection{TokenExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, c.NeedsRefresh(now, 2*time.Minute))
	assert.True(t, c.NeedsRefresh(now, 10*time.Minute))
	assert.True(t, c.NeedsRefresh(now.Add(time.Hour), 0))
}

func TestConnection_Lifecycle(t *testing.T) {
	c, err := NewConnection(uuid.New(), uuid.New(), testOrg, "a1", "r1", time.Now(), nil)
	require.NoError(t, err)

	t.Run("refresh rotates tokens", func(t *testing.T) {
		exp := time.Now().Add(30 * time.Minute)
		c.MarkRefreshed("a2", "r2", exp)
		assert.Equal(t, "a2", c.AccessTokenEncrypted)
		assert.Equal(t, "r2", c.RefreshTokenEncrypted)
		assert.Equal(t, exp, c.TokenExpiresAt)
		assert.NotNil(t, c.LastRefreshedAt)
	})

	t.Run("refresh without new refresh token keeps the old one", func(t *testing.T) {
		c.MarkRefreshed("a3", "", time.Now().Add(time.Minute))
		assert.Equal(t, "r2", c.RefreshTokenEncrypted)
	})

	t.Run("expired grant", func(t *testing.T) {
		c.MarkExpired("invalid_grant")
		assert.False(t, c.IsActive())
		assert.Equal(t, ConnectionExpired, c.Status)
	})

	t.Run("reconnect reactivates", func(t *testing.T) {
		c.Reconnect(uuid.New(), testOrg, "a4", "r4", time.Now().Add(time.Hour), nil)
		assert.True(t, c.IsActive())
		assert.Empty(t, c.StatusReason)
	})

	t.Run("disconnect wipes tokens", func(t *testing.T) {
		c.Disconnect()
		assert.Equal(t, ConnectionDisconnected, c.Status)
		assert.Empty(t, c.AccessTokenEncrypted)
		assert.Empty(t, c.RefreshTokenEncrypted)
	})
}
