package ledgersync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a ledger connection
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "ACTIVE"
	ConnectionExpired      ConnectionStatus = "EXPIRED"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
)

// TokenSet is a plaintext OAuth token set as returned by the provider
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// Connection binds a local tenant to one ledger organisation and holds its
// OAuth tokens, encrypted at rest.
type Connection struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	LedgerTenantID        string
	LedgerTenantName      string
	LedgerTenantType      string
	LedgerConnectionID    string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	TokenExpiresAt        time.Time
	Scopes                []string
	Status                ConnectionStatus
	StatusReason          string
	ConnectedBy           uuid.UUID
	ConnectedAt           time.Time
	LastRefreshedAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewConnection creates an active connection with already-encrypted tokens
func NewConnection(tenantID, connectedBy uuid.UUID, org LedgerConnection, accessEnc, refreshEnc string, expiry time.Time, scopes []string) (*Connection, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if strings.TrimSpace(org.TenantID) == "" || accessEnc == "" || refreshEnc == "" {
		return nil, ErrInvalidConnection
	}
	now := time.Now()
	return &Connection{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		LedgerTenantID:        org.TenantID,
		LedgerTenantName:      org.TenantName,
		LedgerTenantType:      org.TenantType,
		LedgerConnectionID:    org.ConnectionID,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		TokenExpiresAt:        expiry,
		Scopes:                scopes,
		Status:                ConnectionActive,
		ConnectedBy:           connectedBy,
		ConnectedAt:           now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// IsActive reports whether the connection can be used for API calls
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionActive
}

// NeedsRefresh reports whether the access token expires within margin
func (c *Connection) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(c.TokenExpiresAt)
}

// Reconnect replaces the organisation and tokens of an existing connection
func (c *Connection) Reconnect(connectedBy uuid.UUID, org LedgerConnection, accessEnc, refreshEnc string, expiry time.Time, scopes []string) {
	now := time.Now()
	c.LedgerTenantID = org.TenantID
	c.LedgerTenantName = org.TenantName
	c.LedgerTenantType = org.TenantType
	c.LedgerConnectionID = org.ConnectionID
	c.AccessTokenEncrypted = accessEnc
	c.RefreshTokenEncrypted = refreshEnc
	c.TokenExpiresAt = expiry
	c.Scopes = scopes
	c.Status = ConnectionActive
	c.StatusReason = ""
	c.ConnectedBy = connectedBy
	c.ConnectedAt = now
	c.UpdatedAt = now
}

// MarkRefreshed stores a rotated token pair. The provider issues a new refresh
// token on every refresh and invalidates the old one.
func (c *Connection) MarkRefreshed(accessEnc, refreshEnc string, expiry time.Time) {
	now := time.Now()
	c.AccessTokenEncrypted = accessEnc
	if refreshEnc != "" {
		c.RefreshTokenEncrypted = refreshEnc
	}
	c.TokenExpiresAt = expiry
	c.LastRefreshedAt = &now
	c.UpdatedAt = now
}

// MarkExpired records that the grant can no longer be refreshed
func (c *Connection) MarkExpired(reason string) {
	c.Status = ConnectionExpired
	c.StatusReason = reason
	c.UpdatedAt = time.Now()
}

// Disconnect wipes the tokens and marks the connection disconnected
func (c *Connection) Disconnect() {
	c.Status = ConnectionDisconnected
	c.StatusReason = ""
	c.AccessTokenEncrypted = ""
	c.RefreshTokenEncrypted = ""
	c.TokenExpiresAt = time.Time{}
	c.UpdatedAt = time.Now()
}

// ConnectionRepository persists connections, one per local tenant
type ConnectionRepository interface {
	Save(ctx context.Context, c *Connection) error
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*Connection, error)
	FindByLedgerTenant(ctx context.Context, ledgerTenantID string) (*Connection, error)
	FindActive(ctx context.Context) ([]Connection, error)
}

// ---------------------------------------------------------------------------
// OAuth and token protection ports
// ---------------------------------------------------------------------------

// OAuthProvider drives the authorization-code flow with the ledger's identity service
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*TokenSet, error)
	// Refresh exchanges a refresh token; a rejected grant yields ErrRefreshRejected
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// TokenCipher encrypts tokens before they are persisted
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AuthState is what the state parameter of an authorization request binds to
type AuthState struct {
	TenantID uuid.UUID `json:"tenant_id"`
	UserID   uuid.UUID `json:"user_id"`
}
