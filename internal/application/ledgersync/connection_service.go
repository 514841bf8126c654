package ledgersync

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

const (
	authStateKeyPrefix = "xero:oauth_state:"
	authStateBytes     = 32
	organisationType   = "ORGANISATION"
)

// TokenProvider hands out a valid access token for a tenant's ledger organisation
type TokenProvider interface {
	AccessToken(ctx context.Context, tenantID uuid.UUID) (ledgersync.LedgerTenant, error)
}

// TokenRefreshRecorder observes token refresh outcomes
type TokenRefreshRecorder interface {
	RecordTokenRefresh(ctx context.Context, outcome string)
}

// ConnectionService manages the OAuth connection between a tenant and the ledger
type ConnectionService struct {
	connections ledgersync.ConnectionRepository
	runs        ledgersync.SyncRunRepository
	conflicts   ledgersync.ConflictRepository
	provider    ledgersync.OAuthProvider
	client      ledgersync.LedgerClient
	cipher      ledgersync.TokenCipher
	states      ledgersync.StateStore
	publisher   shared.EventPublisher
	recorder    TokenRefreshRecorder
	opts        Options
	logger      *zap.Logger
	refreshes   singleflight.Group
	now         func() time.Time
}

// ConnectionServiceDeps groups the collaborators of ConnectionService
type ConnectionServiceDeps struct {
	Connections ledgersync.ConnectionRepository
	Runs        ledgersync.SyncRunRepository
	Conflicts   ledgersync.ConflictRepository
	Provider    ledgersync.OAuthProvider
	Client      ledgersync.LedgerClient
	Cipher      ledgersync.TokenCipher
	States      ledgersync.StateStore
	Publisher   shared.EventPublisher
	// Recorder is optional
	Recorder TokenRefreshRecorder
}

// NewConnectionService creates a ConnectionService
func NewConnectionService(deps ConnectionServiceDeps, opts Options, logger *zap.Logger) *ConnectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionService{
		connections: deps.Connections,
		runs:        deps.Runs,
		conflicts:   deps.Conflicts,
		provider:    deps.Provider,
		client:      deps.Client,
		cipher:      deps.Cipher,
		states:      deps.States,
		publisher:   deps.Publisher,
		recorder:    deps.Recorder,
		opts:        opts.withDefaults(),
		logger:      logger,
		now:         time.Now,
	}
}

// BeginAuthorization creates a single-use state bound to the tenant and user
// and returns the URL of the ledger's consent screen.
func (s *ConnectionService) BeginAuthorization(ctx context.Context, tenantID, userID uuid.UUID) (*AuthorizationResponse, error) {
	if tenantID == uuid.Nil {
		return nil, ledgersync.ErrInvalidTenantID
	}
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	payload, err := json.Marshal(ledgersync.AuthState{TenantID: tenantID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if err := s.states.Put(ctx, authStateKeyPrefix+state, payload, s.opts.AuthStateTTL); err != nil {
		return nil, fmt.Errorf("store state: %w", err)
	}
	return &AuthorizationResponse{
		AuthorizationURL: s.provider.AuthCodeURL(state),
		ExpiresAt:        s.now().Add(s.opts.AuthStateTTL),
	}, nil
}

// CompleteAuthorization consumes the state, exchanges the code and stores the
// encrypted tokens of the organisation the user granted.
func (s *ConnectionService) CompleteAuthorization(ctx context.Context, state, code string) (*ledgersync.Connection, error) {
	if state == "" || code == "" {
		return nil, ledgersync.ErrInvalidAuthState
	}
	raw, ok, err := s.states.Take(ctx, authStateKeyPrefix+state)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return nil, ledgersync.ErrInvalidAuthState
	}
	var as ledgersync.AuthState
	if err := json.Unmarshal(raw, &as); err != nil || as.TenantID == uuid.Nil {
		return nil, ledgersync.ErrInvalidAuthState
	}

	tokens, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	orgs, err := s.client.Connections(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	org, err := pickOrganisation(orgs)
	if err != nil {
		return nil, err
	}

	if other, err := s.connections.FindByLedgerTenant(ctx, org.TenantID); err == nil {
		if other.TenantID != as.TenantID && other.IsActive() {
			return nil, shared.NewDomainError("ALREADY_CONNECTED",
				fmt.Sprintf("organisation %s is connected to another account", org.TenantName))
		}
	} else if !errors.Is(err, ledgersync.ErrConnectionNotFound) {
		return nil, err
	}

	accessEnc, refreshEnc, err := s.encryptTokens(tokens)
	if err != nil {
		return nil, err
	}

	conn, err := s.connections.FindByTenant(ctx, as.TenantID)
	switch {
	case err == nil:
		conn.Reconnect(as.UserID, org, accessEnc, refreshEnc, tokens.Expiry, tokens.Scopes)
	case errors.Is(err, ledgersync.ErrConnectionNotFound):
		conn, err = ledgersync.NewConnection(as.TenantID, as.UserID, org, accessEnc, refreshEnc, tokens.Expiry, tokens.Scopes)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}

	s.logger.Info("Ledger connected",
		zap.String("tenant_id", conn.TenantID.String()),
		zap.String("organisation", conn.LedgerTenantName),
		zap.String("ledger_tenant_id", conn.LedgerTenantID))
	s.publish(ctx, ledgersync.NewConnectionEstablishedEvent(conn))
	return conn, nil
}

// Disconnect revokes the grant, removes the ledger connection and wipes the tokens.
// Revocation failures are logged; the local connection is disconnected regardless.
func (s *ConnectionService) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	conn, err := s.connections.FindByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ledgersync.ErrConnectionNotFound) {
			return ledgersync.ErrNotConnected
		}
		return err
	}

	if conn.AccessTokenEncrypted != "" && conn.LedgerConnectionID != "" {
		if access, err := s.cipher.Decrypt(conn.AccessTokenEncrypted); err == nil {
			if err := s.client.RemoveConnection(ctx, access, conn.LedgerConnectionID); err != nil {
				s.logger.Warn("Failed to remove ledger connection", zap.String("tenant_id", tenantID.String()), zap.Error(err))
			}
		}
	}
	if conn.RefreshTokenEncrypted != "" {
		if refresh, err := s.cipher.Decrypt(conn.RefreshTokenEncrypted); err == nil {
			if err := s.provider.Revoke(ctx, refresh); err != nil {
				s.logger.Warn("Failed to revoke refresh token", zap.String("tenant_id", tenantID.String()), zap.Error(err))
			}
		}
	}

	conn.Disconnect()
	if err := s.connections.Save(ctx, conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	s.logger.Info("Ledger disconnected", zap.String("tenant_id", tenantID.String()))
	return nil
}

// Status reports the connection with the latest runs and open conflict count
func (s *ConnectionService) Status(ctx context.Context, tenantID uuid.UUID) (*ConnectionStatusResponse, error) {
	resp := &ConnectionStatusResponse{Status: StatusNotConnected, LastRuns: []SyncRunSummary{}}

	conn, err := s.connections.FindByTenant(ctx, tenantID)
	switch {
	case err == nil:
		resp.Connected = conn.IsActive()
		resp.Status = string(conn.Status)
		resp.StatusReason = conn.StatusReason
		resp.OrganisationID = conn.LedgerTenantID
		resp.OrganisationName = conn.LedgerTenantName
		resp.Scopes = conn.Scopes
		if !conn.TokenExpiresAt.IsZero() {
			exp := conn.TokenExpiresAt
			resp.TokenExpiresAt = &exp
		}
		connectedAt := conn.ConnectedAt
		resp.ConnectedAt = &connectedAt
		resp.LastRefreshedAt = conn.LastRefreshedAt
	case errors.Is(err, ledgersync.ErrConnectionNotFound):
	default:
		return nil, err
	}

	latest, err := s.runs.LatestByEntity(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range latest {
		resp.LastRuns = append(resp.LastRuns, ToSyncRunSummary(&latest[i]))
	}
	if resp.OpenConflicts, err = s.conflicts.CountOpen(ctx, tenantID); err != nil {
		return nil, err
	}
	return resp, nil
}

// AccessToken returns a usable token, refreshing it when it is about to expire.
// Refreshes are collapsed per tenant because the ledger rotates refresh tokens
// and a second concurrent refresh would invalidate the first.
func (s *ConnectionService) AccessToken(ctx context.Context, tenantID uuid.UUID) (ledgersync.LedgerTenant, error) {
	conn, err := s.activeConnection(ctx, tenantID)
	if err != nil {
		return ledgersync.LedgerTenant{}, err
	}
	if !conn.NeedsRefresh(s.now(), s.opts.TokenRefreshMargin) {
		return s.ledgerTenant(conn)
	}

	v, err, _ := s.refreshes.Do(tenantID.String(), func() (interface{}, error) {
		return s.refresh(ctx, tenantID)
	})
	if err != nil {
		return ledgersync.LedgerTenant{}, err
	}
	return v.(ledgersync.LedgerTenant), nil
}

func (s *ConnectionService) refresh(ctx context.Context, tenantID uuid.UUID) (ledgersync.LedgerTenant, error) {
	// Reload: a concurrent caller may have refreshed while we waited.
	conn, err := s.activeConnection(ctx, tenantID)
	if err != nil {
		return ledgersync.LedgerTenant{}, err
	}
	if !conn.NeedsRefresh(s.now(), s.opts.TokenRefreshMargin) {
		return s.ledgerTenant(conn)
	}

	refreshToken, err := s.cipher.Decrypt(conn.RefreshTokenEncrypted)
	if err != nil {
		return ledgersync.LedgerTenant{}, fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}

	tokens, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ledgersync.ErrRefreshRejected) {
			s.recordRefresh(ctx, "rejected")
			conn.MarkExpired(err.Error())
			if saveErr := s.connections.Save(ctx, conn); saveErr != nil {
				s.logger.Error("Failed to mark connection expired", zap.String("tenant_id", tenantID.String()), zap.Error(saveErr))
			}
			s.logger.Warn("Ledger refresh token rejected, reconnect required",
				zap.String("tenant_id", tenantID.String()),
				zap.String("organisation", conn.LedgerTenantName))
			s.publish(ctx, ledgersync.NewConnectionExpiredEvent(conn))
			return ledgersync.LedgerTenant{}, ledgersync.ErrReconnectRequired
		}
		s.recordRefresh(ctx, "error")
		return ledgersync.LedgerTenant{}, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	accessEnc, refreshEnc, err := s.encryptTokens(tokens)
	if err != nil {
		return ledgersync.LedgerTenant{}, err
	}
	conn.MarkRefreshed(accessEnc, refreshEnc, tokens.Expiry)
	if err := s.connections.Save(ctx, conn); err != nil {
		return ledgersync.LedgerTenant{}, fmt.Errorf("save refreshed tokens: %w", err)
	}
	s.recordRefresh(ctx, "success")
	s.logger.Debug("Ledger token refreshed",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("expires_at", tokens.Expiry))

	return ledgersync.LedgerTenant{TenantID: conn.LedgerTenantID, AccessToken: tokens.AccessToken}, nil
}

func (s *ConnectionService) activeConnection(ctx context.Context, tenantID uuid.UUID) (*ledgersync.Connection, error) {
	conn, err := s.connections.FindByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ledgersync.ErrConnectionNotFound) {
			return nil, ledgersync.ErrNotConnected
		}
		return nil, err
	}
	switch conn.Status {
	case ledgersync.ConnectionActive:
		return conn, nil
	case ledgersync.ConnectionExpired:
		return nil, ledgersync.ErrReconnectRequired
	default:
		return nil, ledgersync.ErrNotConnected
	}
}

func (s *ConnectionService) ledgerTenant(conn *ledgersync.Connection) (ledgersync.LedgerTenant, error) {
	access, err := s.cipher.Decrypt(conn.AccessTokenEncrypted)
	if err != nil {
		return ledgersync.LedgerTenant{}, fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	return ledgersync.LedgerTenant{TenantID: conn.LedgerTenantID, AccessToken: access}, nil
}

func (s *ConnectionService) encryptTokens(tokens *ledgersync.TokenSet) (string, string, error) {
	accessEnc, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	refreshEnc, err := s.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	return accessEnc, refreshEnc, nil
}

func (s *ConnectionService) recordRefresh(ctx context.Context, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordTokenRefresh(ctx, outcome)
	}
}

func (s *ConnectionService) publish(ctx context.Context, ev shared.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("event_type", ev.EventType()), zap.Error(err))
	}
}

// pickOrganisation prefers the first ORGANISATION tenant; practice tenants are skipped
func pickOrganisation(orgs []ledgersync.LedgerConnection) (ledgersync.LedgerConnection, error) {
	for _, o := range orgs {
		if strings.EqualFold(o.TenantType, organisationType) {
			return o, nil
		}
	}
	return ledgersync.LedgerConnection{}, ledgersync.ErrNoOrganisation
}

func randomState() (string, error) {
	b := make([]byte, authStateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var _ TokenProvider = (*ConnectionService)(nil)
