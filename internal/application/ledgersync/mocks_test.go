package ledgersync_test

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// MockOAuthProvider is a mock implementation of OAuthProvider
type MockOAuthProvider struct {
	mock.Mock
}

func (m *MockOAuthProvider) AuthCodeURL(state string) string {
	return "https://login.example.test/authorize?state=" + state
}

func (m *MockOAuthProvider) Exchange(ctx context.Context, code string) (*ledgersync.TokenSet, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgersync.TokenSet), args.Error(1)
}

func (m *MockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*ledgersync.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgersync.TokenSet), args.Error(1)
}

func (m *MockOAuthProvider) Revoke(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

// MockWebhookDecoder is a mock implementation of WebhookDecoder
type MockWebhookDecoder struct {
	mock.Mock
}

func (m *MockWebhookDecoder) Verify(body []byte, signature string) bool {
	args := m.Called(body, signature)
	return args.Bool(0)
}

func (m *MockWebhookDecoder) Decode(body []byte) (*ledgersync.WebhookBatch, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgersync.WebhookBatch), args.Error(1)
}

// MockJobSubmitter is a mock implementation of JobSubmitter
type MockJobSubmitter struct {
	mock.Mock
}

func (m *MockJobSubmitter) SubmitSync(ctx context.Context, req ledgersync.SyncRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// prefixCipher marks values as encrypted without hiding them
type prefixCipher struct{}

func (prefixCipher) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (prefixCipher) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", ledgersync.ErrTokenCipherFailed
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// countingRecorder counts token refresh outcomes
type countingRecorder struct {
	outcomes []string
}

func (r *countingRecorder) RecordTokenRefresh(_ context.Context, outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

var (
	_ ledgersync.OAuthProvider  = (*MockOAuthProvider)(nil)
	_ ledgersync.WebhookDecoder = (*MockWebhookDecoder)(nil)
	_ ledgersync.JobSubmitter   = (*MockJobSubmitter)(nil)
	_ ledgersync.TokenCipher    = prefixCipher{}
)
