package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/config"
)

// fakeS3 records requests and answers like a minimal path-style S3 endpoint
type fakeS3 struct {
	mu           sync.Mutex
	bucketExists bool
	requests     []string
	bodies       map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.Method == http.MethodHead && strings.Count(strings.Trim(r.URL.Path, "/"), "/") == 0:
		if !f.bucketExists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && strings.Count(strings.Trim(r.URL.Path, "/"), "/") == 0:
		f.bucketExists = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if f.bodies == nil {
			f.bodies = map[string]string{}
		}
		f.bodies[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestArchive(t *testing.T, fake *fakeS3) *S3ReportArchive {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	a, err := NewS3ReportArchive(context.Background(), &config.StorageConfig{
		Endpoint:     srv.URL,
		Bucket:       "reports",
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return a
}

func TestNewS3ReportArchive_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3ReportArchive(ctx, nil)
	assert.ErrorContains(t, err, "configuration is required")

	_, err = NewS3ReportArchive(ctx, &config.StorageConfig{AccessKey: "k", SecretKey: "s"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3ReportArchive(ctx, &config.StorageConfig{Bucket: "b", AccessKey: "k"})
	assert.ErrorContains(t, err, "secret key")

	a, err := NewS3ReportArchive(ctx, &config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s", Endpoint: "localhost:9000"})
	require.NoError(t, err)
	assert.Equal(t, "b", a.Bucket())
	assert.Equal(t, 15*time.Minute, a.presignExpiration)

	a, err = NewS3ReportArchive(ctx, &config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s"}, WithPresignExpiration(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, a.presignExpiration)
}

func TestS3ReportArchive_ReportKey(t *testing.T) {
	a, err := NewS3ReportArchive(context.Background(), &config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)

	tenant := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	report := ledgersync.NewReconciliationReport(tenant, []ledgersync.EntityType{ledgersync.EntityTypeContact})
	report.GeneratedAt = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	assert.Equal(t,
		"reconciliation/11111111-1111-1111-1111-111111111111/20260304T050607Z-"+report.ID.String()+".json",
		a.ReportKey(report))
}

func TestS3ReportArchive_EnsureBucket(t *testing.T) {
	t.Run("creates missing bucket", func(t *testing.T) {
		fake := &fakeS3{}
		a := newTestArchive(t, fake)

		require.NoError(t, a.EnsureBucket(context.Background()))
		assert.Equal(t, []string{"HEAD /reports", "PUT /reports"}, fake.requests)
	})

	t.Run("existing bucket is left alone", func(t *testing.T) {
		fake := &fakeS3{bucketExists: true}
		a := newTestArchive(t, fake)

		require.NoError(t, a.EnsureBucket(context.Background()))
		assert.Equal(t, []string{"HEAD /reports"}, fake.requests)
	})
}

func TestS3ReportArchive_Store(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	a := newTestArchive(t, fake)

	report := ledgersync.NewReconciliationReport(uuid.New(), []ledgersync.EntityType{ledgersync.EntityTypeInvoice})
	report.Add(&ledgersync.RecordPlan{
		EntityType: ledgersync.EntityTypeInvoice,
		ExternalID: "inv-1",
		Label:      "INV-001",
		Action:     ledgersync.RecordCreateLocal,
	})

	url, err := a.Store(context.Background(), report)
	require.NoError(t, err)

	key := a.ReportKey(report)
	assert.Contains(t, url, key)
	assert.Contains(t, url, "X-Amz-Signature")
	assert.Contains(t, url, "X-Amz-Expires=900")

	body, ok := fake.bodies["/reports/"+key]
	require.True(t, ok, "report object not uploaded: %v", fake.requests)
	assert.Contains(t, body, report.ID.String())
	assert.Contains(t, body, "INV-001")
}

func TestS3ReportArchive_StoreNil(t *testing.T) {
	a := newTestArchive(t, &fakeS3{})
	_, err := a.Store(context.Background(), nil)
	assert.Error(t, err)
}
