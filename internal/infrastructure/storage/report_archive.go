// Package storage archives reconciliation reports in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/config"
)

const (
	defaultRegion            = "us-east-1"
	defaultPresignExpiration = 15 * time.Minute
	reportContentType        = "application/json"
)

var _ ledgersync.ReportArchive = (*S3ReportArchive)(nil)

// S3ReportArchive stores reconciliation reports as JSON objects and hands out
// presigned download links. Works with AWS S3, MinIO and RustFS.
type S3ReportArchive struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
	now               func() time.Time
}

// Option configures an S3ReportArchive
type Option func(*S3ReportArchive)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *S3ReportArchive) {
		a.logger = logger
	}
}

// WithPresignExpiration overrides how long download links stay valid
func WithPresignExpiration(d time.Duration) Option {
	return func(a *S3ReportArchive) {
		a.presignExpiration = d
	}
}

// NewS3ReportArchive creates the archive from storage configuration
func NewS3ReportArchive(ctx context.Context, cfg *config.StorageConfig, opts ...Option) (*S3ReportArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage access key and secret key are required")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	a := &S3ReportArchive{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		presignExpiration: cfg.PresignExpiration,
		logger:            zap.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.presignExpiration <= 0 {
		a.presignExpiration = defaultPresignExpiration
	}
	return a, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (a *S3ReportArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating report bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Store uploads the report and returns a presigned GET URL for it
func (a *S3ReportArchive) Store(ctx context.Context, report *ledgersync.ReconciliationReport) (string, error) {
	if report == nil {
		return "", errors.New("report is required")
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	key := a.ReportKey(report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(reportContentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	req, err := a.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.presignExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign report URL: %w", err)
	}

	a.logger.Info("Reconciliation report archived",
		zap.String("tenant_id", report.TenantID.String()),
		zap.String("report_id", report.ID.String()),
		zap.String("key", key),
		zap.Int("bytes", len(body)),
	)
	return req.URL, nil
}

// ReportKey is reconciliation/{tenant}/{yyyymmddThhmmssZ}-{report id}.json
func (a *S3ReportArchive) ReportKey(report *ledgersync.ReconciliationReport) string {
	ts := report.GeneratedAt
	if ts.IsZero() {
		ts = a.now()
	}
	return fmt.Sprintf("reconciliation/%s/%s-%s.json",
		report.TenantID, ts.UTC().Format("20060102T150405Z"), report.ID)
}

// Bucket returns the bucket name
func (a *S3ReportArchive) Bucket() string {
	return a.bucket
}
