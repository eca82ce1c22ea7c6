// Package object implements the ObjectStore Storage Adapter variant: one S3-compatible
// bucket per family (<prefix>-<familyId>, lowercased), auto-created on first use, with
// CargoShip-accelerated uploads (per-family-object connection reuse, BBR/CUBIC transport)
// layered over the plain AWS SDK for everything else.
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/familyhub/gateway/pkg/types"
)

var _ types.StorageAdapter = (*Backend)(nil)

// Config configures the ObjectStore adapter.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	BucketPrefix     string
	AutoCreateBucket bool
	PathStyle        bool

	PoolSize       int
	MaxRetries     int
	ConnectTimeout time.Duration

	EnableCargoShipOptimization bool
	TargetThroughput            float64
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TargetThroughput <= 0 {
		c.TargetThroughput = 800.0
	}
	return c
}

// Backend is the ObjectStore Storage Adapter, one instance shared across all families.
type Backend struct {
	client    *s3.Client
	pool      *ConnectionPool
	config    Config
	logger    *slog.Logger

	mu           sync.Mutex
	knownBucket  map[string]bool
	transporters map[string]*cargoships3.Transporter

	metrics metrics
}

type metrics struct {
	mu              sync.Mutex
	requests        int64
	errors          int64
	bytesUploaded   int64
	bytesDownloaded int64
}

// NewBackend creates an ObjectStore backend. No bucket is created here — buckets are
// created lazily per family on first upload, per the adapter's family-scoped namespace
// contract.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	cfg = cfg.withDefaults()
	if cfg.BucketPrefix == "" {
		return nil, fmt.Errorf("object storage: bucket_prefix cannot be empty")
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx,
		awssdkconfig.WithRegion(cfg.Region),
		awssdkconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("object storage: load AWS config: %w", err)
	}

	newClient := func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.PathStyle
		}), nil
	}

	client, _ := newClient()
	pool, err := NewConnectionPool(cfg.PoolSize, newClient)
	if err != nil {
		return nil, fmt.Errorf("object storage: create connection pool: %w", err)
	}

	logger := slog.Default().With("component", "storage.object")
	if cfg.EnableCargoShipOptimization {
		logger.Info("cargoship upload acceleration enabled", "target_throughput_mbs", cfg.TargetThroughput)
	}

	return &Backend{
		client:       client,
		pool:         pool,
		config:       cfg,
		logger:       logger,
		knownBucket:  make(map[string]bool),
		transporters: make(map[string]*cargoships3.Transporter),
	}, nil
}

// Type reports this adapter's StorageType.
func (b *Backend) Type() types.StorageType { return types.StorageObject }

func (b *Backend) bucketFor(familyID string) string {
	return fmt.Sprintf("%s-%s", b.config.BucketPrefix, strings.ToLower(familyID))
}

func objectKey(folderPath, fileID, originalName string) string {
	folderPath = strings.Trim(folderPath, "/")
	ext := ""
	if i := strings.LastIndexByte(originalName, '.'); i >= 0 {
		ext = originalName[i:]
	}
	if folderPath == "" {
		return fileID + ext
	}
	return folderPath + "/" + fileID + ext
}

// transporterFor returns the CargoShip transporter for bucket, constructing one lazily
// since CargoShip binds a transporter to a single target bucket and this adapter is
// family-scoped (one bucket per family, not one global bucket like the transporter
// normally assumes).
func (b *Backend) transporterFor(bucket string) *cargoships3.Transporter {
	if !b.config.EnableCargoShipOptimization {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.transporters[bucket]; ok {
		return t
	}
	t := cargoships3.NewTransporter(b.client, awsconfig.S3Config{
		Bucket:             bucket,
		StorageClass:       awsconfig.StorageClassStandard,
		MultipartThreshold: 32 * 1024 * 1024,
		MultipartChunkSize: 16 * 1024 * 1024,
		Concurrency:        b.config.PoolSize,
	})
	b.transporters[bucket] = t
	return t
}

// ensureBucket creates the per-family bucket on first use, per adapter's auto-create policy.
func (b *Backend) ensureBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	known := b.knownBucket[bucket]
	b.mu.Unlock()
	if known {
		return nil
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		b.mu.Lock()
		b.knownBucket[bucket] = true
		b.mu.Unlock()
		return nil
	}

	if !b.config.AutoCreateBucket {
		return fmt.Errorf("object storage: bucket %s does not exist and auto_create_bucket is disabled", bucket)
	}

	if _, createErr := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); createErr != nil {
		return fmt.Errorf("object storage: create bucket %s: %w", bucket, createErr)
	}
	b.mu.Lock()
	b.knownBucket[bucket] = true
	b.mu.Unlock()
	return nil
}

// Upload writes payload to the per-family bucket under the sanitized folder-path key,
// tagging the object with {familyId, uploaderUserId, uploadTime} as required by the
// adapter's common contract.
func (b *Backend) Upload(ctx context.Context, meta *types.FileMetadata, payload []byte) (string, error) {
	b.recordRequest()

	bucket := b.bucketFor(meta.FamilyID)
	if err := b.ensureBucket(ctx, bucket); err != nil {
		b.recordError()
		return "", err
	}

	key := objectKey(meta.FolderPath, meta.FileID, meta.OriginalName)
	tagging := url.Values{
		"familyId":       []string{meta.FamilyID},
		"uploaderUserId": []string{meta.OwnerID},
		"uploadTime":     []string{time.Now().UTC().Format(time.RFC3339)},
	}.Encode()

	if transporter := b.transporterFor(bucket); transporter != nil {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(payload),
			Size:         int64(len(payload)),
			StorageClass: awsconfig.StorageClassStandard,
			Metadata: map[string]string{
				"familyId": meta.FamilyID,
			},
		}
		if _, err := transporter.Upload(ctx, archive); err == nil {
			b.recordBytesUploaded(int64(len(payload)))
			return bucket + "/" + key, nil
		}
		b.logger.Warn("cargoship upload failed, falling back to standard S3 PutObject", "bucket", bucket, "key", key)
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		Tagging:       aws.String(tagging),
	})
	if err != nil {
		b.recordError()
		return "", b.translateError(err, "Upload", bucket, key)
	}

	b.recordBytesUploaded(int64(len(payload)))
	return bucket + "/" + key, nil
}

// Download resolves fileID within the family bucket by listing for a key whose leaf
// segment starts with "<fileId>.", matching LocalFS's lookup contract.
func (b *Backend) Download(ctx context.Context, fileID, familyID string) ([]byte, error) {
	b.recordRequest()

	bucket := b.bucketFor(familyID)
	key, err := b.findKey(ctx, bucket, fileID)
	if err != nil {
		b.recordError()
		return nil, err
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		b.recordError()
		return nil, b.translateError(err, "Download", bucket, key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		b.recordError()
		return nil, fmt.Errorf("object storage: read object body: %w", err)
	}
	b.recordBytesDownloaded(int64(len(data)))
	return data, nil
}

// Delete removes fileID's object from the family bucket, returning true iff an object
// was actually removed.
func (b *Backend) Delete(ctx context.Context, fileID, familyID string) (bool, error) {
	b.recordRequest()

	bucket := b.bucketFor(familyID)
	key, err := b.findKey(ctx, bucket, fileID)
	if err != nil {
		return false, nil //nolint:nilerr // not-found is not an error for an idempotent delete
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		b.recordError()
		return false, b.translateError(err, "Delete", bucket, key)
	}
	return true, nil
}

// List returns the immediate children of familyID/folderPath.
func (b *Backend) List(ctx context.Context, familyID, folderPath string) ([]string, error) {
	b.recordRequest()

	bucket := b.bucketFor(familyID)
	prefix := strings.Trim(folderPath, "/")
	if prefix != "" {
		prefix += "/"
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		b.recordError()
		return nil, b.translateError(err, "List", bucket, prefix)
	}

	names := make([]string, 0, len(result.Contents))
	for _, obj := range result.Contents {
		key := aws.ToString(obj.Key)
		names = append(names, strings.TrimPrefix(key, prefix))
	}
	return names, nil
}

// IsHealthy enumerates buckets to confirm the backend's credentials and connectivity.
func (b *Backend) IsHealthy(ctx context.Context) bool {
	client := b.pool.Get()
	defer b.pool.Put(client)
	_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	return err == nil
}

// AccessURL returns a time-bounded presigned GET URL.
func (b *Backend) AccessURL(ctx context.Context, fileID, familyID string, expireMinutes int) (string, error) {
	bucket := b.bucketFor(familyID)
	key, err := b.findKey(ctx, bucket, fileID)
	if err != nil {
		return "", err
	}

	presignClient := s3.NewPresignClient(b.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(time.Duration(expireMinutes)*time.Minute))
	if err != nil {
		return "", fmt.Errorf("object storage: presign: %w", err)
	}
	return req.URL, nil
}

func (b *Backend) findKey(ctx context.Context, bucket, fileID string) (string, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	if err != nil {
		return "", b.translateError(err, "findKey", bucket, fileID)
	}
	for _, obj := range result.Contents {
		key := aws.ToString(obj.Key)
		leaf := key
		if i := strings.LastIndexByte(key, '/'); i >= 0 {
			leaf = key[i+1:]
		}
		if strings.HasPrefix(leaf, fileID+".") {
			return key, nil
		}
	}
	return "", fmt.Errorf("object storage: file %s not found in bucket %s", fileID, bucket)
}

func (b *Backend) translateError(err error, operation, bucket, key string) error {
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	switch {
	case errors.As(err, &noSuchKey):
		return fmt.Errorf("object not found: %s/%s", bucket, key)
	case errors.As(err, &noSuchBucket):
		return fmt.Errorf("bucket not found: %s", bucket)
	default:
		return fmt.Errorf("%s failed for %s/%s: %w", operation, bucket, key, err)
	}
}

// Close releases pooled connections.
func (b *Backend) Close() error {
	return b.pool.Close()
}

func (b *Backend) recordRequest() {
	b.metrics.mu.Lock()
	b.metrics.requests++
	b.metrics.mu.Unlock()
}

func (b *Backend) recordError() {
	b.metrics.mu.Lock()
	b.metrics.errors++
	b.metrics.mu.Unlock()
}

func (b *Backend) recordBytesUploaded(n int64) {
	b.metrics.mu.Lock()
	b.metrics.bytesUploaded += n
	b.metrics.mu.Unlock()
}

func (b *Backend) recordBytesDownloaded(n int64) {
	b.metrics.mu.Lock()
	b.metrics.bytesDownloaded += n
	b.metrics.mu.Unlock()
}
