package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sjscal/pkg/metrics"
	"sjscal/pkg/resilience"
)

// S3BlobStore stores blobs in S3-compatible storage
type S3BlobStore struct {
	client  *s3.Client
	bucket  string
	prefix  string
	breaker *resilience.CircuitBreaker
}

// S3BlobStoreConfig holds S3 configuration
type S3BlobStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "sjscal/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3BlobStore creates a new S3-backed blob store
func NewS3BlobStore(ctx context.Context, cfg S3BlobStoreConfig) (*S3BlobStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3BlobStore{
		client:  s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		breaker: resilience.NewCircuitBreaker("s3:"+cfg.Bucket, breakerConfig()),
	}, nil
}

func breakerConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.OnStateChange = func(name string, _, to resilience.CircuitState) {
		metrics.CircuitState.WithLabelValues(name).Set(float64(to))
	}
	return cfg
}

// Breaker exposes the circuit guarding S3 calls for health reporting.
func (s *S3BlobStore) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// Put uploads the body to S3
func (s *S3BlobStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read blob body: %w", err)
	}

	fullKey := s.prefix + key
	err = s.breaker.Execute(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(fullKey),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, fullKey), nil
}

// Open fetches a blob from S3
func (s *S3BlobStore) Open(ctx context.Context, reference string) (io.ReadCloser, error) {
	key := s.extractKey(reference)

	var output *s3.GetObjectOutput
	missing := false
	err := s.breaker.Execute(ctx, func() error {
		var err error
		output, err = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		// A missing key is an answer from a healthy backend.
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			missing = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from S3: %w", key, err)
	}
	if missing {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return output.Body, nil
}

func (s *S3BlobStore) extractKey(reference string) string {
	// Handle s3://bucket/key format
	if rest, ok := strings.CutPrefix(reference, "s3://"); ok {
		if _, key, found := strings.Cut(rest, "/"); found {
			return key
		}
	}
	return s.prefix + reference
}

// LocalBlobStore stores blobs on the local filesystem (development and single-node mode)
type LocalBlobStore struct {
	basePath string
}

// NewLocalBlobStore creates a local filesystem blob store
func NewLocalBlobStore(basePath string) (*LocalBlobStore, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalBlobStore{basePath: abs}, nil
}

// Put writes the body under basePath/key
func (l *LocalBlobStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return path, nil
}

// Open reads a blob written by Put
func (l *LocalBlobStore) Open(ctx context.Context, reference string) (io.ReadCloser, error) {
	path, err := l.resolve(reference)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// resolve maps a key or a previously returned absolute reference to a path
// inside basePath.
func (l *LocalBlobStore) resolve(key string) (string, error) {
	path := key
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.basePath, filepath.FromSlash(key))
	}
	path = filepath.Clean(path)
	if path == l.basePath || !strings.HasPrefix(path, l.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q escapes the store", key)
	}
	return path, nil
}
