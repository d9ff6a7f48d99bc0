package exportstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCSOptions configures NewGCSStore.
type GCSOptions struct {
	Bucket string
	// CredentialsFile is a service account key path; empty uses application default credentials.
	CredentialsFile string
	Logger          *slog.Logger
	// ClientOptions are appended after the credentials option.
	ClientOptions []option.ClientOption
}

// GCSStore uploads artifacts to a Google Cloud Storage bucket.
type GCSStore struct {
	bucket string
	client *storage.Client
	logger *slog.Logger
	// write performs the upload; tests replace it.
	write func(ctx context.Context, key, contentType string, body []byte) error
}

// NewGCSStore constructs a GCSStore with its own storage client.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s := newGCSStore(bucket, opts.Logger)
	s.client = client
	s.write = s.upload
	return s, nil
}

func newGCSStore(bucket string, logger *slog.Logger) *GCSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{
		bucket: bucket,
		logger: logger.With("component", "export_store", "backend", "gcs", "bucket", bucket),
	}
}

// Put uploads body under key and returns its public URL.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := s.write(ctx, key, contentType, body); err != nil {
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.DebugContext(ctx, "uploaded export artifact", "key", key, "bytes", len(body))
	return s.publicURL(key), nil
}

func (s *GCSStore) upload(ctx context.Context, key, contentType string, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *GCSStore) publicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return gcsPublicHost + "/" + s.bucket + "/" + strings.Join(segments, "/")
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
