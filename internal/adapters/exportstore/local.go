package exportstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalOptions configures NewLocalStore.
type LocalOptions struct {
	Dir string
	// PublicBaseURL prefixes keys in returned URLs. Empty returns file:// URLs.
	PublicBaseURL string
	Logger        *slog.Logger
}

// LocalStore writes artifacts beneath a directory. It serves single-node and development setups.
type LocalStore struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewLocalStore constructs a LocalStore, creating Dir when missing.
func NewLocalStore(opts LocalOptions) (*LocalStore, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("export directory is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve export directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		logger:  logger.With("component", "export_store", "backend", "local"),
	}, nil
}

// Put writes body to Dir/key atomically and returns its URL. contentType is not recorded.
func (s *LocalStore) Put(ctx context.Context, key, _ string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	s.logger.DebugContext(ctx, "wrote export artifact", "key", key, "bytes", len(body))
	return s.url(key, dst), nil
}

func (s *LocalStore) url(key, dst string) string {
	if s.baseURL == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String()
	}
	return s.baseURL + "/" + key
}
