// Package exportstore persists rendered export artifacts and returns the URL they are served from.
package exportstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/core"
)

// ErrInvalidKey is returned for empty keys and keys that escape the store root.
var ErrInvalidKey = errors.New("exportstore: invalid object key")

// Options configures New.
type Options struct {
	Config config.ExportConfig
	Logger *slog.Logger
}

// New returns the artifact store selected by Config.Backend.
func New(ctx context.Context, opts Options) (core.ArtifactStore, error) {
	cfg := opts.Config
	cfg.Sanitize()
	switch cfg.Backend {
	case "gcs":
		return NewGCSStore(ctx, GCSOptions{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
			Logger:          opts.Logger,
		})
	case "local":
		return NewLocalStore(LocalOptions{
			Dir:           cfg.LocalDir,
			PublicBaseURL: cfg.PublicBaseURL,
			Logger:        opts.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown export backend %q", cfg.Backend)
	}
}

// cleanKey normalizes a slash-separated key and rejects traversal outside the root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
